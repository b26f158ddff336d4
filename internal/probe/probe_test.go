package probe

import (
	"context"
	"testing"

	"github.com/abcpipeline/audiobook-organizer/internal/errs"
)

func TestMissingBinaryClassifiedAsConfigError(t *testing.T) {
	p := New("this-binary-does-not-exist-on-any-test-host")
	_, err := p.DurationSeconds(context.Background(), "/tmp/whatever.mp3")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if errs.As(err) != errs.CategoryConfig {
		t.Fatalf("expected CategoryConfig, got %v", errs.As(err))
	}
}

func TestProbeErrorUnwraps(t *testing.T) {
	inner := &ProbeError{Path: "x.mp3", Err: context.DeadlineExceeded}
	if inner.Unwrap() != context.DeadlineExceeded {
		t.Fatal("expected Unwrap to return the inner cause")
	}
}
