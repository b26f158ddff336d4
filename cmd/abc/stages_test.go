package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/abcpipeline/audiobook-organizer/internal/errs"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
	"github.com/abcpipeline/audiobook-organizer/internal/report"
)

func TestLookPathOrConfigErrorMissingBinaryIsConfigCategory(t *testing.T) {
	err := lookPathOrConfigError(manifest.StageValidate, "definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Fatal("expected an error for a nonexistent binary")
	}
	if errs.As(err) != errs.CategoryConfig {
		t.Fatalf("expected CategoryConfig, got %v", errs.As(err))
	}
}

func TestLookPathOrConfigErrorKnownBinaryIsNil(t *testing.T) {
	if err := lookPathOrConfigError(manifest.StageValidate, "sh"); err != nil {
		t.Fatalf("expected no error for a binary on PATH, got %v", err)
	}
}

func TestStageValidateFailsOnEmptyBookDirectory(t *testing.T) {
	dir := t.TempDir()
	p := &Pipeline{Events: report.NullLogger()}

	_, err := p.stageValidate(context.Background(), dir, "hash1", manifest.Document{}, false)
	if err == nil {
		t.Fatal("expected an error for a directory with no audio files")
	}
	if errs.As(err) != errs.CategoryInput {
		t.Fatalf("expected CategoryInput, got %v", errs.As(err))
	}
}

func TestStageCleanupSkipsWhenOrganizeNotCompleted(t *testing.T) {
	dir := t.TempDir()
	p := &Pipeline{Events: report.NullLogger()}

	doc := manifest.Document{"stages": map[string]interface{}{
		manifest.StageOrganize: map[string]interface{}{"status": manifest.StatusPending},
	}}

	payload, err := p.stageCleanup(context.Background(), dir, "hash1", doc, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["skipped"] == nil {
		t.Fatalf("expected a skipped payload, got %v", payload)
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		t.Fatalf("expected source directory to survive, stat failed: %v", statErr)
	}
}

func TestStageCleanupRemovesSourceWhenOrganizeCompleted(t *testing.T) {
	dir := t.TempDir()
	bookDir := filepath.Join(dir, "book")
	if err := os.MkdirAll(bookDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p := &Pipeline{Events: report.NullLogger()}
	doc := manifest.Document{"stages": map[string]interface{}{
		manifest.StageOrganize: map[string]interface{}{"status": manifest.StatusCompleted},
	}}

	if _, err := p.stageCleanup(context.Background(), bookDir, "hash1", doc, false); err != nil {
		t.Fatalf("stageCleanup: %v", err)
	}
	if _, statErr := os.Stat(bookDir); !os.IsNotExist(statErr) {
		t.Fatalf("expected source directory to be removed, stat err: %v", statErr)
	}
}

func TestStageCleanupDryRunDoesNotRemove(t *testing.T) {
	dir := t.TempDir()
	bookDir := filepath.Join(dir, "book")
	if err := os.MkdirAll(bookDir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	p := &Pipeline{Events: report.NullLogger()}
	doc := manifest.Document{"stages": map[string]interface{}{
		manifest.StageOrganize: map[string]interface{}{"status": manifest.StatusCompleted},
	}}

	if _, err := p.stageCleanup(context.Background(), bookDir, "hash1", doc, true); err != nil {
		t.Fatalf("stageCleanup: %v", err)
	}
	if _, statErr := os.Stat(bookDir); statErr != nil {
		t.Fatalf("expected source directory to survive dry-run, stat failed: %v", statErr)
	}
}
