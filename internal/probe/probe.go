// Package probe wraps an external audio-inspection tool (an
// ffprobe-compatible binary) behind typed queries, grounded on the
// teacher's internal/meta/ffprobe.go and generalized with a
// context-scoped timeout as seen in the pack's ffprobe wrapper
// (farcloser/haustorium's internal/integration/ffprobe).
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/abcpipeline/audiobook-organizer/internal/errs"
)

// Timeout is the per-invocation deadline for the prober subprocess,
// per spec.md §4.11 (subprocess tagger budget; the prober shares it).
const Timeout = 120 * time.Second

// ProbeError is returned when the subprocess is missing, exits
// non-zero, or produces empty stdout, per spec.md §4.2.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober queries an external inspector binary (default "ffprobe" or
// any tool understood to emit the same JSON shape).
type Prober struct {
	BinaryPath string
	Timeout    time.Duration
}

// New returns a Prober using binaryPath, defaulting to "ffprobe" when empty.
func New(binaryPath string) *Prober {
	if binaryPath == "" {
		binaryPath = "ffprobe"
	}
	return &Prober{BinaryPath: binaryPath, Timeout: Timeout}
}

type rawStream struct {
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	Channels      int    `json:"channels"`
	SampleRate    string `json:"sample_rate"`
	BitRate       string `json:"bit_rate"`
	Duration      string `json:"duration"`
}

type rawFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
	NbChapters string            `json:"nb_chapters,omitempty"`
}

type rawChapter struct {
	ID int `json:"id"`
}

type rawInfo struct {
	Streams  []rawStream  `json:"streams"`
	Format   rawFormat    `json:"format"`
	Chapters []rawChapter `json:"chapters"`
}

func (p *Prober) checkAvailable() error {
	if _, err := exec.LookPath(p.BinaryPath); err != nil {
		return errs.Classify(errs.CategoryConfig, "", fmt.Errorf("%w: %s", errs.ErrMissingTool, p.BinaryPath))
	}
	return nil
}

func (p *Prober) run(ctx context.Context, path string, args ...string) ([]byte, error) {
	if err := p.checkAvailable(); err != nil {
		return nil, &ProbeError{Path: path, Err: err}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fullArgs := append([]string{"-v", "quiet", "-print_format", "json"}, args...)
	fullArgs = append(fullArgs, path)

	cmd := exec.CommandContext(ctx, p.BinaryPath, fullArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("timed out after %s", timeout)}
	}
	if err != nil {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("%s: %w", stderr.String(), err)}
	}
	if len(out) == 0 {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("empty stdout")}
	}
	return out, nil
}

func (p *Prober) probeFull(ctx context.Context, path string) (*rawInfo, error) {
	out, err := p.run(ctx, path, "-show_format", "-show_streams", "-show_chapters")
	if err != nil {
		return nil, err
	}
	var info rawInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("parse json: %w", err)}
	}
	return &info, nil
}

func firstAudioStream(info *rawInfo) *rawStream {
	for i := range info.Streams {
		if info.Streams[i].CodecType == "audio" {
			return &info.Streams[i]
		}
	}
	return nil
}

// DurationSeconds returns the container duration. Numeric queries
// surface errors rather than defaulting to zero, so corrupt inputs
// abort the pipeline instead of silently recording a zero-length book.
func (p *Prober) DurationSeconds(ctx context.Context, path string) (float64, error) {
	info, err := p.probeFull(ctx, path)
	if err != nil {
		return 0, err
	}
	raw := info.Format.Duration
	if raw == "" {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("no duration in format")}
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("parse duration %q: %w", raw, err)}
	}
	return d, nil
}

// BitrateBPS returns the overall bitrate in bits per second.
func (p *Prober) BitrateBPS(ctx context.Context, path string) (int64, error) {
	info, err := p.probeFull(ctx, path)
	if err != nil {
		return 0, err
	}
	raw := info.Format.BitRate
	if raw == "" {
		if s := firstAudioStream(info); s != nil {
			raw = s.BitRate
		}
	}
	if raw == "" {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("no bit_rate available")}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("parse bit_rate %q: %w", raw, err)}
	}
	return v, nil
}

// ChannelCount returns the channel count of the first audio stream.
func (p *Prober) ChannelCount(ctx context.Context, path string) (int, error) {
	info, err := p.probeFull(ctx, path)
	if err != nil {
		return 0, err
	}
	s := firstAudioStream(info)
	if s == nil {
		return 0, &ProbeError{Path: path, Err: fmt.Errorf("no audio stream")}
	}
	return s.Channels, nil
}

// FormatName returns the container format name, e.g. "mp3" or "mov,mp4,m4a,3gp,3g2,mj2".
func (p *Prober) FormatName(ctx context.Context, path string) (string, error) {
	info, err := p.probeFull(ctx, path)
	if err != nil {
		return "", err
	}
	if info.Format.FormatName == "" {
		return "", &ProbeError{Path: path, Err: fmt.Errorf("no format_name")}
	}
	return info.Format.FormatName, nil
}

// Tags returns the container-level tag map. Parse failure here is
// non-fatal: it returns an empty map rather than an error, since a
// book missing embedded tags can still be identified by path or catalog.
func (p *Prober) Tags(ctx context.Context, path string) map[string]string {
	info, err := p.probeFull(ctx, path)
	if err != nil || info.Format.Tags == nil {
		return map[string]string{}
	}
	return info.Format.Tags
}

// ChapterCount returns the number of chapters embedded in the container.
func (p *Prober) ChapterCount(ctx context.Context, path string) (int, error) {
	info, err := p.probeFull(ctx, path)
	if err != nil {
		return 0, err
	}
	return len(info.Chapters), nil
}
