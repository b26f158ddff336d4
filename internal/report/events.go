// Package report is the JSONL event log and markdown summary writer
// for a batch run, grounded on the teacher's internal/report package:
// the same EventLogger shape (minimum-level filtering, one JSONL file
// per run, typed Log* convenience methods) carries over verbatim,
// repointed from music-library dedup events to audiobook pipeline
// stage events, per spec.md §4.9/§6.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType identifies what kind of pipeline event occurred.
type EventType string

const (
	EventValidate  EventType = "validate"
	EventConcat    EventType = "concat"
	EventConvert   EventType = "convert"
	EventOrganize  EventType = "organize"
	EventCleanup   EventType = "cleanup"
	EventResolve   EventType = "resolve"
	EventSkip      EventType = "skip"
	EventDuplicate EventType = "duplicate"
	EventConflict  EventType = "conflict"
	EventError     EventType = "error"
)

// EventLevel is the severity of an event.
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is a single pipeline event.
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	BookHash     string            `json:"book_hash,omitempty"`
	SrcPath      string            `json:"src_path,omitempty"`
	DestPath     string            `json:"dest_path,omitempty"`
	Stage        string            `json:"stage,omitempty"`
	Action       string            `json:"action,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"`
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates an event logger under outputDir, filtering
// out events below minLevel.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes event, unless its level is below the logger's minimum.
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

// LogStage logs a stage transition (validate/concat/convert/organize/cleanup).
func (l *EventLogger) LogStage(event EventType, bookHash, srcPath string, duration time.Duration, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:    level,
		Event:    event,
		BookHash: bookHash,
		SrcPath:  srcPath,
		Stage:    string(event),
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogResolve logs a metadata resolution decision (path/tag/catalog/LLM fusion).
func (l *EventLogger) LogResolve(bookHash, srcPath, reason string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventResolve,
		BookHash: bookHash,
		SrcPath:  srcPath,
		Reason:   reason,
	})
}

// LogOrganize logs a destination decision and, once committed, the
// bytes moved/copied.
func (l *EventLogger) LogOrganize(bookHash, srcPath, destPath, action string, bytesWritten int64, duration time.Duration, err error) error {
	event := EventOrganize
	if action == "skip_correctly_placed" {
		event = EventSkip
	}
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}
	return l.Log(&Event{
		Level:        level,
		Event:        event,
		BookHash:     bookHash,
		SrcPath:      srcPath,
		DestPath:     destPath,
		Action:       action,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogDuplicate logs a cross-run dedup skip.
func (l *EventLogger) LogDuplicate(bookHash, srcPath, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventDuplicate,
		BookHash: bookHash,
		SrcPath:  srcPath,
		Reason:   reason,
	})
}

// LogConflict logs a destination-path conflict.
func (l *EventLogger) LogConflict(srcPath, destPath, reason string) error {
	return l.Log(&Event{
		Level:    LevelWarning,
		Event:    EventConflict,
		SrcPath:  srcPath,
		DestPath: destPath,
		Reason:   reason,
	})
}

// LogError logs a bare error event not tied to a specific stage helper above.
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}

// Close closes the underlying file.
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the JSONL file path.
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op logger (nil, handled by every method above).
func NullLogger() *EventLogger {
	return nil
}
