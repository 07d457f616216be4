package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	activeLogName          = "audit.log"
	defaultMaxLogSize      = 100 * 1024 * 1024
	defaultMaxRotatedFiles = 10
)

// FileLogger appends audit events to a newline-delimited JSON file with
// optional size-based rotation. Rotation happens on the write that first
// observes the size limit, never mid-line.
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64
	maxFiles int
}

// FileLoggerConfig configures the file logger.
type FileLoggerConfig struct {
	BasePath string // directory holding audit.log and its rotations
	Rotate   bool   // enable size-based rotation
	MaxSize  int64  // rotation threshold in bytes, default 100MB
	MaxFiles int    // rotated files kept, default 10
}

// DefaultFileLoggerConfig returns the production defaults.
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/idbridge/audit",
		Rotate:   true,
		MaxSize:  defaultMaxLogSize,
		MaxFiles: defaultMaxRotatedFiles,
	}
}

// NewFileLogger opens (creating if needed) the audit log under
// config.BasePath.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	if config.MaxSize == 0 {
		config.MaxSize = defaultMaxLogSize
	}
	if config.MaxFiles == 0 {
		config.MaxFiles = defaultMaxRotatedFiles
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}

	if err := logger.openActive(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.basePath, activeLogName)
}

// openActive rotates a full file left over from a previous run, then
// opens the active log for appending.
func (l *FileLogger) openActive() error {
	if l.rotate {
		if info, err := os.Stat(l.activePath()); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateActive(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotateActive renames audit.log to a timestamped name and prunes old
// rotations. Prune failures are reported to stderr only; losing an old
// rotation must not fail the current write.
func (l *FileLogger) rotateActive() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	stamp := time.Now().Format("2006-01-02-15-04-05")
	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", stamp))

	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := l.pruneRotated(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}
	return nil
}

func (l *FileLogger) pruneRotated() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}

	// Rotated names embed the timestamp, so lexical order is age order.
	sort.Strings(files)
	for _, file := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(file); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", file, err)
		}
	}
	return nil
}

// Log writes the event as one JSON line.
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotate && l.file != nil {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.openActive(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close releases the active file. Safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs reads up to count events back from the active log file, in
// write order. count <= 0 reads everything.
func (l *FileLogger) ReadLogs(count int) ([]*Event, error) {
	file, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)

		if count > 0 && len(events) >= count {
			break
		}
	}
	return events, nil
}
