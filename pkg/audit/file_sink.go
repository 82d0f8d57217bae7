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

// FileSink appends audit events to files as JSON lines
type FileSink struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
}

// FileSinkConfig configures the file sink
type FileSinkConfig struct {
	BasePath string // Directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		BasePath: "/var/log/repwatch/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileSink creates a file-based audit sink
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	sink := &FileSink{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}

	if sink.maxSize == 0 {
		sink.maxSize = 100 * 1024 * 1024
	}
	if sink.maxFiles == 0 {
		sink.maxFiles = 10
	}

	if err := sink.openLogFile(); err != nil {
		return nil, err
	}

	return sink, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.basePath, "audit.log")
}

// openLogFile opens or creates the current log file
func (s *FileSink) openLogFile() error {
	if s.rotate {
		if info, err := os.Stat(s.currentPath()); err == nil && info.Size() >= s.maxSize {
			if err := s.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// rotateFile renames the current file with a timestamp suffix
func (s *FileSink) rotateFile() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	timestamp := time.Now().UTC().Format("2006-01-02-15-04-05.000000000")
	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", timestamp))

	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}
	return nil
}

// cleanupOldFiles removes rotated files beyond the retention limit.
// Rotated names sort chronologically.
func (s *FileSink) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(s.basePath, "audit-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}

	sort.Strings(files)
	for _, file := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(file); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", file, err)
		}
	}
	return nil
}

// Write appends an event to the current file
func (s *FileSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink is closed")
	}

	if s.rotate {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
			if err := s.openLogFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	if err := s.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the current file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// ReadEvents reads up to count events from the current file; 0 reads all
func (s *FileSink) ReadEvents(count int) ([]*Event, error) {
	file, err := os.Open(s.currentPath())
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
