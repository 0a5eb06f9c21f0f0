package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// Default maximum log file size (16MB)
	DefaultMaxLogSize = 16 * 1024 * 1024
	logFileExtension  = ".jsonl"
)

// LogEntry is a single audit record.
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	EventID    string                 `json:"event_id"`
	PromptID   string                 `json:"prompt_id,omitempty"`
	ScheduleID string                 `json:"schedule_id,omitempty"`
	TabID      int                    `json:"tab_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger appends JSONL records, rotating the file when it grows past
// maxSize.
type AuditLogger struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	logPath     string
}

func NewAuditLogger(logPath string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &AuditLogger{
		file:        f,
		currentSize: info.Size(),
		maxSize:     DefaultMaxLogSize,
		logPath:     logPath,
	}, nil
}

// Record appends one entry. An id is assigned when missing.
func (a *AuditLogger) Record(entry LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if a.currentSize+int64(len(data)) > a.maxSize {
		if err := a.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := a.file.Write(data)
	a.currentSize += int64(n)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Attach subscribes the audit logger to the bus for the given event types.
// Returns a function that unsubscribes everything.
func (a *AuditLogger) Attach(bus *Bus, types ...EventType) func() {
	var unsubs []func()
	for _, t := range types {
		et := t
		unsubs = append(unsubs, bus.Subscribe(et, func(e Event) {
			entry := LogEntry{
				Timestamp: e.Timestamp,
				EventType: string(e.Type),
				Details:   e.Data,
			}
			if id, ok := e.Data["prompt_id"].(string); ok {
				entry.PromptID = id
			}
			if id, ok := e.Data["schedule_id"].(string); ok {
				entry.ScheduleID = id
			}
			if id, ok := e.Data["tab_id"].(int); ok {
				entry.TabID = id
			}
			_ = a.Record(entry)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func (a *AuditLogger) rotateLocked() error {
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}
	archived := fmt.Sprintf("%s.%s%s",
		strings.TrimSuffix(a.logPath, logFileExtension),
		time.Now().UTC().Format("20060102T150405"),
		logFileExtension)
	if err := os.Rename(a.logPath, archived); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}
	f, err := os.OpenFile(a.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("reopen audit log: %w", err)
	}
	a.file = f
	a.currentSize = 0
	return nil
}
