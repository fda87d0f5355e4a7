package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryGateway   Category = "gateway"
	CategoryChat      Category = "chat"
	CategoryReconnect Category = "reconnect"
	CategoryQueue     Category = "queue"
	CategoryCommand   Category = "command"
	CategorySession   Category = "session"
	CategoryConfig    Category = "config"
	CategoryTraffic   Category = "traffic"
)

// Event represents a structured log event
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Category   Category       `json:"category"`
	EventType  string         `json:"type"`
	InstanceID string         `json:"instance_id,omitempty"`
	SessionKey string         `json:"session_key,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// Logger writes structured events to multiple destinations
type Logger struct {
	instanceID  string
	sessionKey  string
	baseDir     string
	eventFile   *os.File
	errorFile   *os.File
	trafficFile *os.File
	mu          sync.Mutex
	minLevel    Level
}

// NewLogger creates a new structured logger rooted at baseDir.
// instanceID identifies this client process in log records.
func NewLogger(baseDir, instanceID string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	eventFile, err := os.OpenFile(
		filepath.Join(baseDir, "events.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	trafficFile, err := os.OpenFile(
		filepath.Join(baseDir, "traffic.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		eventFile.Close()
		errorFile.Close()
		return nil, fmt.Errorf("failed to open traffic log: %w", err)
	}

	return &Logger{
		instanceID:  instanceID,
		baseDir:     baseDir,
		eventFile:   eventFile,
		errorFile:   errorFile,
		trafficFile: trafficFile,
		minLevel:    LevelInfo,
	}, nil
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetSessionKey sets the chat session key attached to subsequent events
func (l *Logger) SetSessionKey(sessionKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionKey = sessionKey
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.InstanceID == "" {
		event.InstanceID = l.instanceID
	}
	if event.SessionKey == "" && l.sessionKey != "" {
		event.SessionKey = l.sessionKey
	}

	if !l.shouldLog(event.Level) {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.eventFile != nil {
		if _, err := l.eventFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to event log: %w", err)
		}
	}

	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	// Frame-level traffic gets its own sink so it can be tailed separately.
	if event.Category == CategoryTraffic && l.trafficFile != nil {
		if _, err := l.trafficFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to traffic log: %w", err)
		}
	}

	return nil
}

// shouldLog checks if event should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Close closes all log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, f := range []*os.File{l.eventFile, l.errorFile, l.trafficFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}
