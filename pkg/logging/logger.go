package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
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
	CategoryJob       Category = "job"
	CategoryInterview Category = "interview"
	CategoryCache     Category = "cache"
	CategoryModel     Category = "model"
	CategoryRetry     Category = "retry"
	CategorySurvey    Category = "survey"
	CategoryTelemetry Category = "telemetry"
)

// Event represents a structured log event
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Level       Level          `json:"level"`
	Category    Category       `json:"category"`
	EventType   string         `json:"type"`
	JobID       string         `json:"job_id,omitempty"`
	InterviewID string         `json:"interview_id,omitempty"`
	Question    string         `json:"question,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Message     string         `json:"message,omitempty"`
}

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(raw string) Level {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := levelRank[level]; ok {
		return level
	}
	return LevelInfo
}

// sink is shared by a job logger and every scoped child.
type sink struct {
	mu       sync.Mutex
	main     io.Writer
	errors   io.Writer
	closers  []io.Closer
	minLevel Level
}

// Logger writes structured events for one job. Scoped children created with
// ForInterview share the parent's writers. A nil *Logger discards everything.
type Logger struct {
	sink        *sink
	jobID       string
	interviewID string
}

// NewLogger creates <baseDir>/jobs/<jobID>.jsonl and appends errors to
// <baseDir>/errors.jsonl.
func NewLogger(baseDir, jobID string) (*Logger, error) {
	jobsDir := filepath.Join(baseDir, "jobs")
	if err := os.MkdirAll(jobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := jobID
	if name == "" {
		name = "job"
	}
	jobFile, err := os.OpenFile(
		filepath.Join(jobsDir, name+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		jobFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		sink: &sink{
			main:     jobFile,
			errors:   errorFile,
			closers:  []io.Closer{jobFile, errorFile},
			minLevel: LevelInfo,
		},
		jobID: jobID,
	}, nil
}

// NewWriterLogger logs every event to w. Used by the CLI and tests.
func NewWriterLogger(w io.Writer, jobID string) *Logger {
	return &Logger{
		sink:  &sink{main: w, minLevel: LevelInfo},
		jobID: jobID,
	}
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	if l == nil || l.sink == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// JobID returns the job this logger writes for.
func (l *Logger) JobID() string {
	if l == nil {
		return ""
	}
	return l.jobID
}

// ForJob returns a child logger stamped with jobID.
func (l *Logger) ForJob(jobID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, jobID: jobID, interviewID: l.interviewID}
}

// ForInterview returns a child logger stamped with interviewID.
func (l *Logger) ForInterview(interviewID string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{sink: l.sink, jobID: l.jobID, interviewID: interviewID}
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	if l == nil || l.sink == nil {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.JobID == "" {
		event.JobID = l.jobID
	}
	if event.InterviewID == "" {
		event.InterviewID = l.interviewID
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelRank[event.Level] < levelRank[l.sink.minLevel] {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.sink.main != nil {
		if _, err := l.sink.main.Write(data); err != nil {
			return fmt.Errorf("failed to write to job log: %w", err)
		}
	}

	if event.Level == LevelError && l.sink.errors != nil {
		if _, err := l.sink.errors.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	return nil
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

// Close closes any files opened by NewLogger. Scoped children share the
// parent's files, so only the root logger should be closed.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	var errs []error
	for _, c := range l.sink.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.sink.closers = nil
	l.sink.main = nil
	l.sink.errors = nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last N events from a job log
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var events []Event
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			break
		}
		events = append(events, event)
	}

	if count > 0 && len(events) > count {
		events = events[len(events)-count:]
	}
	return events, nil
}
