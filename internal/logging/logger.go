package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// MessageLog represents a single message lifecycle event: push, pop,
// ack, or fail. Logger.Log writes one entry per call; the engine and
// the dispatcher do not call it, so entries appear only where a caller
// logs them explicitly.
type MessageLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Queue      string    `json:"queue"`
	MessageID  uint64    `json:"message_id"`
	Event      string    `json:"event"` // push, pop, ack, fail, sync
	State      string    `json:"state"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Logger handles message lifecycle logging, independent of the
// operational slog logger in slog.go.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default message logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a message lifecycle log entry.
func (l *Logger) Log(entry *MessageLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if entry.Error != "" {
			status = "err"
		}
		fmt.Printf("[msg] %s %s/%d %s -> %s%s\n",
			status, entry.Queue, entry.MessageID, entry.Event, entry.State,
			durationSuffix(entry.DurationMs))
		if entry.Error != "" {
			fmt.Printf("[msg]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

func durationSuffix(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return fmt.Sprintf(" (%dms)", ms)
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
