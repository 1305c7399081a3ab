package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MutationLog is one audit record per mutation attempt.
type MutationLog struct {
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"request_id"`
	TraceID          string    `json:"trace_id,omitempty"`
	SpanID           string    `json:"span_id,omitempty"`
	Kind             string    `json:"kind"`
	ResourceKey      string    `json:"resource_key"`
	IdempotencyToken string    `json:"idempotency_token,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`
	Optimistic       bool      `json:"optimistic,omitempty"`
	RolledBack       bool      `json:"rolled_back,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Error            string    `json:"error,omitempty"`
	Invalidated      []string  `json:"invalidated,omitempty"`
}

// Logger writes mutation audit records: a short human-readable line to the
// console and, when a file is set, one JSON object per line.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	console io.Writer
	file    *os.File
	clock   func() time.Time
}

var defaultLogger = &Logger{enabled: true, console: os.Stdout, clock: time.Now}

// Default returns the process-wide audit logger.
func Default() *Logger {
	return defaultLogger
}

// NewLogger creates an audit logger writing console lines to w (nil disables
// console output).
func NewLogger(w io.Writer) *Logger {
	return &Logger{enabled: true, console: w, clock: time.Now}
}

// SetOutput appends JSON records to the file at path.
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

// SetConsole replaces the console writer; nil disables console output.
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

// SetEnabled turns audit logging on or off.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes an audit record.
func (l *Logger) Log(entry *MutationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock()
	}

	if l.console != nil {
		status := "ok"
		if !entry.Success {
			status = "FAILED"
		}
		extra := ""
		if entry.Optimistic {
			extra += " [optimistic]"
		}
		if entry.RolledBack {
			extra += " [rolled back]"
		}
		fmt.Fprintf(l.console, "[mutation] %s %s %s %dms%s\n",
			status, entry.RequestID, entry.Kind, entry.DurationMs, extra)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[mutation]   %s: %s\n", entry.ErrorKind, entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the JSON file, if any.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
