package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the structured logging interface every component takes.
type Logger interface {
	// Debug logs a debug-level message.
	Debug(msg string, fields ...Field)

	// Info logs an informational message.
	Info(msg string, fields ...Field)

	// Warn logs a warning.
	Warn(msg string, fields ...Field)

	// Error logs an error.
	Error(msg string, fields ...Field)

	// With returns a child logger with persistent fields.
	With(fields ...Field) Logger
}

// Field is a simple key/value pair for structured logging fields.
type Field struct {
	Key   string
	Value any
}

// StdoutLogger is a tiny, structured logger that prints JSON lines.
type StdoutLogger struct {
	component string
	fields    []Field
	out       io.Writer
	mu        *sync.Mutex
}

// NewStdoutLogger creates a new StdoutLogger writing to stdout. component is
// optional and is included in every line.
func NewStdoutLogger(component string) *StdoutLogger {
	return NewWriterLogger(component, os.Stdout)
}

// NewWriterLogger is NewStdoutLogger with an explicit destination.
func NewWriterLogger(component string, w io.Writer) *StdoutLogger {
	return &StdoutLogger{component: component, out: w, mu: &sync.Mutex{}}
}

func (s *StdoutLogger) log(level string, msg string, fields ...Field) {
	type outEntry struct {
		Level     string         `json:"level"`
		Msg       string         `json:"msg"`
		Component string         `json:"component,omitempty"`
		Time      string         `json:"time"`
		Fields    map[string]any `json:"fields,omitempty"`
	}
	m := make(map[string]any, len(s.fields)+len(fields))
	for _, f := range s.fields {
		m[f.Key] = fieldValue(f.Value)
	}
	for _, f := range fields {
		m[f.Key] = fieldValue(f.Value)
	}
	entry := outEntry{
		Level:     level,
		Msg:       msg,
		Component: s.component,
		Time:      time.Now().UTC().Format(time.RFC3339),
		Fields:    m,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(entry)
	if err != nil {
		// Fallback simple formatting if JSON marshal fails
		fmt.Fprintf(s.out, "%s %s %v\n", level, msg, m)
		return
	}
	fmt.Fprintln(s.out, string(enc))
}

// errors marshal to {} otherwise
func fieldValue(v any) any {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}

func (s *StdoutLogger) Debug(msg string, fields ...Field) {
	s.log("debug", msg, fields...)
}

func (s *StdoutLogger) Info(msg string, fields ...Field) {
	s.log("info", msg, fields...)
}

func (s *StdoutLogger) Warn(msg string, fields ...Field) {
	s.log("warn", msg, fields...)
}

func (s *StdoutLogger) Error(msg string, fields ...Field) {
	s.log("error", msg, fields...)
}

// With returns a child logger carrying fields on every line. A "component"
// field replaces the component name instead of being added.
func (s *StdoutLogger) With(fields ...Field) Logger {
	child := &StdoutLogger{
		component: s.component,
		fields:    append([]Field(nil), s.fields...),
		out:       s.out,
		mu:        s.mu,
	}
	for _, f := range fields {
		if f.Key == "component" {
			if str, ok := f.Value.(string); ok {
				child.component = str
				continue
			}
		}
		child.fields = append(child.fields, f)
	}
	return child
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...Field) {}
func (Nop) Info(string, ...Field)  {}
func (Nop) Warn(string, ...Field)  {}
func (Nop) Error(string, ...Field) {}
func (n Nop) With(...Field) Logger { return n }
