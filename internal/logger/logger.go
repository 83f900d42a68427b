package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// ExecutionIDKey is the context key for execution IDs
	ExecutionIDKey ContextKey = "execution_id"
)

// Logger provides structured logging with JSON output
type Logger struct {
	output io.Writer
	level  LogLevel
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp   string         `json:"timestamp"`
	Level       string         `json:"level"`
	Message     string         `json:"message"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// NewLogger creates a new structured logger
func NewLogger(output io.Writer, level LogLevel) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{output: output, level: level}
}

// FromEnv returns a logger configured from LOG_LEVEL. Log output goes to
// stderr so the runner's stdout stays reserved for protocol responses.
func FromEnv() *Logger {
	level := LogLevel(os.Getenv("LOG_LEVEL"))
	switch level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		level = LevelInfo
	}
	return NewLogger(os.Stderr, level)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.log(LevelDebug, msg, nil, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.log(LevelInfo, msg, nil, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.log(LevelWarn, msg, nil, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.log(LevelError, msg, nil, fields...)
}

// WithContext creates a logger that stamps entries with context values
func (l *Logger) WithContext(ctx context.Context) *ContextLogger {
	return &ContextLogger{logger: l, ctx: ctx}
}

func (l *Logger) log(level LogLevel, msg string, ctx context.Context, fields ...map[string]any) {
	if !l.shouldLog(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     string(level),
		Message:   msg,
	}

	if ctx != nil {
		if execID, ok := ctx.Value(ExecutionIDKey).(string); ok {
			entry.ExecutionID = execID
		}
	}

	if len(fields) > 0 {
		entry.Fields = make(map[string]any)
		for _, fieldMap := range fields {
			for k, v := range fieldMap {
				entry.Fields[k] = v
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}

	fmt.Fprintln(l.output, string(data))
}

func (l *Logger) shouldLog(level LogLevel) bool {
	levels := map[LogLevel]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.level]
}

// ContextLogger wraps a logger with context
type ContextLogger struct {
	logger *Logger
	ctx    context.Context
}

func (cl *ContextLogger) Debug(msg string, fields ...map[string]any) {
	cl.logger.log(LevelDebug, msg, cl.ctx, fields...)
}

func (cl *ContextLogger) Info(msg string, fields ...map[string]any) {
	cl.logger.log(LevelInfo, msg, cl.ctx, fields...)
}

func (cl *ContextLogger) Warn(msg string, fields ...map[string]any) {
	cl.logger.log(LevelWarn, msg, cl.ctx, fields...)
}

func (cl *ContextLogger) Error(msg string, fields ...map[string]any) {
	cl.logger.log(LevelError, msg, cl.ctx, fields...)
}

// WithExecutionID adds an execution ID to the context
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// GetExecutionID retrieves the execution ID from context
func GetExecutionID(ctx context.Context) string {
	if id, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return id
	}
	return ""
}
