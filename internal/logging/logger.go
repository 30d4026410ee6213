// Package logging provides structured logging functionality for zoom-watchman
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/curtbushko/zoom-watchman/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func (l LogLevel) toZerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	LogUserAction(action string, user string, metadata map[string]interface{})
	LogPerformance(metrics PerformanceMetrics)
	LogAPIRequest(request APIRequest)
	LogAPIResponse(response APIResponse)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string
	Duration       time.Duration
	BytesProcessed int64
	Success        bool
	Error          string
	Metadata       map[string]interface{}
}

// APIRequest represents API request data for logging
type APIRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	RequestID string
}

// APIResponse represents API response data for logging
type APIResponse struct {
	Method     string
	URL        string
	StatusCode int
	RequestID  string
	Duration   time.Duration
	Success    bool
	Error      string
}

const maxBodyLog = 1000

// loggerImpl implements Logger on top of zerolog
type loggerImpl struct {
	mu         sync.RWMutex
	zl         zerolog.Logger
	level      LogLevel
	jsonFormat bool
	fileHandle *os.File
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	l := &loggerImpl{
		level:      level,
		jsonFormat: cfg.JSONFormat,
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, l.wrap(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())))
	}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		l.fileHandle = file
		writers = append(writers, l.wrap(file, false))
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	l.zl = zerolog.New(out).Level(level.toZerolog()).With().Timestamp().Logger()
	return l, nil
}

// wrap returns the console writer for text output or w itself for JSON
func (l *loggerImpl) wrap(w io.Writer, color bool) io.Writer {
	if l.jsonFormat {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !color}
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *loggerImpl) event(level LogLevel) *zerolog.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return nil
	}
	return l.zl.WithLevel(level.toZerolog())
}

func (l *loggerImpl) log(level LogLevel, ctx context.Context, format string, args ...interface{}) {
	e := l.event(level)
	if e == nil {
		return
	}
	if ctx != nil {
		if requestID, ok := GetRequestID(ctx); ok {
			e = e.Str("request_id", requestID)
		}
	}
	e.Msgf(format, args...)
}

func (l *loggerImpl) Debug(format string, args ...interface{}) {
	l.log(DebugLevel, nil, format, args...)
}

func (l *loggerImpl) Info(format string, args ...interface{}) {
	l.log(InfoLevel, nil, format, args...)
}

func (l *loggerImpl) Warn(format string, args ...interface{}) {
	l.log(WarnLevel, nil, format, args...)
}

func (l *loggerImpl) Error(format string, args ...interface{}) {
	l.log(ErrorLevel, nil, format, args...)
}

func (l *loggerImpl) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(DebugLevel, ctx, format, args...)
}

func (l *loggerImpl) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(InfoLevel, ctx, format, args...)
}

func (l *loggerImpl) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(WarnLevel, ctx, format, args...)
}

func (l *loggerImpl) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ErrorLevel, ctx, format, args...)
}

// LogUserAction logs an action taken on behalf of a Zoom user
func (l *loggerImpl) LogUserAction(action string, user string, metadata map[string]interface{}) {
	e := l.event(InfoLevel)
	if e == nil {
		return
	}
	e.Str("action", action).Str("user", user).Fields(metadata).Msgf("User action: %s", action)
}

// LogPerformance logs performance metrics
func (l *loggerImpl) LogPerformance(metrics PerformanceMetrics) {
	e := l.event(InfoLevel)
	if e == nil {
		return
	}
	e = e.Str("operation", metrics.Operation).
		Int64("duration_ms", metrics.Duration.Milliseconds()).
		Int64("bytes_processed", metrics.BytesProcessed).
		Bool("success", metrics.Success)
	if metrics.Error != "" {
		e = e.Str("error", metrics.Error)
	}
	e.Fields(metrics.Metadata).Msgf("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
}

// LogAPIRequest logs API requests with credentials masked
func (l *loggerImpl) LogAPIRequest(request APIRequest) {
	e := l.event(DebugLevel)
	if e == nil {
		return
	}
	e = e.Str("method", request.Method).Str("url", request.URL)
	if request.RequestID != "" {
		e = e.Str("request_id", request.RequestID)
	}
	if len(request.Headers) > 0 {
		headers := zerolog.Dict()
		for key, value := range request.Headers {
			if strings.EqualFold(key, "authorization") {
				value = "***"
			}
			headers = headers.Str(key, value)
		}
		e = e.Dict("headers", headers)
	}
	if request.Body != "" {
		e = e.Str("body", truncate(request.Body))
	}
	e.Msgf("API Request: %s %s", request.Method, request.URL)
}

// LogAPIResponse logs API responses
func (l *loggerImpl) LogAPIResponse(response APIResponse) {
	e := l.event(DebugLevel)
	if e == nil {
		return
	}
	e = e.Str("method", response.Method).
		Str("url", response.URL).
		Int("status_code", response.StatusCode).
		Int64("duration_ms", response.Duration.Milliseconds()).
		Bool("success", response.Success)
	if response.RequestID != "" {
		e = e.Str("request_id", response.RequestID)
	}
	if response.Error != "" {
		e = e.Str("error", response.Error)
	}
	e.Msgf("API Response: %d (%v)", response.StatusCode, response.Duration)
}

func truncate(s string) string {
	if len(s) > maxBodyLog {
		return s[:maxBodyLog] + "... (truncated)"
	}
	return s
}

func (l *loggerImpl) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *loggerImpl) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.zl = l.zl.Level(level.toZerolog())
}

// SetOutput sets the output writer (mainly for testing)
func (l *loggerImpl) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Output(l.wrap(w, false))
}

// Close closes the logger and any open file handles
func (l *loggerImpl) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// InitializeLogging initializes the global logger with the provided configuration
func InitializeLogging(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	SetDefaultLogger(logger)
	return nil
}

// Package-level convenience functions that use the default logger

func Debug(format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.Debug(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.Info(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.Warn(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.Error(format, args...)
	}
}

func DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.DebugWithContext(ctx, format, args...)
	}
}

func InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.InfoWithContext(ctx, format, args...)
	}
}

func WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.WarnWithContext(ctx, format, args...)
	}
}

func ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.ErrorWithContext(ctx, format, args...)
	}
}

func LogUserAction(action string, user string, metadata map[string]interface{}) {
	if l := GetDefaultLogger(); l != nil {
		l.LogUserAction(action, user, metadata)
	}
}

func LogPerformance(metrics PerformanceMetrics) {
	if l := GetDefaultLogger(); l != nil {
		l.LogPerformance(metrics)
	}
}

func LogAPIRequest(request APIRequest) {
	if l := GetDefaultLogger(); l != nil {
		l.LogAPIRequest(request)
	}
}

func LogAPIResponse(response APIResponse) {
	if l := GetDefaultLogger(); l != nil {
		l.LogAPIResponse(response)
	}
}

// WithRequestID creates a context with a request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok && requestID != ""
}

// GenerateRequestID returns a random request ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// NewRequestContext attaches a fresh request ID unless ctx already carries one
func NewRequestContext(ctx context.Context) context.Context {
	if _, ok := GetRequestID(ctx); ok {
		return ctx
	}
	return WithRequestID(ctx, GenerateRequestID())
}
