package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// SlogLogger implements Logger using slog
type SlogLogger struct {
	logger *slog.Logger
}

// InitLogger initializes a structured logger that writes to stderr by default.
// If logFile is non-empty it will also write to the provided file path (appended).
func InitLogger(level string, logFile string) (Logger, error) {
	var writer io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = io.MultiWriter(os.Stderr, f)
	}
	return NewWriterLogger(level, writer), nil
}

// NewLogger writes to stderr only.
func NewLogger(level string) Logger {
	return NewWriterLogger(level, os.Stderr)
}

// NewWriterLogger builds a text logger on an arbitrary writer; tests use it
// to capture output.
func NewWriterLogger(level string, w io.Writer) Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return &SlogLogger{logger: slog.New(handler)}
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...interface{}) {
	l.logger.Debug(msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...interface{}) {
	l.logger.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...interface{}) {
	l.logger.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...interface{}) {
	l.logger.Error(msg, args...)
}

// Sanitizer redacts credentials from command lines before they are logged
type Sanitizer struct {
	patterns []*regexp.Regexp
}

// NewSanitizer creates a new sanitizer
func NewSanitizer() *Sanitizer {
	patterns := []*regexp.Regexp{
		// --password=x, PASSWORD=x, pwd: x
		regexp.MustCompile(`(?i)(password|passwd|pwd)[:=]\s*\S+`),
		// API tokens and secrets
		regexp.MustCompile(`(?i)(token|api[_-]?key|secret)[:=]\s*[a-zA-Z0-9_\-]+`),
		// credentials embedded in URLs
		regexp.MustCompile(`[a-z][a-z0-9+.\-]*://[^:/\s]+:[^@\s]+@`),
		// HTTP auth headers passed to curl and friends
		regexp.MustCompile(`(?i)(authorization:\s*(bearer|basic))\s+\S+`),
	}

	return &Sanitizer{patterns: patterns}
}

// Sanitize removes sensitive data from string
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// FormatError creates a sanitized error message
func FormatError(err error, context string) string {
	sanitizer := NewSanitizer()
	msg := fmt.Sprintf("%s: %v", context, err)
	return sanitizer.Sanitize(msg)
}
