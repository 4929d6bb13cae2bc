// Package logger provides the structured logging contract of the key custody service.
// Implementations live in internal/infrastructure/monitoring; this package only holds the
// interface, field helpers and redaction of sensitive values.
package logger

import (
	"context"
	"slices"
	"strings"
	"unicode"
)

// Fields is a set of key-value pairs attached to a log line
type Fields map[string]interface{}

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, msg string, fields ...Fields)

	// Info logs an informational message
	Info(ctx context.Context, msg string, fields ...Fields)

	// Warn logs a warning message
	Warn(ctx context.Context, msg string, fields ...Fields)

	// Error logs an error message
	Error(ctx context.Context, msg string, err error, fields ...Fields)

	// Fatal logs a fatal message and exits the application
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields creates a new logger with additional fields
	WithFields(fields Fields) Logger

	// WithComponent creates a new logger for a specific component
	WithComponent(component string) Logger

	// ForContext returns the request scoped logger stored in ctx, if any
	ForContext(ctx context.Context) Logger
}

// RedactedValue replaces the value of every sensitive field
const RedactedValue = "***REDACTED***"

// sensitiveKeys lists word sequences of field keys whose values are never written
var sensitiveKeys = [][]string{
	{"password"},
	{"secret"},
	{"token"},
	{"pin"},
	{"private", "key"},
	{"material"},
	{"plaintext"},
	{"key", "bytes"},
	{"wrap", "key"},
}

// Redact returns value unless key names sensitive data, in which case the value is masked.
// Keys are compared word by word, so "pkcs11_pin" and "accessToken" are masked while
// "ping" and "tokens_issued" are not.
func Redact(key string, value interface{}) interface{} {
	words := keyWords(key)
	for _, sensitive := range sensitiveKeys {
		if containsRun(words, sensitive) {
			return RedactedValue
		}
	}
	return value
}

// keyWords splits a field key into lower-case words at separators and camelCase boundaries.
func keyWords(key string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	prevLower := false
	for _, r := range key {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				flush()
			}
			cur.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
			prevLower = true
		default:
			flush()
			prevLower = false
		}
	}
	flush()
	return words
}

func containsRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		if slices.Equal(words[i:i+len(run)], run) {
			return true
		}
	}
	return false
}

// Merge flattens fields into one map, redacting sensitive values.
func Merge(fields ...Fields) Fields {
	out := make(Fields)
	for _, f := range fields {
		for k, v := range f {
			out[k] = Redact(k, v)
		}
	}
	return out
}

//Personal.AI order the ending
