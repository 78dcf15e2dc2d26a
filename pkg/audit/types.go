// Package audit journals every tool call to SQLite.
package audit

import (
	"context"
	"unicode/utf8"
)

// Entry records a single tool call.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"`
	Action     string `json:"action"`
	Transport  string `json:"transport"` // "stdio" or "http"
	UserID     string `json:"user_id"`
	RequestID  string `json:"request_id"`
	Parameters string `json:"parameters"`
	Result     string `json:"result"`
	Error      string `json:"error_message"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
}

// Call outcomes stored in Entry.Status.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"  // refused by the read-only guard
	StatusTimeout = "timeout" // aborted at its deadline
	StatusError   = "error"
)

// Classifier maps a failed call's error to one of the Status values.
type Classifier func(err error) string

// Logger writes audit entries to storage.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogAsync(entry *Entry)
	Close() error
}

// MaxFieldBytes caps the stored size of parameters and results.
const MaxFieldBytes = 4096

const truncatedMarker = "...(truncated)"

// Truncate cuts s to at most MaxFieldBytes without splitting a rune.
func Truncate(s string) string {
	if len(s) <= MaxFieldBytes {
		return s
	}
	cut := MaxFieldBytes - len(truncatedMarker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}
