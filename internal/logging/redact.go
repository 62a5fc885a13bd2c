package logging

import (
	"context"
	"log/slog"
	"regexp"
)

// secretPattern matches "<keyword><separator><value>" sequences where the
// separator is " is ", ":", or "=". The value is replaced at format time.
var secretPattern = regexp.MustCompile(
	`(?i)\b(password|passwd|pwd|secret|token|apikey|api_key|auth|authorization|credential|key|private|session|cookie|jwt|bearer|oauth)(\s+is\s+|\s*[:=]\s*)(\S+)`)

// Redact replaces secret values in s with [REDACTED].
func Redact(s string) string {
	return secretPattern.ReplaceAllString(s, "$1$2[REDACTED]")
}

// RedactHandler wraps a slog.Handler and redacts secrets from the message
// and every string attribute before the record is formatted.
type RedactHandler struct {
	inner slog.Handler
}

// NewRedactHandler wraps inner with secret redaction.
func NewRedactHandler(inner slog.Handler) *RedactHandler {
	return &RedactHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts the record and passes it to the inner handler.
func (h *RedactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, Redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs returns a new handler with the given attributes redacted and added.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		cleaned[i] = redactAttr(attr)
	}
	return &RedactHandler{inner: h.inner.WithAttrs(cleaned)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{inner: h.inner.WithGroup(name)}
}

// redactAttr redacts string and group attribute values.
func redactAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, Redact(attr.Value.String()))
	case slog.KindGroup:
		members := attr.Value.Group()
		cleaned := make([]any, 0, len(members))
		for _, member := range members {
			cleaned = append(cleaned, redactAttr(member))
		}
		return slog.Group(attr.Key, cleaned...)
	default:
		return attr
	}
}
