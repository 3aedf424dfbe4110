package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// LogCallback receives every entry written to the history.
type LogCallback func(entry LogEntry)

// BufferHandler records entries in the package history and forwards them
// to the registered LogCallback. Entries are dropped before Initialize.
type BufferHandler struct {
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

// scopedAttr is an attribute added by WithAttrs under the groups open at
// the time.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

// NewBufferHandler creates a history handler.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer, callback := sink()
	if buffer == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     levelToString(r.Level),
		Module:    "main",
		Message:   r.Message,
	}
	attrs := make(map[string]any)
	for _, sa := range h.attrs {
		if sa.attr.Key == "module" && len(sa.groups) == 0 {
			entry.Module = sa.attr.Value.String()
			continue
		}
		flattenAttr(attrs, sa.groups, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		flattenAttr(attrs, h.groups, a)
		return true
	})
	if len(attrs) > 0 {
		entry.Attributes = attrs
	}

	buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

// flattenAttr stores a into attrs, joining group names with dots.
func flattenAttr(attrs map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		nested := append(slices.Clone(groups), a.Key)
		for _, ga := range a.Value.Group() {
			flattenAttr(attrs, nested, ga)
		}
	case slog.KindTime:
		attrs[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = a.Value.Any()
		}
	default:
		attrs[key] = a.Value.Any()
	}
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scoped := slices.Clone(h.attrs)
	for _, a := range attrs {
		scoped = append(scoped, scopedAttr{groups: h.groups, attr: a})
	}
	return &BufferHandler{level: h.level, attrs: scoped, groups: h.groups}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &BufferHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

// levelToString converts slog.Level to a lowercase string.
func levelToString(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
