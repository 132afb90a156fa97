package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// consoleHandler renders compact single-line output for interactive use:
//
//	15:04:05 INFO  scene generated session_id=... scene_index=3
type consoleHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

func newConsoleHandler(out io.Writer, level slog.Leveler) slog.Handler {
	return &consoleHandler{out: out, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.level != nil {
		minLevel = h.level.Level()
	}
	return level >= minLevel
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	if !record.Time.IsZero() {
		sb.WriteString(record.Time.Format("15:04:05"))
		sb.WriteByte(' ')
	}
	sb.WriteString(padLevel(record.Level))
	sb.WriteByte(' ')
	sb.WriteString(record.Message)

	writeAttr := func(attr slog.Attr) {
		if attr.Equal(slog.Attr{}) {
			return
		}
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		sb.WriteByte(' ')
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(attr.Value))
	}
	for _, attr := range h.attrs {
		writeAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(attr)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{out: h.out, level: h.level, attrs: merged, group: h.group}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &consoleHandler{out: h.out, level: h.level, attrs: h.attrs, group: group}
}

func padLevel(level slog.Level) string {
	label := strings.ToUpper(level.String())
	for len(label) < 5 {
		label += " "
	}
	return label
}

func formatValue(value slog.Value) string {
	resolved := value.Resolve()
	text := resolved.String()
	if strings.ContainsAny(text, " \t") {
		return fmt.Sprintf("%q", text)
	}
	if text == "" {
		return `""`
	}
	return text
}
