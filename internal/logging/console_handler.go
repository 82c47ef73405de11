package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ConsoleHandler is a slog.Handler that writes logs in a human-readable
// format: YYYY/MM/DD HH:MM:SS [PREFIX:COMPONENT] Message key=value, with the
// level name before the message for any level other than info.
type ConsoleHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	mu    sync.Mutex
	attrs []slog.Attr
}

// processPrefix is the global prefix used for log output. Role mains set
// it to ARMOUR-CONTROL, ARMOUR-HOST or ARMOUR-PROXY.
var (
	processPrefix   = "ARMOUR"
	processPrefixMu sync.RWMutex
)

// SetPrefix sets the global log prefix.
func SetPrefix(prefix string) {
	processPrefixMu.Lock()
	defer processPrefixMu.Unlock()
	processPrefix = prefix
}

// GetPrefix returns the current global log prefix.
func GetPrefix() string {
	processPrefixMu.RLock()
	defer processPrefixMu.RUnlock()
	return processPrefix
}

// NewConsoleHandler creates a console handler.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	h := &ConsoleHandler{out: out}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(r.Time.Format("2006/01/02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(GetPrefix())

	component := ""
	var rest []slog.Attr
	collect := func(a slog.Attr) {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			rest = append(rest, a)
		}
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	if component != "" {
		sb.WriteString(":")
		sb.WriteString(strings.ToUpper(component))
	}
	sb.WriteString("] ")

	if r.Level != slog.LevelInfo {
		sb.WriteString(r.Level.String())
		sb.WriteString(" ")
	}
	sb.WriteString(r.Message)
	for _, a := range rest {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
	}
	sb.WriteString("\n")

	line := sb.String()
	recordLine(r.Level, component, r.Message)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConsoleHandler{
		opts:  h.opts,
		out:   h.out,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}
