package writer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// multiHandler wraps multiple handlers to write to multiple destinations
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if err := handler.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// SetupLogger creates a logger writing text to stdout and JSON to the run's session.log
func SetupLogger(sessionMgr *SessionManager, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(sessionMgr.GetLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session log: %w", err)
	}

	logger := NewLogger(logLevel, logFile)
	return logger, logFile, nil
}

// NewLogger fans records out to a stdout text handler and a JSON handler per
// extra destination. The serve command uses it without a run directory.
func NewLogger(logLevel slog.Level, jsonOutputs ...io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, opts)}
	for _, w := range jsonOutputs {
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}
	return slog.New(&multiHandler{handlers: handlers})
}
