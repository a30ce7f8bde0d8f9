package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"perfagent/internal/config"
)

const consoleTimeFormat = "2006-01-02 15:04:05.000"

// New builds the process logger from console and file sink settings.
// Params: cfg logging section.
// Returns: logger, close func releasing the file sink, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	return newLogger(cfg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
}

// newLogger builds a logger writing console output to console.
// Params: cfg logging section; console writer; terminal enables colored line output.
// Returns: logger, close func and setup error.
func newLogger(cfg config.LogConfig, console io.Writer, terminal bool) (*slog.Logger, func(), error) {
	var handlers []slog.Handler
	closeFn := func() {}

	if cfg.Console.Enabled {
		handler, err := newHandler(console, cfg.Console, terminal)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log.file: create dir: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log.file: open %q: %w", path, err)
		}
		handler, err := newHandler(file, cfg.File, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
		closeFn = func() {
			_ = file.Sync()
			_ = file.Close()
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(discardHandler{}), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanoutHandler(handlers)), closeFn, nil
	}
}

// newHandler builds one sink handler.
// Params: w destination; sink level/format settings; terminal enables tint colors for line format.
// Returns: slog handler or config error.
func newHandler(w io.Writer, sink config.LogSinkConfig, terminal bool) (slog.Handler, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "", "line":
		if terminal {
			return tint.NewHandler(w, &tint.Options{
				Level:      level,
				TimeFormat: consoleTimeFormat,
				NoColor:    runtime.GOOS == "windows",
			}), nil
		}
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

// ParseLevel maps a config level name to slog level.
// Params: name debug|info|warn|error, empty means info.
// Returns: level or error for unknown names.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported level %q", name)
	}
}

// fanoutHandler forwards each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(h))
	for idx, handler := range h {
		next[idx] = handler.WithAttrs(attrs)
	}
	return next
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(h))
	for idx, handler := range h {
		next[idx] = handler.WithGroup(name)
	}
	return next
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Since returns elapsed milliseconds for duration log attributes.
// Params: start timestamp.
// Returns: slog attribute "took_ms".
func Since(start time.Time) slog.Attr {
	return slog.Int64("took_ms", time.Since(start).Milliseconds())
}
