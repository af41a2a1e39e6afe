package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log sinks.
type Config struct {
	Level  string
	Format string
	// Dir holds app.log. Empty disables the file sink.
	Dir   string
	Quiet bool
	// Writer replaces stderr, mainly for tests.
	Writer io.Writer
}

const (
	fileName   = "app.log"
	maxSizeMB  = 2
	maxBackups = 3
)

// New builds a logger fanning out to stderr and to a rotating file. The
// returned closer releases the file.
func New(cfg Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	opts.AddSource = opts.Level == slog.LevelDebug

	var handlers []slog.Handler
	if !cfg.Quiet {
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		handlers = append(handlers, newHandler(w, cfg.Format, opts))
	}
	var closer io.Closer = nopCloser{}
	if cfg.Dir != "" {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, fileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		}
		handlers = append(handlers, newHandler(file, cfg.Format, opts))
		closer = file
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer
}

// ParseLevel maps a config level to slog; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
