// Package logger builds the process-wide slog handler.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/GriffinCanCode/meeting-pilot/internal/config"
)

type Config struct {
	Level      slog.Level
	Output     io.Writer
	AddSource  bool
	JSONFormat bool
}

// New returns a logger writing to cfg.Output (stderr when nil).
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSONFormat {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// Setup installs the default logger described by cfg. When a log file is
// configured, output is tee'd to stderr and a size-rotated file. The
// returned closer releases the file.
func Setup(cfg *config.Config) (*slog.Logger, io.Closer) {
	out := io.Writer(os.Stderr)
	var closer io.Closer = nopCloser{}

	if path := cfg.LogPath(); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxFiles,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	l := New(Config{
		Level:      ParseLevel(cfg.Log.Level),
		Output:     out,
		AddSource:  cfg.Log.AddSource,
		JSONFormat: cfg.Log.Format == "json",
	})
	slog.SetDefault(l)
	return l, closer
}

// ParseLevel maps a config level name; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
