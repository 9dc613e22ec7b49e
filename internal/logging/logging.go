// Package logging builds the service logger: slog handlers writing to stdout
// and, when a log directory is configured, a rotating file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"golang.org/x/exp/slices"

	"github.com/high-horse/fingerprint-server/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level         string
	Format        string
	Dir           string
	RotationHours int
	MaxAgeDays    int
}

// New constructs a slog logger from the provided options.
func New(opts Options) (*slog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if strings.TrimSpace(opts.Dir) != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		rotation := time.Duration(opts.RotationHours) * time.Hour
		if rotation <= 0 {
			rotation = 24 * time.Hour
		}
		maxAge := time.Duration(opts.MaxAgeDays) * 24 * time.Hour
		if maxAge <= 0 {
			maxAge = 14 * 24 * time.Hour
		}
		rotator, err := rotatelogs.New(
			filepath.Join(opts.Dir, "fingerd.%Y%m%d.log"),
			rotatelogs.WithLinkName(filepath.Join(opts.Dir, "fingerd.log")),
			rotatelogs.WithRotationTime(rotation),
			rotatelogs.WithMaxAge(maxAge),
		)
		if err != nil {
			return nil, fmt.Errorf("open rotating log: %w", err)
		}
		writers = append(writers, rotator)
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if !slices.Contains([]string{"", "text", "json"}, format) {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	out := io.MultiWriter(writers...)
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(opts.Level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler), nil
}

// NewFromConfig creates a logger using application config.
func NewFromConfig(cfg config.Config) (*slog.Logger, error) {
	return New(Options{
		Level:         cfg.Log.Level,
		Format:        cfg.Log.Format,
		Dir:           cfg.Log.Dir,
		RotationHours: cfg.Log.RotationHours,
		MaxAgeDays:    cfg.Log.MaxAgeDays,
	})
}

// WithComponent tags a logger with the subsystem it serves.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger.With("component", component)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
