// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

var def *slog.Logger

// Init builds the slog handler for the configured backend and installs it as
// the default logger.
func Init(cfg Config) {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "app"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.InstanceID = resolveInstanceID(cfg.InstanceID)

	if cfg.Backend == "" {
		if cfg.Env.Verbose() {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	base := slog.New(h.WithAttrs(baseAttrs(cfg, time.Now())))
	slog.SetDefault(base)
	def = base
}

func L() *slog.Logger {
	if def != nil {
		return def
	}

	Init(Config{})
	return def
}

type ctxKey int

const loggerKey ctxKey = iota

// WithContext stores a request-scoped logger.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger with trace attributes, or the
// global one.
func FromContext(ctx context.Context) *slog.Logger {
	l := L()
	if v, ok := ctx.Value(loggerKey).(*slog.Logger); ok && v != nil {
		l = v
	}
	return withTrace(ctx, l)
}
