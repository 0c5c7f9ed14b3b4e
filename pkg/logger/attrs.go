package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// EnvInstanceID overrides the generated instance id, e.g. with a pod name.
const EnvInstanceID = "MEETING_INSTANCE_ID"

func resolveInstanceID(explicit string) string {
	switch {
	case explicit != "":
		return explicit
	case os.Getenv(EnvInstanceID) != "":
		return os.Getenv(EnvInstanceID)
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "meeting"
	}
	return host + "-" + uuid.NewString()[:8]
}

// baseAttrs are attached to every record of the process logger.
func baseAttrs(cfg Config, started time.Time) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", started),
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return attrs
}

// Component returns the process logger tagged with a subsystem name.
func Component(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
