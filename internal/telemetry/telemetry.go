// Package telemetry builds the process-wide logger and metrics registry
// conduitd hands down to every other package. The single-logger,
// built-once-at-startup shape follows flyingrobots-go-redis-work-queue's
// internal/obs and jordigilh-kubernaut's logging setup. NewRegistry
// registers no collectors itself: internal/conduit registers its
// request-duration histogram on it, and internal/dqm reports no metrics.
package telemetry

import (
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger at the given level ("debug", "info",
// "warn", "error"), permanently tagged with the "dqm" subsystem field so
// every log line from this process is greppable by component.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("subsystem", "dqm")), nil
}

// NewRegistry returns a fresh Prometheus registry. Kept distinct from
// the global default registry so tests can build an isolated one per
// case without collector-already-registered panics.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// TraceID produces a request-correlation id for log lines — distinct
// from internal/pending's query_id, which has its own
// prefix-counter-microsecond format mandated by spec.md §4.7. This one
// is a plain UUIDv4; no caller in this module attaches it to log lines.
func TraceID() string {
	return uuid.NewString()
}
