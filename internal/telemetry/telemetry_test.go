package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevelMapping(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
	}
	for level, want := range cases {
		logger, err := NewLogger(level, true)
		require.NoError(t, err, "level %q", level)
		assert.Equal(t, want, logger.Level(), "level %q", level)
	}
}

func TestNewLoggerReturnsLogger(t *testing.T) {
	logger, err := NewLogger("info", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewRegistryReturnsIndependentInstances(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	assert.NotSame(t, a, b)
}

func TestTraceIDIsUniqueAndNonEmpty(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := TraceID()
		assert.NotEmpty(t, id)
		assert.False(t, ids[id], "TraceID must not repeat")
		ids[id] = true
	}
}
