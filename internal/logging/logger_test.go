package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		development bool
		service     string
		encoding    string
		level       zapcore.Level
		fields      map[string]any
	}{
		{name: "development", development: true, encoding: "console", level: zapcore.DebugLevel},
		{
			name:     "production with service",
			service:  "page-archiver",
			encoding: "json",
			level:    zapcore.InfoLevel,
			fields:   map[string]any{"service": "page-archiver"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config(tc.development, tc.service)
			assert.Equal(t, tc.encoding, cfg.Encoding)
			assert.Equal(t, tc.level, cfg.Level.Level())
			assert.Equal(t, "ts", cfg.EncoderConfig.TimeKey)
			assert.Equal(t, tc.fields, cfg.InitialFields)
			assert.False(t, cfg.DisableStacktrace)
		})
	}
}

func TestNewBuildsLoggers(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev, "page-archiver")
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}
