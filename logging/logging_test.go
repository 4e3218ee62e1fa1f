package logging

import (
	"bytes"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("info", &buf)

	logger.Info().Str("tool", "API-getItem").Int("status", 200).Msg("tool call finished")

	out := buf.String()
	assert.Contains(t, out, `"tool":"API-getItem"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, "tool call finished")
}

func TestNewWithOutput_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("warn", &buf)

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"", log.InfoLevel},
		{"debug", log.DebugLevel},
		{"DEBUG", log.DebugLevel},
		{"warn", log.WarnLevel},
		{"error", log.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestOrSilent(t *testing.T) {
	require.NotNil(t, OrSilent(nil))

	logger := NewSilent()
	assert.Same(t, logger, OrSilent(logger))

	// must not panic
	OrSilent(nil).Error().Str("key", "value").Msg("discarded")
}

func TestNew_ConsoleAndJSON(t *testing.T) {
	assert.NotNil(t, New(Config{Level: "debug"}))
	assert.NotNil(t, New(Config{Level: "info", Format: "json"}))
}
