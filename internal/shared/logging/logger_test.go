package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/wineml/internal/shared/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewFromConfig_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFromConfig(&buf, config.LoggingConfig{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.With("stage", "load").Info("DataFrame loaded", "rows", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "DataFrame loaded", entry["msg"])
	require.Equal(t, "load", entry["stage"])
	require.EqualValues(t, 3, entry["rows"])
	require.True(t, strings.HasSuffix(entry["time"].(string), "Z"))
}

func TestNewFromConfig_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFromConfig(&buf, config.LoggingConfig{Level: "debug", Format: "text"})

	logger.Debug("Creating spark session", "mode", "local")

	out := buf.String()
	require.Contains(t, out, "level=DEBUG")
	require.Contains(t, out, `msg="Creating spark session"`)
	require.Contains(t, out, "mode=local")
}
