package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxr-dataset-builder/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Module(New(&buf, config.LogConfig{Level: "info", Format: "json"}), "processor")

	logger.Debug("hidden")
	logger.Info("rows", "count", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rows", entry["msg"])
	assert.Equal(t, "processor", entry["module"])
	assert.Equal(t, float64(3), entry["count"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LogConfig{Level: "debug", Format: "text"})
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestModuleNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Module(nil, "x").Info("ignored")
	})
}
