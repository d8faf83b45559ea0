package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"crmsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "info", Format: "json"}, &buf, false)

	logger.Debug("hidden")
	logger.Info("fetched page", "endpoint", "Deals", "page", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "fetched page", entry["msg"])
	assert.Equal(t, "Deals", entry["endpoint"])
}

func TestVerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "error"}, &buf, true)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
