package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/atshell/config"
	"github.com/m4xw311/atshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "atshell.log")
	logger, err := New(config.LoggingConfig{Level: "info", File: path}, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewVerboseEnablesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atshell.log")
	logger, err := New(config.LoggingConfig{Level: "warn", File: path}, true)
	require.NoError(t, err)

	logger.Debug("debug line")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty", File: filepath.Join(t.TempDir(), "x.log")}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvocation))
}

func TestNewWithoutFileIsNop(t *testing.T) {
	logger, err := New(config.LoggingConfig{}, false)
	require.NoError(t, err)
	logger.Info("nowhere")
}
