package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hed1ad/gpuwatch/pkg/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	cfg := config.DefaultConfig().Logging
	cfg.Format = "json"
	cfg.Level = "info"
	cfg.File = filepath.Join(t.TempDir(), "logs", "gpuwatch.log")

	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("training finished", zap.String("run_id", "r1"), zap.Int("rows", 100))
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1, "debug entries are below the configured level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "training finished", entry["message"])
	assert.Equal(t, "r1", entry["run_id"])
	assert.EqualValues(t, 100, entry["rows"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestNewRejectsBadSettings(t *testing.T) {
	cfg := config.DefaultConfig().Logging

	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg.Level = "info"
	cfg.Format = "xml"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewConsole(t *testing.T) {
	logger, err := New(config.DefaultConfig().Logging)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
