package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/craquehouse/vintagestory-server-sub003/internal/config"
)

func TestSetupLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.LogDir = dir
	cfg.Filename = "test.log"

	logger, err := SetupLogger(cfg)
	require.NoError(t, err)

	logger.Info("hello from test")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestSetupLoggerNoOutputsIsNop(t *testing.T) {
	cfg := &config.LogConfig{Level: "info"}
	logger, err := SetupLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("goes nowhere")
}

func TestSetupLoggerNilConfigUsesDefaults(t *testing.T) {
	// Defaults enable file logging under the home directory; point HOME at a
	// temp dir to keep the test hermetic.
	t.Setenv("HOME", t.TempDir())
	logger, err := SetupLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zap.InfoLevel, parseLevel("info"))
	assert.Equal(t, zap.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zap.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zap.InfoLevel, parseLevel("bogus"))
}

func TestLogFilePathCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	path, err := LogFilePath(dir, "panel.log")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "panel.log"), path)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
