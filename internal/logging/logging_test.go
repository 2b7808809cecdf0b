package logging

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchwand/internal/config"
)

func TestNewHonorsLevel(t *testing.T) {
	logger := New("warn", "text")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	assert.True(t, New("debug", "json").Enabled(context.Background(), slog.LevelDebug))
}

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&TraditionalHandler{
		logger: log.New(&buf, "", 0),
		level:  slog.LevelInfo,
	})

	logger.Info("run started", "id", "convert-1", "inputs", 3)
	assert.Equal(t, "[INFO] run started [id=convert-1 inputs=3]\n", buf.String())

	buf.Reset()
	logger.Debug("below threshold")
	assert.Empty(t, buf.String())
}

func TestSetupWritesDatedFileAndSymlink(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Logging.FileOutput = true
	cfg.Logging.LogDir = t.TempDir()

	logger, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("hello from the run log")

	dated, err := filepath.Glob(filepath.Join(cfg.Logging.LogDir, "batchwand-2*.log"))
	require.NoError(t, err)
	require.Len(t, dated, 1)

	data, err := os.ReadFile(dated[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "batchwand logging initialized")
	assert.Contains(t, string(data), "hello from the run log")

	target, err := os.Readlink(filepath.Join(cfg.Logging.LogDir, "batchwand-current.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dated[0]), target)
}
