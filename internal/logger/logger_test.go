package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toll-monitor/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "edge.log")

	log, closer, err := New(config.LogConfig{Level: "debug", Format: "json", File: path}, "edge-node")
	require.NoError(t, err)

	log.Debug().Str("camera_id", "main_camera").Msg("frame captured")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"edge-node"`)
	assert.Contains(t, string(data), `"camera_id":"main_camera"`)
	assert.Contains(t, string(data), "frame captured")
}

func TestNewFallsBackToInfo(t *testing.T) {
	log, closer, err := New(config.LogConfig{Level: "loud"}, "hub")
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
