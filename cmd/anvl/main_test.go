package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toll-monitor/internal/config"
	"toll-monitor/internal/gate"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := rootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["edge"])
	assert.True(t, names["hub"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestEdgeRefusesToStartWithoutCameras(t *testing.T) {
	t.Setenv("CAMERA_IDS", " , ")
	root := rootCommand()
	root.SetArgs([]string{"edge"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera")
}

func TestFrameSourceSelection(t *testing.T) {
	cfg := &config.EdgeConfig{
		CameraIDs:         []string{"main_camera"},
		FrameRate:         5,
		DetectionInterval: 10 * time.Second,
	}
	src, err := frameSource(cfg, zerolog.Nop())
	require.NoError(t, err)
	f, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.Data)
	assert.Equal(t, "main_camera", f.CameraID)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001.jpg"), []byte("frame"), 0o600))
	cfg.FrameDir = dir
	src, err = frameSource(cfg, zerolog.Nop())
	require.NoError(t, err)
	f, err = src.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), f.Data)

	cfg.FrameDir = filepath.Join(dir, "missing")
	_, err = frameSource(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestEdgeStopsWhenHealthServerCannotBind(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := &config.EdgeConfig{
		TollBoothID:       1,
		CameraIDs:         []string{"main_camera"},
		FrameRate:         5,
		DetectionInterval: 20 * time.Millisecond,
		CaptureTimeout:    time.Second,
		Thresholds:        gate.Thresholds{Plate: 0.8, Make: 0.8, Model: 0.8, Color: 0.8},
		Inference:         config.InferenceConfig{URL: "http://127.0.0.1:1", Timeout: time.Second},
		Hub:               config.HubClientConfig{URL: "http://127.0.0.1:1", APIKey: "k", Timeout: time.Second},
		Buffer:            config.BufferConfig{Capacity: 4},
		Delivery:          config.DeliveryConfig{QueueSize: 4, MaxRetries: 1, RetryDelay: 10 * time.Millisecond, MaxRetryDelay: 20 * time.Millisecond},
		Port:              ln.Addr().(*net.TCPAddr).Port,
	}

	done := make(chan error, 1)
	go func() { done <- runEdge(context.Background(), cfg, zerolog.Nop()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http server")
	case <-time.After(5 * time.Second):
		t.Fatal("edge kept running after the health server failed to bind")
	}
}

func TestWatchServerCancelsOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	out := watchServer(done, cancel, zerolog.Nop())
	done <- errors.New("listen tcp :8081: bind: address already in use")

	assert.Error(t, <-out)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWatchServerCleanExitKeepsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	out := watchServer(done, cancel, zerolog.Nop())
	done <- nil

	assert.NoError(t, <-out)
	assert.NoError(t, ctx.Err())
}
