package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEdgeDefaults(t *testing.T) {
	cfg, err := LoadEdge("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.TollBoothID)
	assert.Equal(t, []string{"main_camera"}, cfg.CameraIDs)
	assert.Equal(t, 5, cfg.FrameRate)
	assert.Equal(t, 10*time.Second, cfg.DetectionInterval)
	assert.InDelta(t, 0.8, cfg.Thresholds.Plate, 1e-9)
	assert.Equal(t, "http://localhost:8082", cfg.Inference.URL)
	assert.Equal(t, "http://localhost:8083", cfg.Hub.URL)
	assert.Equal(t, 10, cfg.Buffer.Capacity)
	assert.Empty(t, cfg.Buffer.Path)
	assert.Equal(t, 3, cfg.Delivery.MaxRetries)
	assert.Equal(t, time.Second, cfg.Delivery.RetryDelay)
	assert.Equal(t, 8081, cfg.Port)
}

func TestLoadEdgeFromEnv(t *testing.T) {
	t.Setenv("TOLL_BOOTH_ID", "42")
	t.Setenv("CAMERA_IDS", "lane_1, lane_2,,")
	t.Setenv("DETECTION_INTERVAL", "3")
	t.Setenv("OCR_THRESHOLD", "0.65")
	t.Setenv("COLOR_THRESHOLD", "0.5")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("BUFFER_SIZE", "100")
	t.Setenv("CENTRAL_HUB_API_KEY", "secret")

	cfg, err := LoadEdge("")
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.TollBoothID)
	assert.Equal(t, []string{"lane_1", "lane_2"}, cfg.CameraIDs)
	assert.Equal(t, 3*time.Second, cfg.DetectionInterval)
	assert.InDelta(t, 0.65, cfg.Thresholds.Plate, 1e-9)
	assert.InDelta(t, 0.5, cfg.Thresholds.Color, 1e-9)
	assert.InDelta(t, 0.8, cfg.Thresholds.Make, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.RetryDelay)
	assert.Equal(t, 100, cfg.Buffer.Capacity)
	assert.Equal(t, "secret", cfg.Hub.APIKey)
}

func TestLoadEdgeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	content := "toll_booth_id: 7\ncamera_ids:\n  - north\n  - south\nmax_retries: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadEdge(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.TollBoothID)
	assert.Equal(t, []string{"north", "south"}, cfg.CameraIDs)
	assert.Equal(t, 5, cfg.Delivery.MaxRetries)
}

func TestLoadEdgeMissingFile(t *testing.T) {
	_, err := LoadEdge(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEdgeValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no cameras", map[string]string{"CAMERA_IDS": " , "}},
		{"threshold above one", map[string]string{"OCR_THRESHOLD": "1.5"}},
		{"negative threshold", map[string]string{"MODEL_THRESHOLD": "-0.1"}},
		{"zero buffer", map[string]string{"BUFFER_SIZE": "0"}},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}},
		{"zero interval", map[string]string{"DETECTION_INTERVAL": "0"}},
		{"max delay below delay", map[string]string{"RETRY_DELAY": "10s", "MAX_RETRY_DELAY": "1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadEdge("")
			assert.Error(t, err)
		})
	}
}

func TestLoadHub(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CORS_ORIGIN", "https://a.example,https://b.example")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadHub("")
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Contains(t, cfg.Database.DSN(), "host=db.internal")
	assert.Contains(t, cfg.Database.DSN(), "dbname=anvil_db")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "anvl:detections", cfg.Redis.Channel)
	assert.Equal(t, 10*time.Minute, cfg.DedupTTL)
}

func TestLoadHubRejectsPool(t *testing.T) {
	t.Setenv("DB_POOL_MIN", "20")
	t.Setenv("DB_POOL_MAX", "5")
	_, err := LoadHub("")
	assert.Error(t, err)
}
