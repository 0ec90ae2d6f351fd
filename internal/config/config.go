// Package config builds the immutable edge and hub configuration once at
// process start. Values come from defaults, an optional config file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"toll-monitor/internal/gate"
)

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type EdgeConfig struct {
	TollBoothID       int
	CameraIDs         []string
	FrameRate         int
	DetectionInterval time.Duration
	FrameDir          string
	CaptureTimeout    time.Duration
	Thresholds        gate.Thresholds
	Inference         InferenceConfig
	Hub               HubClientConfig
	Buffer            BufferConfig
	Delivery          DeliveryConfig
	Port              int
	Log               LogConfig
}

type InferenceConfig struct {
	URL     string
	Timeout time.Duration
}

type HubClientConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type BufferConfig struct {
	Capacity int
	// Path of the sqlite file backing the buffer. Empty keeps the buffer in memory.
	Path string
}

type DeliveryConfig struct {
	QueueSize     int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

type HubConfig struct {
	Port     int
	Database DatabaseConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	DedupTTL time.Duration
	Log      LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	PoolMin  int
	PoolMax  int
	IdleTime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type AuthConfig struct {
	APIKey    string
	JWTSecret string
}

type CORSConfig struct {
	Origins []string
}

type RedisConfig struct {
	URL     string
	Channel string
}

type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	ClientID    string
}

func newViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// LoadEdge reads the edge node configuration.
func LoadEdge(file string) (*EdgeConfig, error) {
	v, err := newViper(file)
	if err != nil {
		return nil, err
	}

	v.SetDefault("toll_booth_id", 1)
	v.SetDefault("camera_ids", "main_camera")
	v.SetDefault("fps", 5)
	v.SetDefault("detection_interval", "10s")
	v.SetDefault("frame_dir", "")
	v.SetDefault("capture_timeout", "5s")
	v.SetDefault("ocr_threshold", 0.8)
	v.SetDefault("make_threshold", 0.8)
	v.SetDefault("model_threshold", 0.8)
	v.SetDefault("color_threshold", 0.8)
	v.SetDefault("inference_pipeline_url", "http://localhost:8082")
	v.SetDefault("inference_timeout", "10s")
	v.SetDefault("central_hub_url", "http://localhost:8083")
	v.SetDefault("central_hub_api_key", "default-api-key")
	v.SetDefault("hub_timeout", "10s")
	v.SetDefault("buffer_size", 10)
	v.SetDefault("buffer_path", "")
	v.SetDefault("delivery_queue_size", 64)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", "1s")
	v.SetDefault("max_retry_delay", "30s")
	v.SetDefault("port", 8081)
	setLogDefaults(v, "/var/log/anvil/edge.log")

	cfg := &EdgeConfig{
		TollBoothID:       v.GetInt("toll_booth_id"),
		CameraIDs:         listValue(v, "camera_ids"),
		FrameRate:         v.GetInt("fps"),
		DetectionInterval: seconds(v, "detection_interval"),
		FrameDir:          v.GetString("frame_dir"),
		CaptureTimeout:    seconds(v, "capture_timeout"),
		Thresholds: gate.Thresholds{
			Plate: v.GetFloat64("ocr_threshold"),
			Make:  v.GetFloat64("make_threshold"),
			Model: v.GetFloat64("model_threshold"),
			Color: v.GetFloat64("color_threshold"),
		},
		Inference: InferenceConfig{
			URL:     v.GetString("inference_pipeline_url"),
			Timeout: seconds(v, "inference_timeout"),
		},
		Hub: HubClientConfig{
			URL:     v.GetString("central_hub_url"),
			APIKey:  v.GetString("central_hub_api_key"),
			Timeout: seconds(v, "hub_timeout"),
		},
		Buffer: BufferConfig{
			Capacity: v.GetInt("buffer_size"),
			Path:     v.GetString("buffer_path"),
		},
		Delivery: DeliveryConfig{
			QueueSize:     v.GetInt("delivery_queue_size"),
			MaxRetries:    v.GetInt("max_retries"),
			RetryDelay:    seconds(v, "retry_delay"),
			MaxRetryDelay: seconds(v, "max_retry_delay"),
		},
		Port: v.GetInt("port"),
		Log:  logConfig(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EdgeConfig) Validate() error {
	var errs []error
	if len(c.CameraIDs) == 0 {
		errs = append(errs, errors.New("no camera ids configured"))
	}
	if c.DetectionInterval <= 0 {
		errs = append(errs, errors.New("detection_interval must be positive"))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, errors.New("fps must be positive"))
	}
	for name, th := range map[string]float64{
		"ocr_threshold":   c.Thresholds.Plate,
		"make_threshold":  c.Thresholds.Make,
		"model_threshold": c.Thresholds.Model,
		"color_threshold": c.Thresholds.Color,
	} {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, th))
		}
	}
	if c.Inference.URL == "" {
		errs = append(errs, errors.New("inference_pipeline_url is required"))
	}
	if c.Hub.URL == "" {
		errs = append(errs, errors.New("central_hub_url is required"))
	}
	if c.Buffer.Capacity < 1 {
		errs = append(errs, errors.New("buffer_size must be at least 1"))
	}
	if c.Delivery.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.Delivery.RetryDelay <= 0 {
		errs = append(errs, errors.New("retry_delay must be positive"))
	}
	if c.Delivery.MaxRetryDelay < c.Delivery.RetryDelay {
		errs = append(errs, errors.New("max_retry_delay must not be below retry_delay"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid edge config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadHub reads the central hub configuration.
func LoadHub(file string) (*HubConfig, error) {
	v, err := newViper(file)
	if err != nil {
		return nil, err
	}

	v.SetDefault("port", 8083)
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "anvil_db")
	v.SetDefault("db_user", "anvil_user")
	v.SetDefault("db_password", "anvil_password")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("db_pool_min", 2)
	v.SetDefault("db_pool_max", 10)
	v.SetDefault("db_idle_timeout", "30s")
	v.SetDefault("api_key", "default-api-key")
	v.SetDefault("jwt_secret", "anvl-default-jwt-secret")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("redis_url", "")
	v.SetDefault("redis_channel", "anvl:detections")
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic_prefix", "anvl/detections")
	v.SetDefault("mqtt_client_id", "anvl-hub")
	v.SetDefault("dedup_ttl", "10m")
	setLogDefaults(v, "/var/log/anvil/hub.log")

	cfg := &HubConfig{
		Port: v.GetInt("port"),
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetInt("db_port"),
			Name:     v.GetString("db_name"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			SSLMode:  v.GetString("db_sslmode"),
			PoolMin:  v.GetInt("db_pool_min"),
			PoolMax:  v.GetInt("db_pool_max"),
			IdleTime: seconds(v, "db_idle_timeout"),
		},
		Auth: AuthConfig{
			APIKey:    v.GetString("api_key"),
			JWTSecret: v.GetString("jwt_secret"),
		},
		CORS: CORSConfig{Origins: listValue(v, "cors_origin")},
		Redis: RedisConfig{
			URL:     v.GetString("redis_url"),
			Channel: v.GetString("redis_channel"),
		},
		MQTT: MQTTConfig{
			Broker:      v.GetString("mqtt_broker"),
			TopicPrefix: v.GetString("mqtt_topic_prefix"),
			ClientID:    v.GetString("mqtt_client_id"),
		},
		DedupTTL: seconds(v, "dedup_ttl"),
		Log:      logConfig(v),
	}

	if cfg.Auth.APIKey == "" && cfg.Auth.JWTSecret == "" {
		return nil, errors.New("invalid hub config: api_key or jwt_secret is required")
	}
	if cfg.Database.PoolMax < cfg.Database.PoolMin {
		return nil, errors.New("invalid hub config: db_pool_max below db_pool_min")
	}
	return cfg, nil
}

func setLogDefaults(v *viper.Viper, file string) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", file)
}

func logConfig(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  v.GetString("log_level"),
		Format: v.GetString("log_format"),
		File:   v.GetString("log_file"),
	}
}

// seconds accepts either a Go duration string ("1500ms") or a bare number of
// seconds, which is how the original environment variables were written.
func seconds(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// listValue reads either a YAML list or a comma separated string.
func listValue(v *viper.Viper, key string) []string {
	if _, ok := v.Get(key).([]any); ok {
		return splitList(strings.Join(v.GetStringSlice(key), ","))
	}
	return splitList(v.GetString(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
