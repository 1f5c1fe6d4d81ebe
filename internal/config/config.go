// Package config loads service settings from a YAML file overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Models     ModelsConfig     `yaml:"models"`
	Camera     CameraConfig     `yaml:"camera"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host      string `yaml:"host" env:"SERVER_HOST"`
	Port      int    `yaml:"port" env:"SERVER_PORT"`
	Debug     bool   `yaml:"debug" env:"SERVER_DEBUG"`
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"` // Base for image links in alerts
}

// AuthConfig configures the single admin account guarding mutating routes
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled" env:"AUTH_ENABLED"`
	Username  string        `yaml:"username" env:"AUTH_USERNAME"`
	Password  string        `yaml:"password" env:"AUTH_PASSWORD"` // Plain text or bcrypt hash
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_EXPIRY"`
}

// PipelineConfig holds detection tuning
type PipelineConfig struct {
	Persistence       time.Duration      `yaml:"persistence" env:"DETECTION_PERSISTENCE"`
	Cooldown          time.Duration      `yaml:"cooldown" env:"ALERT_COOLDOWN"`
	FrameInterval     time.Duration      `yaml:"frame_interval" env:"FRAME_INTERVAL"`
	StopTimeout       time.Duration      `yaml:"stop_timeout" env:"STOP_TIMEOUT"`
	ModelTimeout      time.Duration      `yaml:"model_timeout" env:"MODEL_TIMEOUT"`
	JPEGQuality       int                `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
	ActiveModels      []string           `yaml:"active_models" env:"ACTIVE_MODELS" envSeparator:","`
	AlertThresholds   map[string]float64 `yaml:"alert_thresholds" env:"MODEL_THRESHOLDS" envSeparator:"," envKeyValSeparator:":"`
	DisplayThresholds map[string]float64 `yaml:"display_thresholds" env:"DISPLAY_THRESHOLDS" envSeparator:"," envKeyValSeparator:":"`
	DispatchQueue     int                `yaml:"dispatch_queue" env:"DISPATCH_QUEUE"`
	DispatchWorkers   int                `yaml:"dispatch_workers" env:"DISPATCH_WORKERS"`
	DispatchTimeout   time.Duration      `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT"`
}

// ModelsConfig configures the model registry and the inference engine
type ModelsConfig struct {
	Known         []string          `yaml:"known" env:"MODELS" envSeparator:","`
	Dir           string            `yaml:"dir" env:"MODELS_DIR"`
	URLs          map[string]string `yaml:"urls" env:"MODEL_URLS" envSeparator:"," envKeyValSeparator:"="`
	RetryInterval time.Duration     `yaml:"retry_interval" env:"MODEL_RETRY_INTERVAL"`
	Engine        string            `yaml:"engine" env:"INFERENCE_ENGINE"` // "http" or "grpc"
	Endpoint      string            `yaml:"endpoint" env:"INFERENCE_ENDPOINT"`
	Timeout       time.Duration     `yaml:"timeout" env:"INFERENCE_TIMEOUT"`
}

// CameraConfig configures frame capture
type CameraConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	Width       int           `yaml:"width" env:"CAMERA_WIDTH"`
	Height      int           `yaml:"height" env:"CAMERA_HEIGHT"`
	FPS         int           `yaml:"fps" env:"CAMERA_FPS"`
	ReadTimeout time.Duration `yaml:"read_timeout" env:"CAMERA_READ_TIMEOUT"` // Zero disables
}

// TelegramConfig configures alert notification and the command bot
type TelegramConfig struct {
	Enabled      bool          `yaml:"enabled" env:"TELEGRAM_ENABLED"`
	BotToken     string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID       string        `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	Commands     bool          `yaml:"commands" env:"TELEGRAM_COMMANDS"`
	PollInterval time.Duration `yaml:"poll_interval" env:"TELEGRAM_POLL_INTERVAL"`
}

// DatabaseConfig selects the record store
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

// StorageConfig selects where anomaly frames are kept
type StorageConfig struct {
	Kind  string      `yaml:"kind" env:"STORAGE_KIND"` // "local" or "minio"
	Dir   string      `yaml:"dir" env:"STORAGE_DIR"`
	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig configures the S3-compatible frame store
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
}

// KafkaConfig configures the anomaly topic publisher
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

// MQTTConfig configures the anomaly MQTT publisher
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker   string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC"` // May contain {camera}
}

// ClickHouseConfig configures the analytics writer
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled" env:"CLICKHOUSE_ENABLED"`
	Addr     string `yaml:"addr" env:"CLICKHOUSE_ADDR"`
	Database string `yaml:"database" env:"CLICKHOUSE_DB"`
	Username string `yaml:"username" env:"CLICKHOUSE_USER"`
	Password string `yaml:"password" env:"CLICKHOUSE_PASS"`
	Table    string `yaml:"table" env:"CLICKHOUSE_TABLE"`
}

// DefaultModels lists the detectors shipped with the service
var DefaultModels = []string{"people", "weapon", "fire", "shoplifting", "crowd", "Accident", "Vandalism"}

// Default returns the stock configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Auth: AuthConfig{
			Username: "admin",
			TokenTTL: 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			Persistence:   5 * time.Second,
			Cooldown:      2 * time.Second,
			FrameInterval: 30 * time.Millisecond,
			StopTimeout:   2 * time.Second,
			JPEGQuality:   85,
			ActiveModels:  append([]string(nil), DefaultModels...),
			AlertThresholds: map[string]float64{
				"weapon":      0.85,
				"fire":        0.85,
				"people":      0.85,
				"shoplifting": 0.65,
				"crowd":       0.85,
				"Accident":    0.85,
				"Vandalism":   0.85,
				"default":     0.85,
			},
			DisplayThresholds: map[string]float64{
				"weapon":      0.40,
				"fire":        0.80,
				"people":      0.80,
				"shoplifting": 0.60,
				"crowd":       0.80,
				"Accident":    0.80,
				"Vandalism":   0.80,
				"default":     0.80,
			},
			DispatchQueue:   32,
			DispatchWorkers: 1,
			DispatchTimeout: 30 * time.Second,
		},
		Models: ModelsConfig{
			Known:         append([]string(nil), DefaultModels...),
			Dir:           "models",
			RetryInterval: 30 * time.Second,
			Engine:        "http",
			Endpoint:      "http://localhost:8001",
			Timeout:       10 * time.Second,
		},
		Camera: CameraConfig{
			FFmpegPath: "ffmpeg",
			Width:      640,
			Height:     480,
			FPS:        15,
		},
		Telegram: TelegramConfig{
			PollInterval: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "securo.db",
		},
		Storage: StorageConfig{
			Kind: "local",
			Dir:  "data/frames",
			Minio: MinioConfig{
				Bucket: "securo",
			},
		},
		Kafka: KafkaConfig{
			Topic: "securo.anomalies",
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "securo",
			Topic:    "securo/anomalies/{camera}",
		},
		ClickHouse: ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "securo",
			Username: "default",
			Table:    "detections",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if any),
// then environment variables. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	p := c.Pipeline
	if p.Persistence < 0 || p.Cooldown < 0 || p.FrameInterval < 0 || p.StopTimeout < 0 || p.ModelTimeout < 0 {
		errs = append(errs, errors.New("pipeline durations must not be negative"))
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("pipeline.jpeg_quality %d out of range", p.JPEGQuality))
	}
	errs = append(errs, checkThresholds("alert_thresholds", p.AlertThresholds)...)
	errs = append(errs, checkThresholds("display_thresholds", p.DisplayThresholds)...)

	known := make(map[string]bool, len(c.Models.Known))
	for _, id := range c.Models.Known {
		known[id] = true
	}
	for _, id := range p.ActiveModels {
		if !known[id] {
			errs = append(errs, fmt.Errorf("pipeline.active_models: unknown model %q", id))
		}
	}

	switch c.Models.Engine {
	case "http", "grpc":
	default:
		errs = append(errs, fmt.Errorf("models.engine %q must be http or grpc", c.Models.Engine))
	}
	if c.Models.Endpoint == "" {
		errs = append(errs, errors.New("models.endpoint is required"))
	}
	if c.Models.RetryInterval < 0 {
		errs = append(errs, errors.New("models.retry_interval must not be negative"))
	}

	if c.Camera.ReadTimeout < 0 {
		errs = append(errs, errors.New("camera.read_timeout must not be negative"))
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram enabled without bot_token and chat_id"))
	}

	if c.Auth.Enabled && (c.Auth.Password == "" || c.Auth.JWTSecret == "") {
		errs = append(errs, errors.New("auth enabled without password and jwt_secret"))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Storage.Kind {
	case "local":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for local storage"))
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio requires endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.kind %q must be local or minio", c.Storage.Kind))
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka enabled without brokers and topic"))
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		errs = append(errs, errors.New("mqtt enabled without broker and topic"))
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		errs = append(errs, errors.New("clickhouse enabled without addr"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func checkThresholds(name string, m map[string]float64) []error {
	var errs []error
	if _, ok := m["default"]; !ok {
		errs = append(errs, fmt.Errorf("pipeline.%s: missing default entry", name))
	}
	for model, v := range m {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("pipeline.%s[%s] = %v outside [0,1]", name, model, v))
		}
	}
	return errs
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
