package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "securo.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.Persistence != 5*time.Second || cfg.Pipeline.Cooldown != 2*time.Second {
		t.Errorf("timings = %v/%v", cfg.Pipeline.Persistence, cfg.Pipeline.Cooldown)
	}
	if cfg.Pipeline.AlertThresholds["shoplifting"] != 0.65 || cfg.Pipeline.DisplayThresholds["weapon"] != 0.40 {
		t.Errorf("threshold defaults changed")
	}
	if len(cfg.Pipeline.ActiveModels) != 7 {
		t.Errorf("active models = %v", cfg.Pipeline.ActiveModels)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
pipeline:
  persistence: 3s
  alert_thresholds:
    fire: 0.7
models:
  engine: grpc
  endpoint: localhost:50051
storage:
  kind: minio
  minio:
    endpoint: minio:9000
    bucket: frames
`)
	t.Setenv("ALERT_COOLDOWN", "4s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, environment should win over file", cfg.Server.Port)
	}
	if cfg.Pipeline.Persistence != 3*time.Second {
		t.Errorf("persistence = %v, want 3s", cfg.Pipeline.Persistence)
	}
	if cfg.Pipeline.Cooldown != 4*time.Second {
		t.Errorf("cooldown = %v, want 4s", cfg.Pipeline.Cooldown)
	}
	if cfg.Pipeline.AlertThresholds["fire"] != 0.7 {
		t.Errorf("fire threshold = %v", cfg.Pipeline.AlertThresholds["fire"])
	}
	if cfg.Pipeline.AlertThresholds["default"] != 0.85 {
		t.Error("file entry dropped the default threshold")
	}
	if cfg.Models.Engine != "grpc" || cfg.Storage.Minio.Bucket != "frames" {
		t.Errorf("models/storage = %+v %+v", cfg.Models, cfg.Storage)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadThresholdsFromEnvironment(t *testing.T) {
	t.Setenv("MODEL_THRESHOLDS", "default:0.9,weapon:0.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.AlertThresholds["weapon"] != 0.5 || cfg.Pipeline.AlertThresholds["default"] != 0.9 {
		t.Errorf("alert thresholds = %v", cfg.Pipeline.AlertThresholds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold range", func(c *Config) { c.Pipeline.AlertThresholds["fire"] = 1.5 }, "outside [0,1]"},
		{"missing default", func(c *Config) { delete(c.Pipeline.DisplayThresholds, "default") }, "missing default"},
		{"negative duration", func(c *Config) { c.Pipeline.Cooldown = -time.Second }, "negative"},
		{"telegram", func(c *Config) { c.Telegram.Enabled = true }, "telegram"},
		{"auth", func(c *Config) { c.Auth.Enabled = true }, "auth"},
		{"engine", func(c *Config) { c.Models.Engine = "onnx" }, "models.engine"},
		{"database", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"storage", func(c *Config) { c.Storage.Kind = "s3" }, "storage.kind"},
		{"unknown active model", func(c *Config) { c.Pipeline.ActiveModels = []string{"dragons"} }, "unknown model"},
		{"kafka", func(c *Config) { c.Kafka.Enabled = true }, "kafka"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
