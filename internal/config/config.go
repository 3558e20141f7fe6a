package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server settings. Values come from defaults, then an
// optional YAML file, then environment variables, in that order.
type Config struct {
	Port string `yaml:"port"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StatusInterval    time.Duration `yaml:"status_interval"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`

	NATSURL  string `yaml:"nats_url"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration. Port 8081 matches what the
// phone and watch apps expect.
func Default() Config {
	return Config{
		Port:              "8081",
		HeartbeatInterval: 30 * time.Second,
		StatusInterval:    60 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
		MaxMessageSize:    4096,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		LogLevel:          "info",
	}
}

// Load builds the configuration. If path is empty, SYNCSERVER_CONFIG is
// consulted; a missing file is not an error, env vars alone are enough.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SYNCSERVER_CONFIG")
	}
	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.HeartbeatInterval = getEnvAsDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.StatusInterval = getEnvAsDuration("STATUS_INTERVAL", cfg.StatusInterval)
	cfg.ReadTimeout = getEnvAsDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvAsDuration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.PingInterval = getEnvAsDuration("PING_INTERVAL", cfg.PingInterval)
	cfg.MaxMessageSize = getEnvAsInt64("MAX_MESSAGE_SIZE", cfg.MaxMessageSize)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
