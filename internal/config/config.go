// Package config loads gateway configuration from an optional YAML file with
// environment variable overrides. A .env file in the working directory is
// honored for local development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr  string
	AMQPURL     string
	RedisURL    string
	RecordTTL   time.Duration
	DefaultTone string
}

// fileConfig is the YAML shape. Durations are strings ("2m", "90s") because
// yaml cannot decode into time.Duration directly.
type fileConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	AMQPURL     string `yaml:"amqp_url"`
	RedisURL    string `yaml:"redis_url"`
	RecordTTL   string `yaml:"record_ttl"`
	DefaultTone string `yaml:"default_tone"`
}

func defaults() Config {
	return Config{
		ListenAddr:  ":8080",
		AMQPURL:     "amqp://localhost",
		RedisURL:    "redis://localhost:6379/0",
		RecordTTL:   5 * time.Minute,
		DefaultTone: "Casual",
	}
}

// Load reads the config file at path (skipped when path is empty or the file
// does not exist), then applies environment overrides on top.
func Load(path string) (Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	config := defaults()

	if path != "" {
		if err := applyFile(&config, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&config); err != nil {
		return Config{}, err
	}

	if config.RecordTTL <= 0 {
		return Config{}, fmt.Errorf("record_ttl must be positive, got %s", config.RecordTTL)
	}

	return config, nil
}

func applyFile(config *Config, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if file.ListenAddr != "" {
		config.ListenAddr = file.ListenAddr
	}
	if file.AMQPURL != "" {
		config.AMQPURL = file.AMQPURL
	}
	if file.RedisURL != "" {
		config.RedisURL = file.RedisURL
	}
	if file.DefaultTone != "" {
		config.DefaultTone = file.DefaultTone
	}
	if file.RecordTTL != "" {
		ttl, err := time.ParseDuration(file.RecordTTL)
		if err != nil {
			return fmt.Errorf("invalid record_ttl %q: %w", file.RecordTTL, err)
		}
		config.RecordTTL = ttl
	}
	return nil
}

func applyEnv(config *Config) error {
	if value := os.Getenv("LISTEN_ADDR"); value != "" {
		config.ListenAddr = value
	}
	if value := os.Getenv("RABBITMQ_URL"); value != "" {
		config.AMQPURL = value
	}
	if value := os.Getenv("REDIS_URL"); value != "" {
		config.RedisURL = value
	}
	if value := os.Getenv("DEFAULT_TONE"); value != "" {
		config.DefaultTone = value
	}
	if value := os.Getenv("RECORD_TTL"); value != "" {
		ttl, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid RECORD_TTL %q: %w", value, err)
		}
		config.RecordTTL = ttl
	}
	return nil
}
