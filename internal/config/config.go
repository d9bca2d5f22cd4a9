package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string `mapstructure:"PORT"`
	Env                 string `mapstructure:"ENV"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	MigrationsPath      string `mapstructure:"MIGRATIONS_PATH"`
	InferenceAPIURL     string `mapstructure:"INFERENCE_API_URL"`
	InferenceTimeoutSec int    `mapstructure:"INFERENCE_TIMEOUT"`
	PollIntervalSec     int    `mapstructure:"POLL_INTERVAL"`
	PollMaxAttempts     int    `mapstructure:"POLL_MAX_ATTEMPTS"`
	FallbackWorkers     int    `mapstructure:"FALLBACK_WORKERS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("INFERENCE_API_URL", "http://localhost:8000/api/v1")
	v.SetDefault("INFERENCE_TIMEOUT", 120)
	v.SetDefault("POLL_INTERVAL", 5)
	v.SetDefault("POLL_MAX_ATTEMPTS", 120)
	v.SetDefault("FALLBACK_WORKERS", 4)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("MIGRATIONS_PATH")
	v.BindEnv("INFERENCE_API_URL")
	v.BindEnv("INFERENCE_TIMEOUT")
	v.BindEnv("POLL_INTERVAL")
	v.BindEnv("POLL_MAX_ATTEMPTS")
	v.BindEnv("FALLBACK_WORKERS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PollMaxAttempts < 1 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSec) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}
