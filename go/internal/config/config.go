// Package config loads the settings shared by the clock server, the gateway and
// the tools: defaults, then an optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable pointing at the YAML file.
const EnvConfigPath = "GAMECLOCK_CONFIG"

type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Store struct {
		// Fast is "kv" (JetStream key-value) or "memory".
		Fast string `yaml:"fast"`
		// Durable is "postgres" or "memory".
		Durable     string `yaml:"durable"`
		ApplySchema bool   `yaml:"apply_schema"`
	} `yaml:"store"`

	Clock struct {
		OpTimeout    time.Duration `yaml:"op_timeout"`
		RetryBackoff time.Duration `yaml:"retry_backoff"`
		MaxAttempts  int           `yaml:"max_attempts"`
	} `yaml:"clock"`

	Heartbeat struct {
		Interval    time.Duration `yaml:"interval"`
		Workers     int           `yaml:"workers"`
		TickTimeout time.Duration `yaml:"tick_timeout"`
	} `yaml:"heartbeat"`

	Finalizer struct {
		Enabled          bool          `yaml:"enabled"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
		GracePeriod      time.Duration `yaml:"grace_period"`
		BatchSize        int           `yaml:"batch_size"`
	} `yaml:"finalizer"`

	Gateway struct {
		Port            string `yaml:"port"`
		ClockServiceURL string `yaml:"clock_service_url"`
		ConsumerName    string `yaml:"consumer_name"`
	} `yaml:"gateway"`
}

// Default returns the settings used when neither file nor environment says otherwise.
func Default() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.Server.Port = "8080"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.Store.Fast = "kv"
	cfg.Store.Durable = "postgres"
	cfg.Clock.OpTimeout = 1500 * time.Millisecond
	cfg.Clock.RetryBackoff = 50 * time.Millisecond
	cfg.Clock.MaxAttempts = 5
	cfg.Heartbeat.Interval = 2 * time.Second
	cfg.Heartbeat.Workers = 8
	cfg.Heartbeat.TickTimeout = 1500 * time.Millisecond
	cfg.Finalizer.Enabled = true
	cfg.Finalizer.FallbackInterval = 30 * time.Second
	cfg.Finalizer.GracePeriod = 10 * time.Minute
	cfg.Finalizer.BatchSize = 100
	cfg.Gateway.Port = "8081"
	cfg.Gateway.ClockServiceURL = "http://localhost:8080"
	cfg.Gateway.ConsumerName = "clock-gateway"
	return cfg
}

// Load reads path over the defaults and applies environment overrides. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Store.Fast = getEnv("FAST_STORE", c.Store.Fast)
	c.Store.Durable = getEnv("DURABLE_STORE", c.Store.Durable)
	c.Store.ApplySchema = getEnvAsBool("APPLY_SCHEMA", c.Store.ApplySchema)
	c.Clock.OpTimeout = getEnvAsDuration("CLOCK_OP_TIMEOUT", c.Clock.OpTimeout)
	c.Clock.MaxAttempts = getEnvAsInt("CLOCK_MAX_ATTEMPTS", c.Clock.MaxAttempts)
	c.Heartbeat.Interval = getEnvAsDuration("HEARTBEAT_INTERVAL", c.Heartbeat.Interval)
	c.Heartbeat.Workers = getEnvAsInt("HEARTBEAT_WORKERS", c.Heartbeat.Workers)
	c.Finalizer.Enabled = getEnvAsBool("FINALIZER_ENABLED", c.Finalizer.Enabled)
	c.Gateway.Port = getEnv("GATEWAY_PORT", c.Gateway.Port)
	c.Gateway.ClockServiceURL = getEnv("CLOCK_SERVICE_URL", c.Gateway.ClockServiceURL)
	c.Gateway.ConsumerName = getEnv("GATEWAY_CONSUMER", c.Gateway.ConsumerName)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Store.Fast {
	case "kv", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.fast: unknown store %q", c.Store.Fast))
	}
	switch c.Store.Durable {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.durable: unknown store %q", c.Store.Durable))
	}
	if c.Clock.OpTimeout <= 0 {
		errs = append(errs, errors.New("clock.op_timeout must be positive"))
	}
	if c.Clock.MaxAttempts < 1 {
		errs = append(errs, errors.New("clock.max_attempts must be at least 1"))
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	if c.Heartbeat.Workers < 1 {
		errs = append(errs, errors.New("heartbeat.workers must be at least 1"))
	}
	if c.Finalizer.Enabled && c.Store.Durable != "postgres" {
		errs = append(errs, errors.New("finalizer requires the postgres durable store"))
	}

	return errors.Join(errs...)
}

// ApplyLogLevel sets the global zerolog level. Invalid levels are ignored.
func (c *Config) ApplyLogLevel() {
	if level, err := zerolog.ParseLevel(c.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
