package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "NOTIFY"

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("configuration validation failed")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "safe-notify")

	v.SetDefault("delivery.worker_count", 4)
	v.SetDefault("delivery.queue_size", 100)
	v.SetDefault("delivery.poll_interval", "250ms")
	v.SetDefault("delivery.delivery_timeout", "10s")
	v.SetDefault("delivery.stuck_task_age", "2m")
	v.SetDefault("delivery.stuck_task_check_interval", "30s")
	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.backoff", []string{"2s", "5s"})

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.from_address", "")
	v.SetDefault("email.region", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "safe-notify-task-events")
	v.SetDefault("kafka.write_timeout", "3s")
}

// Load reads configuration from defaults, ./config.yaml when present and
// NOTIFY_* environment variables. Environment variables take precedence.
func Load() (*Config, error) {
	return load("")
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is empty")
	}
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var problems []string
	switch c.Store.Driver {
	case "postgres":
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required when store.driver is postgres")
		}
	case "redis":
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required when store.driver is redis")
		}
	}
	if c.Email.Provider == "ses" && c.Email.FromAddress == "" {
		problems = append(problems, "email.from_address is required when email.provider is ses")
	}
	// A claim older than the delivery timeout can only belong to a dead
	// worker; anything shorter would reset live attempts.
	if c.Delivery.StuckTaskAge <= c.Delivery.DeliveryTimeout {
		problems = append(problems, fmt.Sprintf(
			"delivery.stuck_task_age (%s) must be greater than delivery.delivery_timeout (%s)",
			c.Delivery.StuckTaskAge, c.Delivery.DeliveryTimeout))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RetryDelays returns the backoff schedule, never empty.
func (d DeliveryConfig) RetryDelays() []time.Duration {
	if len(d.Backoff) == 0 {
		return []time.Duration{2 * time.Second, 5 * time.Second}
	}
	return append([]time.Duration(nil), d.Backoff...)
}
