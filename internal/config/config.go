package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Store    StoreConfig    `mapstructure:"store"    validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Delivery DeliveryConfig `mapstructure:"delivery" validate:"required"`
	Email    EmailConfig    `mapstructure:"email"    validate:"required"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port               int           `mapstructure:"port"                 validate:"required,gt=0,lt=65536"`
	LogLevel           string        `mapstructure:"log_level"            validate:"required,oneof=debug info warn error"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"     validate:"gt=0"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres redis"`
}

// DatabaseConfig contains the Postgres settings, used when store.driver is postgres.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig contains the Redis settings, used when store.driver is redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"         validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// DeliveryConfig tunes the worker pool and the retry policy.
type DeliveryConfig struct {
	WorkerCount            int             `mapstructure:"worker_count"              validate:"gt=0,lte=256"`
	QueueSize              int             `mapstructure:"queue_size"                validate:"gt=0"`
	PollInterval           time.Duration   `mapstructure:"poll_interval"             validate:"gt=0"`
	DeliveryTimeout        time.Duration   `mapstructure:"delivery_timeout"          validate:"gt=0"`
	StuckTaskAge           time.Duration   `mapstructure:"stuck_task_age"            validate:"gt=0"`
	StuckTaskCheckInterval time.Duration   `mapstructure:"stuck_task_check_interval" validate:"gt=0"`
	MaxAttempts            int             `mapstructure:"max_attempts"              validate:"gte=1,lte=20"`
	Backoff                []time.Duration `mapstructure:"backoff"                   validate:"min=1,dive,gt=0"`
}

// EmailConfig selects and configures the EMAIL channel sender.
type EmailConfig struct {
	Provider    string `mapstructure:"provider"     validate:"required,oneof=log ses"`
	FromAddress string `mapstructure:"from_address" validate:"omitempty,email"`
	Region      string `mapstructure:"region"`
}

// KafkaConfig enables publishing lifecycle events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"         validate:"required"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}
