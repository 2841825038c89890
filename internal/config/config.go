// Package config loads application configuration from defaults, an
// optional YAML file and HERALD_-prefixed environment variables, in
// that order of precedence (environment wins).
//
// Environment keys map to config paths with a double underscore as
// the section separator, e.g. HERALD_DATABASE__MAX_OPEN_CONNS sets
// database.max_open_conns.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HERALD_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Kafka         KafkaConfig         `koanf:"kafka"`
	Log           LogConfig           `koanf:"log"`
	JWT           JWTConfig           `koanf:"jwt"`
	CORS          CORSConfig          `koanf:"cors"`
	Identity      IdentityConfig      `koanf:"identity"`
	Encryption    EncryptionConfig    `koanf:"encryption"`
	Cache         CacheConfig         `koanf:"cache"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Hub           HubConfig           `koanf:"hub"`
	Chat          ChatConfig          `koanf:"chat"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	Migrate         bool          `koanf:"migrate"`
}

// RedisConfig contains Redis settings for cross-instance event fan-out.
// When disabled the service uses an in-process bus, which is correct
// for single-instance deployments.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// KafkaConfig contains Kafka consumer and producer settings.
type KafkaConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Brokers        []string      `koanf:"brokers"`
	GroupID        string        `koanf:"group_id"`
	Topics         []string      `koanf:"topics"`
	DLQTopic       string        `koanf:"dlq_topic"`
	LifecycleTopic string        `koanf:"lifecycle_topic"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
	MaxRetries     int           `koanf:"max_retries"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig contains token verification settings.
type JWTConfig struct {
	SecretKey string `koanf:"secret_key"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// IdentityConfig contains settings for the external identity service.
type IdentityConfig struct {
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	RetryMaxElapsed time.Duration `koanf:"retry_max_elapsed"`
}

// EncryptionConfig contains the credential encryption key.
type EncryptionConfig struct {
	Key string `koanf:"key"`
}

// CacheConfig contains TTLs for tenant metadata caching. Credential and
// branding hits live for PositiveTTL; unconfigured channels and fetch
// failures for NegativeTTL.
type CacheConfig struct {
	PositiveTTL time.Duration `koanf:"positive_ttl"`
	NegativeTTL time.Duration `koanf:"negative_ttl"`
}

// NotificationsConfig contains delivery pipeline settings.
type NotificationsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Worker  WorkerConfig  `koanf:"worker"`
	Retry   RetryConfig   `koanf:"retry"`
	Breaker BreakerConfig `koanf:"breaker"`
	Email   EmailConfig   `koanf:"email"`
	SMS     SMSConfig     `koanf:"sms"`
	Push    PushConfig    `koanf:"push"`
	InApp   InAppConfig   `koanf:"inapp"`
}

// WorkerConfig contains queue worker settings.
type WorkerConfig struct {
	NumWorkers   int           `koanf:"num_workers"`
	BatchSize    int           `koanf:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval"`
	ClaimTimeout time.Duration `koanf:"claim_timeout"`
}

// RetryConfig contains retry backoff settings.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	Multiplier     float64       `koanf:"multiplier"`
	JitterFraction float64       `koanf:"jitter_fraction"`
}

// BreakerConfig contains circuit breaker settings for provider auth
// failures. A zero FailureThreshold disables the breaker.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// EmailConfig contains SMTP fallback settings used when a tenant has
// no email credential of its own.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
}

// SMSConfig contains Twilio fallback settings.
type SMSConfig struct {
	Enabled    bool    `koanf:"enabled"`
	AccountSID string  `koanf:"account_sid"`
	AuthToken  string  `koanf:"auth_token"`
	From       string  `koanf:"from"`
	RateLimit  float64 `koanf:"rate_limit"`
	RateBurst  int     `koanf:"rate_burst"`
}

// PushConfig contains FCM fallback settings.
type PushConfig struct {
	Enabled            bool   `koanf:"enabled"`
	ProjectID          string `koanf:"project_id"`
	ServiceAccountJSON string `koanf:"service_account_json"`
}

// InAppConfig contains in-app delivery settings.
type InAppConfig struct {
	Enabled        bool          `koanf:"enabled"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// HubConfig contains WebSocket hub settings.
type HubConfig struct {
	SendBuffer   int           `koanf:"send_buffer"`
	PingInterval time.Duration `koanf:"ping_interval"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// ChatConfig contains chat settings.
type ChatConfig struct {
	HistoryLimit int           `koanf:"history_limit"`
	TypingTTL    time.Duration `koanf:"typing_ttl"`
}

// Load reads configuration from defaults, the YAML file at path (when
// path is non-empty) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps HERALD_SECTION__SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			GroupID:        "herald-consumer-group",
			Topics:         []string{"auth-events", "app-events", "security-events"},
			DLQTopic:       "notifications-dlq",
			LifecycleTopic: "notification-events",
			HandlerTimeout: 15 * time.Second,
			MaxRetries:     3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Identity: IdentityConfig{
			Timeout:         10 * time.Second,
			RetryMaxElapsed: 30 * time.Second,
		},
		Cache: CacheConfig{
			PositiveTTL: 5 * time.Minute,
			NegativeTTL: 30 * time.Second,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Worker: WorkerConfig{
				NumWorkers:   16,
				BatchSize:    100,
				PollInterval: 5 * time.Second,
				ClaimTimeout: 2 * time.Minute,
			},
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: time.Minute,
				MaxBackoff:     time.Hour,
				Multiplier:     2.0,
				JitterFraction: 0.25,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				OpenTimeout:      30 * time.Second,
			},
			Email: EmailConfig{
				Port:     587,
				FromName: "Herald Notifications",
			},
			SMS: SMSConfig{
				RateLimit: 10,
				RateBurst: 10,
			},
			InApp: InAppConfig{
				Enabled:        true,
				PublishTimeout: 5 * time.Second,
			},
		},
		Hub: HubConfig{
			SendBuffer:   64,
			PingInterval: 30 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Chat: ChatConfig{
			HistoryLimit: 50,
			TypingTTL:    10 * time.Second,
		},
	}
}

// Validate checks settings that have no usable zero value.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}
	if c.Encryption.Key == "" {
		errs = append(errs, errors.New("encryption.key is required"))
	}
	if c.Notifications.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("notifications.retry.max_attempts must be at least 1"))
	}
	if c.Notifications.Retry.JitterFraction < 0 || c.Notifications.Retry.JitterFraction >= 1 {
		errs = append(errs, errors.New("notifications.retry.jitter_fraction must be in [0, 1)"))
	}
	if c.Notifications.Worker.NumWorkers < 1 {
		errs = append(errs, errors.New("notifications.worker.num_workers must be at least 1"))
	}
	if c.Hub.SendBuffer < 1 {
		errs = append(errs, errors.New("hub.send_buffer must be at least 1"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	return errors.Join(errs...)
}
