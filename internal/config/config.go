// Package config loads the dispatcher's configuration from a YAML file
// plus environment overrides, the same viper-driven pattern the teacher
// uses for its own config package.
package config

import (
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds every tunable named in the configuration surface: the
// core outbox/retry/dispatcher knobs plus the ambient HTTP, cache, and
// dead-letter satellites.
type Config struct {
	Server     Server     `mapstructure:"server"`
	RateLimit  RateLimit  `mapstructure:"ratelimit"`
	DB         DB         `mapstructure:"db"`
	Retry      Retry      `mapstructure:"retry"`
	Dispatcher Dispatcher `mapstructure:"dispatcher"`
	Providers  Providers  `mapstructure:"providers"`
	Cache      Cache      `mapstructure:"cache"`
	DeadLetter DeadLetter `mapstructure:"deadletter"`
}

// Server holds HTTP listener configuration.
type Server struct {
	HTTPPort     string        `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout_s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout_s"`
}

// RateLimit holds the ingest endpoint's per-IP token bucket parameters.
type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DB holds the outbox store's Postgres connection parameters.
type DB struct {
	ConnectionString string        `mapstructure:"connection_string"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
}

// Retry holds the RetryPolicy (C2) parameters, all in seconds except
// the dimensionless jitter factor.
type Retry struct {
	BaseDelaySeconds int     `mapstructure:"base_delay_s"`
	MaxDelaySeconds  int     `mapstructure:"max_delay_s"`
	JitterFactor     float64 `mapstructure:"jitter_factor"`
}

// Dispatcher holds the poll loop's (C5) tunables.
type Dispatcher struct {
	BatchSize         int `mapstructure:"batch_size"`
	PollIntervalSec   int `mapstructure:"poll_interval_s"`
	MaxConcurrency    int `mapstructure:"max_concurrency"`
	DefaultMaxRetries int `mapstructure:"max_retries"`
}

// Providers holds per-platform credentials. A provider with an empty
// required field (e.g. WNS.ClientID) is not registered at startup.
type Providers struct {
	WNS      WNSProvider      `mapstructure:"wns"`
	FCM      FCMProvider      `mapstructure:"fcm"`
	Email    EmailProvider    `mapstructure:"email"`
	Telegram TelegramProvider `mapstructure:"telegram"`
}

type WNSProvider struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
	TokenURL     string `mapstructure:"token_url"`
	PushURL      string `mapstructure:"push_url"`
}

type FCMProvider struct {
	ProjectID string `mapstructure:"project_id"`
	ServerKey string `mapstructure:"server_key"`
	Endpoint  string `mapstructure:"endpoint"`
}

type EmailProvider struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TelegramProvider struct {
	Token string `mapstructure:"token"`
}

// Cache holds the Status Cache's (C8) Redis connection parameters.
type Cache struct {
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl_s"`
}

// DeadLetter holds the Dead-Letter Publisher's (C9) AMQP parameters.
// Disabled by default; when disabled no AMQP connection is attempted.
type DeadLetter struct {
	Enabled  bool   `mapstructure:"enabled"`
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
}

// mustBindEnv binds the secrets/overrides operators are expected to set
// via the environment rather than committing to the config file.
func mustBindEnv() {
	bindings := map[string]string{
		"db.connection_string": "DB_CONNECTION_STRING",

		"cache.redis_address":  "REDIS_ADDRESS",
		"cache.redis_password": "REDIS_PASSWORD",

		"providers.wns.client_id":     "WNS_CLIENT_ID",
		"providers.wns.client_secret": "WNS_CLIENT_SECRET",
		"providers.wns.tenant_id":     "WNS_TENANT_ID",

		"providers.fcm.project_id": "FCM_PROJECT_ID",
		"providers.fcm.server_key": "FCM_SERVER_KEY",

		"providers.email.username": "SMTP_USER",
		"providers.email.password": "SMTP_PASS",

		"providers.telegram.token": "TELEGRAM_TOKEN",

		"deadletter.amqp_url": "RABBITMQ_URL",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// setDefaults seeds every spec-documented default (§4.2, §4.5) so a
// minimal config file still produces a correct dispatcher.
func setDefaults() {
	viper.SetDefault("server.http_port", ":8080")
	viper.SetDefault("server.read_timeout_s", 10*time.Second)
	viper.SetDefault("server.write_timeout_s", 10*time.Second)

	viper.SetDefault("ratelimit.requests_per_second", 10.0)
	viper.SetDefault("ratelimit.burst", 20)

	viper.SetDefault("db.max_open_conns", 20)
	viper.SetDefault("db.max_idle_conns", 5)
	viper.SetDefault("db.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("retry.base_delay_s", 5)
	viper.SetDefault("retry.max_delay_s", 300)
	viper.SetDefault("retry.jitter_factor", 0.3)

	viper.SetDefault("dispatcher.batch_size", 10)
	viper.SetDefault("dispatcher.poll_interval_s", 5)
	viper.SetDefault("dispatcher.max_concurrency", 10)
	viper.SetDefault("dispatcher.max_retries", 5)

	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.ttl_s", 10*time.Second)

	viper.SetDefault("deadletter.enabled", false)
	viper.SetDefault("deadletter.exchange", "notifications.dlq")
}

// Must loads the configuration from file and environment variables;
// values are not validated beyond what unmarshalling checks. It panics if configuration cannot be read or unmarshalled,
// matching the teacher's fail-fast startup convention.
func Must() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zlog.Logger.Panic().Err(err).Msg("failed to read config")
		}
		zlog.Logger.Warn().Msg("no config file found, using defaults and environment")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
