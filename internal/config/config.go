// Package config loads runtime configuration from defaults, an optional
// YAML file, a .env file and REGISTRATION_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/database"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/scheduler"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/service"
	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/tracing"
)

// EnvPrefix is prepended to every environment override,
// e.g. REGISTRATION_DATABASE_URL.
const EnvPrefix = "REGISTRATION"

type Config struct {
	Env       string          `mapstructure:"env"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Health    HealthConfig    `mapstructure:"health"`
}

// DatabaseConfig selects the store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	EnsureSchema    bool   `mapstructure:"ensure_schema"`
	database.Config `mapstructure:",squash"`
}

// RedisConfig configures the scheduler's job lock. An empty Addr means
// jobs lock within the process only.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AMQPConfig configures event publishing. An empty URL logs events instead.
// QueuePrefix namespaces queues, e.g. "staging" gives
// "staging.registration.created".
type AMQPConfig struct {
	URL         string `mapstructure:"url"`
	QueuePrefix string `mapstructure:"queue_prefix"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type SchedulerConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	LockTTL    time.Duration   `mapstructure:"lock_ttl"`
	JobTimeout time.Duration   `mapstructure:"job_timeout"`
	Jobs       scheduler.Specs `mapstructure:"jobs"`
}

// CatalogConfig points at a YAML workflow catalog. Empty uses the built-in one.
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

type PolicyConfig struct {
	ForbidSelfCompletion bool          `mapstructure:"forbid_self_completion"`
	Promotion            string        `mapstructure:"promotion"`
	OverrideCacheTTL     time.Duration `mapstructure:"override_cache_ttl"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.ensure_schema", true)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "registrations")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.connect_attempts", 10)
	v.SetDefault("database.retry_delay", 2*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue_prefix", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	td := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", td.Enabled)
	v.SetDefault("tracing.exporter", td.Exporter)
	v.SetDefault("tracing.otlp_endpoint", td.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", td.SampleRate)
	v.SetDefault("tracing.service_name", td.ServiceName)

	sd := scheduler.DefaultConfig()
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.lock_ttl", sd.LockTTL)
	v.SetDefault("scheduler.job_timeout", sd.JobTimeout)
	v.SetDefault("scheduler.jobs.expire_held", "@every 1m")
	v.SetDefault("scheduler.jobs.sync_status", "@every 1m")
	v.SetDefault("scheduler.jobs.send_reminders", "@every 5m")

	v.SetDefault("catalog.file", "")

	v.SetDefault("policy.forbid_self_completion", false)
	v.SetDefault("policy.promotion", string(service.PromoteSkipLarger))
	v.SetDefault("policy.override_cache_ttl", time.Minute)

	v.SetDefault("health.addr", ":8080")
}

// Load reads .env (if present), the optional YAML file at path, and the
// environment, in increasing precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if _, err := service.ParsePromotionPolicy(c.Policy.Promotion); err != nil {
		return fmt.Errorf("policy.promotion: %w", err)
	}
	if c.Scheduler.Enabled && c.Scheduler.LockTTL <= 0 {
		return errors.New("scheduler.lock_ttl must be positive")
	}
	return nil
}
