// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis configures the connection shared by the tenant lock (C4) and the
// broker adapter (C5).
type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Database configures the pgx pool backing the JobStore (C3) and the
// usage reservation counter (C8).
type Database struct {
	URL          string `mapstructure:"url"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	MigrationDir string `mapstructure:"migration_dir"`
}

// TenantLock controls the KV lock service (C4).
type TenantLock struct {
	TTL         time.Duration `mapstructure:"ttl"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Namespace   string        `mapstructure:"namespace"`
}

// Lease controls the per-job ownership lease (C3/C12).
type Lease struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Recovery controls the stuck-job sweep (C11).
type Recovery struct {
	Interval   time.Duration `mapstructure:"interval"`
	StuckAfter time.Duration `mapstructure:"stuck_after"`
}

// Backoff is a base/max pair shared by the Generator and StoreAPI retry
// loops, mirrored from the teacher's own worker backoff config.
type Backoff struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

// Generator configures the text-completion client (C6).
type Generator struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     Backoff       `mapstructure:"backoff"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TitleMax    int           `mapstructure:"title_max"`
	DescMax     int           `mapstructure:"description_max"`
	AltMax      int           `mapstructure:"alt_max"`
}

// StoreAPI configures the store-admin GraphQL client (C7).
type StoreAPI struct {
	Endpoint         string        `mapstructure:"endpoint"`
	APIToken         string        `mapstructure:"api_token"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          Backoff       `mapstructure:"backoff"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ThrottleMinAvail float64       `mapstructure:"throttle_min_available"`
	ThrottleMaxWait  time.Duration `mapstructure:"throttle_max_wait"`
}

// Usage configures the free-tier monthly reservation (C8).
type Usage struct {
	FreeMonthlyLimit int    `mapstructure:"free_monthly_limit"`
	FreeTimeZone     string `mapstructure:"free_time_zone"`
}

// Broker configures the dispatch queue (C5).
type Broker struct {
	Namespace   string        `mapstructure:"namespace"`
	Attempts    int           `mapstructure:"attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	PopTimeout  time.Duration `mapstructure:"pop_timeout"`
	PromoteEvery time.Duration `mapstructure:"promote_every"`
}

// CircuitBreaker configures the breaker wrapped around each external
// client (C6/C7), one instance per client.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
}

type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

type Observability = ObservabilityConfig

// HTTP configures the job-intake REST surface (C16).
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Redis          Redis          `mapstructure:"redis"`
	Database       Database       `mapstructure:"database"`
	TenantLock     TenantLock     `mapstructure:"tenant_lock"`
	Lease          Lease          `mapstructure:"lease"`
	Recovery       Recovery       `mapstructure:"recovery"`
	Generator      Generator      `mapstructure:"generator"`
	StoreAPI       StoreAPI       `mapstructure:"store_api"`
	Usage          Usage          `mapstructure:"usage"`
	Broker         Broker         `mapstructure:"broker"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	HTTP           HTTP           `mapstructure:"http"`
}

// defaultConfig mirrors spec §6's closed configuration set.
func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Database: Database{
			URL:          "postgres://localhost:5432/seo_batch?sslmode=disable",
			MaxConns:     10,
			MinConns:     2,
			MigrationDir: "migrations",
		},
		TenantLock: TenantLock{
			TTL:        15 * time.Minute,
			RetryDelay: 10 * time.Second,
			Namespace:  "tenantlock",
		},
		Lease: Lease{TTL: 5 * time.Minute},
		Recovery: Recovery{
			Interval:   60 * time.Second,
			StuckAfter: 10 * time.Minute,
		},
		Generator: Generator{
			MaxAttempts: 3,
			Backoff:     Backoff{Base: time.Second, Max: 8 * time.Second},
			Timeout:     60 * time.Second,
			TitleMax:    70,
			DescMax:     160,
			AltMax:      125,
		},
		StoreAPI: StoreAPI{
			MaxAttempts:      3,
			Backoff:          Backoff{Base: time.Second, Max: 8 * time.Second},
			Timeout:          30 * time.Second,
			ThrottleMinAvail: 100,
			ThrottleMaxWait:  5 * time.Second,
		},
		Usage: Usage{
			FreeMonthlyLimit: 10,
			FreeTimeZone:     "Europe/Istanbul",
		},
		Broker: Broker{
			Namespace:    "jobqueue:dispatch",
			Attempts:     3,
			BaseBackoff:  2 * time.Second,
			PopTimeout:   1 * time.Second,
			PromoteEvery: 1 * time.Second,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           30 * time.Second,
			CooldownPeriod:   10 * time.Second,
			MinSamples:       5,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             Tracing{Enabled: false},
			QueueSampleInterval: 2 * time.Second,
		},
		HTTP: HTTP{Addr: ":8080"},
	}
}

// Load reads configuration from a YAML file, with environment variable
// overrides (dotted keys uppercased with underscores, e.g.
// GENERATOR_MAX_ATTEMPTS), falling back to defaultConfig when the file is
// absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("database.url", def.Database.URL)
	v.SetDefault("database.max_conns", def.Database.MaxConns)
	v.SetDefault("database.min_conns", def.Database.MinConns)
	v.SetDefault("database.migration_dir", def.Database.MigrationDir)

	v.SetDefault("tenant_lock.ttl", def.TenantLock.TTL)
	v.SetDefault("tenant_lock.retry_delay", def.TenantLock.RetryDelay)
	v.SetDefault("tenant_lock.namespace", def.TenantLock.Namespace)

	v.SetDefault("lease.ttl", def.Lease.TTL)

	v.SetDefault("recovery.interval", def.Recovery.Interval)
	v.SetDefault("recovery.stuck_after", def.Recovery.StuckAfter)

	v.SetDefault("generator.max_attempts", def.Generator.MaxAttempts)
	v.SetDefault("generator.backoff.base", def.Generator.Backoff.Base)
	v.SetDefault("generator.backoff.max", def.Generator.Backoff.Max)
	v.SetDefault("generator.timeout", def.Generator.Timeout)
	v.SetDefault("generator.title_max", def.Generator.TitleMax)
	v.SetDefault("generator.description_max", def.Generator.DescMax)
	v.SetDefault("generator.alt_max", def.Generator.AltMax)

	v.SetDefault("store_api.max_attempts", def.StoreAPI.MaxAttempts)
	v.SetDefault("store_api.backoff.base", def.StoreAPI.Backoff.Base)
	v.SetDefault("store_api.backoff.max", def.StoreAPI.Backoff.Max)
	v.SetDefault("store_api.timeout", def.StoreAPI.Timeout)
	v.SetDefault("store_api.throttle_min_available", def.StoreAPI.ThrottleMinAvail)
	v.SetDefault("store_api.throttle_max_wait", def.StoreAPI.ThrottleMaxWait)

	v.SetDefault("usage.free_monthly_limit", def.Usage.FreeMonthlyLimit)
	v.SetDefault("usage.free_time_zone", def.Usage.FreeTimeZone)

	v.SetDefault("broker.namespace", def.Broker.Namespace)
	v.SetDefault("broker.attempts", def.Broker.Attempts)
	v.SetDefault("broker.base_backoff", def.Broker.BaseBackoff)
	v.SetDefault("broker.pop_timeout", def.Broker.PopTimeout)
	v.SetDefault("broker.promote_every", def.Broker.PromoteEvery)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("http.addr", def.HTTP.Addr)
}

// Validate checks the invariants spec §6 implies (positive attempt
// budgets, a lease TTL that outlives a heartbeat pause, a tenant-lock TTL
// that outlives the lease it wraps).
func Validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if cfg.Generator.MaxAttempts < 1 {
		return fmt.Errorf("generator.max_attempts must be >= 1")
	}
	if cfg.StoreAPI.MaxAttempts < 1 {
		return fmt.Errorf("store_api.max_attempts must be >= 1")
	}
	if cfg.Lease.TTL < 30*time.Second {
		return fmt.Errorf("lease.ttl must be >= 30s")
	}
	if cfg.TenantLock.TTL <= cfg.Lease.TTL {
		return fmt.Errorf("tenant_lock.ttl must be > lease.ttl")
	}
	if cfg.Recovery.StuckAfter <= cfg.Lease.TTL {
		return fmt.Errorf("recovery.stuck_after must be > lease.ttl")
	}
	if cfg.Usage.FreeMonthlyLimit < 0 {
		return fmt.Errorf("usage.free_monthly_limit must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
