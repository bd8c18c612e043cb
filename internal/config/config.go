package config

import (
	"fmt"
	"time"
)

// Environments recognised by the client. Development uses fewer retries and
// flat delays.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ClientConfig holds the settings shared by every consumer of the API client
type ClientConfig struct {
	APIURL         string               `yaml:"api_url"`
	Environment    string               `yaml:"environment"` // development, production
	AppName        string               `yaml:"app_name"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Session        SessionConfig        `yaml:"session"`
	Storage        StorageConfig        `yaml:"storage"`
	ErrorReporting ErrorReportingConfig `yaml:"error_reporting"`
	Cache          CacheConfig          `yaml:"cache"`
}

// RetryConfig overrides the environment retry defaults. Nil fields keep the default.
type RetryConfig struct {
	MaxRetries         *int           `yaml:"max_retries"`
	RetryDelay         *time.Duration `yaml:"retry_delay"`
	RetryableStatuses  []int          `yaml:"retryable_statuses"`
	ExponentialBackoff *bool          `yaml:"exponential_backoff"`
}

// RateLimitConfig holds the client-side fixed window settings
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// SessionConfig holds token refresh and session timeout settings
type SessionConfig struct {
	RefreshBuffer   time.Duration `yaml:"refresh_buffer"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxAge          time.Duration `yaml:"max_age"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	ScheduleRefresh bool          `yaml:"schedule_refresh"`
}

// StorageConfig selects where client state is persisted
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory, file, redis, postgres
	Key      string         `yaml:"key"`     // enables secretbox encryption when set
	FilePath string         `yaml:"file_path"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"` // disable, require, verify-ca, verify-full
}

// ErrorReportingConfig controls the local error log and the optional remote sink
type ErrorReportingConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	MaxEntries int           `yaml:"max_entries"`
	Retention  time.Duration `yaml:"retention"`
}

// CacheConfig controls the query cache
type CacheConfig struct {
	StaleTime time.Duration `yaml:"stale_time"`
	MaxCost   int64         `yaml:"max_cost"`
}

// ConnectionString returns the PostgreSQL connection string
func (p *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// IsDevelopment reports whether the client runs with development defaults
func (c *ClientConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Defaults returns a ClientConfig with every field populated
func Defaults() ClientConfig {
	return ClientConfig{
		APIURL:         "http://localhost:8080/api/v1",
		Environment:    EnvProduction,
		AppName:        "sluggisty",
		RequestTimeout: 30 * time.Second,
		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			Window:      time.Minute,
		},
		Session: SessionConfig{
			RefreshBuffer:   5 * time.Minute,
			IdleTimeout:     30 * time.Minute,
			MaxAge:          8 * time.Hour,
			CheckInterval:   time.Minute,
			ScheduleRefresh: true,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "sluggisty:",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "sluggisty",
				User:     "postgres",
				SSLMode:  "disable",
			},
		},
		ErrorReporting: ErrorReportingConfig{
			MaxEntries: 100,
			Retention:  24 * time.Hour,
		},
		Cache: CacheConfig{
			StaleTime: 30 * time.Second,
			MaxCost:   1 << 20,
		},
	}
}
