package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Upstream  UpstreamConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	TrustedProxies   []string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file path or ":memory:"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// UpstreamConfig holds the upstream catalog API client settings
type UpstreamConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxRetries      int
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	PageSize        int
	MaxResponseSize int64
}

// SyncConfig holds batch sync pipeline settings
type SyncConfig struct {
	// Workers is the number of concurrent normalize+write operations per job.
	Workers int
	// InteractiveHeadroom is the number of pool connections kept free for API traffic.
	InteractiveHeadroom int
	ChunkSize           int
	// FailureThreshold is the failure ratio above which a stage halts the cascade.
	FailureThreshold float64
	ItemTimeout      time.Duration
	MaxRecentErrors  int
	JobRetention     time.Duration
	JobStore         string // memory, redis
	DefaultTenantID  string
}

// SchedulerConfig holds periodic cascade scheduler configuration
type SchedulerConfig struct {
	Enabled           bool
	Interval          time.Duration
	TenantIDs         []string
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	LogsEnabled       bool
	ExportInterval    time.Duration
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with CATALOGSYNC_ prefix (e.g., CATALOGSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("CATALOGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Upstream: UpstreamConfig{
			BaseURL:         v.GetString("upstream.base_url"),
			APIKey:          v.GetString("upstream.api_key"),
			Timeout:         v.GetDuration("upstream.timeout"),
			RequestsPerSec:  v.GetFloat64("upstream.requests_per_sec"),
			Burst:           v.GetInt("upstream.burst"),
			MaxRetries:      v.GetInt("upstream.max_retries"),
			RetryDelay:      v.GetDuration("upstream.retry_delay"),
			MaxRetryDelay:   v.GetDuration("upstream.max_retry_delay"),
			PageSize:        v.GetInt("upstream.page_size"),
			MaxResponseSize: v.GetInt64("upstream.max_response_size"),
		},
		Sync: SyncConfig{
			Workers:             v.GetInt("sync.workers"),
			InteractiveHeadroom: v.GetInt("sync.interactive_headroom"),
			ChunkSize:           v.GetInt("sync.chunk_size"),
			FailureThreshold:    v.GetFloat64("sync.failure_threshold"),
			ItemTimeout:         v.GetDuration("sync.item_timeout"),
			MaxRecentErrors:     v.GetInt("sync.max_recent_errors"),
			JobRetention:        v.GetDuration("sync.job_retention"),
			JobStore:            v.GetString("sync.job_store"),
			DefaultTenantID:     v.GetString("sync.default_tenant_id"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			Interval:          v.GetDuration("scheduler.interval"),
			TenantIDs:         v.GetStringSlice("scheduler.tenant_ids"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			RetryAttempts:     v.GetInt("scheduler.retry_attempts"),
			RetryDelay:        v.GetDuration("scheduler.retry_delay"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	// sync.failure_threshold may legitimately be 0 (halt on any failure),
	// so only default it when the key is absent.
	if !v.IsSet("sync.failure_threshold") {
		cfg.Sync.FailureThreshold = DefaultFailureThreshold
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultFailureThreshold is the stage failure ratio tolerated before a cascade halts.
const DefaultFailureThreshold = 0.1

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "catalogsync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "catalog"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "catalog.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "catalogsync:job:"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "http://localhost:9090/api"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Upstream.RequestsPerSec == 0 {
		cfg.Upstream.RequestsPerSec = 5
	}
	if cfg.Upstream.Burst == 0 {
		cfg.Upstream.Burst = 1
	}
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = 3
	}
	if cfg.Upstream.RetryDelay == 0 {
		cfg.Upstream.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Upstream.MaxRetryDelay == 0 {
		cfg.Upstream.MaxRetryDelay = 30 * time.Second
	}
	if cfg.Upstream.PageSize == 0 {
		cfg.Upstream.PageSize = 100
	}
	if cfg.Upstream.MaxResponseSize == 0 {
		cfg.Upstream.MaxResponseSize = 10 << 20 // 10MB
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.InteractiveHeadroom == 0 {
		cfg.Sync.InteractiveHeadroom = 5
	}
	if cfg.Sync.ChunkSize == 0 {
		cfg.Sync.ChunkSize = 200
	}
	if cfg.Sync.ItemTimeout == 0 {
		cfg.Sync.ItemTimeout = 30 * time.Second
	}
	if cfg.Sync.MaxRecentErrors == 0 {
		cfg.Sync.MaxRecentErrors = 50
	}
	if cfg.Sync.JobRetention == 0 {
		cfg.Sync.JobRetention = 24 * time.Hour
	}
	if cfg.Sync.JobStore == "" {
		cfg.Sync.JobStore = "memory"
	}
	if cfg.Sync.DefaultTenantID == "" {
		cfg.Sync.DefaultTenantID = "00000000-0000-0000-0000-000000000001"
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 6 * time.Hour
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 2
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 2 * time.Hour
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = 5 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "catalogsync"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Sync workers share the pool with interactive traffic
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.InteractiveHeadroom < 0 {
		return fmt.Errorf("sync.interactive_headroom cannot be negative")
	}
	if c.Sync.Workers > c.Database.MaxOpenConns-c.Sync.InteractiveHeadroom {
		return fmt.Errorf("sync.workers (%d) cannot exceed database.max_open_conns (%d) minus sync.interactive_headroom (%d)",
			c.Sync.Workers, c.Database.MaxOpenConns, c.Sync.InteractiveHeadroom)
	}
	if c.Sync.FailureThreshold < 0.0 || c.Sync.FailureThreshold > 1.0 {
		return fmt.Errorf("sync.failure_threshold must be between 0.0 and 1.0, got %f", c.Sync.FailureThreshold)
	}
	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("sync.chunk_size must be positive")
	}
	switch c.Sync.JobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("sync.job_store must be memory or redis, got %q", c.Sync.JobStore)
	}

	if c.Upstream.RequestsPerSec < 0 {
		return fmt.Errorf("upstream.requests_per_sec cannot be negative")
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries cannot be negative")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the redis host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
