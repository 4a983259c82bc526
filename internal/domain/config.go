package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Ingestion   IngestionConfig `mapstructure:"ingestion"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Cohorts     []CohortSeed    `mapstructure:"cohorts"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// AllowedOrigins lists browser origins accepted for CORS and the
	// progress websocket. "*" accepts any origin; same-host requests are
	// always accepted.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents Redis and in-process cache configuration
type CacheConfig struct {
	RedisURL       string        `mapstructure:"redis_url"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	PoolSize       int           `mapstructure:"pool_size"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	CohortCacheLen int           `mapstructure:"cohort_cache_len"`
}

// StorageConfig selects and configures the raw file content source
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // "local", "minio", "s3" or "http"
	RootDir         string        `mapstructure:"root_dir"`
	Bucket          string        `mapstructure:"bucket"`
	Endpoint        string        `mapstructure:"endpoint"`
	Region          string        `mapstructure:"region"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	UseSSL          bool          `mapstructure:"use_ssl"`
	PathStyle       bool          `mapstructure:"path_style"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	ArchiveDriver   string        `mapstructure:"archive_driver"` // "", "local", "minio" or "s3"
	ArchiveDir      string        `mapstructure:"archive_dir"`
}

// IngestionConfig tunes the ingestion orchestrator
type IngestionConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	CohortSpacing   time.Duration `mapstructure:"cohort_spacing"`
	PatientIDPrefix string        `mapstructure:"patient_id_prefix"`
	ScratchDir      string        `mapstructure:"scratch_dir"`
	ReplaceOnIngest bool          `mapstructure:"replace_on_ingest"`
}

// SchedulerConfig drives the background processing loop
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// CohortSeed is a statically configured cohort registered by the scheduler
type CohortSeed struct {
	Name        string `mapstructure:"name"`
	CancerType  string `mapstructure:"cancer_type"`
	Description string `mapstructure:"description"`
	SourceURL   string `mapstructure:"source_url"`
	FileURL     string `mapstructure:"file_url"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
