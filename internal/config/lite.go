// Package config provides configuration management for the pipeline.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases: records live in SQLite under DataDir.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the database, raw files and scratch space

	// Cache settings
	CohortCacheLen int // Maximum cohorts kept in the lookup cache

	// Ingestion settings
	BatchSize     int           // Records per committed batch
	CohortSpacing time.Duration // Pause between cohorts in a multi-cohort run

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".tcga-pipeline")

	return &LiteConfig{
		DataDir:        dataDir,
		CohortCacheLen: 256,
		BatchSize:      100,
		CohortSpacing:  30 * time.Second,
		Transport:      "stdio",
		HTTPPort:       8080,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("TCGA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("TCGA_COHORT_CACHE_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CohortCacheLen = n
		}
	}

	if v := os.Getenv("TCGA_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("TCGA_COHORT_SPACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.CohortSpacing = d
		}
	}

	if v := os.Getenv("TCGA_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("TCGA_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("TCGA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TCGA_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DatabasePath returns the path to the SQLite database.
func (c *LiteConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "tcga.db")
}

// RawDir returns the directory cohort files are read from.
func (c *LiteConfig) RawDir() string {
	return filepath.Join(c.DataDir, "raw")
}

// ScratchDir returns the directory for per-run scratch space.
func (c *LiteConfig) ScratchDir() string {
	return filepath.Join(c.DataDir, "scratch")
}

// EnsureDataDir creates the data directory tree if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.RawDir(), c.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// IngestionConfig maps the lite settings onto the orchestrator config.
func (c *LiteConfig) IngestionConfig() domain.IngestionConfig {
	return domain.IngestionConfig{
		BatchSize:     c.BatchSize,
		CohortSpacing: c.CohortSpacing,
		ScratchDir:    c.ScratchDir(),
	}
}

// LoggingConfig maps the lite settings onto the logger config.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}
