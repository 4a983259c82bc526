package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 256, cfg.CohortCacheLen)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.CohortSpacing)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, "stdio", cfg.Transport)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TCGA_DATA_DIR", "/tmp/test-tcga")
	t.Setenv("TCGA_COHORT_CACHE_LEN", "50")
	t.Setenv("TCGA_BATCH_SIZE", "500")
	t.Setenv("TCGA_COHORT_SPACING", "0s")
	t.Setenv("TCGA_TRANSPORT", "http")
	t.Setenv("TCGA_HTTP_PORT", "9090")
	t.Setenv("TCGA_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-tcga", cfg.DataDir)
	assert.Equal(t, 50, cfg.CohortCacheLen)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Zero(t, cfg.CohortSpacing)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_InvalidValuesIgnored(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("TCGA_BATCH_SIZE", "-3")
	t.Setenv("TCGA_HTTP_PORT", "not-a-port")
	t.Setenv("TCGA_COHORT_SPACING", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.CohortSpacing)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.tcga-pipeline", BatchSize: 10}

	assert.Equal(t, "/home/user/.tcga-pipeline/tcga.db", cfg.DatabasePath())
	assert.Equal(t, "/home/user/.tcga-pipeline/raw", cfg.RawDir())
	assert.Equal(t, "/home/user/.tcga-pipeline/scratch", cfg.ScratchDir())

	ing := cfg.IngestionConfig()
	assert.Equal(t, 10, ing.BatchSize)
	assert.Equal(t, cfg.ScratchDir(), ing.ScratchDir)
	assert.Equal(t, "stderr", cfg.LoggingConfig().Output)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "tcga")}

	require.NoError(t, cfg.EnsureDataDir())

	for _, dir := range []string{cfg.DataDir, cfg.RawDir(), cfg.ScratchDir()} {
		_, err := os.Stat(dir)
		assert.NoError(t, err, dir)
	}
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"TCGA_DATA_DIR",
		"TCGA_COHORT_CACHE_LEN",
		"TCGA_BATCH_SIZE",
		"TCGA_COHORT_SPACING",
		"TCGA_TRANSPORT",
		"TCGA_HTTP_PORT",
		"TCGA_LOG_LEVEL",
		"TCGA_LOG_FORMAT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}
