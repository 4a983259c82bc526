package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const matrixFixture = "ID\tCCL5\tIL6\nTCGA-01\t1.0\t2.0\nTCGA-02\t3.0\tNA\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sqliteConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "config.yaml", fmt.Sprintf(`
database:
  driver: sqlite
  sqlite_path: %s
storage:
  driver: local
  root_dir: %s
ingestion:
  scratch_dir: %s
  cohort_spacing: 0s
logging:
  level: error
`, filepath.Join(dir, "tcga.db"), filepath.Join(dir, "raw"), filepath.Join(dir, "scratch")))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)

	good := writeFile(t, dir, "good.tsv", matrixFixture)
	out, err := execute(t, "--config", cfg, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	bad := writeFile(t, dir, "bad.tsv", "no tabs here\n")
	_, err = execute(t, "--config", cfg, "validate", bad)
	assert.Error(t, err)
}

func TestIngestThenStats(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)
	matrix := writeFile(t, dir, "brca.tsv", matrixFixture)

	out, err := execute(t, "--config", cfg, "ingest", "--cohort", "TCGA-BRCA", matrix)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	out, err = execute(t, "--config", cfg, "stats", "CCL5", "--cohort", "TCGA-BRCA")
	require.NoError(t, err)

	var stats struct {
		Count int     `json:"count"`
		Mean  float64 `json:"mean"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 2.0, stats.Mean)

	_, err = execute(t, "--config", cfg, "stats")
	assert.ErrorContains(t, err, "a gene is required")
}

func TestCohortsExportImport(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)
	catalogue := writeFile(t, dir, "cohorts.json",
		`{"version":"1.0","count":1,"cohorts":[{"cohort_name":"TCGA-BRCA","cancer_type":"Breast","file_url":"brca.tsv","status":"Discovered"}]}`)

	out, err := execute(t, "--config", cfg, "cohorts", "import", catalogue)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 cohorts, skipped 0")

	out, err = execute(t, "--config", cfg, "cohorts", "import", catalogue)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 cohorts, skipped 1")

	out, err = execute(t, "--config", cfg, "cohorts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "TCGA-BRCA")
}

func TestMigrateDownRejectsBadSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "zero")
	assert.ErrorContains(t, err, "positive integer")
}
