package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tcga-expression-pipeline/internal/database"
	"github.com/tcga-expression-pipeline/internal/domain"
)

func generateTestPassword(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 12)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hex.EncodeToString(buf)
}

// setupTestDB starts PostgreSQL, applies the migrations and returns the
// pool together with its connection settings.
func setupTestDB(t *testing.T) (*database.DB, database.Config) {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	password := generateTestPassword(t)

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    password,
		MaxConns:    5,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute,
		SSLMode:     "disable",
	}

	db, err := database.NewConnection(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	runner, err := database.NewMigrationRunner(cfg.URL(), "../../migrations", quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })
	require.NoError(t, runner.Up(ctx))

	return db, cfg
}

func TestPostgresStores(t *testing.T) {
	db, cfg := setupTestDB(t)
	ctx := context.Background()

	records := NewPostgresRecordStore(db.Pool, quietLogger())
	cohorts, err := OpenPostgresCohortStore(ctx, cfg.DSN(), domain.DatabaseConfig{MaxOpenConns: 2}, quietLogger())
	require.NoError(t, err)
	defer cohorts.Close()

	t.Run("records", func(t *testing.T) {
		batch := []*domain.GeneExpressionRecord{
			testRecord(uuid.NewString(), "TCGA-BRCA", "TCGA-A1-0001", "brca.tsv", map[string]float64{"CCL5": 1, "STING": 4, "TP53": math.NaN()}),
			testRecord(uuid.NewString(), "TCGA-BRCA", "TCGA-A1-0002", "brca.tsv", map[string]float64{"CCL5": 3}),
			testRecord(uuid.NewString(), "TCGA-LUAD", "TCGA-B1-0001", "luad.tsv", map[string]float64{"CCL5": 9}),
		}
		require.NoError(t, records.InsertBatch(ctx, batch))

		values, err := records.ExpressionValues(ctx, "CCL5", "TCGA-BRCA")
		require.NoError(t, err)
		assert.ElementsMatch(t, []float64{1, 3}, values)

		values, err = records.ExpressionValues(ctx, "TP53", "")
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.True(t, math.IsNaN(values[0]))

		got, err := records.GetByPatientID(ctx, "TCGA-A1-0001")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 4.0, got[0].Panel.Get(domain.SlotSTING))
		assert.True(t, math.IsNaN(got[0].Expressions["TP53"]))

		inRange, err := records.GetByExpressionRange(ctx, "CCL5", 2, 10)
		require.NoError(t, err)
		assert.Len(t, inRange, 2)

		page, err := records.GetByCohort(ctx, "TCGA-BRCA", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "TCGA-A1-0002", page[0].PatientID)

		available, err := records.AvailableCohorts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"TCGA-BRCA", "TCGA-LUAD"}, available)

		panels, err := records.PanelValues(ctx, "")
		require.NoError(t, err)
		assert.Len(t, panels, 3)

		dup := []*domain.GeneExpressionRecord{
			testRecord(uuid.NewString(), "TCGA-GBM", "P1", "gbm.tsv", map[string]float64{"CCL5": 1}),
			batch[0],
		}
		require.Error(t, records.InsertBatch(ctx, dup))
		n, err := records.CountByCohort(ctx, "TCGA-GBM")
		require.NoError(t, err)
		assert.Zero(t, n, "failed batch leaves no rows behind")

		removed, err := records.DeleteBySource(ctx, "TCGA-BRCA", "brca.tsv")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		total, err := records.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("cohorts", func(t *testing.T) {
		c := &domain.CancerCohort{CohortName: "TCGA-BRCA", CancerType: "Breast", FileURL: "brca.tsv"}
		require.NoError(t, cohorts.Insert(ctx, c))
		require.NoError(t, cohorts.UpdateStatus(ctx, "TCGA-BRCA", domain.CohortDownloading))

		got, err := cohorts.GetByName(ctx, "TCGA-BRCA")
		require.NoError(t, err)
		assert.Equal(t, domain.CohortDownloading, got.Status)

		now := time.Now().UTC()
		got.DownloadDate = &now
		got.ApplyResult(&domain.CohortProcessingResult{Success: true, ProcessedPatients: 2, TotalPatients: 2}, now)
		require.NoError(t, cohorts.Update(ctx, got))

		list, err := cohorts.ListByStatus(ctx, domain.CohortCompleted)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].DownloadDate)
		assert.WithinDuration(t, now, *list[0].DownloadDate, time.Millisecond)

		_, err = cohorts.GetByName(ctx, "TCGA-NONE")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
