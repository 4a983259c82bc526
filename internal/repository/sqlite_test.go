package repository

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcga-expression-pipeline/internal/domain"
)

func createTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id, cohort, patient, source string, expressions map[string]float64) *domain.GeneExpressionRecord {
	return &domain.GeneExpressionRecord{
		ID:          id,
		PatientID:   patient,
		CohortID:    cohort,
		Expressions: expressions,
		Panel:       domain.ExtractPanel(expressions),
		SourceFile:  source,
		Status:      domain.StatusCompleted,
	}
}

func TestNewSQLiteStore_CreatesFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "pipeline.db")

	store, err := NewSQLiteStore(dbPath, quietLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_RecordRoundTrip(t *testing.T) {
	store := createTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []*domain.GeneExpressionRecord{
		testRecord("r1", "TCGA-BRCA", "TCGA-A1-0001", "brca.tsv", map[string]float64{"CGAS": 1.5, "IL8": 2, "TP53": math.NaN()}),
		testRecord("r2", "TCGA-BRCA", "TCGA-A1-0002", "brca.tsv", map[string]float64{"CGAS": 3.5}),
		testRecord("r3", "TCGA-LUAD", "TCGA-B1-0001", "luad.tsv", map[string]float64{"CGAS": 10}),
	}))

	got, err := store.GetByPatientID(ctx, "TCGA-A1-0001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	rec := got[0]
	assert.Equal(t, "TCGA-BRCA", rec.CohortID)
	assert.Equal(t, 1.5, rec.Expressions["CGAS"])
	assert.True(t, math.IsNaN(rec.Expressions["TP53"]), "NaN survives storage")
	assert.Equal(t, 2.0, rec.Panel.Get(domain.SlotIL8))
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	values, err := store.ExpressionValues(ctx, "CGAS", "TCGA-BRCA")
	require.NoError(t, err)
	assert.ElementsMatch(t, []float64{1.5, 3.5}, values)

	values, err = store.ExpressionValues(ctx, "TP53", "")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.True(t, math.IsNaN(values[0]))

	inRange, err := store.GetByExpressionRange(ctx, "CGAS", 2, 10)
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, "TCGA-A1-0002", inRange[0].PatientID)
	assert.Equal(t, "TCGA-B1-0001", inRange[1].PatientID)

	panels, err := store.PanelValues(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Len(t, panels, 2)

	cohorts, err := store.AvailableCohorts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TCGA-BRCA", "TCGA-LUAD"}, cohorts)

	patients, err := store.PatientIDsByCohort(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, []string{"TCGA-A1-0001", "TCGA-A1-0002"}, patients)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSQLiteStore_KeepsRecordTimestamps(t *testing.T) {
	store := createTestSQLiteStore(t)
	ctx := context.Background()

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	updated := created.Add(time.Hour)

	withBoth := testRecord("t1", "TCGA-BRCA", "P1", "brca.tsv", map[string]float64{"CGAS": 1})
	withBoth.CreatedAt, withBoth.UpdatedAt = created, updated
	createdOnly := testRecord("t2", "TCGA-BRCA", "P2", "brca.tsv", map[string]float64{"CGAS": 2})
	createdOnly.CreatedAt = created
	require.NoError(t, store.InsertBatch(ctx, []*domain.GeneExpressionRecord{withBoth, createdOnly}))

	got, err := store.GetByPatientID(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].CreatedAt.Equal(created), "created_at %v", got[0].CreatedAt)
	assert.True(t, got[0].UpdatedAt.Equal(updated), "updated_at %v", got[0].UpdatedAt)

	got, err = store.GetByPatientID(ctx, "P2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].UpdatedAt.Equal(created), "updated_at defaults to created_at")
}

func TestSQLiteStore_BatchIsAtomic(t *testing.T) {
	store := createTestSQLiteStore(t)
	ctx := context.Background()

	err := store.InsertBatch(ctx, []*domain.GeneExpressionRecord{
		testRecord("dup", "TCGA-BRCA", "P1", "brca.tsv", map[string]float64{"CGAS": 1}),
		testRecord("dup", "TCGA-BRCA", "P2", "brca.tsv", map[string]float64{"CGAS": 2}),
	})
	require.Error(t, err)

	n, err := store.CountByCohort(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Zero(t, n, "no row of a failed batch is visible")
}

func TestSQLiteStore_PagingAndDeleteBySource(t *testing.T) {
	store := createTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []*domain.GeneExpressionRecord{
		testRecord("a", "TCGA-BRCA", "P1", "old.tsv", map[string]float64{"CGAS": 1}),
		testRecord("b", "TCGA-BRCA", "P2", "old.tsv", map[string]float64{"CGAS": 2}),
		testRecord("c", "TCGA-BRCA", "P3", "new.tsv", map[string]float64{"CGAS": 3}),
	}))

	page, err := store.GetByCohort(ctx, "TCGA-BRCA", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "P2", page[0].PatientID)

	all, err := store.GetByCohort(ctx, "TCGA-BRCA", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	removed, err := store.DeleteBySource(ctx, "TCGA-BRCA", "old.tsv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err := store.CountByCohort(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_CohortLifecycle(t *testing.T) {
	store := createTestSQLiteStore(t)
	ctx := context.Background()

	c := &domain.CancerCohort{CohortName: "TCGA-BRCA", CancerType: "Breast", FileURL: "brca.tsv"}
	require.NoError(t, store.Insert(ctx, c))
	assert.NotEmpty(t, c.ID)
	require.Error(t, store.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-BRCA"}), "names are unique")

	require.NoError(t, store.UpdateStatus(ctx, "TCGA-BRCA", domain.CohortProcessing))
	got, err := store.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, domain.CohortProcessing, got.Status)
	assert.Nil(t, got.ProcessingDate)

	rejected := &domain.CohortProcessingResult{}
	rejected.Fail(domain.NewFormatError("brca.tsv", "no header"))
	got.ApplyResult(rejected, got.UpdatedAt)
	require.NoError(t, store.Update(ctx, got))

	got, err = store.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, "brca.tsv", got.RejectedFileURL)
	assert.True(t, got.AwaitingNewFile())

	got.ApplyResult(&domain.CohortProcessingResult{Success: true, ProcessedPatients: 4, TotalPatients: 5}, got.UpdatedAt)
	require.NoError(t, store.Update(ctx, got))

	got, err = store.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, domain.CohortCompleted, got.Status)
	assert.Equal(t, 4, got.ProcessedPatients)
	assert.Empty(t, got.RejectedFileURL)
	require.NotNil(t, got.ProcessingDate)

	require.NoError(t, store.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-LUAD", CancerType: "Lung", Status: domain.CohortFailed}))

	completed, err := store.ListByStatus(ctx, domain.CohortCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	byStatus, err := store.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, byStatus[domain.CohortFailed])

	byType, err := store.CancerTypeCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Breast": 1, "Lung": 1}, byType)

	require.NoError(t, store.Delete(ctx, "TCGA-LUAD"))
	assert.ErrorIs(t, store.Delete(ctx, "TCGA-LUAD"), domain.ErrNotFound)
	_, err = store.GetByName(ctx, "TCGA-LUAD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "TCGA-LUAD", domain.CohortFailed), domain.ErrNotFound)
}

func TestCohortCatalog_ExportImport(t *testing.T) {
	src := createTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, src.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-BRCA", CancerType: "Breast"}))
	require.NoError(t, src.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-LUAD", CancerType: "Lung"}))

	var buf bytes.Buffer
	require.NoError(t, ExportCohorts(ctx, src, &buf))
	assert.Contains(t, buf.String(), `"version": "1.0"`)

	dst := NewMemoryStore()
	require.NoError(t, dst.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-BRCA", CancerType: "Existing"}))

	imported, skipped, err := ImportCohorts(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 1, skipped)

	kept, err := dst.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, "Existing", kept.CancerType)

	_, _, err = ImportCohorts(ctx, dst, bytes.NewBufferString("not json"))
	assert.Error(t, err)
}
