package service

import (
	"context"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func record(cohort, patient string, expressions map[string]float64) *domain.GeneExpressionRecord {
	return &domain.GeneExpressionRecord{
		ID:          patient,
		PatientID:   patient,
		CohortID:    cohort,
		Expressions: expressions,
		Panel:       domain.ExtractPanel(expressions),
		Status:      domain.StatusCompleted,
	}
}

func TestComputeFromValues_MedianLaw(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		median float64
	}{
		{"even sample", []float64{1, 2, 3, 4}, 2.5},
		{"odd sample", []float64{1, 2, 3}, 2},
		{"unsorted input", []float64{4, 1, 3, 2}, 2.5},
		{"single value", []float64{7}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := ComputeFromValues("G", "", tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.median, stats.Median)
		})
	}
}

func TestComputeFromValues_QuartileLaw(t *testing.T) {
	stats, err := ComputeFromValues("G", "", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)

	assert.InDelta(t, 3.25, stats.Q1, 1e-12)
	assert.InDelta(t, 7.75, stats.Q3, 1e-12)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 10.0, stats.Max)
	assert.Equal(t, 5.5, stats.Mean)
	assert.Equal(t, 10, stats.Count)
}

func TestComputeFromValues_PopulationStdDev(t *testing.T) {
	stats, err := ComputeFromValues("G", "", []float64{2, 4, 4, 4, 5, 5, 7, 9})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, stats.StdDev, 1e-12)
	assert.Equal(t, 5.0, stats.Mean)
}

func TestComputeFromValues_DropsNonFinite(t *testing.T) {
	stats, err := ComputeFromValues("G", "", []float64{math.NaN(), 1, math.Inf(1), 3, math.Inf(-1)})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 2.0, stats.Mean)
}

func TestComputeFromValues_NoData(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"empty", nil},
		{"only NaN", []float64{math.NaN(), math.NaN()}},
		{"only infinities", []float64{math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := ComputeFromValues("G", "", tt.values)
			assert.Nil(t, stats)
			assert.ErrorIs(t, err, domain.ErrNoData)
		})
	}
}

func TestComputeFromValues_AllZeroIsData(t *testing.T) {
	stats, err := ComputeFromValues("G", "", []float64{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 0.0, stats.Mean)
}

func TestQuantile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	assert.Equal(t, 10.0, Quantile(sorted, 0))
	assert.Equal(t, 40.0, Quantile(sorted, 1))
	assert.InDelta(t, 25.0, Quantile(sorted, 0.5), 1e-12)
	assert.InDelta(t, 17.5, Quantile(sorted, 0.25), 1e-12)
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestComputeStatistics_Records(t *testing.T) {
	records := []*domain.GeneExpressionRecord{
		record("TCGA-BRCA", "P1", map[string]float64{"CCL5": 1}),
		record("TCGA-BRCA", "P2", map[string]float64{"CCL5": 3}),
		record("TCGA-BRCA", "P3", map[string]float64{"OTHER": 100}),
		record("TCGA-BRCA", "P4", map[string]float64{"CCL5": math.NaN()}),
	}

	stats, err := ComputeStatistics("CCL5", records)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 2.0, stats.Mean)
	assert.Equal(t, "TCGA-BRCA", stats.Cohort)

	_, err = ComputeStatistics("ABSENT", records)
	assert.ErrorIs(t, err, domain.ErrNoData)

	mixed := append(records, record("TCGA-LUAD", "P5", map[string]float64{"CCL5": 5}))
	stats, err = ComputeStatistics("CCL5", mixed)
	require.NoError(t, err)
	assert.Empty(t, stats.Cohort)
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertBatch(ctx, []*domain.GeneExpressionRecord{
		record("TCGA-BRCA", "P1", map[string]float64{"CCL5": 1, "IL6": 2}),
		record("TCGA-BRCA", "P2", map[string]float64{"CCL5": 3, "IL6": math.NaN()}),
		record("TCGA-LUAD", "P3", map[string]float64{"CCL5": 10}),
	}))
	require.NoError(t, store.Insert(ctx, &domain.CancerCohort{
		CohortName: "TCGA-BRCA", CancerType: "Breast", Status: domain.CohortCompleted,
		TotalPatients: 3, ProcessedPatients: 2,
	}))
	require.NoError(t, store.Insert(ctx, &domain.CancerCohort{
		CohortName: "TCGA-LUAD", CancerType: "Lung", Status: domain.CohortFailed,
		TotalPatients: 1, ProcessedPatients: 1,
	}))
	return store
}

func TestStatisticsService_GeneStatistics(t *testing.T) {
	store := seededStore(t)
	svc := NewStatisticsService(store, store, testLogger())
	ctx := context.Background()

	all, err := svc.GeneStatistics(ctx, "CCL5", "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, 3.0, all.Median)

	brca, err := svc.GeneStatistics(ctx, "CCL5", "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, 2, brca.Count)
	assert.Equal(t, "TCGA-BRCA", brca.Cohort)

	_, err = svc.GeneStatistics(ctx, "IL6", "TCGA-LUAD")
	assert.ErrorIs(t, err, domain.ErrNoData)

	_, err = svc.GeneStatistics(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidGene)
}

func TestStatisticsService_PanelStatistics(t *testing.T) {
	store := seededStore(t)
	svc := NewStatisticsService(store, store, testLogger())

	panel, err := svc.PanelStatistics(context.Background(), "TCGA-BRCA")
	require.NoError(t, err)
	require.Len(t, panel, domain.PanelSize)

	byName := make(map[string]PanelSlotStatistics)
	for _, p := range panel {
		byName[p.Slot] = p
	}
	require.NotNil(t, byName["CCL5"].Stats)
	assert.Equal(t, 2.0, byName["CCL5"].Stats.Mean)
	require.NotNil(t, byName["IL6"].Stats)
	assert.Equal(t, 1, byName["IL6"].Stats.Count)

	_, err = svc.PanelStatistics(context.Background(), "TCGA-NONE")
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestStatisticsService_ProcessingSummary(t *testing.T) {
	store := seededStore(t)
	svc := NewStatisticsService(store, store, testLogger())

	summary, err := svc.ProcessingSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalCohorts)
	assert.Equal(t, int64(3), summary.TotalRecords)
	assert.Equal(t, 4, summary.TotalPatients)
	assert.Equal(t, 3, summary.TotalProcessedPatients)
	assert.Equal(t, 1, summary.CohortsByStatus[domain.CohortCompleted])
	assert.Equal(t, 1, summary.CohortsByCancerType["Lung"])
}
