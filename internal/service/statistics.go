package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// GeneStatistics is the descriptive summary of one gene's expression values.
// StdDev is the population standard deviation.
type GeneStatistics struct {
	Gene   string  `json:"gene"`
	Cohort string  `json:"cohort,omitempty"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	StdDev float64 `json:"std_dev"`
}

// ComputeStatistics summarizes gene over records. Records without the gene
// and non-finite values are ignored; if nothing remains the error wraps
// domain.ErrNoData.
func ComputeStatistics(gene string, records []*domain.GeneExpressionRecord) (*GeneStatistics, error) {
	values := make([]float64, 0, len(records))
	// cohort is reported only when every record shares it
	cohort, mixed := "", false
	for _, r := range records {
		if r == nil {
			continue
		}
		if cohort == "" && !mixed {
			cohort = r.CohortID
		} else if cohort != r.CohortID {
			cohort, mixed = "", true
		}
		if v, ok := r.Expression(gene); ok {
			values = append(values, v)
		}
	}
	return ComputeFromValues(gene, cohort, values)
}

// ComputeFromValues summarizes pre-extracted values under the same rules as
// ComputeStatistics.
func ComputeFromValues(gene, cohort string, values []float64) (*GeneStatistics, error) {
	sample := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sample = append(sample, v)
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("statistics for gene %s: %w", gene, domain.ErrNoData)
	}
	sort.Float64s(sample)

	result := &GeneStatistics{
		Gene:   gene,
		Cohort: cohort,
		Count:  len(sample),
		Min:    sample[0],
		Max:    sample[len(sample)-1],
		Q1:     Quantile(sample, 0.25),
		Q3:     Quantile(sample, 0.75),
	}

	var err error
	if result.Mean, err = stats.Mean(sample); err != nil {
		return nil, fmt.Errorf("computing mean of %s: %w", gene, err)
	}
	if result.Median, err = stats.Median(sample); err != nil {
		return nil, fmt.Errorf("computing median of %s: %w", gene, err)
	}
	if result.StdDev, err = stats.StandardDeviationPopulation(sample); err != nil {
		return nil, fmt.Errorf("computing standard deviation of %s: %w", gene, err)
	}
	return result, nil
}

// Quantile interpolates linearly between closest ranks at index p*(n-1) of
// an ascending sample. It returns NaN for an empty sample.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// PanelSlotStatistics pairs a panel slot with its summary. Stats is nil when
// the slot has no finite value.
type PanelSlotStatistics struct {
	Slot  string          `json:"slot"`
	Stats *GeneStatistics `json:"stats,omitempty"`
}

// ProcessingSummary aggregates the cohort catalogue and stored records.
type ProcessingSummary struct {
	TotalCohorts           int                         `json:"total_cohorts"`
	CohortsByStatus        map[domain.CohortStatus]int `json:"cohorts_by_status"`
	CohortsByCancerType    map[string]int              `json:"cohorts_by_cancer_type"`
	TotalPatients          int                         `json:"total_patients"`
	TotalProcessedPatients int                         `json:"total_processed_patients"`
	TotalRecords           int64                       `json:"total_records"`
}

// StatisticsService answers statistics queries over persisted records. Every
// call materializes a fresh sample.
type StatisticsService struct {
	records domain.RecordReader
	cohorts domain.CohortStore
	logger  *logrus.Logger
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(records domain.RecordReader, cohorts domain.CohortStore, logger *logrus.Logger) *StatisticsService {
	return &StatisticsService{
		records: records,
		cohorts: cohorts,
		logger:  logger,
	}
}

// GeneStatistics summarizes gene across cohort, or across every cohort when
// cohort is empty.
func (s *StatisticsService) GeneStatistics(ctx context.Context, gene, cohort string) (*GeneStatistics, error) {
	if gene == "" {
		return nil, fmt.Errorf("gene statistics: %w", domain.ErrInvalidGene)
	}

	values, err := s.records.ExpressionValues(ctx, gene, cohort)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"gene":   gene,
			"cohort": cohort,
			"error":  err.Error(),
		}).Error("Failed to load expression values")
		return nil, fmt.Errorf("loading values for %s: %w", gene, err)
	}

	result, err := ComputeFromValues(gene, cohort, values)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"gene":   gene,
		"cohort": cohort,
		"count":  result.Count,
	}).Debug("Computed gene statistics")
	return result, nil
}

// PanelStatistics summarizes every panel slot, in slot order.
func (s *StatisticsService) PanelStatistics(ctx context.Context, cohort string) ([]PanelSlotStatistics, error) {
	panels, err := s.records.PanelValues(ctx, cohort)
	if err != nil {
		return nil, fmt.Errorf("loading panels: %w", err)
	}
	if len(panels) == 0 {
		return nil, fmt.Errorf("panel statistics for cohort %q: %w", cohort, domain.ErrNoData)
	}

	out := make([]PanelSlotStatistics, 0, domain.PanelSize)
	for _, slot := range domain.AllSlots() {
		values := make([]float64, len(panels))
		for i, p := range panels {
			values[i] = p.Get(slot)
		}

		entry := PanelSlotStatistics{Slot: slot.String()}
		result, err := ComputeFromValues(slot.String(), cohort, values)
		switch {
		case err == nil:
			entry.Stats = result
		case !errors.Is(err, domain.ErrNoData):
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// ProcessingSummary reports cohort counts by status and cancer type together
// with record totals.
func (s *StatisticsService) ProcessingSummary(ctx context.Context) (*ProcessingSummary, error) {
	cohorts, err := s.cohorts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cohorts: %w", err)
	}
	byStatus, err := s.cohorts.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting cohorts by status: %w", err)
	}
	byType, err := s.cohorts.CancerTypeCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting cohorts by cancer type: %w", err)
	}
	total, err := s.records.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	summary := &ProcessingSummary{
		TotalCohorts:        len(cohorts),
		CohortsByStatus:     byStatus,
		CohortsByCancerType: byType,
		TotalRecords:        total,
	}
	for _, c := range cohorts {
		summary.TotalPatients += c.TotalPatients
		summary.TotalProcessedPatients += c.ProcessedPatients
	}
	return summary, nil
}
