package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// MemoryStore keeps records and cohorts in process memory. It backs tests
// and one-off CLI runs that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*domain.GeneExpressionRecord
	cohorts map[string]*domain.CancerCohort
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cohorts: make(map[string]*domain.CancerCohort)}
}

// InsertBatch appends the batch atomically.
func (m *MemoryStore) InsertBatch(ctx context.Context, records []*domain.GeneExpressionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("inserting record for %s: %w", r.PatientID, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		cp := *r
		m.records = append(m.records, &cp)
	}
	return nil
}

func (m *MemoryStore) ExpressionValues(_ context.Context, gene, cohort string) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var values []float64
	for _, r := range m.records {
		if cohort != "" && r.CohortID != cohort {
			continue
		}
		if v, ok := r.Expressions[gene]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

func (m *MemoryStore) PanelValues(_ context.Context, cohort string) ([]domain.GenePanel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var panels []domain.GenePanel
	for _, r := range m.records {
		if cohort == "" || r.CohortID == cohort {
			panels = append(panels, r.Panel)
		}
	}
	return panels, nil
}

func (m *MemoryStore) GetByCohort(_ context.Context, cohort string, limit, offset int) ([]*domain.GeneExpressionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.GeneExpressionRecord
	skipped := 0
	for _, r := range m.records {
		if r.CohortID != cohort {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) GetByPatientID(_ context.Context, patientID string) ([]*domain.GeneExpressionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.GeneExpressionRecord
	for _, r := range m.records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetByExpressionRange(_ context.Context, gene string, min, max float64) ([]*domain.GeneExpressionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.GeneExpressionRecord
	for _, r := range m.records {
		v, ok := r.Expressions[gene]
		if !ok || math.IsNaN(v) {
			continue
		}
		if v >= min && v <= max {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryStore) CountByCohort(_ context.Context, cohort string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, r := range m.records {
		if r.CohortID == cohort {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AvailableCohorts(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range m.records {
		seen[r.CohortID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) PatientIDsByCohort(_ context.Context, cohort string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, r := range m.records {
		if r.CohortID != cohort {
			continue
		}
		if _, ok := seen[r.PatientID]; ok {
			continue
		}
		seen[r.PatientID] = struct{}{}
		out = append(out, r.PatientID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) DeleteBySource(_ context.Context, cohort, sourceFile string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var removed int64
	for _, r := range m.records {
		if r.CohortID == cohort && r.SourceFile == sourceFile {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

// Cohort catalogue

func (m *MemoryStore) GetByName(_ context.Context, cohortName string) (*domain.CancerCohort, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cohorts[cohortName]
	if !ok {
		return nil, fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*domain.CancerCohort, error) {
	return m.filterCohorts(func(*domain.CancerCohort) bool { return true }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status domain.CohortStatus) ([]*domain.CancerCohort, error) {
	return m.filterCohorts(func(c *domain.CancerCohort) bool { return c.Status == status }), nil
}

func (m *MemoryStore) filterCohorts(keep func(*domain.CancerCohort) bool) []*domain.CancerCohort {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.CancerCohort, 0, len(m.cohorts))
	for _, c := range m.cohorts {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CohortName < out[j].CohortName })
	return out
}

func (m *MemoryStore) Insert(_ context.Context, cohort *domain.CancerCohort) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cohorts[cohort.CohortName]; ok {
		return fmt.Errorf("cohort %s already exists", cohort.CohortName)
	}
	cp := *cohort
	m.cohorts[cohort.CohortName] = &cp
	return nil
}

func (m *MemoryStore) Update(_ context.Context, cohort *domain.CancerCohort) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cohorts[cohort.CohortName]; !ok {
		return fmt.Errorf("cohort %s: %w", cohort.CohortName, domain.ErrNotFound)
	}
	cp := *cohort
	m.cohorts[cohort.CohortName] = &cp
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, cohortName string, status domain.CohortStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCohortStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cohorts[cohortName]
	if !ok {
		return fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, cohortName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cohorts[cohortName]; !ok {
		return fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	delete(m.cohorts, cohortName)
	return nil
}

func (m *MemoryStore) StatusCounts(_ context.Context) (map[domain.CohortStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.CohortStatus]int)
	for _, c := range m.cohorts {
		counts[c.Status]++
	}
	return counts, nil
}

func (m *MemoryStore) CancerTypeCounts(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range m.cohorts {
		counts[c.CancerType]++
	}
	return counts, nil
}
