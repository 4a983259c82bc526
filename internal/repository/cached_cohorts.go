package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// DefaultCohortCacheSize bounds the number of cached cohort lookups.
const DefaultCohortCacheSize = 256

// CachedCohortStore fronts a CohortStore with an in-memory LRU of
// GetByName results. Every write through the store evicts the entry.
type CachedCohortStore struct {
	domain.CohortStore
	cache *lru.Cache[string, domain.CancerCohort]
	log   *logrus.Logger
}

// NewCachedCohortStore wraps inner with a cache of size entries.
func NewCachedCohortStore(inner domain.CohortStore, size int, logger *logrus.Logger) (*CachedCohortStore, error) {
	if size <= 0 {
		size = DefaultCohortCacheSize
	}
	cache, err := lru.New[string, domain.CancerCohort](size)
	if err != nil {
		return nil, fmt.Errorf("creating cohort cache: %w", err)
	}
	return &CachedCohortStore{CohortStore: inner, cache: cache, log: logger}, nil
}

// GetByName returns a copy of the cached cohort, loading it on a miss.
func (c *CachedCohortStore) GetByName(ctx context.Context, cohortName string) (*domain.CancerCohort, error) {
	if cached, ok := c.cache.Get(cohortName); ok {
		return &cached, nil
	}

	cohort, err := c.CohortStore.GetByName(ctx, cohortName)
	if err != nil {
		return nil, err
	}
	c.cache.Add(cohortName, *cohort)
	c.log.WithField("cohort", cohortName).Debug("Cohort cached")
	return cohort, nil
}

func (c *CachedCohortStore) Insert(ctx context.Context, cohort *domain.CancerCohort) error {
	c.cache.Remove(cohort.CohortName)
	return c.CohortStore.Insert(ctx, cohort)
}

func (c *CachedCohortStore) Update(ctx context.Context, cohort *domain.CancerCohort) error {
	defer c.cache.Remove(cohort.CohortName)
	return c.CohortStore.Update(ctx, cohort)
}

func (c *CachedCohortStore) UpdateStatus(ctx context.Context, cohortName string, status domain.CohortStatus) error {
	defer c.cache.Remove(cohortName)
	return c.CohortStore.UpdateStatus(ctx, cohortName, status)
}

func (c *CachedCohortStore) Delete(ctx context.Context, cohortName string) error {
	defer c.cache.Remove(cohortName)
	return c.CohortStore.Delete(ctx, cohortName)
}

// Len reports the number of cached cohorts.
func (c *CachedCohortStore) Len() int {
	return c.cache.Len()
}

var (
	_ domain.RecordStore = (*MemoryStore)(nil)
	_ domain.CohortStore = (*MemoryStore)(nil)
	_ domain.RecordStore = (*SQLiteStore)(nil)
	_ domain.CohortStore = (*SQLiteStore)(nil)
	_ domain.RecordStore = (*PostgresRecordStore)(nil)
	_ domain.CohortStore = (*PostgresCohortStore)(nil)
	_ domain.CohortStore = (*CachedCohortStore)(nil)
)
