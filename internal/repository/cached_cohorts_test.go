package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcga-expression-pipeline/internal/domain"
)

type countingCohortStore struct {
	*MemoryStore
	lookups int
}

func (c *countingCohortStore) GetByName(ctx context.Context, name string) (*domain.CancerCohort, error) {
	c.lookups++
	return c.MemoryStore.GetByName(ctx, name)
}

func TestCachedCohortStore_HitsAndEvictions(t *testing.T) {
	inner := &countingCohortStore{MemoryStore: NewMemoryStore()}
	ctx := context.Background()
	require.NoError(t, inner.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-BRCA", Status: domain.CohortDiscovered}))

	store, err := NewCachedCohortStore(inner, 0, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c, err := store.GetByName(ctx, "TCGA-BRCA")
		require.NoError(t, err)
		assert.Equal(t, domain.CohortDiscovered, c.Status)
	}
	assert.Equal(t, 1, inner.lookups)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.UpdateStatus(ctx, "TCGA-BRCA", domain.CohortProcessing))
	assert.Zero(t, store.Len())

	c, err := store.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, domain.CohortProcessing, c.Status)
	assert.Equal(t, 2, inner.lookups)

	c.Status = domain.CohortFailed
	again, err := store.GetByName(ctx, "TCGA-BRCA")
	require.NoError(t, err)
	assert.Equal(t, domain.CohortProcessing, again.Status, "callers get copies")

	require.NoError(t, store.Delete(ctx, "TCGA-BRCA"))
	_, err = store.GetByName(ctx, "TCGA-BRCA")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCachedCohortStore_MissesAreNotCached(t *testing.T) {
	inner := &countingCohortStore{MemoryStore: NewMemoryStore()}
	store, err := NewCachedCohortStore(inner, 4, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.GetByName(ctx, "TCGA-NONE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Insert(ctx, &domain.CancerCohort{CohortName: "TCGA-NONE"}))
	_, err = store.GetByName(ctx, "TCGA-NONE")
	assert.NoError(t, err)
	assert.Equal(t, 2, inner.lookups)
}
