package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// CatalogVersion is written into every exported cohort catalogue.
const CatalogVersion = "1.0"

// CohortCatalog is the portable JSON form of the cohort catalogue.
type CohortCatalog struct {
	Version    string                 `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Count      int                    `json:"count"`
	Cohorts    []*domain.CancerCohort `json:"cohorts"`
}

// ExportCohorts writes every cohort of store to w as an indented catalogue.
func ExportCohorts(ctx context.Context, store domain.CohortStore, w io.Writer) error {
	all, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing cohorts: %w", err)
	}

	catalog := &CohortCatalog{
		Version:    CatalogVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Cohorts:    all,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(catalog)
}

// ImportCohorts inserts every catalogue entry whose name is not yet known.
// Existing cohorts are left untouched and counted as skipped.
func ImportCohorts(ctx context.Context, store domain.CohortStore, r io.Reader) (imported, skipped int, err error) {
	var catalog CohortCatalog
	if err := json.NewDecoder(r).Decode(&catalog); err != nil {
		return 0, 0, fmt.Errorf("decoding catalogue: %w", err)
	}

	for _, c := range catalog.Cohorts {
		if c == nil || c.CohortName == "" {
			skipped++
			continue
		}
		_, err := store.GetByName(ctx, c.CohortName)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return imported, skipped, fmt.Errorf("checking cohort %s: %w", c.CohortName, err)
		}
		if err := store.Insert(ctx, c); err != nil {
			return imported, skipped, fmt.Errorf("importing cohort %s: %w", c.CohortName, err)
		}
		imported++
	}
	return imported, skipped, nil
}
