package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

const cohortColumns = `id, cohort_name, cancer_type, description, total_patients, processed_patients,
	source_url, file_url, download_date, processing_date, file_size_bytes, status, created_at, updated_at,
	rejected_file_url`

// PostgresCohortStore persists the cohort catalogue in PostgreSQL through
// database/sql. It expects the schema to exist (created via migrations).
type PostgresCohortStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresCohortStore creates a new cohort store on an open handle
func NewPostgresCohortStore(db *sql.DB, logger *logrus.Logger) (*PostgresCohortStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresCohortStore{db: db, log: logger}, nil
}

// OpenPostgresCohortStore opens a lib/pq handle for dsn and verifies it.
func OpenPostgresCohortStore(ctx context.Context, dsn string, cfg domain.DatabaseConfig, logger *logrus.Logger) (*PostgresCohortStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(max(cfg.MaxIdleConns, 1), maxOpen))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewPostgresCohortStore(db, logger)
}

func (s *PostgresCohortStore) GetByName(ctx context.Context, cohortName string) (*domain.CancerCohort, error) {
	query := `SELECT ` + cohortColumns + ` FROM cancer_cohorts WHERE cohort_name = $1`

	cohort, err := scanCohort(s.db.QueryRowContext(ctx, query, cohortName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cohort %s: %w", cohortName, err)
	}
	return cohort, nil
}

func (s *PostgresCohortStore) List(ctx context.Context) ([]*domain.CancerCohort, error) {
	return s.queryCohorts(ctx, `SELECT `+cohortColumns+` FROM cancer_cohorts ORDER BY cohort_name`)
}

func (s *PostgresCohortStore) ListByStatus(ctx context.Context, status domain.CohortStatus) ([]*domain.CancerCohort, error) {
	return s.queryCohorts(ctx,
		`SELECT `+cohortColumns+` FROM cancer_cohorts WHERE status = $1 ORDER BY cohort_name`, string(status))
}

// Insert adds a cohort, assigning an ID and timestamps when missing.
func (s *PostgresCohortStore) Insert(ctx context.Context, cohort *domain.CancerCohort) error {
	if !cohort.Status.IsValid() {
		if cohort.Status != "" {
			return fmt.Errorf("%w: %q", domain.ErrInvalidCohortStatus, cohort.Status)
		}
		cohort.Status = domain.CohortDiscovered
	}
	if cohort.ID == "" {
		cohort.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cohort.CreatedAt.IsZero() {
		cohort.CreatedAt = now
	}
	cohort.UpdatedAt = now

	query := `
		INSERT INTO cancer_cohorts (` + cohortColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.db.ExecContext(ctx, query,
		cohort.ID, cohort.CohortName, cohort.CancerType, cohort.Description,
		cohort.TotalPatients, cohort.ProcessedPatients, cohort.SourceURL, cohort.FileURL,
		nullTime(cohort.DownloadDate), nullTime(cohort.ProcessingDate),
		cohort.FileSizeBytes, string(cohort.Status), cohort.CreatedAt, cohort.UpdatedAt,
		cohort.RejectedFileURL,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"cohort": cohort.CohortName,
			"error":  err,
		}).Error("Failed to insert cohort")
		return fmt.Errorf("inserting cohort %s: %w", cohort.CohortName, err)
	}
	return nil
}

func (s *PostgresCohortStore) Update(ctx context.Context, cohort *domain.CancerCohort) error {
	cohort.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE cancer_cohorts SET
			cancer_type = $2, description = $3, total_patients = $4, processed_patients = $5,
			source_url = $6, file_url = $7, download_date = $8, processing_date = $9,
			file_size_bytes = $10, status = $11, updated_at = $12, rejected_file_url = $13
		WHERE cohort_name = $1`

	res, err := s.db.ExecContext(ctx, query,
		cohort.CohortName, cohort.CancerType, cohort.Description,
		cohort.TotalPatients, cohort.ProcessedPatients, cohort.SourceURL, cohort.FileURL,
		nullTime(cohort.DownloadDate), nullTime(cohort.ProcessingDate),
		cohort.FileSizeBytes, string(cohort.Status), cohort.UpdatedAt, cohort.RejectedFileURL,
	)
	if err != nil {
		return fmt.Errorf("updating cohort %s: %w", cohort.CohortName, err)
	}
	return expectOneRow(res, cohort.CohortName)
}

func (s *PostgresCohortStore) UpdateStatus(ctx context.Context, cohortName string, status domain.CohortStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCohortStatus, status)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE cancer_cohorts SET status = $2, updated_at = $3 WHERE cohort_name = $1`,
		cohortName, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", cohortName, err)
	}
	return expectOneRow(res, cohortName)
}

func (s *PostgresCohortStore) Delete(ctx context.Context, cohortName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cancer_cohorts WHERE cohort_name = $1`, cohortName)
	if err != nil {
		return fmt.Errorf("deleting cohort %s: %w", cohortName, err)
	}
	return expectOneRow(res, cohortName)
}

func (s *PostgresCohortStore) StatusCounts(ctx context.Context) (map[domain.CohortStatus]int, error) {
	counts := make(map[domain.CohortStatus]int)
	err := s.groupCounts(ctx, `SELECT status, COUNT(*) FROM cancer_cohorts GROUP BY status`, func(k string, n int) {
		counts[domain.CohortStatus(k)] = n
	})
	return counts, err
}

func (s *PostgresCohortStore) CancerTypeCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.groupCounts(ctx, `SELECT cancer_type, COUNT(*) FROM cancer_cohorts GROUP BY cancer_type`, func(k string, n int) {
		counts[k] = n
	})
	return counts, err
}

// Close closes the underlying handle.
func (s *PostgresCohortStore) Close() error {
	return s.db.Close()
}

func (s *PostgresCohortStore) groupCounts(ctx context.Context, query string, put func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("counting cohorts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning count: %w", err)
		}
		put(key, n)
	}
	return rows.Err()
}

func (s *PostgresCohortStore) queryCohorts(ctx context.Context, query string, args ...any) ([]*domain.CancerCohort, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing cohorts: %w", err)
	}
	defer rows.Close()

	var out []*domain.CancerCohort
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cohort: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCohort(row rowScanner) (*domain.CancerCohort, error) {
	var (
		c                  domain.CancerCohort
		status             string
		download, processd sql.NullTime
	)
	err := row.Scan(&c.ID, &c.CohortName, &c.CancerType, &c.Description,
		&c.TotalPatients, &c.ProcessedPatients, &c.SourceURL, &c.FileURL,
		&download, &processd, &c.FileSizeBytes, &status, &c.CreatedAt, &c.UpdatedAt,
		&c.RejectedFileURL)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CohortStatus(status)
	if download.Valid {
		t := download.Time
		c.DownloadDate = &t
	}
	if processd.Valid {
		t := processd.Time
		c.ProcessingDate = &t
	}
	return &c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func expectOneRow(res sql.Result, cohortName string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	return nil
}
