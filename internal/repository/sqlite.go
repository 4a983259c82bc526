package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// SQLiteStore keeps records and the cohort catalogue in a single SQLite
// file. It backs the lite server and local CLI runs.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and its schema.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite store opened")
	return &SQLiteStore{db: db, dbPath: dbPath, log: logger}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cancer_cohorts (
		id TEXT PRIMARY KEY,
		cohort_name TEXT NOT NULL UNIQUE,
		cancer_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		total_patients INTEGER NOT NULL DEFAULT 0,
		processed_patients INTEGER NOT NULL DEFAULT 0,
		source_url TEXT NOT NULL DEFAULT '',
		file_url TEXT NOT NULL DEFAULT '',
		download_date DATETIME,
		processing_date DATETIME,
		file_size_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'Discovered',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		rejected_file_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS gene_expression_records (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		cohort_id TEXT NOT NULL,
		expressions TEXT NOT NULL,
		panel TEXT NOT NULL,
		source_file TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_cohort ON gene_expression_records(cohort_id);
	CREATE INDEX IF NOT EXISTS idx_records_patient ON gene_expression_records(patient_id);
	CREATE INDEX IF NOT EXISTS idx_records_source ON gene_expression_records(cohort_id, source_file);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return addColumnIfMissing(db, "cancer_cohorts", "rejected_file_url", "TEXT NOT NULL DEFAULT ''")
}

// addColumnIfMissing adds column to a table created by an older schema.
func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// jsonPath quotes gene as a single JSON object key.
func jsonPath(gene string) string {
	return `$."` + strings.ReplaceAll(gene, `"`, `\"`) + `"`
}

// InsertBatch writes the batch in one transaction.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []*domain.GeneExpressionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gene_expression_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("inserting record for %s: %w", rec.PatientID, err)
		}
		expressions, err := domain.MarshalExpressions(rec.Expressions)
		if err != nil {
			return err
		}
		panel, err := json.Marshal(rec.Panel)
		if err != nil {
			return fmt.Errorf("encoding panel: %w", err)
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		created, updated := rec.CreatedAt, rec.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = created
		}
		if _, err := stmt.ExecContext(ctx, id, rec.PatientID, rec.CohortID, string(expressions), string(panel),
			rec.SourceFile, string(rec.Status), created, updated); err != nil {
			return fmt.Errorf("inserting record for %s: %w", rec.PatientID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ExpressionValues(ctx context.Context, gene, cohort string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(expressions, ?1)
		FROM gene_expression_records
		WHERE json_type(expressions, ?1) IS NOT NULL AND (?2 = '' OR cohort_id = ?2)`,
		jsonPath(gene), cohort)
	if err != nil {
		return nil, fmt.Errorf("querying expression values for %s: %w", gene, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v sql.NullFloat64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning expression value: %w", err)
		}
		if !v.Valid {
			values = append(values, math.NaN())
			continue
		}
		values = append(values, v.Float64)
	}
	return values, rows.Err()
}

func (s *SQLiteStore) PanelValues(ctx context.Context, cohort string) ([]domain.GenePanel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT panel FROM gene_expression_records WHERE (?1 = '' OR cohort_id = ?1)`, cohort)
	if err != nil {
		return nil, fmt.Errorf("querying panels: %w", err)
	}
	defer rows.Close()

	var panels []domain.GenePanel
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning panel: %w", err)
		}
		var p domain.GenePanel
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		panels = append(panels, p)
	}
	return panels, rows.Err()
}

func (s *SQLiteStore) GetByCohort(ctx context.Context, cohort string, limit, offset int) ([]*domain.GeneExpressionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM gene_expression_records
		WHERE cohort_id = ? ORDER BY patient_id, created_at, id LIMIT ? OFFSET ?`,
		cohort, limit, max(offset, 0))
}

func (s *SQLiteStore) GetByPatientID(ctx context.Context, patientID string) ([]*domain.GeneExpressionRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM gene_expression_records
		WHERE patient_id = ? ORDER BY created_at, id`, patientID)
}

func (s *SQLiteStore) GetByExpressionRange(ctx context.Context, gene string, min, max float64) ([]*domain.GeneExpressionRecord, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+` FROM gene_expression_records
		WHERE json_type(expressions, ?1) IN ('integer', 'real')
		  AND json_extract(expressions, ?1) BETWEEN ?2 AND ?3
		ORDER BY cohort_id, patient_id`, jsonPath(gene), min, max)
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gene_expression_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CountByCohort(ctx context.Context, cohort string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM gene_expression_records WHERE cohort_id = ?`, cohort).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records of %s: %w", cohort, err)
	}
	return n, nil
}

func (s *SQLiteStore) AvailableCohorts(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT cohort_id FROM gene_expression_records ORDER BY cohort_id`)
}

func (s *SQLiteStore) PatientIDsByCohort(ctx context.Context, cohort string) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT DISTINCT patient_id FROM gene_expression_records WHERE cohort_id = ? ORDER BY patient_id`, cohort)
}

func (s *SQLiteStore) DeleteBySource(ctx context.Context, cohort, sourceFile string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gene_expression_records WHERE cohort_id = ? AND source_file = ?`, cohort, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("deleting records of %s: %w", cohort, err)
	}
	return res.RowsAffected()
}

// Cohort catalogue

func (s *SQLiteStore) GetByName(ctx context.Context, cohortName string) (*domain.CancerCohort, error) {
	c, err := scanCohort(s.db.QueryRowContext(ctx,
		`SELECT `+cohortColumns+` FROM cancer_cohorts WHERE cohort_name = ?`, cohortName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cohort %s: %w", cohortName, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cohort %s: %w", cohortName, err)
	}
	return c, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*domain.CancerCohort, error) {
	return s.queryCohorts(ctx, `SELECT `+cohortColumns+` FROM cancer_cohorts ORDER BY cohort_name`)
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status domain.CohortStatus) ([]*domain.CancerCohort, error) {
	return s.queryCohorts(ctx,
		`SELECT `+cohortColumns+` FROM cancer_cohorts WHERE status = ? ORDER BY cohort_name`, string(status))
}

func (s *SQLiteStore) Insert(ctx context.Context, cohort *domain.CancerCohort) error {
	if cohort.Status == "" {
		cohort.Status = domain.CohortDiscovered
	}
	if !cohort.Status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCohortStatus, cohort.Status)
	}
	if cohort.ID == "" {
		cohort.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cohort.CreatedAt.IsZero() {
		cohort.CreatedAt = now
	}
	cohort.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cancer_cohorts (`+cohortColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cohort.ID, cohort.CohortName, cohort.CancerType, cohort.Description,
		cohort.TotalPatients, cohort.ProcessedPatients, cohort.SourceURL, cohort.FileURL,
		nullTime(cohort.DownloadDate), nullTime(cohort.ProcessingDate),
		cohort.FileSizeBytes, string(cohort.Status), cohort.CreatedAt, cohort.UpdatedAt,
		cohort.RejectedFileURL,
	)
	if err != nil {
		return fmt.Errorf("inserting cohort %s: %w", cohort.CohortName, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, cohort *domain.CancerCohort) error {
	cohort.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE cancer_cohorts SET
			cancer_type = ?, description = ?, total_patients = ?, processed_patients = ?,
			source_url = ?, file_url = ?, download_date = ?, processing_date = ?,
			file_size_bytes = ?, status = ?, updated_at = ?, rejected_file_url = ?
		WHERE cohort_name = ?`,
		cohort.CancerType, cohort.Description, cohort.TotalPatients, cohort.ProcessedPatients,
		cohort.SourceURL, cohort.FileURL, nullTime(cohort.DownloadDate), nullTime(cohort.ProcessingDate),
		cohort.FileSizeBytes, string(cohort.Status), cohort.UpdatedAt, cohort.RejectedFileURL, cohort.CohortName,
	)
	if err != nil {
		return fmt.Errorf("updating cohort %s: %w", cohort.CohortName, err)
	}
	return expectOneRow(res, cohort.CohortName)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, cohortName string, status domain.CohortStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCohortStatus, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cancer_cohorts SET status = ?, updated_at = ? WHERE cohort_name = ?`,
		string(status), time.Now().UTC(), cohortName)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", cohortName, err)
	}
	return expectOneRow(res, cohortName)
}

func (s *SQLiteStore) Delete(ctx context.Context, cohortName string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cancer_cohorts WHERE cohort_name = ?`, cohortName)
	if err != nil {
		return fmt.Errorf("deleting cohort %s: %w", cohortName, err)
	}
	return expectOneRow(res, cohortName)
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[domain.CohortStatus]int, error) {
	counts := make(map[domain.CohortStatus]int)
	err := s.groupCounts(ctx, `SELECT status, COUNT(*) FROM cancer_cohorts GROUP BY status`, func(k string, n int) {
		counts[domain.CohortStatus(k)] = n
	})
	return counts, err
}

func (s *SQLiteStore) CancerTypeCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.groupCounts(ctx, `SELECT cancer_type, COUNT(*) FROM cancer_cohorts GROUP BY cancer_type`, func(k string, n int) {
		counts[k] = n
	})
	return counts, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) groupCounts(ctx context.Context, query string, put func(string, int)) error {
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

func (s *SQLiteStore) queryCohorts(ctx context.Context, query string, args ...any) ([]*domain.CancerCohort, error) {
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

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.GeneExpressionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []*domain.GeneExpressionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
