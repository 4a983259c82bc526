package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

const recordColumns = `id, patient_id, cohort_id, expressions, panel, source_file, status, created_at, updated_at`

// PostgresRecordStore persists expression records in PostgreSQL. The
// expression map and the panel are stored as JSONB documents with null in
// place of NaN.
type PostgresRecordStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresRecordStore creates a new record store on an existing pool
func NewPostgresRecordStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresRecordStore {
	return &PostgresRecordStore{
		db:  db,
		log: logger,
	}
}

// InsertBatch writes every record in a single transaction. Either all rows
// of the batch are committed or none.
func (r *PostgresRecordStore) InsertBatch(ctx context.Context, records []*domain.GeneExpressionRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO gene_expression_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now().UTC()
	batch := &pgx.Batch{}
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
		created, updated := rec.CreatedAt, rec.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = created
		}
		batch.Queue(query,
			rec.ID, rec.PatientID, rec.CohortID,
			string(expressions), string(panel),
			rec.SourceFile, string(rec.Status), created, updated,
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.log.WithFields(logrus.Fields{
				"cohort":     records[i].CohortID,
				"patient_id": records[i].PatientID,
				"error":      err,
			}).Error("Failed to insert expression record")
			return fmt.Errorf("inserting record %d of batch: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"cohort":  records[0].CohortID,
		"records": len(records),
	}).Debug("Expression batch committed")
	return nil
}

func (r *PostgresRecordStore) ExpressionValues(ctx context.Context, gene, cohort string) ([]float64, error) {
	query := `
		SELECT (expressions->>$1)::double precision
		FROM gene_expression_records
		WHERE expressions ? $1 AND ($2::text = '' OR cohort_id = $2)`

	rows, err := r.db.Query(ctx, query, gene, cohort)
	if err != nil {
		return nil, fmt.Errorf("querying expression values for %s: %w", gene, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v *float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning expression value: %w", err)
		}
		if v == nil {
			values = append(values, math.NaN())
			continue
		}
		values = append(values, *v)
	}
	return values, rows.Err()
}

func (r *PostgresRecordStore) PanelValues(ctx context.Context, cohort string) ([]domain.GenePanel, error) {
	query := `
		SELECT panel FROM gene_expression_records
		WHERE ($1::text = '' OR cohort_id = $1)`

	rows, err := r.db.Query(ctx, query, cohort)
	if err != nil {
		return nil, fmt.Errorf("querying panels: %w", err)
	}
	defer rows.Close()

	var panels []domain.GenePanel
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning panel: %w", err)
		}
		var p domain.GenePanel
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		panels = append(panels, p)
	}
	return panels, rows.Err()
}

// GetByCohort pages through a cohort ordered by patient. A non-positive
// limit returns every remaining record.
func (r *PostgresRecordStore) GetByCohort(ctx context.Context, cohort string, limit, offset int) ([]*domain.GeneExpressionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM gene_expression_records
		WHERE cohort_id = $1
		ORDER BY patient_id, created_at, id
		LIMIT NULLIF($2::int, 0) OFFSET $3`

	return r.queryRecords(ctx, query, cohort, max(limit, 0), max(offset, 0))
}

func (r *PostgresRecordStore) GetByPatientID(ctx context.Context, patientID string) ([]*domain.GeneExpressionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM gene_expression_records
		WHERE patient_id = $1
		ORDER BY created_at, id`

	return r.queryRecords(ctx, query, patientID)
}

func (r *PostgresRecordStore) GetByExpressionRange(ctx context.Context, gene string, min, max float64) ([]*domain.GeneExpressionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM gene_expression_records
		WHERE jsonb_typeof(expressions->$1) = 'number'
		  AND (expressions->>$1)::double precision BETWEEN $2 AND $3
		ORDER BY cohort_id, patient_id`

	return r.queryRecords(ctx, query, gene, min, max)
}

func (r *PostgresRecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gene_expression_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (r *PostgresRecordStore) CountByCohort(ctx context.Context, cohort string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gene_expression_records WHERE cohort_id = $1`, cohort).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records of %s: %w", cohort, err)
	}
	return n, nil
}

func (r *PostgresRecordStore) AvailableCohorts(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT cohort_id FROM gene_expression_records ORDER BY cohort_id`)
}

func (r *PostgresRecordStore) PatientIDsByCohort(ctx context.Context, cohort string) ([]string, error) {
	return r.queryStrings(ctx,
		`SELECT DISTINCT patient_id FROM gene_expression_records WHERE cohort_id = $1 ORDER BY patient_id`, cohort)
}

func (r *PostgresRecordStore) DeleteBySource(ctx context.Context, cohort, sourceFile string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM gene_expression_records WHERE cohort_id = $1 AND source_file = $2`, cohort, sourceFile)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"cohort":      cohort,
			"source_file": sourceFile,
			"error":       err,
		}).Error("Failed to delete records")
		return 0, fmt.Errorf("deleting records of %s: %w", cohort, err)
	}

	r.log.WithFields(logrus.Fields{
		"cohort":      cohort,
		"source_file": sourceFile,
		"deleted":     tag.RowsAffected(),
	}).Info("Previous records removed")
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool belongs to database.DB.
func (r *PostgresRecordStore) Close() error { return nil }

func (r *PostgresRecordStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]*domain.GeneExpressionRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
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

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.GeneExpressionRecord, error) {
	var (
		rec                 domain.GeneExpressionRecord
		expressions, panel  []byte
		status              string
		createdAt, updateAt time.Time
	)
	if err := row.Scan(&rec.ID, &rec.PatientID, &rec.CohortID, &expressions, &panel,
		&rec.SourceFile, &status, &createdAt, &updateAt); err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}
	return decodeRecord(&rec, expressions, panel, status, createdAt, updateAt)
}

func decodeRecord(rec *domain.GeneExpressionRecord, expressions, panel []byte, status string, createdAt, updatedAt time.Time) (*domain.GeneExpressionRecord, error) {
	values, err := domain.UnmarshalExpressions(expressions)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Expressions = values
	if len(panel) > 0 {
		if err := json.Unmarshal(panel, &rec.Panel); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
	} else {
		rec.Panel = domain.ExtractPanel(values)
	}
	rec.Status = domain.ProcessingStatus(status)
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return rec, nil
}
