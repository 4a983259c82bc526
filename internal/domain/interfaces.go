package domain

import (
	"context"
	"io"
)

// RecordSink durably stores a batch of records or reports a failure for the
// whole batch.
type RecordSink interface {
	InsertBatch(ctx context.Context, records []*GeneExpressionRecord) error
}

// RecordReader serves the queries the statistics engine and the API need.
type RecordReader interface {
	// ExpressionValues returns the stored values of gene for every record
	// carrying it, optionally restricted to one cohort ("" for all).
	ExpressionValues(ctx context.Context, gene, cohort string) ([]float64, error)
	// PanelValues returns the panel of every record, optionally restricted to one cohort.
	PanelValues(ctx context.Context, cohort string) ([]GenePanel, error)
	GetByCohort(ctx context.Context, cohort string, limit, offset int) ([]*GeneExpressionRecord, error)
	GetByPatientID(ctx context.Context, patientID string) ([]*GeneExpressionRecord, error)
	GetByExpressionRange(ctx context.Context, gene string, min, max float64) ([]*GeneExpressionRecord, error)
	Count(ctx context.Context) (int64, error)
	CountByCohort(ctx context.Context, cohort string) (int64, error)
	AvailableCohorts(ctx context.Context) ([]string, error)
	PatientIDsByCohort(ctx context.Context, cohort string) ([]string, error)
}

// RecordStore is the full record persistence surface.
type RecordStore interface {
	RecordSink
	RecordReader
	// DeleteBySource removes every record of cohort ingested from sourceFile.
	DeleteBySource(ctx context.Context, cohort, sourceFile string) (int64, error)
	Close() error
}

// CohortStatusSink accepts lifecycle transitions for a cohort.
type CohortStatusSink interface {
	UpdateStatus(ctx context.Context, cohortName string, status CohortStatus) error
}

// CohortStore persists the CancerCohort aggregate.
type CohortStore interface {
	CohortStatusSink
	GetByName(ctx context.Context, cohortName string) (*CancerCohort, error)
	List(ctx context.Context) ([]*CancerCohort, error)
	ListByStatus(ctx context.Context, status CohortStatus) ([]*CancerCohort, error)
	Insert(ctx context.Context, cohort *CancerCohort) error
	Update(ctx context.Context, cohort *CancerCohort) error
	Delete(ctx context.Context, cohortName string) error
	StatusCounts(ctx context.Context) (map[CohortStatus]int, error)
	CancerTypeCounts(ctx context.Context) (map[string]int, error)
}

// ContentSource reads raw cohort files addressed by key.
type ContentSource interface {
	// Fetch copies the object behind key into w and returns the byte count.
	Fetch(ctx context.Context, key string, w io.Writer) (int64, error)
	Size(ctx context.Context, key string) (int64, error)
}

// ObjectArchiver keeps a copy of an extracted cohort file.
type ObjectArchiver interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
}

// CohortLocker serializes processing runs per cohort name. Acquire returns
// ErrCohortLocked when another run holds the cohort.
type CohortLocker interface {
	Acquire(ctx context.Context, cohort string) (release func(), err error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetIngestionConfig() *IngestionConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
