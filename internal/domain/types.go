// Package domain contains the core entities of the TCGA gene-expression pipeline:
// per-patient expression records, the cancer cohort aggregate and the fixed
// cGAS-STING gene panel tracked for every patient.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProcessingStatus marks where a single patient record is in its lifecycle.
// It is set once per ingestion and never driven by outside transitions.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "Pending"
	StatusProcessing ProcessingStatus = "Processing"
	StatusCompleted  ProcessingStatus = "Completed"
	StatusFailed     ProcessingStatus = "Failed"
)

// IsValid reports whether s is one of the known record statuses.
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CohortStatus is the lifecycle of a cohort's raw file through the pipeline:
//
//	Discovered -> Downloading -> Downloaded -> Processing -> Completed | Failed
type CohortStatus string

const (
	CohortDiscovered  CohortStatus = "Discovered"
	CohortDownloading CohortStatus = "Downloading"
	CohortDownloaded  CohortStatus = "Downloaded"
	CohortProcessing  CohortStatus = "Processing"
	CohortCompleted   CohortStatus = "Completed"
	CohortFailed      CohortStatus = "Failed"
)

var (
	ErrInvalidCohortStatus = errors.New("invalid cohort status")
	ErrInvalidRecordStatus = errors.New("invalid record status")
)

// IsValid reports whether s is one of the known cohort statuses.
func (s CohortStatus) IsValid() bool {
	switch s {
	case CohortDiscovered, CohortDownloading, CohortDownloaded, CohortProcessing, CohortCompleted, CohortFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the cohort has finished a processing run.
func (s CohortStatus) IsTerminal() bool {
	return s == CohortCompleted || s == CohortFailed
}

// ParseCohortStatus parses a status name case-insensitively.
func ParseCohortStatus(value string) (CohortStatus, error) {
	for _, s := range AllCohortStatuses() {
		if strings.EqualFold(string(s), strings.TrimSpace(value)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCohortStatus, value)
}

// AllCohortStatuses lists every cohort status in lifecycle order.
func AllCohortStatuses() []CohortStatus {
	return []CohortStatus{
		CohortDiscovered, CohortDownloading, CohortDownloaded,
		CohortProcessing, CohortCompleted, CohortFailed,
	}
}

// GeneExpressionRecord is the durable unit of the pipeline: one patient's
// expression values from one source file of one cohort.
//
// Expressions is never modified after extraction. NaN values are kept as
// the "present but unparsable" marker.
type GeneExpressionRecord struct {
	ID          string             `json:"id"`
	PatientID   string             `json:"patient_id"`
	CohortID    string             `json:"cohort_id"`
	Expressions map[string]float64 `json:"-"`
	Panel       GenePanel          `json:"panel"`
	SourceFile  string             `json:"source_file"`
	Status      ProcessingStatus   `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Validate checks the record invariants required before persistence.
func (r *GeneExpressionRecord) Validate() error {
	if strings.TrimSpace(r.PatientID) == "" {
		return NewValidationError("patient_id", "patient identifier is required", r.PatientID)
	}
	if strings.TrimSpace(r.CohortID) == "" {
		return NewValidationError("cohort_id", "cohort identifier is required", r.CohortID)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecordStatus, r.Status)
	}
	return nil
}

// Expression returns the value for gene and whether the gene is present.
func (r *GeneExpressionRecord) Expression(gene string) (float64, bool) {
	v, ok := r.Expressions[gene]
	return v, ok
}

// CancerCohort is the aggregate a processing run folds its result into.
type CancerCohort struct {
	ID                string       `json:"id"`
	CohortName        string       `json:"cohort_name"`
	CancerType        string       `json:"cancer_type"`
	Description       string       `json:"description"`
	TotalPatients     int          `json:"total_patients"`
	ProcessedPatients int          `json:"processed_patients"`
	SourceURL         string       `json:"source_url"`
	FileURL           string       `json:"file_url"`
	DownloadDate      *time.Time   `json:"download_date,omitempty"`
	ProcessingDate    *time.Time   `json:"processing_date,omitempty"`
	FileSizeBytes     int64        `json:"file_size_bytes"`
	Status            CohortStatus `json:"status"`
	// RejectedFileURL is the file location whose last run failed with a
	// non-retryable error, empty otherwise.
	RejectedFileURL string    `json:"rejected_file_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AwaitingNewFile reports whether the cohort failed on its current file
// with an error that another attempt would repeat.
func (c *CancerCohort) AwaitingNewFile() bool {
	return c.Status == CohortFailed && c.RejectedFileURL != "" && c.RejectedFileURL == c.FileURL
}

// ApplyResult folds one processing run into the cohort aggregate.
func (c *CancerCohort) ApplyResult(result *CohortProcessingResult, now time.Time) {
	c.ProcessedPatients = result.ProcessedPatients
	c.TotalPatients = result.TotalPatients
	c.FileSizeBytes = result.FileSizeBytes
	c.ProcessingDate = &now
	c.UpdatedAt = now
	c.RejectedFileURL = ""
	switch {
	case result.Success:
		c.Status = CohortCompleted
	case !result.Retryable:
		c.Status = CohortFailed
		c.RejectedFileURL = c.FileURL
	default:
		c.Status = CohortFailed
	}
}

// CohortProcessingResult is the outcome of one ingestion run. It is never
// persisted directly.
type CohortProcessingResult struct {
	Cohort            string        `json:"cohort"`
	Success           bool          `json:"success"`
	ProcessedPatients int           `json:"processed_patients"`
	TotalPatients     int           `json:"total_patients"`
	SkippedRows       int           `json:"skipped_rows"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	Retryable         bool          `json:"retryable"`
	ProcessingTime    time.Duration `json:"processing_time"`
	FileSizeBytes     int64         `json:"file_size_bytes"`
}

// Fail marks the result failed with a human readable message and records
// whether another attempt could succeed.
func (r *CohortProcessingResult) Fail(err error) {
	r.Success = false
	r.Retryable = IsRetryable(err)
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// CohortRunReport pairs a cohort with the result of its run in a multi-cohort pass.
type CohortRunReport struct {
	Cohort string                  `json:"cohort"`
	Result *CohortProcessingResult `json:"result"`
}
