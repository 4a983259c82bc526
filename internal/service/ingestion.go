package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/lock"
	"github.com/tcga-expression-pipeline/internal/metrics"
	"github.com/tcga-expression-pipeline/pkg/matrix"
)

const (
	DefaultBatchSize     = 100
	DefaultCohortSpacing = 30 * time.Second

	// resultWriteTimeout bounds the final cohort update, which runs even
	// when the run's context is already cancelled.
	resultWriteTimeout = 30 * time.Second
)

// ProgressEvent describes a step of a cohort run.
type ProgressEvent struct {
	Cohort    string              `json:"cohort"`
	Status    domain.CohortStatus `json:"status"`
	Batch     int                 `json:"batch,omitempty"`
	Committed int                 `json:"committed"`
	Total     int                 `json:"total"`
	Message   string              `json:"message,omitempty"`
	Time      time.Time           `json:"time"`
}

// ProgressObserver receives progress events. Publish must not block.
type ProgressObserver interface {
	Publish(ProgressEvent)
}

type recordDeleter interface {
	DeleteBySource(ctx context.Context, cohort, sourceFile string) (int64, error)
}

// IngestionOption configures optional collaborators of IngestionService.
type IngestionOption func(*IngestionService)

// WithLocker replaces the default in-process cohort locker.
func WithLocker(l domain.CohortLocker) IngestionOption {
	return func(s *IngestionService) { s.locker = l }
}

// WithObserver streams progress events to o.
func WithObserver(o ProgressObserver) IngestionOption {
	return func(s *IngestionService) { s.observer = o }
}

// WithMetrics records ingestion metrics on c.
func WithMetrics(c *metrics.Collector) IngestionOption {
	return func(s *IngestionService) { s.metrics = c }
}

// WithArchive uploads every extracted cohort file to a.
func WithArchive(a domain.ObjectArchiver) IngestionOption {
	return func(s *IngestionService) { s.archive = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IngestionOption {
	return func(s *IngestionService) { s.now = now }
}

// IngestionService drives cohort files from source to record store.
type IngestionService struct {
	source   domain.ContentSource
	sink     domain.RecordSink
	cohorts  domain.CohortStore
	scratch  ScratchSpace
	locker   domain.CohortLocker
	observer ProgressObserver
	archive  domain.ObjectArchiver
	metrics  *metrics.Collector
	logger   *logrus.Logger
	config   domain.IngestionConfig
	now      func() time.Time
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(
	source domain.ContentSource,
	sink domain.RecordSink,
	cohorts domain.CohortStore,
	scratch ScratchSpace,
	config domain.IngestionConfig,
	logger *logrus.Logger,
	opts ...IngestionOption,
) *IngestionService {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.CohortSpacing < 0 {
		config.CohortSpacing = 0
	}

	s := &IngestionService{
		source:  source,
		sink:    sink,
		cohorts: cohorts,
		scratch: scratch,
		locker:  lock.NewLocal(),
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateFormat checks that path exists on the scratch filesystem and looks
// like an expression matrix.
func (s *IngestionService) ValidateFormat(_ context.Context, path string) error {
	content, err := afero.ReadFile(s.scratch.Fs(), path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewFormatError(path, "file does not exist")
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return s.validateContent(path, string(content))
}

func (s *IngestionService) validateContent(path, content string) error {
	err := matrix.ValidateFormat(content, matrix.DefaultDelimiter, matrix.ValidateOptions{
		PatientIDPrefix: s.config.PatientIDPrefix,
	})
	var fe *matrix.FormatError
	if errors.As(err, &fe) {
		return domain.NewFormatError(path, fe.Reason)
	}
	return err
}

// IngestFile parses path and persists its records for cohort in batches
// while holding the cohort's lock. The returned error is reserved for runs
// that could not start because the cohort is locked; every other failure is
// reported through the result.
func (s *IngestionService) IngestFile(ctx context.Context, cohort, path string) (*domain.CohortProcessingResult, error) {
	release, err := s.locker.Acquire(ctx, cohort)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.ingestFile(ctx, cohort, path), nil
}

func (s *IngestionService) ingestFile(ctx context.Context, cohort, path string) *domain.CohortProcessingResult {
	start := s.now()
	result := &domain.CohortProcessingResult{Cohort: cohort}
	defer func() {
		result.ProcessingTime = s.now().Sub(start)
		s.metrics.IngestFinished(cohort, result.Success, result.ProcessingTime)
	}()

	logger := s.logger.WithFields(logrus.Fields{
		"cohort": cohort,
		"file":   path,
	})
	logger.Info("Starting file ingestion")

	if err := s.setStatus(ctx, cohort, domain.CohortProcessing); err != nil {
		result.Fail(err)
		return result
	}

	content, err := afero.ReadFile(s.scratch.Fs(), path)
	if err != nil {
		if os.IsNotExist(err) {
			err = domain.NewFormatError(path, "file does not exist")
		}
		result.Fail(fmt.Errorf("reading %s: %w", path, err))
		return result
	}
	result.FileSizeBytes = int64(len(content))

	if err := s.validateContent(path, string(content)); err != nil {
		logger.WithField("error", err.Error()).Warn("File failed format validation")
		result.Fail(err)
		return result
	}

	m, err := matrix.Parse(string(content), matrix.DefaultDelimiter, matrix.WithWarningHandler(func(w matrix.Warning) {
		switch w.Kind {
		case matrix.RowSkipped:
			result.SkippedRows++
			s.metrics.RowSkipped(cohort)
			logger.WithFields(logrus.Fields{
				"line":     w.Line,
				"expected": w.Expected,
				"actual":   w.Actual,
			}).Warn("Skipping row with incorrect number of values")
		case matrix.ValueUnparsable:
			s.metrics.ValueUnparsable(cohort)
			logger.WithFields(logrus.Fields{
				"line": w.Line,
				"gene": w.Gene,
			}).Debug("Unparsable expression value recorded as NaN")
		}
	}))
	if err != nil {
		var fe *matrix.FormatError
		if errors.As(err, &fe) {
			err = domain.NewFormatError(path, fe.Reason)
		}
		result.Fail(err)
		return result
	}
	result.TotalPatients = m.TotalRows()

	logger.WithFields(logrus.Fields{
		"genes": len(m.Genes()),
		"rows":  result.TotalPatients,
	}).Info("Parsed expression matrix")

	sourceFile := filepath.Base(path)
	if s.config.ReplaceOnIngest {
		if err := s.replacePrevious(ctx, cohort, sourceFile); err != nil {
			result.Fail(err)
			return result
		}
	}

	if err := s.persist(ctx, cohort, sourceFile, m, result); err != nil {
		logger.WithFields(logrus.Fields{
			"processed": result.ProcessedPatients,
			"error":     err.Error(),
		}).Error("File ingestion stopped")
		result.Fail(err)
		return result
	}

	if result.ProcessedPatients == 0 {
		result.Fail(errors.New("no records were extracted from the file"))
		return result
	}

	result.Success = true
	logger.WithFields(logrus.Fields{
		"processed": result.ProcessedPatients,
		"total":     result.TotalPatients,
		"skipped":   result.SkippedRows,
	}).Info("File ingestion completed")
	return result
}

// persist walks m and commits records in batches, checking for cancellation
// before each batch.
func (s *IngestionService) persist(ctx context.Context, cohort, sourceFile string, m *matrix.Matrix, result *domain.CohortProcessingResult) error {
	batch := make([]*domain.GeneExpressionRecord, 0, s.config.BatchSize)
	batchNo := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingestion cancelled after %d records: %w", result.ProcessedPatients, err)
		}
		batchNo++
		if err := s.sink.InsertBatch(ctx, batch); err != nil {
			s.metrics.BatchFailed(cohort)
			return &domain.PersistenceError{Batch: batchNo, Committed: result.ProcessedPatients, Err: err}
		}
		result.ProcessedPatients += len(batch)
		s.metrics.RowsPersisted(cohort, len(batch))
		s.publish(ProgressEvent{
			Cohort:    cohort,
			Status:    domain.CohortProcessing,
			Batch:     batchNo,
			Committed: result.ProcessedPatients,
			Total:     result.TotalPatients,
		})
		batch = make([]*domain.GeneExpressionRecord, 0, s.config.BatchSize)
		return nil
	}

	err := m.Each(func(row matrix.Row) error {
		now := s.now()
		batch = append(batch, &domain.GeneExpressionRecord{
			ID:          uuid.NewString(),
			PatientID:   row.PatientID,
			CohortID:    cohort,
			Expressions: row.Values,
			Panel:       domain.ExtractPanel(row.Values),
			SourceFile:  sourceFile,
			Status:      domain.StatusCompleted,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if len(batch) >= s.config.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (s *IngestionService) replacePrevious(ctx context.Context, cohort, sourceFile string) error {
	deleter, ok := s.sink.(recordDeleter)
	if !ok {
		return errors.New("record store does not support replacing previous ingestions")
	}
	n, err := deleter.DeleteBySource(ctx, cohort, sourceFile)
	if err != nil {
		return fmt.Errorf("removing previous records of %s: %w", sourceFile, err)
	}
	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"cohort":  cohort,
			"file":    sourceFile,
			"removed": n,
		}).Info("Removed records of previous ingestion")
	}
	return nil
}

// ProcessCohort downloads, extracts and ingests the file of one registered
// cohort and folds the outcome into the cohort. The returned error is
// reserved for runs that could not start: a held lock or an unknown cohort.
func (s *IngestionService) ProcessCohort(ctx context.Context, cohortName string) (result *domain.CohortProcessingResult, err error) {
	release, err := s.locker.Acquire(ctx, cohortName)
	if err != nil {
		return nil, err
	}
	defer release()

	cohort, err := s.cohorts.GetByName(ctx, cohortName)
	if err != nil {
		return nil, fmt.Errorf("loading cohort %s: %w", cohortName, err)
	}

	start := s.now()
	result = &domain.CohortProcessingResult{Cohort: cohortName}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"cohort": cohortName,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("Unexpected failure while processing cohort")
			result.Fail(fmt.Errorf("unexpected failure: %v", r))
			s.finish(ctx, cohort, result)
		}
	}()

	s.run(ctx, cohort, result)
	if result.ProcessingTime == 0 {
		result.ProcessingTime = s.now().Sub(start)
	}
	s.finish(ctx, cohort, result)
	return result, nil
}

func (s *IngestionService) run(ctx context.Context, cohort *domain.CancerCohort, result *domain.CohortProcessingResult) {
	logger := s.logger.WithField("cohort", cohort.CohortName)

	if cohort.FileURL == "" {
		result.Fail(errors.New("cohort has no file location"))
		return
	}

	if err := s.setStatus(ctx, cohort.CohortName, domain.CohortDownloading); err != nil {
		result.Fail(err)
		return
	}

	scratch, err := s.scratch.Acquire(cohort.CohortName)
	if err != nil {
		result.Fail(err)
		return
	}
	defer scratch.Release()

	tsvPath, size, err := s.download(ctx, cohort.FileURL, scratch)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to download cohort file")
		result.Fail(err)
		return
	}

	downloaded := s.now()
	cohort.DownloadDate = &downloaded
	if err := s.setStatus(ctx, cohort.CohortName, domain.CohortDownloaded); err != nil {
		result.Fail(err)
		return
	}
	logger.WithFields(logrus.Fields{
		"file":  filepath.Base(tsvPath),
		"bytes": size,
	}).Info("Cohort file downloaded")

	if s.archive != nil {
		s.archiveFile(ctx, cohort.CohortName, tsvPath, size)
	}

	*result = *s.ingestFile(ctx, cohort.CohortName, tsvPath)
}

// download fetches key into scratch and gunzips it when needed. It returns
// the path of the plain matrix file and its size.
func (s *IngestionService) download(ctx context.Context, key string, scratch *Scratch) (string, int64, error) {
	name := path.Base(key)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		name = "cohort.tsv"
	}

	f, err := scratch.Create(name)
	if err != nil {
		return "", 0, fmt.Errorf("creating download file: %w", err)
	}
	n, err := s.source.Fetch(ctx, key, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, fmt.Errorf("fetching %s: %w", key, err)
	}

	if !strings.HasSuffix(strings.ToLower(name), ".gz") {
		return scratch.Path(name), n, nil
	}

	plain := strings.TrimSuffix(name, filepath.Ext(name))
	size, err := s.gunzip(scratch, name, plain)
	if err != nil {
		return "", 0, fmt.Errorf("extracting %s: %w", name, err)
	}
	return scratch.Path(plain), size, nil
}

func (s *IngestionService) gunzip(scratch *Scratch, src, dst string) (int64, error) {
	fs := s.scratch.Fs()
	in, err := fs.Open(scratch.Path(src))
	if err != nil {
		return 0, err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	out, err := scratch.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, zr)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	if err := fs.Remove(scratch.Path(src)); err != nil {
		s.logger.WithField("error", err.Error()).Debug("Failed to remove compressed download")
	}
	return n, nil
}

// archiveFile keeps a copy of the extracted file. Failures are logged only.
func (s *IngestionService) archiveFile(ctx context.Context, cohort, path string, size int64) {
	f, err := s.scratch.Fs().Open(path)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to open file for archiving")
		return
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s", cohort, filepath.Base(path))
	if err := s.archive.Upload(ctx, key, f, size); err != nil {
		s.logger.WithFields(logrus.Fields{
			"cohort": cohort,
			"key":    key,
			"error":  err.Error(),
		}).Warn("Failed to archive cohort file")
		return
	}
	s.logger.WithFields(logrus.Fields{"cohort": cohort, "key": key}).Info("Archived cohort file")
}

// finish folds result into the cohort aggregate and persists it. The write
// is detached from ctx so a cancelled run still records what it committed.
func (s *IngestionService) finish(ctx context.Context, cohort *domain.CancerCohort, result *domain.CohortProcessingResult) {
	cohort.ApplyResult(result, s.now())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer cancel()
	if err := s.cohorts.Update(writeCtx, cohort); err != nil {
		s.logger.WithFields(logrus.Fields{
			"cohort": cohort.CohortName,
			"error":  err.Error(),
		}).Error("Failed to store cohort result")
	}

	s.publish(ProgressEvent{
		Cohort:    cohort.CohortName,
		Status:    cohort.Status,
		Committed: result.ProcessedPatients,
		Total:     result.TotalPatients,
		Message:   result.ErrorMessage,
	})

	s.logger.WithFields(logrus.Fields{
		"cohort":    cohort.CohortName,
		"status":    cohort.Status,
		"processed": result.ProcessedPatients,
		"total":     result.TotalPatients,
		"retryable": result.Retryable,
		"duration":  result.ProcessingTime.String(),
	}).Info("Cohort processing finished")
}

// RecordResult folds a result produced by IngestFile into the stored cohort,
// if one exists under that name.
func (s *IngestionService) RecordResult(ctx context.Context, result *domain.CohortProcessingResult) error {
	cohort, err := s.cohorts.GetByName(ctx, result.Cohort)
	if err != nil {
		return fmt.Errorf("loading cohort %s: %w", result.Cohort, err)
	}
	s.finish(ctx, cohort, result)
	return nil
}

// ProcessAllCohorts processes every cohort that is not Completed, one at a
// time in name order, pausing CohortSpacing after each run. Cohorts whose
// current file was rejected as malformed are left alone until their file
// location changes. A failed cohort never stops the pass. The boolean
// reports whether every processed cohort succeeded.
func (s *IngestionService) ProcessAllCohorts(ctx context.Context) ([]domain.CohortRunReport, bool, error) {
	cohorts, err := s.cohorts.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("listing cohorts: %w", err)
	}

	pending := make([]*domain.CancerCohort, 0, len(cohorts))
	for _, c := range cohorts {
		switch {
		case c.Status == domain.CohortCompleted:
		case c.AwaitingNewFile():
			s.logger.WithFields(logrus.Fields{
				"cohort": c.CohortName,
				"file":   c.FileURL,
			}).Info("Skipping cohort whose file was rejected")
		default:
			pending = append(pending, c)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CohortName < pending[j].CohortName })

	s.logger.WithField("count", len(pending)).Info("Processing pending cohorts")

	reports := make([]domain.CohortRunReport, 0, len(pending))
	allOK := true
	for i, c := range pending {
		if i > 0 {
			if err := sleepContext(ctx, s.config.CohortSpacing); err != nil {
				return reports, false, err
			}
		}

		result, err := s.ProcessCohort(ctx, c.CohortName)
		if err != nil {
			result = &domain.CohortProcessingResult{Cohort: c.CohortName}
			result.Fail(err)
		}
		if !result.Success {
			allOK = false
		}
		reports = append(reports, domain.CohortRunReport{Cohort: c.CohortName, Result: result})
	}
	return reports, allOK, nil
}

// RegisterCohorts inserts unknown cohorts as Discovered and refreshes the
// file location of known ones.
func (s *IngestionService) RegisterCohorts(ctx context.Context, seeds []domain.CancerCohort) error {
	for i := range seeds {
		seed := seeds[i]
		existing, err := s.cohorts.GetByName(ctx, seed.CohortName)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			now := s.now()
			seed.ID = uuid.NewString()
			seed.Status = domain.CohortDiscovered
			seed.CreatedAt = now
			seed.UpdatedAt = now
			if err := s.cohorts.Insert(ctx, &seed); err != nil {
				return fmt.Errorf("registering cohort %s: %w", seed.CohortName, err)
			}
			s.logger.WithField("cohort", seed.CohortName).Info("Registered new cohort")
		case err != nil:
			return fmt.Errorf("loading cohort %s: %w", seed.CohortName, err)
		case existing.FileURL != seed.FileURL || existing.SourceURL != seed.SourceURL:
			existing.FileURL = seed.FileURL
			existing.SourceURL = seed.SourceURL
			existing.UpdatedAt = s.now()
			if err := s.cohorts.Update(ctx, existing); err != nil {
				return fmt.Errorf("updating cohort %s: %w", seed.CohortName, err)
			}
		}
	}
	return nil
}

func (s *IngestionService) setStatus(ctx context.Context, cohort string, status domain.CohortStatus) error {
	err := s.cohorts.UpdateStatus(ctx, cohort, status)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("cohort", cohort).Debug("Status update for unregistered cohort ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("setting status %s for %s: %w", status, cohort, err)
	}
	s.publish(ProgressEvent{Cohort: cohort, Status: status})
	return nil
}

func (s *IngestionService) publish(ev ProgressEvent) {
	if s.observer == nil {
		return
	}
	ev.Time = s.now()
	s.observer.Publish(ev)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
