package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
)

type cohortProcessor interface {
	RegisterCohorts(ctx context.Context, seeds []domain.CancerCohort) error
	ProcessAllCohorts(ctx context.Context) ([]domain.CohortRunReport, bool, error)
}

type scratchCleaner interface {
	Cleanup(cutoff time.Time) (int, error)
}

// Scheduler periodically registers configured cohorts, processes every
// pending one and expires old scratch files.
type Scheduler struct {
	processor cohortProcessor
	cleaner   scratchCleaner
	seeds     []domain.CancerCohort
	config    domain.SchedulerConfig
	logger    *logrus.Logger
}

// NewScheduler creates a new scheduler. A non-positive interval or backoff
// falls back to 6h or 30m; a negative initial delay to 2m.
func NewScheduler(processor cohortProcessor, cleaner scratchCleaner, seeds []domain.CohortSeed, config domain.SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 6 * time.Hour
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 2 * time.Minute
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 30 * time.Minute
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	return &Scheduler{
		processor: processor,
		cleaner:   cleaner,
		seeds:     CohortsFromSeeds(seeds),
		config:    config,
		logger:    logger,
	}
}

// CohortsFromSeeds converts configured cohort entries into aggregates.
func CohortsFromSeeds(seeds []domain.CohortSeed) []domain.CancerCohort {
	out := make([]domain.CancerCohort, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, domain.CancerCohort{
			CohortName:  s.Name,
			CancerType:  s.CancerType,
			Description: s.Description,
			SourceURL:   s.SourceURL,
			FileURL:     s.FileURL,
		})
	}
	return out
}

// Run blocks until ctx is done. It returns immediately when the scheduler
// is disabled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Background cohort processing is disabled")
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"interval":      s.config.Interval.String(),
		"initial_delay": s.config.InitialDelay.String(),
	}).Info("Background cohort processing started")

	wait := s.config.InitialDelay
	for {
		if err := sleepContext(ctx, wait); err != nil {
			s.logger.Info("Background cohort processing stopped")
			return nil
		}

		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"backoff": s.config.ErrorBackoff.String(),
			}).Error("Background cohort processing failed")
			wait = s.config.ErrorBackoff
			continue
		}
		wait = s.config.Interval
	}
}

// RunOnce performs a single register, process and cleanup pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if len(s.seeds) > 0 {
		if err := s.processor.RegisterCohorts(ctx, s.seeds); err != nil {
			return fmt.Errorf("registering cohorts: %w", err)
		}
	}

	reports, allOK, err := s.processor.ProcessAllCohorts(ctx)
	if err != nil {
		return fmt.Errorf("processing cohorts: %w", err)
	}

	failed := 0
	for _, r := range reports {
		if !r.Result.Success {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{
		"cohorts": len(reports),
		"failed":  failed,
		"all_ok":  allOK,
	}).Info("Cohort processing pass finished")

	if s.cleaner != nil {
		cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
		removed, err := s.cleaner.Cleanup(cutoff)
		if err != nil {
			s.logger.WithField("error", err.Error()).Warn("Scratch cleanup failed")
		} else if removed > 0 {
			s.logger.WithField("removed", removed).Info("Expired scratch entries removed")
		}
	}
	return nil
}
