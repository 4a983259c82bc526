package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/middleware"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.HealthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}
	}
	c.JSON(status, body)
}

func (s *Server) handleListCohorts(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		cohorts []*domain.CancerCohort
		err     error
	)
	if raw := c.Query("status"); raw != "" {
		status, perr := domain.ParseCohortStatus(raw)
		if perr != nil {
			s.respondError(c, domain.NewValidationError("status", "unknown cohort status", raw))
			return
		}
		cohorts, err = s.deps.Cohorts.ListByStatus(ctx, status)
	} else {
		cohorts, err = s.deps.Cohorts.List(ctx)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohorts": cohorts, "count": len(cohorts)})
}

func (s *Server) handleGetCohort(c *gin.Context) {
	cohort, err := s.deps.Cohorts.GetByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cohort)
}

func (s *Server) handleCohortPatients(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	if _, err := s.deps.Cohorts.GetByName(ctx, name); err != nil {
		s.respondError(c, err)
		return
	}
	patients, err := s.deps.Records.PatientIDsByCohort(ctx, name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohort": name, "patients": patients, "count": len(patients)})
}

// handleProcessCohort starts a run in the background and answers 202. With
// ?wait=true the run happens inline and the result is returned.
func (s *Server) handleProcessCohort(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.deps.Cohorts.GetByName(c.Request.Context(), name); err != nil {
		s.respondError(c, err)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		result, err := s.deps.Processor.ProcessCohort(c.Request.Context(), name)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	requestID := c.GetString(middleware.RequestIDKey)
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		logger := s.logger.WithFields(logrus.Fields{"cohort": name, "request_id": requestID})
		result, err := s.deps.Processor.ProcessCohort(s.baseCtx, name)
		if err != nil {
			logger.WithField("error", err.Error()).Warn("Cohort run could not start")
			return
		}
		logger.WithFields(logrus.Fields{
			"success":   result.Success,
			"processed": result.ProcessedPatients,
		}).Info("Requested cohort run finished")
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"cohort":     name,
		"status":     "accepted",
		"request_id": requestID,
		"progress":   "/ws/progress",
	})
}

func (s *Server) handleGeneStatistics(c *gin.Context) {
	gene := c.Param("gene")
	stats, err := s.deps.Statistics.GeneStatistics(c.Request.Context(), gene, c.Query("cohort"))
	s.deps.Metrics.StatisticsServed("gene", outcome(err))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handlePanelStatistics(c *gin.Context) {
	cohort := c.Query("cohort")
	panel, err := s.deps.Statistics.PanelStatistics(c.Request.Context(), cohort)
	s.deps.Metrics.StatisticsServed("panel", outcome(err))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohort": cohort, "slots": panel})
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.deps.Statistics.ProcessingSummary(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	default:
		return "error"
	}
}

// respondError maps domain errors onto status codes and an APIError body.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.RequestIDKey)

	var (
		status int
		code   string
		msg    string
	)
	var validation *domain.ValidationError
	var formatErr *domain.FormatError
	switch {
	case errors.As(err, &validation):
		status, code, msg = http.StatusBadRequest, domain.ErrCodeInvalidInput, validation.Message
	case errors.Is(err, domain.ErrInvalidGene):
		status, code, msg = http.StatusBadRequest, domain.ErrCodeInvalidInput, "gene symbol is required"
	case errors.Is(err, domain.ErrNotFound):
		status, code, msg = http.StatusNotFound, domain.ErrCodeNotFound, "cohort not found"
	case errors.Is(err, domain.ErrNoData):
		status, code, msg = http.StatusNotFound, domain.ErrCodeNoData, "no data for the requested selection"
	case errors.Is(err, domain.ErrCohortLocked):
		status, code, msg = http.StatusConflict, domain.ErrCodeConflict, "cohort is already being processed"
	case errors.As(err, &formatErr):
		status, code, msg = http.StatusUnprocessableEntity, domain.ErrCodeFormat, "cohort file is not a valid matrix"
	default:
		status, code, msg = http.StatusInternalServerError, domain.ErrCodeInternal, "internal error"
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"path":       c.FullPath(),
			"error":      err.Error(),
		}).Error("Request failed")
	}

	c.JSON(status, domain.NewAPIError(code, msg, err.Error(), requestID))
}
