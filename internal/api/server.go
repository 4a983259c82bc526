package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/metrics"
	"github.com/tcga-expression-pipeline/internal/middleware"
	"github.com/tcga-expression-pipeline/internal/service"
)

// CohortProcessor runs one cohort through the ingestion pipeline.
type CohortProcessor interface {
	ProcessCohort(ctx context.Context, cohortName string) (*domain.CohortProcessingResult, error)
}

// Dependencies are the collaborators the HTTP surface reads from.
type Dependencies struct {
	Cohorts    domain.CohortStore
	Records    domain.RecordReader
	Statistics *service.StatisticsService
	Processor  CohortProcessor
	Hub        *ProgressHub
	Metrics    *metrics.Collector
	// HealthCheck, when set, is called by /health.
	HealthCheck func(ctx context.Context) error
	// ProcessRate bounds POST /cohorts/:name/process; zero means one per second.
	ProcessRate  rate.Limit
	ProcessBurst int
}

// Server represents the HTTP server
type Server struct {
	config  domain.ServerConfig
	deps    Dependencies
	router  *gin.Engine
	server  *http.Server
	logger  *logrus.Logger
	baseCtx context.Context
	jobs    sync.WaitGroup
	started time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(config domain.ServerConfig, deps Dependencies, logger *logrus.Logger) *Server {
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Hub == nil {
		deps.Hub = NewProgressHub(logger, config.AllowedOrigins)
	}
	if deps.ProcessRate == 0 {
		deps.ProcessRate = rate.Limit(1)
	}
	if deps.ProcessBurst <= 0 {
		deps.ProcessBurst = 1
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware(config.AllowedOrigins))

	s := &Server{
		config:  config,
		deps:    deps,
		router:  router,
		logger:  logger,
		baseCtx: context.Background(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully and waits
// for accepted processing jobs.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.baseCtx = ctx

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.deps.Hub.Close()
	err := s.server.Shutdown(shutdownCtx)
	s.jobs.Wait()
	return err
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	s.router.GET("/ws/progress", s.deps.Hub.ServeWS)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/cohorts", s.handleListCohorts)
		v1.GET("/cohorts/:name", s.handleGetCohort)
		v1.GET("/cohorts/:name/patients", s.handleCohortPatients)
		v1.POST("/cohorts/:name/process",
			middleware.RateLimit(rate.NewLimiter(s.deps.ProcessRate, s.deps.ProcessBurst)),
			s.handleProcessCohort)

		v1.GET("/statistics/genes/:gene", s.handleGeneStatistics)
		v1.GET("/statistics/panel", s.handlePanelStatistics)
		v1.GET("/summary", s.handleSummary)
	}
}

// corsMiddleware adds CORS headers for requests from allowed origins
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := false
	for _, a := range allowed {
		if a == "*" {
			wildcard = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(allowed, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
