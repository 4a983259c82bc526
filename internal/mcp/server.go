package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/metrics"
	"github.com/tcga-expression-pipeline/internal/service"
)

const (
	ServerName    = "tcga-expression-pipeline"
	ServerVersion = "v0.1.0"
)

// ToolServer exposes the statistics engine and the cohort catalogue as MCP tools.
type ToolServer struct {
	mcpServer  *mcp.Server
	statistics *service.StatisticsService
	cohorts    domain.CohortStore
	metrics    *metrics.Collector
	logger     *logrus.Logger
}

// NewToolServer creates the MCP server and registers every tool.
func NewToolServer(statistics *service.StatisticsService, cohorts domain.CohortStore, collector *metrics.Collector, logger *logrus.Logger) *ToolServer {
	s := &ToolServer{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		}, nil),
		statistics: statistics,
		cohorts:    cohorts,
		metrics:    collector,
		logger:     logger,
	}
	s.registerTools()
	return s
}

func (s *ToolServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "gene_statistics",
		Description: "Descriptive statistics (count, mean, median, quartiles, population std dev, min, max) of one gene's expression, optionally within one cohort.",
	}, s.handleGeneStatistics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "panel_statistics",
		Description: "Statistics for each of the 13 cGAS-STING pathway panel genes, optionally within one cohort.",
	}, s.handlePanelStatistics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_cohorts",
		Description: "List registered cancer cohorts with their processing status and patient counts.",
	}, s.handleListCohorts)

	s.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}

// Server returns the underlying SDK server.
func (s *ToolServer) Server() *mcp.Server {
	return s.mcpServer
}

// RunStdio serves a single client over stdin/stdout until ctx is done.
func (s *ToolServer) RunStdio(ctx context.Context) error {
	s.logger.Info("Serving MCP over stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is done.
func (s *ToolServer) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("Serving MCP over HTTP")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("MCP HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
