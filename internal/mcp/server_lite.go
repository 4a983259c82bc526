// Package mcp provides the MCP server implementation.
// This file contains the lightweight server that requires no external databases.
package mcp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	litecfg "github.com/tcga-expression-pipeline/internal/config"
	"github.com/tcga-expression-pipeline/internal/repository"
	"github.com/tcga-expression-pipeline/internal/service"
)

// LiteServer is a lightweight MCP server that requires no external databases.
// It reads records and cohorts from the SQLite file under the data directory.
type LiteServer struct {
	config *litecfg.LiteConfig
	tools  *ToolServer
	store  *repository.SQLiteStore
	logger *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithStore sets a custom SQLite store.
func WithStore(store *repository.SQLiteStore) LiteServerOption {
	return func(s *LiteServer) error {
		s.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{config: cfg}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.logger == nil {
		logger, err := litecfg.NewLogger(cfg.LoggingConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		server.logger = logger
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.store == nil {
		store, err := repository.NewSQLiteStore(cfg.DatabasePath(), server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		server.store = store
	}

	cohorts, err := repository.NewCachedCohortStore(server.store, cfg.CohortCacheLen, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cohort cache: %w", err)
	}

	statistics := service.NewStatisticsService(server.store, cohorts, server.logger)
	server.tools = NewToolServer(statistics, cohorts, nil, server.logger)

	server.logger.WithField("data_dir", cfg.DataDir).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP on the configured transport until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	switch s.config.Transport {
	case "http":
		return s.tools.RunHTTP(ctx, fmt.Sprintf(":%d", s.config.HTTPPort))
	case "", "stdio":
		return s.tools.RunStdio(ctx)
	default:
		return fmt.Errorf("unsupported transport: %s", s.config.Transport)
	}
}

// Tools returns the tool server, mainly for tests.
func (s *LiteServer) Tools() *ToolServer {
	return s.tools
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close record store")
			return err
		}
	}
	return nil
}
