package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tcga-expression-pipeline/internal/api"
	"github.com/tcga-expression-pipeline/internal/app"
	"github.com/tcga-expression-pipeline/internal/config"
)

func main() {
	var opts []config.Option
	if path := os.Getenv("TCGA_CONFIG_FILE"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}

	configManager, err := config.NewManager(opts...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewProgressHub(logger, cfg.Server.AllowedOrigins)
	pipeline, err := app.New(ctx, cfg, logger, app.WithObserver(hub), app.WithAutoMigrate())
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("Failed to initialize pipeline")
	}
	defer pipeline.Close()

	server := api.NewServer(cfg.Server, api.Dependencies{
		Cohorts:     pipeline.Cohorts,
		Records:     pipeline.Records,
		Statistics:  pipeline.Statistics,
		Processor:   pipeline.Ingestion,
		Hub:         hub,
		Metrics:     pipeline.Metrics,
		HealthCheck: pipeline.HealthCheck,
	}, logger)

	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting TCGA expression pipeline server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return pipeline.Scheduler.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.WithField("error", err.Error()).Error("Server stopped with error")
		pipeline.Close()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
