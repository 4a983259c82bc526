package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tcga-expression-pipeline/internal/app"
	"github.com/tcga-expression-pipeline/internal/config"
	"github.com/tcga-expression-pipeline/internal/database"
	"github.com/tcga-expression-pipeline/internal/domain"
	"github.com/tcga-expression-pipeline/internal/repository"
	"github.com/tcga-expression-pipeline/internal/service"
)

const Version = "0.1.0"

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "TCGA gene-expression ingestion and statistics",
		Long: `pipeline ingests tab-separated TCGA expression matrices into the record
store, drives registered cohorts through download and ingestion, and
summarizes stored expression values.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		ingestCmd(flags),
		validateCmd(flags),
		statsCmd(flags),
		processCmd(flags),
		migrateCmd(flags),
		cohortsCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pipeline version %s\n", Version)
			},
		},
	)
	return cmd
}

func loadConfig(flags *globalFlags) (*config.Manager, *logrus.Logger, error) {
	var opts []config.Option
	if flags.configPath != "" {
		opts = append(opts, config.WithConfigFile(flags.configPath))
	}
	manager, err := config.NewManager(opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := manager.GetConfig().Logging
	logCfg.Output = "stderr"
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	logger, err := config.NewLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return manager, logger, nil
}

func openPipeline(ctx context.Context, flags *globalFlags) (*app.App, error) {
	manager, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, manager.GetConfig(), logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCmd(flags *globalFlags) *cobra.Command {
	var cohort string

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest one expression matrix file into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Ingestion.IngestFile(ctx, cohort, args[0])
			if err != nil {
				return err
			}
			if err := a.Ingestion.RecordResult(ctx, result); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("ingestion of %s failed: %s", args[0], result.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cohort, "cohort", "", "Cohort the records belong to")
	_ = cmd.MarkFlagRequired("cohort")
	return cmd
}

func validateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a file looks like an expression matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			scratch := service.NewScratchDir(afero.NewOsFs(), "", logger)
			svc := service.NewIngestionService(nil, nil, nil, scratch, *manager.GetIngestionConfig(), logger)
			if err := svc.ValidateFormat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}
}

func statsCmd(flags *globalFlags) *cobra.Command {
	var (
		cohort string
		panel  bool
	)

	cmd := &cobra.Command{
		Use:   "stats [GENE]",
		Short: "Summarize stored expression values of a gene or of the panel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !panel && len(args) == 0 {
				return errors.New("a gene is required unless --panel is set")
			}
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if panel {
				slots, err := a.Statistics.PanelStatistics(ctx, cohort)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), slots)
			}
			stats, err := a.Statistics.GeneStatistics(ctx, args[0], cohort)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().StringVar(&cohort, "cohort", "", "Restrict to one cohort")
	cmd.Flags().BoolVar(&panel, "panel", false, "Summarize every panel slot instead of one gene")
	return cmd
}

func processCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "process [COHORT]",
		Short: "Download and ingest one registered cohort, or every pending one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Ingestion.RegisterCohorts(ctx, service.CohortsFromSeeds(a.Config.Cohorts)); err != nil {
				return err
			}

			if len(args) == 1 {
				result, err := a.Ingestion.ProcessCohort(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !result.Success {
					return fmt.Errorf("cohort %s failed: %s", args[0], result.ErrorMessage)
				}
				return nil
			}

			reports, allOK, err := a.Ingestion.ProcessAllCohorts(ctx)
			if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil && err == nil {
				err = perr
			}
			if err != nil {
				return err
			}
			if !allOK {
				return errors.New("one or more cohorts failed")
			}
			return nil
		},
	}
}

func migrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back Postgres schema migrations",
	}

	runner := func() (*database.MigrationRunner, error) {
		manager, logger, err := loadConfig(flags)
		if err != nil {
			return nil, err
		}
		return database.NewMigrationRunner(manager.GetDatabaseURL(), manager.GetDatabaseConfig().MigrationsPath, logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mr, err := runner()
			if err != nil {
				return err
			}
			defer mr.Close()
			return mr.Up(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [STEPS]",
		Short: "Roll back STEPS migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			mr, err := runner()
			if err != nil {
				return err
			}
			defer mr.Close()
			return mr.Down(cmd.Context(), steps)
		},
	})
	return cmd
}

func cohortsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohorts",
		Short: "Inspect and move the cohort catalogue",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered cohorts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var cohorts []*domain.CancerCohort
			if status != "" {
				s, err := domain.ParseCohortStatus(status)
				if err != nil {
					return err
				}
				cohorts, err = a.Cohorts.ListByStatus(ctx, s)
				if err != nil {
					return err
				}
			} else if cohorts, err = a.Cohorts.List(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cohorts)
		},
	}
	list.Flags().StringVar(&status, "status", "", "Only cohorts in this status")

	export := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the cohort catalogue as JSON (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return repository.ExportCohorts(ctx, a.Cohorts, w)
		},
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Insert cohorts from an exported catalogue, skipping known names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openPipeline(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			imported, skipped, err := repository.ImportCohorts(ctx, a.Cohorts, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d cohorts, skipped %d\n", imported, skipped)
			return nil
		},
	}

	cmd.AddCommand(list, export, importCmd)
	return cmd
}
