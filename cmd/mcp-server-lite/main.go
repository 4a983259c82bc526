// Package main provides the lightweight MCP entry point for the TCGA
// expression pipeline. It needs no external services: cohorts and records
// live in a SQLite file under the data directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tcga-expression-pipeline/internal/config"
	"github.com/tcga-expression-pipeline/internal/mcp"
	"github.com/tcga-expression-pipeline/internal/setup"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mcp-server-lite",
		Short:        "Serve TCGA expression statistics over MCP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(setupCmd())
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.LoadLiteConfig()

	server, err := mcp.NewLiteServer(cfg)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}

func setupCmd() *cobra.Command {
	var configPath string

	resolve := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return setup.DefaultConfigPath()
	}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register this server with a desktop MCP client",
	}
	cmd.PersistentFlags().StringVar(&configPath, "client-config", "", "Client config file (defaults to the platform location)")

	var opts setup.Options
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or replace the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				if exe, err := os.Executable(); err == nil {
					opts.BinaryPath = exe
				}
			}
			entry, err := setup.Register(path, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", entry.Command, path)
			fmt.Fprintln(cmd.OutOrStdout(), "Restart the client to pick up the change.")
			return nil
		},
	}
	register.Flags().StringVar(&opts.BinaryPath, "binary", "", "Server binary (defaults to this executable, then a PATH lookup)")
	register.Flags().StringVar(&opts.DataDir, "data-dir", "", "Data directory passed as TCGA_DATA_DIR")
	register.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level passed as TCGA_LOG_LEVEL")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			st, err := setup.GetStatus(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config:     %s\n", st.ConfigPath)
			fmt.Fprintf(out, "Registered: %t\n", st.Registered)
			if st.Registered {
				fmt.Fprintf(out, "Command:    %s\n", st.Entry.Command)
			}
			for _, issue := range st.Issues {
				fmt.Fprintf(out, "  ! %s\n", issue)
			}
			return nil
		},
	}

	unregister := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			removed, err := setup.Unregister(path)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Server entry removed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Server was not registered")
			}
			return nil
		},
	}

	cmd.AddCommand(register, status, unregister)
	return cmd
}
