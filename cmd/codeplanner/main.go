// Package main implements the codeplanner CLI - a reactive code planner
// that drives static-analysis validators and defect-fixing runners over a
// working copy until it comes back clean.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/codeplanner/config"
)

// Build information (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		repoPath string
		natsURL  string
		verbose  bool
	)

	rootCmd := &cobra.Command{
		Use:     "codeplanner",
		Short:   "Reactive code planner",
		Long:    `Codeplanner repeatedly analyzes a working copy, turns each reported defect into a task, dispatches tasks to fixing runners, and re-analyzes until the repository is clean or its budgets run out.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reactive planning loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanner(cmd.Context(), repoPath, natsURL, verbose)
		},
	}
	runCmd.Flags().StringVar(&repoPath, "repo", "", "Path to the working copy (default: auto-detected git root)")
	runCmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL for the remote runner")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(runCmd)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func runPlanner(ctx context.Context, repoPath, natsURL string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	cfg, err := config.Load(cwd, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if repoPath != "" {
		cfg.Repo.Path = repoPath
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Stop()

	return app.Run(ctx)
}
