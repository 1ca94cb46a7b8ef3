package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/codeplanner/analyzer"
	"github.com/c360studio/codeplanner/config"
	"github.com/c360studio/codeplanner/metrics"
	"github.com/c360studio/codeplanner/repo"
	"github.com/c360studio/codeplanner/runner"
	"github.com/c360studio/codeplanner/task"
	"github.com/c360studio/codeplanner/watcher"
)

// App wires the planner together: repo context, analyzer supervisor,
// validator, runners, watcher, metrics, and the task manager.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	rcm        *repo.GitContext
	supervisor *analyzer.Supervisor
	manager    *task.Manager
	watch      *watcher.Watcher
	metrics    *metrics.Metrics
	natsConn   *nats.Conn
	metricsSrv *http.Server
}

// NewApp builds the application from configuration. Components that hold
// resources are started here; Run drives the loop and Stop releases them.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	app.metrics = metrics.New(reg)

	ctx := context.Background()
	rcm, err := repo.NewGitContext(ctx, cfg.Repo.Path, logger)
	if err != nil {
		return nil, err
	}
	app.rcm = rcm

	sup, err := analyzer.Start(analyzer.Config{
		ServerBinary:            cfg.Analyzer.ServerBinary,
		SourceDirectory:         rcm.Root(),
		RulesDirectory:          cfg.Analyzer.RulesDirectory,
		LSPServerPath:           cfg.Analyzer.LSPServerPath,
		JavaBundlePath:          cfg.Analyzer.JavaBundlePath,
		DepOpenSourceLabelsFile: cfg.Analyzer.DepOpenSourceLabelsFile,
		LogFile:                 cfg.Analyzer.LogFile,
		RequestTimeout:          cfg.Analyzer.RequestTimeout,
	}, analyzer.SupervisorOptions{Logger: logger, Observer: app.metrics})
	if err != nil {
		return nil, err
	}
	app.supervisor = sup

	validator := analyzer.NewRuleValidator(sup, analyzer.ValidatorOptions{
		LabelSelector: cfg.Analyzer.LabelSelector,
		IncludeGlobs:  cfg.Analyzer.IncludeGlobs,
		MaxRetries:    cfg.Planner.MaxRetries,
		Logger:        logger,
	})

	agents, err := app.buildRunners()
	if err != nil {
		sup.Stop()
		return nil, err
	}

	managerOpts := task.ManagerOptions{Logger: logger, Metrics: app.metrics}
	if cfg.Planner.RetryOnRunnerErrors {
		managerOpts.ErrorPolicy = task.RetryOnErrorPolicy
	}
	app.manager = task.NewManager(rcm, []task.Validator{validator}, agents, nil, managerOpts)

	w, err := watcher.New(watcher.Config{
		RepoRoot:       rcm.Root(),
		FileExtensions: cfg.Repo.WatchExtensions,
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("repo watcher disabled", "error", err)
	} else {
		app.watch = w
	}

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		app.metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := app.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.ListenAddr)
	}

	return app, nil
}

// buildRunners registers the shell runner first (specific fixes win) and
// the NATS-backed remote runner as the catch-all when configured.
func (a *App) buildRunners() ([]task.Runner, error) {
	var agents []task.Runner

	if len(a.cfg.Runners.ShellFixes) > 0 {
		fixes := make(map[string]runner.ShellFix, len(a.cfg.Runners.ShellFixes))
		for rule, fix := range a.cfg.Runners.ShellFixes {
			fixes[rule] = runner.ShellFix{Command: fix.Command, Timeout: fix.Timeout}
		}
		agents = append(agents, runner.NewShellRunner(fixes, a.cfg.Runners.ShellTimeout, a.logger))
	}

	if a.cfg.NATS.URL != "" {
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("codeplanner"))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
		agents = append(agents, runner.NewNATSRunner(conn, runner.NATSRunnerOptions{
			Subject: a.cfg.Runners.RemoteSubject,
			Timeout: a.cfg.Runners.RemoteTimeout,
			Logger:  a.logger,
		}))
	}

	if len(agents) == 0 {
		return nil, fmt.Errorf("no runners configured: set runners.shell_fixes or nats.url")
	}
	return agents, nil
}

// Run drives the reactive loop until the plan completes, a budget runs
// out, or the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting planning loop", "repo", a.rcm.Root())
	start := time.Now()

	seq := a.manager.NextTasks(task.NextOptions{
		MaxPriority:   a.cfg.Planner.MaxPriority,
		MaxIterations: a.cfg.Planner.MaxIterations,
		MaxDepth:      a.cfg.Planner.MaxDepth,
	})

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("planning loop cancelled")
			return err
		}

		if a.watch != nil {
			if dirty := a.watch.DrainDirty(); len(dirty) > 0 {
				a.logger.Info("external edits detected", "files", len(dirty))
				a.metrics.IncWatcherEvents()
				a.manager.MarkValidatorsStale()
			}
		}

		t, ok, err := seq.Next(ctx)
		if err != nil {
			return fmt.Errorf("planning loop: %w", err)
		}
		if !ok {
			break
		}

		result, err := a.manager.ExecuteTask(ctx, t)
		if err != nil {
			return fmt.Errorf("execute task: %w", err)
		}
		if err := a.manager.SupplyResult(t, result); err != nil {
			return fmt.Errorf("supply result: %w", err)
		}
	}

	a.logger.Info("planning loop finished",
		"processed", len(a.manager.ProcessedTasks()),
		"ignored", len(a.manager.IgnoredTasks()),
		"queued", a.manager.QueueLen(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Stop releases every component. Safe to call after a partial startup.
func (a *App) Stop() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if a.watch != nil {
		_ = a.watch.Close()
	}
	if a.manager != nil {
		if err := a.manager.Stop(); err != nil {
			a.logger.Warn("stopping task manager", "error", err)
		}
	}
	if a.supervisor != nil {
		if err := a.supervisor.Stop(); err != nil {
			a.logger.Warn("stopping analyzer", "error", err)
		}
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
}
