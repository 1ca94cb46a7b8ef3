// Package analyzer owns the external analyzer process: its lifecycle, the
// JSON-RPC conversation with it, and the validator that turns its raw
// findings into tasks.
package analyzer

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/c360studio/codeplanner/jsonrpc"
)

// AnalyzeMethod is the JSON-RPC method served by the analyzer process.
const AnalyzeMethod = "analysis_engine.Analyze"

// Config describes how to launch the analyzer binary. All paths are
// absolute filesystem paths.
type Config struct {
	// ServerBinary is the analyzer JSON-RPC server executable.
	ServerBinary string

	// SourceDirectory is the working copy handed to the analyzer.
	SourceDirectory string

	// RulesDirectory holds the rule definitions to evaluate.
	RulesDirectory string

	// LSPServerPath is the language server the analyzer delegates to.
	LSPServerPath string

	// JavaBundlePath is the analyzer's Java bundle archive.
	JavaBundlePath string

	// DepOpenSourceLabelsFile is optional; when set it is passed through
	// to the analyzer for dependency labelling.
	DepOpenSourceLabelsFile string

	// LogFile is where the analyzer writes its own log. Defaults to
	// ./kai-analyzer.log.
	LogFile string

	// RequestTimeout bounds each Analyze call. Zero means the RPC
	// client's default.
	RequestTimeout time.Duration
}

func (c *Config) args() []string {
	logFile := c.LogFile
	if logFile == "" {
		logFile = "./kai-analyzer.log"
	}
	args := []string{
		"-source-directory", c.SourceDirectory,
		"-rules-directory", c.RulesDirectory,
		"-lspServerPath", c.LSPServerPath,
		"-bundles", c.JavaBundlePath,
		"-log-file", logFile,
	}
	if c.DepOpenSourceLabelsFile != "" {
		args = append(args, "-depOpenSourceLabelsFile", c.DepOpenSourceLabelsFile)
	}
	return args
}

// CallObserver receives the outcome and duration of every Analyze call.
// Implementations live outside this package (see package metrics).
type CallObserver interface {
	ObserveAnalyzeCall(outcome string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveAnalyzeCall(string, time.Duration) {}

// SupervisorOptions configures a Supervisor beyond its launch Config.
type SupervisorOptions struct {
	Logger   *slog.Logger
	Observer CallObserver
}

// Supervisor owns a long-lived analyzer child process: stdin/stdout carry
// JSON-RPC, stderr is drained line-by-line into the logger. If the child
// exits while a request is in flight, that request fails with a transport
// error; the supervisor does not restart the child.
type Supervisor struct {
	cfg      Config
	cmd      *exec.Cmd
	rpc      *jsonrpc.Client
	logger   *slog.Logger
	observer CallObserver

	stderrDone chan struct{}
}

// Start launches the analyzer binary and begins serving Analyze calls.
func Start(cfg Config, opts SupervisorOptions) (*Supervisor, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	cmd := exec.Command(cfg.ServerBinary, cfg.args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("analyzer: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("analyzer: open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("analyzer: open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("analyzer: start %s: %w", cfg.ServerBinary, err)
	}

	s := &Supervisor{
		cfg:        cfg,
		cmd:        cmd,
		logger:     opts.Logger,
		observer:   opts.Observer,
		stderrDone: make(chan struct{}),
	}

	go func() {
		defer close(s.stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Info("analyzer rpc: " + scanner.Text())
		}
	}()

	s.rpc = jsonrpc.NewClient(jsonrpc.NewStream(stdout, stdin), jsonrpc.ClientOptions{
		RequestTimeout: cfg.RequestTimeout,
		Logger:         opts.Logger,
	})
	s.rpc.Start()

	s.logger.Info("analyzer started", "binary", cfg.ServerBinary, "pid", cmd.Process.Pid)
	return s, nil
}

// Analyze issues a single analysis request. The params are a one-element
// positional array carrying the three selectors as named entries.
func (s *Supervisor) Analyze(ctx context.Context, labelSelector string, includedPaths []string, incidentSelector string) (*jsonrpc.Response, error) {
	if includedPaths == nil {
		includedPaths = []string{}
	}
	params := []any{map[string]any{
		"label_selector":    labelSelector,
		"included_paths":    includedPaths,
		"incident_selector": incidentSelector,
	}}

	s.logger.Debug("sending analyze request", "label_selector", labelSelector)
	start := time.Now()
	resp, err := s.rpc.Call(ctx, AnalyzeMethod, params)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case resp == nil || resp.Error != nil:
		outcome = "remote_error"
	}
	s.observer.ObserveAnalyzeCall(outcome, elapsed)

	return resp, err
}

// Stop shuts the child down: stopping the RPC client closes the child's
// stdin, which prompts the analyzer to exit; the stderr drain then sees
// EOF and the final Wait reaps the process.
func (s *Supervisor) Stop() error {
	s.logger.Info("stopping analyzer")
	rpcErr := s.rpc.Stop()
	<-s.stderrDone
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("analyzer: wait for exit: %w", err)
	}
	return rpcErr
}
