// Package config provides configuration loading and management for the
// code planner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete planner configuration.
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Planner  PlannerConfig  `yaml:"planner"`
	Runners  RunnersConfig  `yaml:"runners"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RepoConfig configures the working copy the planner operates on.
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
	// WatchExtensions are the file extensions the repo watcher observes
	// for concurrent external edits (default: .java, .xml, .properties)
	WatchExtensions []string `yaml:"watch_extensions"`
}

// AnalyzerConfig configures the external analyzer process.
type AnalyzerConfig struct {
	// ServerBinary is the analyzer JSON-RPC server executable
	ServerBinary string `yaml:"server_binary"`
	// RulesDirectory holds the rule definitions to evaluate
	RulesDirectory string `yaml:"rules_directory"`
	// LSPServerPath is the language server the analyzer delegates to
	LSPServerPath string `yaml:"lsp_server_path"`
	// JavaBundlePath is the analyzer's Java bundle archive
	JavaBundlePath string `yaml:"java_bundle_path"`
	// DepOpenSourceLabelsFile is optional dependency labelling input
	DepOpenSourceLabelsFile string `yaml:"dep_open_source_labels_file"`
	// LogFile is the analyzer's own log file (default: ./kai-analyzer.log)
	LogFile string `yaml:"log_file"`
	// LabelSelector scopes which rules are evaluated
	LabelSelector string `yaml:"label_selector"`
	// IncludeGlobs optionally restricts which incident files become tasks
	IncludeGlobs []string `yaml:"include_globs"`
	// RequestTimeout bounds one analysis call (default: 4m)
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PlannerConfig bounds the reactive loop.
type PlannerConfig struct {
	// MaxRetries is the retry budget per task (default: 3)
	MaxRetries int `yaml:"max_retries"`
	// MaxIterations caps the number of dispatched tasks; nil = unbounded
	MaxIterations *int `yaml:"max_iterations"`
	// MaxPriority stops the loop at the first task with a larger
	// priority number; nil = unbounded
	MaxPriority *int `yaml:"max_priority"`
	// MaxDepth terminates the loop when no queued task is at or above
	// this depth; nil = unbounded
	MaxDepth *int `yaml:"max_depth"`
	// RetryOnRunnerErrors switches runner-error handling from failing
	// the loop to the per-task retry accounting
	RetryOnRunnerErrors bool `yaml:"retry_on_runner_errors"`
}

// RunnersConfig configures the task runners.
type RunnersConfig struct {
	// ShellFixes maps rule ids to local fixer commands
	ShellFixes map[string]ShellFixConfig `yaml:"shell_fixes"`
	// ShellTimeout bounds one local fix (default: 2m)
	ShellTimeout time.Duration `yaml:"shell_timeout"`
	// RemoteSubject is the NATS subject remote workers listen on
	RemoteSubject string `yaml:"remote_subject"`
	// RemoteTimeout bounds one remote execution (default: 10m)
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// ShellFixConfig is one local fixer command.
type ShellFixConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection for remote runners.
type NATSConfig struct {
	// URL is the NATS server URL (empty = remote runner disabled)
	URL string `yaml:"url"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr is the address the /metrics endpoint binds to
	// (empty = metrics endpoint disabled)
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:            "", // Auto-detect
			WatchExtensions: []string{".java", ".xml", ".properties"},
		},
		Analyzer: AnalyzerConfig{
			LogFile:        "./kai-analyzer.log",
			LabelSelector:  "konveyor.io/target=quarkus konveyor.io/target=jakarta-ee",
			RequestTimeout: 4 * time.Minute,
		},
		Planner: PlannerConfig{
			MaxRetries: 3,
		},
		Runners: RunnersConfig{
			ShellTimeout:  2 * time.Minute,
			RemoteSubject: "codeplanner.runner.execute",
			RemoteTimeout: 10 * time.Minute,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Analyzer.ServerBinary == "" {
		return fmt.Errorf("analyzer.server_binary is required")
	}
	if c.Analyzer.RulesDirectory == "" {
		return fmt.Errorf("analyzer.rules_directory is required")
	}
	if c.Analyzer.RequestTimeout <= 0 {
		return fmt.Errorf("analyzer.request_timeout must be positive")
	}
	if c.Planner.MaxRetries < 0 {
		return fmt.Errorf("planner.max_retries must be non-negative")
	}
	if c.Planner.MaxPriority != nil && *c.Planner.MaxPriority < 0 {
		return fmt.Errorf("planner.max_priority must be non-negative")
	}
	if c.Planner.MaxDepth != nil && *c.Planner.MaxDepth < 0 {
		return fmt.Errorf("planner.max_depth must be non-negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}
	if len(other.Repo.WatchExtensions) > 0 {
		c.Repo.WatchExtensions = other.Repo.WatchExtensions
	}

	// Analyzer
	if other.Analyzer.ServerBinary != "" {
		c.Analyzer.ServerBinary = other.Analyzer.ServerBinary
	}
	if other.Analyzer.RulesDirectory != "" {
		c.Analyzer.RulesDirectory = other.Analyzer.RulesDirectory
	}
	if other.Analyzer.LSPServerPath != "" {
		c.Analyzer.LSPServerPath = other.Analyzer.LSPServerPath
	}
	if other.Analyzer.JavaBundlePath != "" {
		c.Analyzer.JavaBundlePath = other.Analyzer.JavaBundlePath
	}
	if other.Analyzer.DepOpenSourceLabelsFile != "" {
		c.Analyzer.DepOpenSourceLabelsFile = other.Analyzer.DepOpenSourceLabelsFile
	}
	if other.Analyzer.LogFile != "" {
		c.Analyzer.LogFile = other.Analyzer.LogFile
	}
	if other.Analyzer.LabelSelector != "" {
		c.Analyzer.LabelSelector = other.Analyzer.LabelSelector
	}
	if len(other.Analyzer.IncludeGlobs) > 0 {
		c.Analyzer.IncludeGlobs = other.Analyzer.IncludeGlobs
	}
	if other.Analyzer.RequestTimeout != 0 {
		c.Analyzer.RequestTimeout = other.Analyzer.RequestTimeout
	}

	// Planner
	if other.Planner.MaxRetries != 0 {
		c.Planner.MaxRetries = other.Planner.MaxRetries
	}
	if other.Planner.MaxIterations != nil {
		c.Planner.MaxIterations = other.Planner.MaxIterations
	}
	if other.Planner.MaxPriority != nil {
		c.Planner.MaxPriority = other.Planner.MaxPriority
	}
	if other.Planner.MaxDepth != nil {
		c.Planner.MaxDepth = other.Planner.MaxDepth
	}
	if other.Planner.RetryOnRunnerErrors {
		c.Planner.RetryOnRunnerErrors = true
	}

	// Runners
	if len(other.Runners.ShellFixes) > 0 {
		c.Runners.ShellFixes = other.Runners.ShellFixes
	}
	if other.Runners.ShellTimeout != 0 {
		c.Runners.ShellTimeout = other.Runners.ShellTimeout
	}
	if other.Runners.RemoteSubject != "" {
		c.Runners.RemoteSubject = other.Runners.RemoteSubject
	}
	if other.Runners.RemoteTimeout != 0 {
		c.Runners.RemoteTimeout = other.Runners.RemoteTimeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Metrics
	if other.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = other.Metrics.ListenAddr
	}
}
