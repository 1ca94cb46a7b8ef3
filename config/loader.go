package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "codeplanner.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/codeplanner"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvPrefix is the prefix of the environment variables that override
	// individual settings after all files are merged
	EnvPrefix = "CODEPLANNER_"
)

// layer is one configuration source, applied in slice order so later
// layers win.
type layer struct {
	name string
	path string
}

// Load resolves the effective configuration for a planner run started in
// startDir. Precedence, lowest first: compiled-in defaults, the user
// file, the nearest project file at or above startDir, then CODEPLANNER_*
// environment variables. A missing file is skipped; an unreadable or
// malformed one is an error — a half-applied config layer is worse than
// none.
func Load(startDir string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultConfig()
	for _, l := range layers(startDir) {
		over, err := LoadFromFile(l.path)
		switch {
		case err == nil:
			logger.Debug("applying config layer", slog.String("layer", l.name), slog.String("path", l.path))
			cfg.Merge(over)
		case os.IsNotExist(err):
			logger.Debug("config layer absent", slog.String("layer", l.name), slog.String("path", l.path))
		default:
			return nil, fmt.Errorf("load %s config %s: %w", l.name, l.path, err)
		}
	}

	applyEnvOverrides(cfg, logger)

	if cfg.Repo.Path == "" {
		cfg.Repo.Path = detectRepoRoot(startDir)
		logger.Debug("repo path resolved", slog.String("path", cfg.Repo.Path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// layers returns the file layers that apply to a run started in
// startDir: the user config, then the nearest project config found by
// walking from startDir toward the filesystem root.
func layers(startDir string) []layer {
	var out []layer
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, layer{
			name: "user",
			path: filepath.Join(home, UserConfigDir, UserConfigFile),
		})
	}
	if project := nearestProjectConfig(startDir); project != "" {
		out = append(out, layer{name: "project", path: project})
	}
	return out
}

// nearestProjectConfig walks from dir toward the root and returns the
// first codeplanner.yaml it finds, or "" when there is none.
func nearestProjectConfig(dir string) string {
	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnvOverrides lets a handful of deploy-time settings be injected
// without editing any file, CI-style.
func applyEnvOverrides(cfg *Config, logger *slog.Logger) {
	overrides := []struct {
		key   string
		apply func(string)
	}{
		{"REPO", func(v string) { cfg.Repo.Path = v }},
		{"NATS_URL", func(v string) { cfg.NATS.URL = v }},
		{"METRICS_ADDR", func(v string) { cfg.Metrics.ListenAddr = v }},
		{"LABEL_SELECTOR", func(v string) { cfg.Analyzer.LabelSelector = v }},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(EnvPrefix + o.key); ok && v != "" {
			o.apply(v)
			logger.Debug("applying env override", slog.String("var", EnvPrefix+o.key))
		}
	}
}

// detectRepoRoot asks git for the toplevel containing startDir, falling
// back to startDir itself outside a repository.
func detectRepoRoot(startDir string) string {
	cmd := exec.Command("git", "-C", startDir, "rev-parse", "--show-toplevel")
	if out, err := cmd.Output(); err == nil {
		if root := strings.TrimSpace(string(out)); root != "" {
			return root
		}
	}
	return startDir
}
