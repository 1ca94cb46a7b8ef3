// Package repo implements the git-backed working-copy handle handed to
// runners: status, diff, and snapshot/restore over a real worktree.
package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// FileChange is one entry from the working copy's status.
type FileChange struct {
	// Path is relative to the repository root.
	Path string
	// Status is git's two-character porcelain code (e.g. " M", "??").
	Status string
}

// SnapshotID identifies a point-in-time snapshot of the working copy.
type SnapshotID string

// GitContext is a mutable working copy backed by a git worktree. It is
// mutated only by the currently executing runner; the planner itself only
// reads from it.
type GitContext struct {
	root   string
	logger *slog.Logger
}

// NewGitContext opens the worktree rooted at root. It fails if root is
// not inside a git repository.
func NewGitContext(ctx context.Context, root string, logger *slog.Logger) (*GitContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("repo: resolve root: %w", err)
	}
	g := &GitContext{root: abs, logger: logger}
	if _, err := g.git(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("repo: %s is not a git worktree: %w", abs, err)
	}
	return g, nil
}

// Root returns the absolute path to the working copy.
func (g *GitContext) Root() string { return g.root }

// Status lists changed files in the working copy.
func (g *GitContext) Status(ctx context.Context) ([]FileChange, error) {
	out, err := g.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		changes = append(changes, FileChange{
			Status: line[:2],
			Path:   strings.TrimSpace(line[3:]),
		})
	}
	return changes, nil
}

// Diff returns the unified diff of the working copy, optionally limited to
// the given paths (each validated to stay inside the worktree).
func (g *GitContext) Diff(ctx context.Context, paths ...string) (string, error) {
	args := []string{"diff"}
	if len(paths) > 0 {
		args = append(args, "--")
		for _, p := range paths {
			if err := g.validatePath(p); err != nil {
				return "", err
			}
			args = append(args, p)
		}
	}
	return g.git(ctx, args...)
}

// Snapshot captures the current working-copy state without mutating it.
// With no local changes the snapshot is simply HEAD.
func (g *GitContext) Snapshot(ctx context.Context) (SnapshotID, error) {
	out, err := g.git(ctx, "stash", "create", "codeplanner snapshot")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(out)
	if id == "" {
		head, err := g.git(ctx, "rev-parse", "HEAD")
		if err != nil {
			return "", err
		}
		id = strings.TrimSpace(head)
	}
	g.logger.Debug("snapshot created", "id", id)
	return SnapshotID(id), nil
}

// Restore resets every tracked file to its state in the given snapshot.
func (g *GitContext) Restore(ctx context.Context, id SnapshotID) error {
	if _, err := g.git(ctx, "checkout", string(id), "--", "."); err != nil {
		return err
	}
	g.logger.Debug("snapshot restored", "id", string(id))
	return nil
}

// validatePath rejects empty paths and traversal outside the worktree.
func (g *GitContext) validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("repo: path is required")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("repo: path traversal not allowed")
	}
	abs, err := filepath.Abs(filepath.Join(g.root, filepath.Clean(path)))
	if err != nil {
		return fmt.Errorf("repo: invalid path: %w", err)
	}
	if !strings.HasPrefix(abs, g.root+string(filepath.Separator)) && abs != g.root {
		return fmt.Errorf("repo: path must be within %s", g.root)
	}
	return nil
}

func (g *GitContext) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("repo: git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
