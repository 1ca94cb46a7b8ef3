// Package runner provides the concrete task runners the planner
// dispatches to: a local shell-command runner for deterministic fixers,
// and a NATS-dispatched runner that hands tasks to a remote worker.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/codeplanner/task"
)

// ShellFix describes how a known rule violation is fixed locally.
type ShellFix struct {
	// Command is the fixer invocation, tokenised without a shell. The
	// violation's details are exported in the environment as
	// CODEPLANNER_FILE, CODEPLANNER_LINE, CODEPLANNER_RULE and
	// CODEPLANNER_MESSAGE.
	Command string

	// Timeout bounds the fixer run. Zero means the runner default.
	Timeout time.Duration
}

// ShellRunner resolves analyzer rule violations by running a configured
// fixer command per rule id in the working copy.
type ShellRunner struct {
	fixes          map[string]ShellFix
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewShellRunner creates a runner over the given rule-id → fix table.
func NewShellRunner(fixes map[string]ShellFix, defaultTimeout time.Duration, logger *slog.Logger) *ShellRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout == 0 {
		defaultTimeout = 2 * time.Minute
	}
	return &ShellRunner{fixes: fixes, defaultTimeout: defaultTimeout, logger: logger}
}

// CanHandleTask reports whether a fixer command is configured for the
// task's rule.
func (r *ShellRunner) CanHandleTask(t task.Task) bool {
	v, ok := t.(*task.AnalyzerRuleViolation)
	if !ok {
		return false
	}
	_, found := r.fixes[v.RuleID]
	return found
}

// ExecuteTask runs the rule's fixer in the working copy. A non-zero exit
// is reported through EncounteredErrors rather than as a hard error, so
// the manager's ErrorPolicy decides what happens to it.
func (r *ShellRunner) ExecuteTask(ctx context.Context, rcm task.RepoContext, t task.Task) (*task.TaskResult, error) {
	v, ok := t.(*task.AnalyzerRuleViolation)
	if !ok {
		return nil, fmt.Errorf("runner: shell runner cannot execute %T", t)
	}
	fix, ok := r.fixes[v.RuleID]
	if !ok {
		return nil, fmt.Errorf("runner: no fix configured for rule %s", v.RuleID)
	}

	timeout := fix.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := splitCommand(fix.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("runner: empty fix command for rule %s", v.RuleID)
	}

	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = rcm.Root()
	cmd.Env = append(os.Environ(),
		"CODEPLANNER_FILE="+v.File,
		"CODEPLANNER_LINE="+strconv.Itoa(v.Line),
		"CODEPLANNER_RULE="+v.RuleID,
		"CODEPLANNER_MESSAGE="+v.Message,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running fix command", "rule", v.RuleID, "file", v.File)
	runErr := cmd.Run()

	result := &task.TaskResult{}
	if runErr != nil {
		r.logger.Warn("fix command failed", "rule", v.RuleID, "stderr", stderr.String())
		result.EncounteredErrors = append(result.EncounteredErrors,
			fmt.Errorf("runner: fix for rule %s failed: %w: %s", v.RuleID, runErr, strings.TrimSpace(stderr.String())))
		return result, nil
	}

	result.ModifiedFiles = []string{v.File}
	return result, nil
}

// splitCommand performs minimal whitespace-based tokenisation of a command
// string, preserving single- and double-quoted tokens. It does not support
// escape sequences or nested quoting; complex commands should be wrapped
// in a shell invocation (e.g. "sh -c '...'").
func splitCommand(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingle := false
	inDouble := false

	for _, r := range cmd {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == ' ' && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
