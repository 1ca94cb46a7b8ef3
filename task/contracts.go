package task

import "context"

// RepoContext is an opaque handle to a mutable working copy of the
// repository. The task manager never inspects it beyond passing it to the
// selected runner; concrete implementations (see package repo) back it
// with a real git worktree.
type RepoContext interface {
	// Root returns the absolute path to the working copy.
	Root() string
}

// Validator inspects the working copy and returns defect tasks. Concrete
// validators (see package analyzer) wrap an external static-analysis
// process; a validator may optionally implement Stopper.
type Validator interface {
	Run(ctx context.Context) (*ValidationResult, error)
}

// Runner attempts to resolve a task by mutating the working copy. A
// runner may optionally implement Stopper.
type Runner interface {
	CanHandleTask(t Task) bool
	ExecuteTask(ctx context.Context, rcm RepoContext, t Task) (*TaskResult, error)
}
