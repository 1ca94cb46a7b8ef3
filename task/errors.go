package task

import "errors"

// ErrNoAgent is returned by Manager.ExecuteTask when no registered runner's
// CanHandleTask matches the task.
var ErrNoAgent = errors.New("task: no agent available for this task")

// ErrUnhandledRunnerError is returned by Manager.SupplyResult under the
// default FailFast error policy when a runner reports non-empty
// EncounteredErrors.
var ErrUnhandledRunnerError = errors.New("task: runner reported unhandled errors")
