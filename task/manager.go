package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// ErrorDecision is the outcome of an ErrorPolicy evaluating a runner's
// reported errors.
type ErrorDecision int

const (
	// ErrorDecisionFail aborts SupplyResult with ErrUnhandledRunnerError.
	ErrorDecisionFail ErrorDecision = iota
	// ErrorDecisionRetry treats the errors as a normal failed attempt:
	// SupplyResult returns nil and the task is left for the next
	// post-processing round to route through handleIgnored as usual.
	ErrorDecisionRetry
)

// ErrorPolicy decides what SupplyResult does when a runner reports
// EncounteredErrors.
type ErrorPolicy func(t Task, errs []error) ErrorDecision

// FailFastPolicy fails the loop on any runner-reported error. This is the
// default.
func FailFastPolicy(Task, []error) ErrorDecision { return ErrorDecisionFail }

// RetryOnErrorPolicy lets runner errors fall through to the normal
// ignore/retry accounting on the next post-processing round.
func RetryOnErrorPolicy(Task, []error) ErrorDecision { return ErrorDecisionRetry }

// MetricsSink receives task-manager lifecycle events. Implementations
// live outside this package (see package metrics) so task stays free of
// a hard Prometheus dependency.
type MetricsSink interface {
	SetQueueDepth(n int)
	IncTasksProcessed()
	IncTasksIgnored()
	IncTaskRetries()
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int)  {}
func (noopMetrics) IncTasksProcessed() {}
func (noopMetrics) IncTasksIgnored()   {}
func (noopMetrics) IncTaskRetries()    {}

// ManagerOptions configures a Manager beyond its required collaborators.
type ManagerOptions struct {
	// ErrorPolicy decides SupplyResult's behaviour on runner errors.
	// Defaults to FailFastPolicy.
	ErrorPolicy ErrorPolicy

	// GraftAllSimilar changes how residual-similar tasks beyond the first
	// are handled during post-processing: when true, every extra task
	// judged similar to the just-executed one is grafted as a child of it
	// even if an equal task is already queued. When false (default) only
	// the first similar match is consumed and the extras fall through the
	// ordinary new-child computation.
	GraftAllSimilar bool

	// Metrics receives lifecycle events; defaults to a no-op sink.
	Metrics MetricsSink

	Logger *slog.Logger
}

func (o *ManagerOptions) setDefaults() {
	if o.ErrorPolicy == nil {
		o.ErrorPolicy = FailFastPolicy
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager is the reactive scheduler. It runs validators, turns their
// findings into queued tasks, hands tasks one at a time to the first
// runner that can handle them, and reconciles queue/processed/ignored
// state after every executed task.
//
// A Manager is single-threaded cooperative: all methods must be called
// from one goroutine, and exactly one task is in flight at a time.
type Manager struct {
	validators []Validator
	agents     []Runner
	queue      *Queue
	processed  map[string]Task // keyed by Task.Key()
	ignored    []Task
	rcm        RepoContext

	unprocessedFiles   []string
	validatorsAreStale bool

	opts ManagerOptions
}

// NewManager constructs a Manager and seeds it with the given tasks, each
// forced to priority 0 / depth 0.
func NewManager(rcm RepoContext, validators []Validator, agents []Runner, seeds []Task, opts ManagerOptions) *Manager {
	opts.setDefaults()
	m := &Manager{
		validators:         validators,
		agents:             agents,
		queue:              NewQueue(),
		processed:          make(map[string]Task),
		rcm:                rcm,
		validatorsAreStale: true,
		opts:               opts,
	}
	for _, t := range seeds {
		t.SetPriority(0)
		t.SetDepth(0)
		m.queue.Push(t)
		m.opts.Logger.Info("seed task added to queue", "task", t.Key())
	}
	m.opts.Metrics.SetQueueDepth(m.queue.Len())
	return m
}

// NextOptions bounds a NextTasks run. A nil field means unbounded.
type NextOptions struct {
	MaxPriority   *int
	MaxIterations *int
	MaxDepth      *int
}

// Sequence is a restartable, single-consumer generator over tasks. The
// consumer calls Next to get a task, acts on it (typically via
// Manager.ExecuteTask + Manager.SupplyResult), then calls Next again —
// which first post-processes the task just yielded before producing the
// next one.
type Sequence struct {
	mgr         *Manager
	opts        NextOptions
	iterations  int
	initialized bool
	pending     Task // task yielded last call, awaiting post-processing
	done        bool
}

// NextTasks returns a Sequence yielding tasks in priority order until the
// queue drains within MaxDepth, MaxIterations is reached, or a popped
// task exceeds MaxPriority.
func (m *Manager) NextTasks(opts NextOptions) *Sequence {
	return &Sequence{mgr: m, opts: opts}
}

// Next advances the sequence. It returns (task, true, nil) when a task is
// yielded, (nil, false, nil) on normal termination, or (nil, false, err)
// if a validator run fails.
func (s *Sequence) Next(ctx context.Context) (Task, bool, error) {
	if s.done {
		return nil, false, nil
	}

	if s.pending != nil {
		t := s.pending
		s.pending = nil
		if err := s.mgr.postProcess(ctx, t); err != nil {
			s.done = true
			return nil, false, err
		}
	}

	if !s.initialized {
		if err := s.mgr.initialize(ctx); err != nil {
			s.done = true
			return nil, false, err
		}
		s.initialized = true
	}

	for {
		if !s.mgr.queue.HasTasksWithinDepth(s.opts.MaxDepth) {
			s.done = true
			return nil, false, nil
		}
		if s.opts.MaxIterations != nil && s.iterations >= *s.opts.MaxIterations {
			s.done = true
			return nil, false, nil
		}
		s.iterations++

		t := s.mgr.queue.Pop()
		s.mgr.opts.Metrics.SetQueueDepth(s.mgr.queue.Len())

		if s.opts.MaxPriority != nil && t.Priority() > *s.opts.MaxPriority {
			s.mgr.queue.Push(t)
			s.mgr.opts.Metrics.SetQueueDepth(s.mgr.queue.Len())
			s.done = true
			return nil, false, nil
		}

		if s.mgr.shouldSkip(t) {
			s.mgr.opts.Logger.Debug("skipping task", "task", t.Key())
			continue
		}

		s.mgr.opts.Logger.Info("yielding task", "task", t.Key())
		s.pending = t
		return t, true, nil
	}
}

// initialize runs every validator once and pushes the resulting tasks.
func (m *Manager) initialize(ctx context.Context) error {
	m.opts.Logger.Info("initializing priority queue")
	newTasks, err := m.runValidators(ctx)
	if err != nil {
		return err
	}
	for _, t := range newTasks {
		m.queue.Push(t)
	}
	m.opts.Metrics.SetQueueDepth(m.queue.Len())
	return nil
}

// runValidators runs every validator and collects their reported defects.
func (m *Manager) runValidators(ctx context.Context) ([]Task, error) {
	var out []Task
	for _, v := range m.validators {
		result, err := v.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("task: run validator: %w", err)
		}
		if !result.Passed {
			out = append(out, result.Errors...)
		}
	}
	m.validatorsAreStale = false
	m.opts.Logger.Info("validators found tasks", "count", len(out))
	return out, nil
}

// MarkValidatorsStale records that the working copy changed outside the
// manager's own dispatch loop (e.g. a concurrent human edit observed by a
// file watcher), so the next validator sweep cannot be skipped.
func (m *Manager) MarkValidatorsStale() {
	m.validatorsAreStale = true
}

// ValidatorsAreStale reports whether the working copy changed since the
// last validator sweep.
func (m *Manager) ValidatorsAreStale() bool {
	return m.validatorsAreStale
}

// ExecuteTask selects an agent via CanHandleTask (first match wins) and
// delegates to it.
func (m *Manager) ExecuteTask(ctx context.Context, t Task) (*TaskResult, error) {
	for _, a := range m.agents {
		if a.CanHandleTask(t) {
			m.opts.Logger.Debug("agent selected for task", "task", t.Key())
			return a.ExecuteTask(ctx, m.rcm, t)
		}
	}
	m.opts.Logger.Error("no agent available for task", "task", t.Key())
	return nil, ErrNoAgent
}

// SupplyResult records a runner's outcome: modified files are marked
// unprocessed (staling the validators), and EncounteredErrors are routed
// through the configured ErrorPolicy.
func (m *Manager) SupplyResult(t Task, result *TaskResult) error {
	m.opts.Logger.Info("supplying result", "task", t.Key())
	for _, f := range result.ModifiedFiles {
		if !containsString(m.unprocessedFiles, f) {
			m.unprocessedFiles = append(m.unprocessedFiles, f)
			m.validatorsAreStale = true
			m.opts.Logger.Debug("file marked as unprocessed", "file", f)
		}
	}
	if len(result.EncounteredErrors) > 0 {
		m.opts.Logger.Warn("encountered errors", "task", t.Key(), "errors", result.EncounteredErrors)
		if m.opts.ErrorPolicy(t, result.EncounteredErrors) == ErrorDecisionFail {
			return fmt.Errorf("%w: %v", ErrUnhandledRunnerError, result.EncounteredErrors)
		}
	}
	return nil
}

// postProcess reconciles queue/processed/ignored state after a yielded
// task has been acted on: re-runs validators, retires indirectly resolved
// tasks, detects a residual occurrence of the executed task, and grafts
// genuinely new findings as children of it.
func (m *Manager) postProcess(ctx context.Context, t Task) error {
	m.opts.Logger.Info("post-processing task", "task", t.Key())

	m.validatorsAreStale = true
	newTasks, err := m.runValidators(ctx)
	if err != nil {
		return err
	}
	newSet := make(map[string]Task, len(newTasks))
	for _, nt := range newTasks {
		newSet[nt.Key()] = nt
	}

	unprocessed := make(map[string]Task, len(newSet))
	for key, nt := range newSet {
		if _, done := m.processed[key]; !done {
			unprocessed[key] = nt
		}
	}

	inQueue := make(map[string]Task)
	for _, qt := range m.queue.AllTasks() {
		inQueue[qt.Key()] = qt
	}

	// Indirect resolution: anything still queued that validators no
	// longer report is resolved without ever being executed.
	for key, qt := range inQueue {
		if _, stillReported := newSet[key]; !stillReported {
			m.queue.Remove(qt)
			delete(inQueue, key)
			m.processed[key] = qt
			m.opts.Metrics.IncTasksProcessed()
			m.opts.Logger.Info("task resolved indirectly", "task", key)
		}
	}

	// Residual-same-defect detection: is the executed task (or a close
	// positional variant of it) still being reported? Keys are sorted so
	// "the first match" is deterministic even though unprocessed is a map.
	var similarKeys []string
	for key, ut := range unprocessed {
		if m.isSimilar(ut, t) {
			similarKeys = append(similarKeys, key)
		}
	}
	sort.Strings(similarKeys)

	extraSimilar := make(map[string]Task)
	if len(similarKeys) > 0 {
		delete(unprocessed, similarKeys[0])
		for _, key := range similarKeys[1:] {
			extraSimilar[key] = unprocessed[key]
		}
		m.opts.Logger.Debug("task still unprocessed after execution", "task", t.Key())
		m.handleIgnored(t)
	} else {
		m.processed[t.Key()] = t
		m.opts.Metrics.IncTasksProcessed()
		m.opts.Logger.Debug("task processed successfully", "task", t.Key())
	}

	newChildren := make(map[string]Task)
	for key, ut := range unprocessed {
		if _, already := inQueue[key]; !already {
			newChildren[key] = ut
		}
	}
	if m.opts.GraftAllSimilar {
		for key, ut := range extraSimilar {
			newChildren[key] = ut
		}
	}

	children := make([]Task, 0, len(newChildren))
	for _, c := range newChildren {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Less(children[j]) })

	for _, c := range children {
		c.SetParent(t)
		c.SetDepth(t.Depth() + 1)
		c.SetPriority(t.Priority())
		t.AddChild(c)
		m.queue.Push(c)
	}
	m.opts.Metrics.SetQueueDepth(m.queue.Len())

	return nil
}

// isSimilar reports whether a freshly reported task describes the same
// defect as the just-executed one: strict equality, or fuzzy equality
// with a small line-number tolerance when the task supports it.
func (m *Manager) isSimilar(fresh, executed Task) bool {
	if executed == nil {
		return false
	}
	if fresh.Equal(executed) {
		return true
	}
	if ft, ok := fresh.(FuzzyTask); ok {
		return ft.FuzzyEqual(executed, 2)
	}
	return false
}

// shouldSkip reports whether a popped task should be skipped rather than
// yielded: already processed, or ignored while at least one of its
// children is still live (the live child carries the defect forward
// instead of re-executing the known-failing parent).
func (m *Manager) shouldSkip(t Task) bool {
	if _, done := m.processed[t.Key()]; done {
		return true
	}
	if !m.isIgnored(t) {
		return false
	}
	for _, c := range t.Children() {
		if !m.shouldSkip(c) {
			return true
		}
	}
	return false
}

func (m *Manager) isIgnored(t Task) bool {
	for _, it := range m.ignored {
		if it.Key() == t.Key() {
			return true
		}
	}
	return false
}

// handleIgnored bumps the retry count, and either lowers priority (a
// larger number means lower priority) and requeues, or retires the task
// to the ignored list once its retry budget is exhausted.
func (m *Manager) handleIgnored(t Task) {
	t.IncrementRetryCount()
	m.opts.Metrics.IncTaskRetries()
	if t.RetryCount() < t.MaxRetries() {
		t.SetPriority(t.Priority() + 1)
		m.opts.Logger.Debug("task failed, lowering priority and requeuing",
			"task", t.Key(), "retry_count", t.RetryCount())
		m.queue.Push(t)
	} else {
		m.ignored = append(m.ignored, t)
		m.opts.Metrics.IncTasksIgnored()
		m.opts.Logger.Warn("task exceeded max retries, ignoring", "task", t.Key())
	}
}

// Stop calls Stop on every agent and validator that implements Stopper.
func (m *Manager) Stop() error {
	m.opts.Logger.Info("stopping task manager")
	var firstErr error
	for _, a := range m.agents {
		if s, ok := a.(Stopper); ok {
			if err := s.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, v := range m.validators {
		if s, ok := v.(Stopper); ok {
			if err := s.Stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ProcessedTasks returns a snapshot of the tasks retired as resolved,
// keyed by Task.Key().
func (m *Manager) ProcessedTasks() map[string]Task {
	out := make(map[string]Task, len(m.processed))
	for k, v := range m.processed {
		out[k] = v
	}
	return out
}

// IgnoredTasks returns a snapshot of the tasks retired as ignored.
func (m *Manager) IgnoredTasks() []Task {
	out := make([]Task, len(m.ignored))
	copy(out, m.ignored)
	return out
}

// UnprocessedFiles returns the files runners have modified since the
// manager was created.
func (m *Manager) UnprocessedFiles() []string {
	out := make([]string, len(m.unprocessedFiles))
	copy(out, m.unprocessedFiles)
	return out
}

// QueueLen reports the number of tasks currently queued.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
