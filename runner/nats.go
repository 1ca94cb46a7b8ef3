package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/codeplanner/task"
)

// DefaultSubject is the request/reply subject remote workers listen on.
const DefaultSubject = "codeplanner.runner.execute"

// ExecuteRequest is the envelope sent to a remote worker for one task.
type ExecuteRequest struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	RepoRoot  string `json:"repo_root"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Message   string `json:"message"`
	RuleID    string `json:"rule_id"`
}

// ExecuteReply is the worker's response.
type ExecuteReply struct {
	ModifiedFiles []string `json:"modified_files"`
	Errors        []string `json:"errors"`
}

// NATSRunner hands tasks to a remote worker over NATS request/reply,
// moving CPU- and LLM-heavy fixing off the planner process. It is a
// catch-all: it accepts every analyzer violation, so it should be
// registered after any more specific runner.
type NATSRunner struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NATSRunnerOptions configures a NATSRunner.
type NATSRunnerOptions struct {
	// Subject defaults to DefaultSubject.
	Subject string

	// Timeout bounds one remote execution. Defaults to 10 minutes:
	// remote workers typically drive an LLM.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewNATSRunner creates a runner over an established connection. The
// connection is owned by the caller; Stop only flushes it.
func NewNATSRunner(conn *nats.Conn, opts NATSRunnerOptions) *NATSRunner {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &NATSRunner{
		conn:    conn,
		subject: opts.Subject,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// CanHandleTask accepts every analyzer violation.
func (r *NATSRunner) CanHandleTask(t task.Task) bool {
	switch t.(type) {
	case *task.AnalyzerRuleViolation, *task.AnalyzerDependencyRuleViolation:
		return true
	}
	return false
}

// ExecuteTask marshals the task and performs one request/reply round trip
// to the worker subject.
func (r *NATSRunner) ExecuteTask(ctx context.Context, rcm task.RepoContext, t task.Task) (*task.TaskResult, error) {
	req, err := buildExecuteRequest(rcm, t)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("runner: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Debug("dispatching task to remote worker", "subject", r.subject, "request_id", req.RequestID)
	msg, err := r.conn.RequestWithContext(reqCtx, r.subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("runner: no worker listening on %s: %w", r.subject, err)
		}
		return nil, fmt.Errorf("runner: remote execution: %w", err)
	}

	var reply ExecuteReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("runner: decode reply: %w", err)
	}

	result := &task.TaskResult{ModifiedFiles: reply.ModifiedFiles}
	for _, e := range reply.Errors {
		result.EncounteredErrors = append(result.EncounteredErrors, errors.New(e))
	}
	return result, nil
}

// Stop flushes any buffered publishes; the connection itself belongs to
// the caller.
func (r *NATSRunner) Stop() error {
	return r.conn.Flush()
}

// buildExecuteRequest flattens a violation task into the wire envelope.
func buildExecuteRequest(rcm task.RepoContext, t task.Task) (*ExecuteRequest, error) {
	req := &ExecuteRequest{
		RequestID: uuid.New().String(),
		RepoRoot:  rcm.Root(),
	}
	switch v := t.(type) {
	case *task.AnalyzerDependencyRuleViolation:
		req.Kind = "analyzer_dependency_rule_violation"
		req.File = v.File
		req.Line = v.Line
		req.Column = v.Column
		req.Message = v.Message
		req.RuleID = v.RuleID
	case *task.AnalyzerRuleViolation:
		req.Kind = "analyzer_rule_violation"
		req.File = v.File
		req.Line = v.Line
		req.Column = v.Column
		req.Message = v.Message
		req.RuleID = v.RuleID
	default:
		return nil, fmt.Errorf("runner: unsupported task type %T", t)
	}
	return req, nil
}
