package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/codeplanner/jsonrpc"
	"github.com/c360studio/codeplanner/task"
)

// ErrValidationFailed indicates the analyzer could not produce a usable
// result: a transport failure, a remote error, or a nil result payload.
var ErrValidationFailed = errors.New("analyzer: validation failed")

// LevelTrace sits one step below slog's debug level; raw analyzer
// payloads are dumped there.
const LevelTrace = slog.LevelDebug - 4

// AnalyzeClient is the slice of Supervisor the validator needs, kept as an
// interface so tests can substitute a canned analyzer.
type AnalyzeClient interface {
	Analyze(ctx context.Context, labelSelector string, includedPaths []string, incidentSelector string) (*jsonrpc.Response, error)
}

// ValidatorOptions configures a RuleValidator.
type ValidatorOptions struct {
	// LabelSelector scopes which rules the analyzer evaluates.
	LabelSelector string

	// IncludeGlobs, when non-empty, keeps only incidents whose file
	// matches at least one pattern. This is a client-side filter applied
	// after the analyzer runs, useful when one analyzer process is shared
	// between validators with different scopes.
	IncludeGlobs []string

	// MaxRetries is the retry budget stamped on every task this
	// validator creates.
	MaxRetries int

	Logger *slog.Logger
}

// RuleValidator runs the analyzer and normalises its findings into tasks
// with file/line/rule provenance.
type RuleValidator struct {
	client AnalyzeClient
	opts   ValidatorOptions
}

// NewRuleValidator creates a validator over the given analyzer client.
func NewRuleValidator(client AnalyzeClient, opts ValidatorOptions) *RuleValidator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RuleValidator{client: client, opts: opts}
}

// Run performs one analysis sweep. An absence of findings is success; a
// failure to analyze at all is an error.
func (v *RuleValidator) Run(ctx context.Context) (*task.ValidationResult, error) {
	v.opts.Logger.Debug("running analyzer validator")

	resp, err := v.client.Analyze(ctx, v.opts.LabelSelector, []string{}, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: analyzer returned no response", ErrValidationFailed)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, resp.Error)
	}
	// A literal JSON null result decodes into the non-nil raw bytes
	// "null", so a nil check alone would mistake it for a clean report.
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, fmt.Errorf("%w: analyzer result is null", ErrValidationFailed)
	}

	var payload map[string]any
	if err := resp.UnmarshalResult(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	v.opts.Logger.Log(ctx, LevelTrace, "analyzer result payload", "payload", payload)

	tasks := v.parseRulesets(payload)
	return &task.ValidationResult{Passed: len(tasks) == 0, Errors: tasks}, nil
}

// parseRulesets walks result → Rulesets → violations → incidents and
// builds one task per incident. A missing or non-list Rulesets means zero
// findings.
func (v *RuleValidator) parseRulesets(payload map[string]any) []task.Task {
	rulesets, ok := payload["Rulesets"].([]any)
	if !ok || len(rulesets) == 0 {
		v.opts.Logger.Info("parsed zero results from analyzer")
		return nil
	}

	var out []task.Task
	for _, rs := range rulesets {
		ruleset, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		violations, ok := ruleset["violations"].(map[string]any)
		if !ok {
			continue
		}
		for ruleID, vio := range violations {
			violation, ok := vio.(map[string]any)
			if !ok {
				continue
			}
			incidents, ok := violation["incidents"].([]any)
			if !ok {
				continue
			}
			for _, in := range incidents {
				incident, ok := in.(map[string]any)
				if !ok {
					continue
				}
				if t := v.incidentTask(ruleID, incident); t != nil {
					out = append(out, t)
				}
			}
		}
	}
	return out
}

func (v *RuleValidator) incidentTask(ruleID string, incident map[string]any) task.Task {
	uri, _ := incident["uri"].(string)
	message, _ := incident["message"].(string)
	line := -1
	if n, ok := incident["line_number"].(float64); ok {
		line = int(n)
	}

	file := normalizeURI(uri)
	if !v.includeFile(file) {
		v.opts.Logger.Debug("incident excluded by include globs", "file", file)
		return nil
	}

	if strings.Contains(uri, "pom.xml") {
		return task.NewAnalyzerDependencyRuleViolation(file, line, -1, message, ruleID, v.opts.MaxRetries)
	}
	return task.NewAnalyzerRuleViolation(file, line, -1, message, ruleID, v.opts.MaxRetries)
}

func (v *RuleValidator) includeFile(file string) bool {
	if len(v.opts.IncludeGlobs) == 0 {
		return true
	}
	for _, g := range v.opts.IncludeGlobs {
		if ok, err := doublestar.Match(g, file); err == nil && ok {
			return true
		}
	}
	return false
}

// normalizeURI turns an incident URI into a repo-relative path: for
// file:// URIs the single leading slash of the path is removed
// (file:///repo/src/A.java → repo/src/A.java). Paths on other schemes are
// preserved as-is.
func normalizeURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	switch u.Scheme {
	case "file":
		return strings.TrimPrefix(u.Path, "/")
	case "":
		return uri
	default:
		return u.Path
	}
}
