package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codeplanner/jsonrpc"
	"github.com/c360studio/codeplanner/task"
)

// cannedAnalyzer returns a fixed response (or error) for every Analyze
// call.
type cannedAnalyzer struct {
	resp *jsonrpc.Response
	err  error

	lastLabelSelector string
}

func (c *cannedAnalyzer) Analyze(_ context.Context, labelSelector string, _ []string, _ string) (*jsonrpc.Response, error) {
	c.lastLabelSelector = labelSelector
	return c.resp, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resultResponse(t *testing.T, result any) *jsonrpc.Response {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	id := int64(1)
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: &id, Result: raw}
}

func rulesetsResult(incidentsByRule map[string][]map[string]any) map[string]any {
	violations := map[string]any{}
	for rule, incidents := range incidentsByRule {
		list := make([]any, 0, len(incidents))
		for _, i := range incidents {
			list = append(list, i)
		}
		violations[rule] = map[string]any{"incidents": list}
	}
	return map[string]any{
		"Rulesets": []any{
			map[string]any{"name": "test-ruleset", "violations": violations},
		},
	}
}

func TestValidatorNilResponseFails(t *testing.T) {
	v := NewRuleValidator(&cannedAnalyzer{}, ValidatorOptions{Logger: quietLogger()})

	_, err := v.Run(context.Background())
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidatorTransportErrorFails(t *testing.T) {
	v := NewRuleValidator(&cannedAnalyzer{err: jsonrpc.ErrTransport}, ValidatorOptions{Logger: quietLogger()})

	_, err := v.Run(context.Background())
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidatorRemoteErrorFails(t *testing.T) {
	id := int64(1)
	resp := &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      &id,
		Error:   &jsonrpc.ResponseError{Code: -32000, Message: "boom"},
	}
	v := NewRuleValidator(&cannedAnalyzer{resp: resp}, ValidatorOptions{Logger: quietLogger()})

	_, err := v.Run(context.Background())
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidatorNullResultFails(t *testing.T) {
	// A reply of {"result": null} decodes into the non-nil raw bytes
	// "null"; it must fail validation, not pass as an empty report.
	id := int64(1)
	resp := &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      &id,
		Result:  json.RawMessage("null"),
	}
	v := NewRuleValidator(&cannedAnalyzer{resp: resp}, ValidatorOptions{Logger: quietLogger()})

	_, err := v.Run(context.Background())
	assert.True(t, errors.Is(err, ErrValidationFailed))
}

func TestValidatorMissingRulesetsPasses(t *testing.T) {
	v := NewRuleValidator(
		&cannedAnalyzer{resp: resultResponse(t, map[string]any{})},
		ValidatorOptions{Logger: quietLogger()},
	)

	result, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Errors)
}

func TestValidatorEmptyRulesetsPasses(t *testing.T) {
	v := NewRuleValidator(
		&cannedAnalyzer{resp: resultResponse(t, map[string]any{"Rulesets": []any{}})},
		ValidatorOptions{Logger: quietLogger()},
	)

	result, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestValidatorBuildsRuleViolations(t *testing.T) {
	result := rulesetsResult(map[string][]map[string]any{
		"remove-javaee": {
			{"uri": "file:///workspace/src/A.java", "line_number": float64(17), "message": "replace import"},
		},
	})
	canned := &cannedAnalyzer{resp: resultResponse(t, result)}
	v := NewRuleValidator(canned, ValidatorOptions{
		LabelSelector: "konveyor.io/target=quarkus",
		MaxRetries:    3,
		Logger:        quietLogger(),
	})

	out, err := v.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Passed)
	require.Len(t, out.Errors, 1)

	assert.Equal(t, "konveyor.io/target=quarkus", canned.lastLabelSelector)

	vio, ok := out.Errors[0].(*task.AnalyzerRuleViolation)
	require.True(t, ok, "expected *task.AnalyzerRuleViolation, got %T", out.Errors[0])
	assert.Equal(t, "workspace/src/A.java", vio.File)
	assert.Equal(t, 17, vio.Line)
	assert.Equal(t, -1, vio.Column)
	assert.Equal(t, "replace import", vio.Message)
	assert.Equal(t, "remove-javaee", vio.RuleID)
	assert.Equal(t, 3, vio.MaxRetries())
}

func TestValidatorPomIncidentIsDependencyViolation(t *testing.T) {
	result := rulesetsResult(map[string][]map[string]any{
		"upgrade-dep": {
			{"uri": "file:///workspace/pom.xml", "line_number": float64(42), "message": "bump version"},
		},
	})
	v := NewRuleValidator(&cannedAnalyzer{resp: resultResponse(t, result)}, ValidatorOptions{Logger: quietLogger()})

	out, err := v.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)

	dep, ok := out.Errors[0].(*task.AnalyzerDependencyRuleViolation)
	require.True(t, ok, "expected *task.AnalyzerDependencyRuleViolation, got %T", out.Errors[0])
	assert.Equal(t, "workspace/pom.xml", dep.File)
	assert.Equal(t, 42, dep.Line)
	assert.Equal(t, -1, dep.Column)
}

func TestValidatorIncludeGlobsFilter(t *testing.T) {
	result := rulesetsResult(map[string][]map[string]any{
		"rule-a": {
			{"uri": "file:///repo/src/main/A.java", "line_number": float64(1), "message": "m"},
			{"uri": "file:///repo/src/test/B.java", "line_number": float64(2), "message": "m"},
		},
	})
	v := NewRuleValidator(&cannedAnalyzer{resp: resultResponse(t, result)}, ValidatorOptions{
		IncludeGlobs: []string{"repo/src/main/**"},
		Logger:       quietLogger(),
	})

	out, err := v.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "repo/src/main/A.java", out.Errors[0].(*task.AnalyzerRuleViolation).File)
}

func TestNormalizeURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"file scheme", "file:///workspace/pom.xml", "workspace/pom.xml"},
		{"file scheme nested", "file:///repo/src/A.java", "repo/src/A.java"},
		{"plain path", "src/A.java", "src/A.java"},
		{"non-file scheme keeps absolute path", "ssh://host/abs/path.java", "/abs/path.java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeURI(tt.uri))
		})
	}
}
