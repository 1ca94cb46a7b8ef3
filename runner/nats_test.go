package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codeplanner/task"
)

func TestNATSRunnerCanHandleAnyViolation(t *testing.T) {
	r := NewNATSRunner(nil, NATSRunnerOptions{Logger: quietLogger()})

	assert.True(t, r.CanHandleTask(task.NewAnalyzerRuleViolation("a", 1, -1, "m", "r", 1)))
	assert.True(t, r.CanHandleTask(task.NewAnalyzerDependencyRuleViolation("pom.xml", 1, -1, "m", "r", 1)))
}

func TestBuildExecuteRequestRuleViolation(t *testing.T) {
	v := task.NewAnalyzerRuleViolation("src/A.java", 17, -1, "replace import", "remove-javaee", 3)

	req, err := buildExecuteRequest(fakeRepo{"/work/repo"}, v)
	require.NoError(t, err)

	assert.Equal(t, "analyzer_rule_violation", req.Kind)
	assert.Equal(t, "/work/repo", req.RepoRoot)
	assert.Equal(t, "src/A.java", req.File)
	assert.Equal(t, 17, req.Line)
	assert.Equal(t, -1, req.Column)
	assert.Equal(t, "remove-javaee", req.RuleID)
	assert.NotEmpty(t, req.RequestID)
}

func TestBuildExecuteRequestDependencyViolation(t *testing.T) {
	v := task.NewAnalyzerDependencyRuleViolation("workspace/pom.xml", 42, -1, "bump", "upgrade-dep", 3)

	req, err := buildExecuteRequest(fakeRepo{"/work/repo"}, v)
	require.NoError(t, err)
	assert.Equal(t, "analyzer_dependency_rule_violation", req.Kind)
	assert.Equal(t, "workspace/pom.xml", req.File)
}

func TestExecuteRequestWireShape(t *testing.T) {
	v := task.NewAnalyzerRuleViolation("src/A.java", 17, -1, "m", "r", 1)
	req, err := buildExecuteRequest(fakeRepo{"/work/repo"}, v)
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"request_id", "kind", "repo_root", "file", "line", "column", "message", "rule_id"} {
		assert.Contains(t, decoded, key)
	}
}
