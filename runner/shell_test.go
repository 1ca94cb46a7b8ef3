package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codeplanner/task"
)

// fakeRepo satisfies task.RepoContext with a plain directory.
type fakeRepo struct{ root string }

func (f fakeRepo) Root() string { return f.root }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fix commands in this test require a POSIX shell")
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "sed -i s/a/b/ file.java", []string{"sed", "-i", "s/a/b/", "file.java"}},
		{"double quotes", `sh -c "echo hi"`, []string{"sh", "-c", "echo hi"}},
		{"single quotes", "sh -c 'echo hi there'", []string{"sh", "-c", "echo hi there"}},
		{"empty", "", nil},
		{"extra spaces", "a   b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCommand(tt.in))
		})
	}
}

func TestShellRunnerCanHandleTask(t *testing.T) {
	r := NewShellRunner(map[string]ShellFix{
		"remove-javaee": {Command: "true"},
	}, 0, quietLogger())

	known := task.NewAnalyzerRuleViolation("src/A.java", 1, -1, "m", "remove-javaee", 1)
	unknown := task.NewAnalyzerRuleViolation("src/A.java", 1, -1, "m", "other-rule", 1)
	dep := task.NewAnalyzerDependencyRuleViolation("pom.xml", 1, -1, "m", "remove-javaee", 1)

	assert.True(t, r.CanHandleTask(known))
	assert.False(t, r.CanHandleTask(unknown))
	assert.False(t, r.CanHandleTask(dep), "dependency violations are left to the remote runner")
}

func TestShellRunnerExecutesFix(t *testing.T) {
	requirePosix(t)
	dir := t.TempDir()

	r := NewShellRunner(map[string]ShellFix{
		"touch-rule": {Command: `sh -c "echo fixed > $CODEPLANNER_FILE"`},
	}, 10*time.Second, quietLogger())

	v := task.NewAnalyzerRuleViolation("out.txt", 3, -1, "msg", "touch-rule", 1)
	result, err := r.ExecuteTask(context.Background(), fakeRepo{dir}, v)
	require.NoError(t, err)
	assert.Empty(t, result.EncounteredErrors)
	assert.Equal(t, []string{"out.txt"}, result.ModifiedFiles)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fixed\n", string(data))
}

func TestShellRunnerReportsFailureAsTaskError(t *testing.T) {
	requirePosix(t)

	r := NewShellRunner(map[string]ShellFix{
		"bad-rule": {Command: "false"},
	}, 10*time.Second, quietLogger())

	v := task.NewAnalyzerRuleViolation("src/A.java", 1, -1, "m", "bad-rule", 1)
	result, err := r.ExecuteTask(context.Background(), fakeRepo{t.TempDir()}, v)
	require.NoError(t, err)
	require.Len(t, result.EncounteredErrors, 1)
	assert.Empty(t, result.ModifiedFiles)
}
