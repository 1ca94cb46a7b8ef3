package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViolationEquality(t *testing.T) {
	a := NewAnalyzerRuleViolation("src/A.java", 10, -1, "msg", "rule-1", 3)
	same := NewAnalyzerRuleViolation("src/A.java", 10, -1, "msg", "rule-1", 3)
	otherLine := NewAnalyzerRuleViolation("src/A.java", 11, -1, "msg", "rule-1", 3)
	otherRule := NewAnalyzerRuleViolation("src/A.java", 10, -1, "msg", "rule-2", 3)

	assert.True(t, a.Equal(same))
	assert.Equal(t, a.Key(), same.Key())
	assert.NotEqual(t, a.ID(), same.ID())

	assert.False(t, a.Equal(otherLine))
	assert.False(t, a.Equal(otherRule))
}

func TestDependencyViolationNeverEqualsRuleViolation(t *testing.T) {
	rule := NewAnalyzerRuleViolation("pom.xml", 5, -1, "msg", "r", 3)
	dep := NewAnalyzerDependencyRuleViolation("pom.xml", 5, -1, "msg", "r", 3)

	assert.False(t, dep.Equal(rule))
	assert.False(t, rule.Equal(dep))
	assert.NotEqual(t, rule.Key(), dep.Key())
}

func TestFuzzyEqualToleratesLineShift(t *testing.T) {
	a := NewAnalyzerRuleViolation("src/A.java", 10, -1, "msg", "rule-1", 3)
	shifted := NewAnalyzerRuleViolation("src/A.java", 12, -1, "changed msg", "rule-1", 3)
	tooFar := NewAnalyzerRuleViolation("src/A.java", 13, -1, "msg", "rule-1", 3)
	otherFile := NewAnalyzerRuleViolation("src/B.java", 10, -1, "msg", "rule-1", 3)

	assert.True(t, a.FuzzyEqual(shifted, 2))
	assert.True(t, shifted.FuzzyEqual(a, 2))
	assert.False(t, a.FuzzyEqual(tooFar, 2))
	assert.False(t, a.FuzzyEqual(otherFile, 2))
}

func TestLessOrdersByPriorityThenCreation(t *testing.T) {
	first := NewAnalyzerRuleViolation("a.java", 1, -1, "m", "r", 3)
	second := NewAnalyzerRuleViolation("b.java", 2, -1, "m", "r", 3)

	// Same priority: creation order wins.
	assert.True(t, first.Less(second))
	assert.False(t, second.Less(first))

	// Priority dominates creation order.
	second.SetPriority(0)
	first.SetPriority(5)
	assert.True(t, second.Less(first))
}

func TestChildAccounting(t *testing.T) {
	parent := NewAnalyzerRuleViolation("a.java", 1, -1, "m", "r", 3)
	child := NewAnalyzerRuleViolation("b.java", 2, -1, "m", "r", 3)

	child.SetParent(parent)
	child.SetDepth(parent.Depth() + 1)
	parent.AddChild(child)

	assert.Len(t, parent.Children(), 1)
	assert.Same(t, parent, child.Parent().(*AnalyzerRuleViolation))
	assert.Equal(t, 1, child.Depth())
}
