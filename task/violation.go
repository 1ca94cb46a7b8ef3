package task

import "fmt"

// AnalyzerRuleViolation is the task payload created from a single analyzer
// incident reported against a general source rule.
type AnalyzerRuleViolation struct {
	BaseTask

	File    string
	Line    int
	Column  int
	Message string
	RuleID  string
}

// NewAnalyzerRuleViolation builds a rule-violation task with the given
// retry budget; see task.Manager for how priority/depth get assigned.
func NewAnalyzerRuleViolation(file string, line, column int, message, ruleID string, maxRetries int) *AnalyzerRuleViolation {
	return &AnalyzerRuleViolation{
		BaseTask: NewBaseTask(maxRetries),
		File:     file,
		Line:     line,
		Column:   column,
		Message:  message,
		RuleID:   ruleID,
	}
}

// Equal is strict equality: same file, line, rule and message.
func (v *AnalyzerRuleViolation) Equal(other Task) bool {
	o, ok := other.(*AnalyzerRuleViolation)
	if !ok {
		return false
	}
	return v.File == o.File && v.Line == o.Line && v.RuleID == o.RuleID && v.Message == o.Message
}

// Key is the value-equality key used for set membership; see Task.Key.
func (v *AnalyzerRuleViolation) Key() string {
	return fmt.Sprintf("rule|%s|%s|%d|%s", v.RuleID, v.File, v.Line, v.Message)
}

// FuzzyEqual tolerates a small line-number shift, the common case when an
// earlier fix in the same file shifted line numbers without touching the
// violation itself.
func (v *AnalyzerRuleViolation) FuzzyEqual(other Task, offset int) bool {
	o, ok := other.(*AnalyzerRuleViolation)
	if !ok {
		return false
	}
	if v.File != o.File || v.RuleID != o.RuleID {
		return false
	}
	diff := v.Line - o.Line
	if diff < 0 {
		diff = -diff
	}
	return diff <= offset
}

func (v *AnalyzerRuleViolation) String() string {
	return fmt.Sprintf("AnalyzerRuleViolation{file=%s line=%d rule=%s}", v.File, v.Line, v.RuleID)
}

// AnalyzerDependencyRuleViolation is the task payload created when the
// incident URI names a pom.xml — a dependency-level rule rather than a
// source-level one.
type AnalyzerDependencyRuleViolation struct {
	AnalyzerRuleViolation
}

// NewAnalyzerDependencyRuleViolation builds a dependency-violation task.
func NewAnalyzerDependencyRuleViolation(file string, line, column int, message, ruleID string, maxRetries int) *AnalyzerDependencyRuleViolation {
	return &AnalyzerDependencyRuleViolation{
		AnalyzerRuleViolation: *NewAnalyzerRuleViolation(file, line, column, message, ruleID, maxRetries),
	}
}

// Key is scoped to the dependency-violation type so it never collides
// with a plain AnalyzerRuleViolation carrying the same fields.
func (v *AnalyzerDependencyRuleViolation) Key() string {
	return fmt.Sprintf("dep|%s|%s|%d|%s", v.RuleID, v.File, v.Line, v.Message)
}

// Equal is strict equality, scoped to the dependency-violation type so it
// never compares equal to a plain AnalyzerRuleViolation even with matching
// fields.
func (v *AnalyzerDependencyRuleViolation) Equal(other Task) bool {
	o, ok := other.(*AnalyzerDependencyRuleViolation)
	if !ok {
		return false
	}
	return v.File == o.File && v.Line == o.Line && v.RuleID == o.RuleID && v.Message == o.Message
}

// FuzzyEqual mirrors AnalyzerRuleViolation.FuzzyEqual, scoped to the
// dependency-violation type.
func (v *AnalyzerDependencyRuleViolation) FuzzyEqual(other Task, offset int) bool {
	o, ok := other.(*AnalyzerDependencyRuleViolation)
	if !ok {
		return false
	}
	if v.File != o.File || v.RuleID != o.RuleID {
		return false
	}
	diff := v.Line - o.Line
	if diff < 0 {
		diff = -diff
	}
	return diff <= offset
}

func (v *AnalyzerDependencyRuleViolation) String() string {
	return fmt.Sprintf("AnalyzerDependencyRuleViolation{file=%s line=%d rule=%s}", v.File, v.Line, v.RuleID)
}
