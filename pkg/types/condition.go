package types

import (
	"fmt"
	"strings"
)

// ConditionKind tags the variant held by a Condition
type ConditionKind string

const (
	ConditionNone              ConditionKind = ""
	ConditionAlways            ConditionKind = "always"
	ConditionSucceeded         ConditionKind = "succeeded"
	ConditionSucceededOrFailed ConditionKind = "succeededOrFailed"
	ConditionFailed            ConditionKind = "failed"
	ConditionAnd               ConditionKind = "and"
	ConditionEq                ConditionKind = "eq"
	ConditionNe                ConditionKind = "ne"
)

// Condition is an execution predicate evaluated by the executor.
// The zero value means no condition is attached.
type Condition struct {
	Kind     ConditionKind
	Jobs     []string
	Operands []Condition
	Variable string
	Value    string
}

// Succeeded gates on the named jobs, or on all dependencies when none are given
func Succeeded(jobs ...string) Condition {
	return Condition{Kind: ConditionSucceeded, Jobs: jobs}
}

// SucceededOrFailed runs regardless of upstream outcome unless cancelled
func SucceededOrFailed() Condition {
	return Condition{Kind: ConditionSucceededOrFailed}
}

// Failed runs only when an upstream job failed
func Failed(jobs ...string) Condition {
	return Condition{Kind: ConditionFailed, Jobs: jobs}
}

// Always runs unconditionally
func Always() Condition {
	return Condition{Kind: ConditionAlways}
}

// And combines conditions, dropping empty operands
func And(conds ...Condition) Condition {
	return combine(ConditionAnd, conds)
}

// Eq compares a pipeline variable with a literal
func Eq(variable, value string) Condition {
	return Condition{Kind: ConditionEq, Variable: variable, Value: value}
}

// Ne is the negated form of Eq
func Ne(variable, value string) Condition {
	return Condition{Kind: ConditionNe, Variable: variable, Value: value}
}

func combine(kind ConditionKind, conds []Condition) Condition {
	operands := make([]Condition, 0, len(conds))
	for _, c := range conds {
		if !c.IsZero() {
			operands = append(operands, c)
		}
	}
	switch len(operands) {
	case 0:
		return Condition{}
	case 1:
		return operands[0]
	default:
		return Condition{Kind: kind, Operands: operands}
	}
}

// IsZero reports whether no condition is attached
func (c Condition) IsZero() bool {
	return c.Kind == ConditionNone
}

// String renders the executor expression
func (c Condition) String() string {
	switch c.Kind {
	case ConditionNone:
		return ""
	case ConditionAlways:
		return "always()"
	case ConditionSucceeded, ConditionFailed:
		return fmt.Sprintf("%s(%s)", c.Kind, quoteAll(c.Jobs))
	case ConditionSucceededOrFailed:
		return "succeededOrFailed()"
	case ConditionAnd:
		parts := make([]string, len(c.Operands))
		for i, op := range c.Operands {
			parts[i] = op.String()
		}
		return fmt.Sprintf("%s(%s)", c.Kind, strings.Join(parts, ", "))
	case ConditionEq, ConditionNe:
		return fmt.Sprintf("%s(variables[%s], %s)", c.Kind, quote(c.Variable), quote(c.Value))
	default:
		return string(c.Kind)
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteAll(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = quote(item)
	}
	return strings.Join(quoted, ",")
}
