package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/poltergeist/matrixgen/pkg/types"
)

func TestCondition_String(t *testing.T) {
	tests := []struct {
		name string
		cond types.Condition
		want string
	}{
		{"none", types.Condition{}, ""},
		{"always", types.Always(), "always()"},
		{"succeeded bare", types.Succeeded(), "succeeded()"},
		{"succeeded jobs", types.Succeeded("a", "b"), "succeeded('a','b')"},
		{"succeeded or failed", types.SucceededOrFailed(), "succeededOrFailed()"},
		{"failed", types.Failed(), "failed()"},
		{"eq", types.Eq("System.TeamProject", "internal"), "eq(variables['System.TeamProject'], 'internal')"},
		{"ne quoting", types.Ne("Flag", "it's"), "ne(variables['Flag'], 'it''s')"},
		{
			"and",
			types.And(types.Succeeded(), types.Ne("Skip.Analyze", "true")),
			"and(succeeded(), ne(variables['Skip.Analyze'], 'true'))",
		},
		{
			"and drops empty operands",
			types.And(types.Condition{}, types.Failed("a"), types.Condition{}),
			"failed('a')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAnd_DropsEmptyOperands(t *testing.T) {
	c := types.And(types.Condition{}, types.Succeeded(), types.Condition{})
	if c.Kind != types.ConditionSucceeded {
		t.Errorf("expected single operand to collapse, got %s", c.Kind)
	}

	if !types.And().IsZero() {
		t.Error("expected empty And to be zero")
	}
}

func TestErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{types.NewConfigError("test", "dimensions", "empty"), types.ErrConfig},
		{&types.ExpansionOverflowError{Matrix: "test", Count: 10, Ceiling: 5}, types.ErrExpansionOverflow},
		{&types.CoverageError{Services: []string{"foo"}}, types.ErrCoverage},
		{&types.DependencyCycleError{Message: "cycle"}, types.ErrDependencyCycle},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("generation failed: %w", tt.err)
		if !errors.Is(wrapped, tt.sentinel) {
			t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
		}
	}

	if errors.Is(&types.CoverageError{}, types.ErrConfig) {
		t.Error("coverage error should not match config sentinel")
	}
}

func TestConfigError_Message(t *testing.T) {
	err := types.NewConfigError("test", "dimensions.OS", "dimension has no values")
	want := "config test.dimensions.OS: dimension has no values"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestVariables_PoolFor(t *testing.T) {
	vars := &types.Variables{
		Pools:       map[string]string{"linux": "ubuntu-pool"},
		DefaultPool: "default-pool",
	}

	if got := vars.PoolFor("linux"); got != "ubuntu-pool" {
		t.Errorf("expected ubuntu-pool, got %s", got)
	}
	if got := vars.PoolFor("solaris"); got != "default-pool" {
		t.Errorf("expected default-pool, got %s", got)
	}
}

func TestStageToggles_DefaultEnabled(t *testing.T) {
	var s types.StageToggles
	if !s.DocsEnabled() || !s.AnalysisEnabled() || !s.TestsEnabled() || !s.RegressionEnabled() {
		t.Error("expected all optional stages enabled by default")
	}

	off := false
	s.Docs = &off
	if s.DocsEnabled() {
		t.Error("expected docs disabled")
	}
}
