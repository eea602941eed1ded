// Package validation reports diagnostics for a loaded pipeline configuration
package validation

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/poltergeist/matrixgen/pkg/config"
	"github.com/poltergeist/matrixgen/pkg/matrix"
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// ConfigValidator checks a pipeline and its matrices beyond what loading
// rejects, flagging settings that are legal but probably mistaken.
type ConfigValidator struct {
	trigger types.Trigger
}

// NewConfigValidator creates a validator for runs started by trigger
func NewConfigValidator(trigger types.Trigger) *ConfigValidator {
	return &ConfigValidator{trigger: trigger}
}

// ValidationError represents a single diagnostic
type ValidationError struct {
	Source  string
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Level, e.Source, e.Message)
	}
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Source, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds a diagnostic to the result
func (r *ValidationResult) AddError(source, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Source:  source,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Filter returns the diagnostics at one level
func (r *ValidationResult) Filter(level ValidationLevel) []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the pipeline against its loaded matrices
func (v *ConfigValidator) Validate(cfg *types.PipelineConfig, matrices map[string]*types.MatrixConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateBindings(cfg, matrices, result)
	v.validateStages(cfg, result)
	v.validateSteps(cfg, result)

	names := make([]string, 0, len(matrices))
	for name := range matrices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := matrices[name]
		injected := ""
		if cfg.Regression != nil && cfg.Regression.Matrix == name {
			injected = cfg.Regression.GetDimension()
		}
		v.validateMatrix(cfg, m, injected, result)
	}

	return result
}

func (v *ConfigValidator) validateBindings(cfg *types.PipelineConfig, matrices map[string]*types.MatrixConfig, result *ValidationResult) {
	used := map[string]bool{}
	if cfg.Test != nil {
		if _, ok := matrices[cfg.Test.Matrix]; !ok {
			result.AddError("pipeline", "test.matrix", fmt.Sprintf("unknown matrix %q", cfg.Test.Matrix), ValidationLevelError)
		}
		used[cfg.Test.Matrix] = true
	}
	if cfg.Regression != nil {
		if _, ok := matrices[cfg.Regression.Matrix]; !ok {
			result.AddError("pipeline", "regression.matrix", fmt.Sprintf("unknown matrix %q", cfg.Regression.Matrix), ValidationLevelError)
		}
		used[cfg.Regression.Matrix] = true
	}

	for _, src := range cfg.Matrices {
		if !used[src.Name] {
			result.AddError(src.Name, "", "matrix is declared but not bound to a stage", ValidationLevelWarning)
		}
	}
}

func (v *ConfigValidator) validateStages(cfg *types.PipelineConfig, result *ValidationResult) {
	stages := cfg.Settings.Stages
	if cfg.Test != nil && !stages.TestsEnabled() {
		result.AddError("pipeline", "settings.stages.tests", "test matrix is bound but the test stage is disabled", ValidationLevelInfo)
	}
	if cfg.Regression != nil && !stages.RegressionEnabled() {
		result.AddError("pipeline", "settings.stages.regression", "regression matrix is bound but the regression stage is disabled", ValidationLevelInfo)
	}
	if cfg.Test == nil && cfg.Regression == nil {
		result.AddError("pipeline", "", "no matrix is bound; only build, docs and analysis jobs are generated", ValidationLevelInfo)
	}

	for _, p := range types.Platforms {
		if _, ok := cfg.Variables.Pools[string(p)]; ok {
			continue
		}
		if cfg.Variables.DefaultPool == "" {
			result.AddError("pipeline", "variables.pools", fmt.Sprintf("no pool for platform %s and no default pool", p), ValidationLevelWarning)
		} else {
			result.AddError("pipeline", "variables.pools", fmt.Sprintf("platform %s uses the default pool %s", p, cfg.Variables.DefaultPool), ValidationLevelInfo)
		}
	}
}

func (v *ConfigValidator) validateSteps(cfg *types.PipelineConfig, result *ValidationResult) {
	for _, kind := range []types.JobKind{types.JobKindBuild, types.JobKindTest} {
		if len(cfg.Steps[kind]) == 0 {
			result.AddError("pipeline", "steps."+string(kind), "no step templates; jobs of this kind run nothing", ValidationLevelWarning)
		}
	}
}

// validateMatrix reports structural errors, dimension references that can
// never bind, patterns that match nothing, and the estimated job count.
func (v *ConfigValidator) validateMatrix(cfg *types.PipelineConfig, m *types.MatrixConfig, injected string, result *ValidationResult) {
	if err := config.ValidateMatrix(m); err != nil {
		for _, e := range multierr.Errors(err) {
			var ce *types.ConfigError
			if errors.As(e, &ce) {
				result.AddError(m.Name, ce.Field, ce.Message, ValidationLevelError)
			} else {
				result.AddError(m.Name, "", e.Error(), ValidationLevelError)
			}
		}
		return
	}

	values := func(dimension string) ([]string, bool) {
		if dimension == injected {
			return nil, true
		}
		d, ok := m.Dimension(dimension)
		return d.Values, ok
	}

	for i, f := range m.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		vals, ok := values(f.Dimension)
		if !ok {
			result.AddError(m.Name, field, fmt.Sprintf("dimension %q is not declared; the filter has no effect", f.Dimension), ValidationLevelWarning)
			continue
		}
		if vals == nil || matchesAny(f.Pattern, vals) {
			continue
		}
		if f.Kind == types.FilterInclude {
			result.AddError(m.Name, field, fmt.Sprintf("include pattern %q matches no value of %s; every job is dropped", f.Pattern, f.Dimension), ValidationLevelWarning)
		} else {
			result.AddError(m.Name, field, fmt.Sprintf("exclude pattern %q matches no value of %s", f.Pattern, f.Dimension), ValidationLevelInfo)
		}
	}

	for i, r := range m.Replace {
		field := fmt.Sprintf("replace[%d]", i)
		vals, ok := values(r.Dimension)
		if !ok {
			result.AddError(m.Name, field, fmt.Sprintf("dimension %q is not declared; the replacement has no effect", r.Dimension), ValidationLevelWarning)
			continue
		}
		if vals != nil && !matchesAny(r.Pattern, vals) {
			result.AddError(m.Name, field, fmt.Sprintf("pattern %q matches no value of %s", r.Pattern, r.Dimension), ValidationLevelInfo)
		}
	}

	if _, ok := values(m.GetPoolDimension()); !ok {
		result.AddError(m.Name, "poolDimension", fmt.Sprintf("dimension %q is not declared; jobs use the default pool", m.GetPoolDimension()), ValidationLevelInfo)
	}

	if m.Batch != nil && v.trigger != types.TriggerPullRequest {
		result.AddError(m.Name, "batch", fmt.Sprintf("batching applies to pull-request runs only, not %s", v.trigger), ValidationLevelInfo)
	}

	if injected != "" {
		return
	}

	count, ok := matrix.Count(m)
	ceiling := cfg.GetExpansionCeiling()
	switch {
	case m.GetSelection() == types.SelectionSparse:
		result.AddError(m.Name, "", fmt.Sprintf("sparse selection yields %d jobs before filters", sparseCount(m)), ValidationLevelInfo)
	case !ok || count > uint64(ceiling):
		result.AddError(m.Name, "dimensions", fmt.Sprintf("expands past the ceiling of %d jobs", ceiling), ValidationLevelError)
	default:
		result.AddError(m.Name, "", fmt.Sprintf("expands to %d jobs before filters", count), ValidationLevelInfo)
	}
}

func sparseCount(m *types.MatrixConfig) int {
	widest := 0
	for _, d := range m.Dimensions {
		if len(d.Values) > widest {
			widest = len(d.Values)
		}
	}
	return widest
}

func matchesAny(pattern string, values []string) bool {
	matcher, err := utils.NewValueMatcher(pattern)
	if err != nil {
		return false
	}
	return matcher.MatchAny(values)
}
