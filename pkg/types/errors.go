package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the generation failure classes.
// Each typed error below matches its sentinel with errors.Is().
var (
	// ErrConfig indicates malformed or self-contradictory matrix configuration
	ErrConfig = errors.New("invalid configuration")

	// ErrExpansionOverflow indicates a matrix expanded past its safety ceiling
	ErrExpansionOverflow = errors.New("expansion overflow")

	// ErrCoverage indicates a requested service has no regression targets
	ErrCoverage = errors.New("coverage error")

	// ErrDependencyCycle indicates the stage graph is not acyclic
	ErrDependencyCycle = errors.New("dependency cycle")
)

// ConfigError reports a configuration problem in a named source
type ConfigError struct {
	Source  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Source != "" && e.Field != "":
		return fmt.Sprintf("config %s.%s: %s", e.Source, e.Field, e.Message)
	case e.Source != "":
		return fmt.Sprintf("config %s: %s", e.Source, e.Message)
	default:
		return fmt.Sprintf("config: %s", e.Message)
	}
}

// Is matches ErrConfig
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError creates a ConfigError with a formatted message
func NewConfigError(source, field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Source: source, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExpansionOverflowError reports a product larger than the ceiling
type ExpansionOverflowError struct {
	Matrix  string
	Count   uint64
	Ceiling int
}

func (e *ExpansionOverflowError) Error() string {
	return fmt.Sprintf("matrix %s expands to %d jobs, exceeding ceiling of %d", e.Matrix, e.Count, e.Ceiling)
}

// Is matches ErrExpansionOverflow
func (e *ExpansionOverflowError) Is(target error) bool { return target == ErrExpansionOverflow }

// CoverageError lists requested services that resolved to no packages
type CoverageError struct {
	Services []string
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("no regression packages mapped to service(s): %s", strings.Join(e.Services, ", "))
}

// Is matches ErrCoverage
func (e *CoverageError) Is(target error) bool { return target == ErrCoverage }

// DependencyCycleError reports an unresolvable or cyclic dependency
type DependencyCycleError struct {
	Nodes   []string
	Message string
}

func (e *DependencyCycleError) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("dependency graph invalid: %s", e.Message)
	}
	return fmt.Sprintf("dependency graph invalid: %s: %s", e.Message, strings.Join(e.Nodes, ", "))
}

// Is matches ErrDependencyCycle
func (e *DependencyCycleError) Is(target error) bool { return target == ErrDependencyCycle }
