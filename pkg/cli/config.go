package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/poltergeist/matrixgen/internal/engine"
	"github.com/poltergeist/matrixgen/pkg/emitter"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Config holds the runtime options of one invocation. Flags fill it,
// MATRIXGEN_* environment variables fill what flags left unset.
type Config struct {
	ConfigFile  string
	OutputPath  string
	Format      emitter.Format
	Trigger     types.Trigger
	Ceiling     int
	Verbosity   string
	LogFile     string
	StateDir    string
	Parallelism int
	Version     string
}

// NewConfig creates a CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ConfigFile: "pipeline.yaml",
		Format:     emitter.FormatYAML,
		Trigger:    types.TriggerCI,
		Verbosity:  "info",
	}
}

// GetStateDir returns the run-state directory, next to the pipeline file
// unless set explicitly
func (c *Config) GetStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(filepath.Dir(c.ConfigFile), ".matrixgen")
}

// Options freezes the config into engine options
func (c *Config) Options() engine.Options {
	return engine.Options{
		ConfigPath: c.ConfigFile,
		OutputPath: c.OutputPath,
		Format:     c.Format,
		Trigger:    c.Trigger,
		Ceiling:    c.Ceiling,
	}
}

// enumValue is a pflag.Value restricted to a fixed set of strings
type enumValue[T ~string] struct {
	target  *T
	allowed []T
}

func newEnumValue[T ~string](target *T, allowed ...T) *enumValue[T] {
	return &enumValue[T]{target: target, allowed: allowed}
}

func (e *enumValue[T]) String() string {
	return string(*e.target)
}

func (e *enumValue[T]) Set(value string) error {
	for _, a := range e.allowed {
		if string(a) == value {
			*e.target = a
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", e.choices())
}

func (e *enumValue[T]) Type() string {
	return "string"
}

func (e *enumValue[T]) choices() string {
	names := make([]string, len(e.allowed))
	for i, a := range e.allowed {
		names[i] = string(a)
	}
	return strings.Join(names, "|")
}
