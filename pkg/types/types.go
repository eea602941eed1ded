// Package types provides core types and configurations for matrixgen
package types

import (
	"time"
)

// SelectionMode represents how a matrix picks combinations
type SelectionMode string

const (
	SelectionAll    SelectionMode = "all"
	SelectionSparse SelectionMode = "sparse"
)

// FilterKind represents include or exclude filters
type FilterKind string

const (
	FilterInclude FilterKind = "include"
	FilterExclude FilterKind = "exclude"
)

// Trigger represents what started the pipeline run
type Trigger string

const (
	TriggerCI          Trigger = "ci"
	TriggerPullRequest Trigger = "pullrequest"
	TriggerManual      Trigger = "manual"
)

// Platform represents the build platforms of the fixed topology
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
)

// Platforms lists the leaf build platforms in graph order
var Platforms = []Platform{PlatformLinux, PlatformWindows, PlatformMacOS}

// JobKind identifies which part of the topology a job belongs to
type JobKind string

const (
	JobKindBuild      JobKind = "build"
	JobKindAggregate  JobKind = "aggregate"
	JobKindDocs       JobKind = "docs"
	JobKindAnalysis   JobKind = "analysis"
	JobKindTest       JobKind = "test"
	JobKindRegression JobKind = "regression"
)

// RunOn represents the upstream-success gate of a step
type RunOn string

const (
	RunOnSucceeded         RunOn = "succeeded"
	RunOnSucceededOrFailed RunOn = "succeededOrFailed"
	RunOnFailed            RunOn = "failed"
	RunOnAlways            RunOn = "always"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Dimension is a named axis of variation with ordered values
type Dimension struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// MatrixFilter restricts which tuples become jobs
type MatrixFilter struct {
	Kind      FilterKind `json:"kind" yaml:"kind"`
	Dimension string     `json:"dimension" yaml:"dimension"`
	Pattern   string     `json:"pattern" yaml:"pattern"`
}

// MatrixReplace substitutes the displayed value of a dimension
type MatrixReplace struct {
	Dimension   string `json:"dimension" yaml:"dimension"`
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement"`
}

// BatchControl bounds pull-request fan-out
type BatchControl struct {
	MaxBatchSize int `json:"maxBatchSize" yaml:"maxBatchSize"`
}

// MatrixConfig is a named combinatorial job configuration
type MatrixConfig struct {
	Name          string          `json:"name" yaml:"name"`
	Dimensions    []Dimension     `json:"dimensions" yaml:"dimensions"`
	Selection     SelectionMode   `json:"selection" yaml:"selection"`
	Filters       []MatrixFilter  `json:"filters,omitempty" yaml:"filters,omitempty"`
	Replace       []MatrixReplace `json:"replace,omitempty" yaml:"replace,omitempty"`
	Batch         *BatchControl   `json:"batch,omitempty" yaml:"batch,omitempty"`
	PoolDimension string          `json:"poolDimension,omitempty" yaml:"poolDimension,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Source is the file the config was read from, empty when inline.
	Source string `json:"-" yaml:"-"`
}

// Dimension returns the named dimension
func (m *MatrixConfig) Dimension(name string) (Dimension, bool) {
	for _, d := range m.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// DimensionNames returns dimension names in declaration order
func (m *MatrixConfig) DimensionNames() []string {
	names := make([]string, len(m.Dimensions))
	for i, d := range m.Dimensions {
		names[i] = d.Name
	}
	return names
}

// GetSelection returns the selection mode, defaulting to all
func (m *MatrixConfig) GetSelection() SelectionMode {
	if m.Selection == "" {
		return SelectionAll
	}
	return m.Selection
}

// GetPoolDimension returns the dimension that picks a job's pool
func (m *MatrixConfig) GetPoolDimension() string {
	if m.PoolDimension == "" {
		return "OS"
	}
	return m.PoolDimension
}

// Binding is one dimension/value pair on a job
type Binding struct {
	Dimension string `json:"dimension" yaml:"dimension"`
	Value     string `json:"value" yaml:"value"`
}

// Step is an opaque execution step supplied by the pipeline templates.
// RunOn and RequireIdentity are the only parts this core interprets.
type Step struct {
	Body            map[string]interface{} `json:"body" yaml:"body"`
	RunOn           RunOn                  `json:"runOn,omitempty" yaml:"runOn,omitempty"`
	RequireIdentity bool                   `json:"requireIdentity,omitempty" yaml:"requireIdentity,omitempty"`

	// Condition and Access are resolved when the step is placed on a job.
	Condition Condition `json:"-" yaml:"-"`
	Access    Condition `json:"-" yaml:"-"`
}

// GeneratedJob is one concrete job of the stage graph
type GeneratedJob struct {
	Name      string
	Kind      JobKind
	Config    string
	Key       []string
	Params    []Binding
	Pool      string
	Image     string
	DependsOn []string
	Condition Condition
	Access    Condition
	Steps     []Step
	Timeout   time.Duration
	Batch     int
}

// Param returns the display value bound to a dimension
func (j *GeneratedJob) Param(dimension string) (string, bool) {
	for _, b := range j.Params {
		if b.Dimension == dimension {
			return b.Value, true
		}
	}
	return "", false
}

// Identity holds the execution identity that gates privileged steps
type Identity struct {
	Variable string `json:"variable" yaml:"variable"`
	Project  string `json:"project" yaml:"project"`
}

// Variables are pipeline-wide immutable settings threaded through a run
type Variables struct {
	Pools       map[string]string `json:"pools" yaml:"pools"`
	DefaultPool string            `json:"defaultPool" yaml:"defaultPool"`
	Images      map[string]string `json:"images,omitempty" yaml:"images,omitempty"`
	Identity    Identity          `json:"identity" yaml:"identity"`
}

// PoolFor resolves the pool for a key, falling back to the default pool
func (v *Variables) PoolFor(key string) string {
	if v == nil {
		return ""
	}
	if pool, ok := v.Pools[key]; ok {
		return pool
	}
	return v.DefaultPool
}

// ImageFor returns the image identifier for a key, empty when none is set
func (v *Variables) ImageFor(key string) string {
	if v == nil {
		return ""
	}
	return v.Images[key]
}

// StageToggles enables or disables the optional consumer stages
type StageToggles struct {
	Docs       *bool `json:"docs,omitempty" yaml:"docs,omitempty"`
	Analysis   *bool `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Tests      *bool `json:"tests,omitempty" yaml:"tests,omitempty"`
	Regression *bool `json:"regression,omitempty" yaml:"regression,omitempty"`
}

func enabled(b *bool) bool { return b == nil || *b }

// DocsEnabled reports whether the docs job is generated
func (s StageToggles) DocsEnabled() bool { return enabled(s.Docs) }

// AnalysisEnabled reports whether the analysis job is generated
func (s StageToggles) AnalysisEnabled() bool { return enabled(s.Analysis) }

// TestsEnabled reports whether the test matrix is generated
func (s StageToggles) TestsEnabled() bool { return enabled(s.Tests) }

// RegressionEnabled reports whether the regression matrix is generated
func (s StageToggles) RegressionEnabled() bool { return enabled(s.Regression) }

// Settings holds generation limits and topology switches
type Settings struct {
	ExpansionCeiling int           `json:"expansionCeiling" yaml:"expansionCeiling"`
	SkipAnalysisFlag string        `json:"skipAnalysisFlag" yaml:"skipAnalysisFlag"`
	Stages           StageToggles  `json:"stages" yaml:"stages"`
	BuildTimeout     time.Duration `json:"buildTimeout" yaml:"buildTimeout"`
	JobTimeout       time.Duration `json:"jobTimeout" yaml:"jobTimeout"`
}

// MatrixSource is an inline or file-referenced matrix config
type MatrixSource struct {
	Name   string        `json:"name" yaml:"name"`
	File   string        `json:"file,omitempty" yaml:"file,omitempty"`
	Inline *MatrixConfig `json:"-" yaml:"-"`
}

// MatrixBinding attaches a named matrix to a stage of the topology
type MatrixBinding struct {
	Matrix string `json:"matrix" yaml:"matrix"`
}

// RegressionConfig attaches the regression matrix and its coverage inputs
type RegressionConfig struct {
	Matrix      string              `json:"matrix" yaml:"matrix"`
	Services    []string            `json:"services" yaml:"services"`
	Dimension   string              `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	PackageRoot string              `json:"packageRoot,omitempty" yaml:"packageRoot,omitempty"`
	Packages    map[string][]string `json:"packages,omitempty" yaml:"packages,omitempty"`
	Exclude     []string            `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	IncludeMgmt bool                `json:"includeMgmt,omitempty" yaml:"includeMgmt,omitempty"`
}

// GetDimension returns the name of the injected package dimension
func (r *RegressionConfig) GetDimension() string {
	if r.Dimension == "" {
		return "Package"
	}
	return r.Dimension
}

// StepTemplates holds the opaque steps for each job kind
type StepTemplates map[JobKind][]Step

// PipelineConfig represents the main configuration
type PipelineConfig struct {
	Version    string            `json:"version" yaml:"version"`
	Variables  Variables         `json:"variables" yaml:"variables"`
	Settings   Settings          `json:"settings" yaml:"settings"`
	Steps      StepTemplates     `json:"steps" yaml:"steps"`
	Matrices   []MatrixSource    `json:"matrices" yaml:"matrices"`
	Test       *MatrixBinding    `json:"test,omitempty" yaml:"test,omitempty"`
	Regression *RegressionConfig `json:"regression,omitempty" yaml:"regression,omitempty"`

	// Path is the file the pipeline was loaded from.
	Path string `json:"-" yaml:"-"`
}

// GetExpansionCeiling returns the safety ceiling for exhaustive products
func (p *PipelineConfig) GetExpansionCeiling() int {
	if p.Settings.ExpansionCeiling > 0 {
		return p.Settings.ExpansionCeiling
	}
	return 1000
}

// GetSkipAnalysisFlag returns the executor variable that skips analysis
func (p *PipelineConfig) GetSkipAnalysisFlag() string {
	if p.Settings.SkipAnalysisFlag != "" {
		return p.Settings.SkipAnalysisFlag
	}
	return "Skip.Analyze"
}

// GetBuildTimeout returns the duration ceiling for build jobs
func (p *PipelineConfig) GetBuildTimeout() time.Duration {
	if p.Settings.BuildTimeout > 0 {
		return p.Settings.BuildTimeout
	}
	return 90 * time.Minute
}

// GetJobTimeout returns the duration ceiling for downstream jobs
func (p *PipelineConfig) GetJobTimeout() time.Duration {
	if p.Settings.JobTimeout > 0 {
		return p.Settings.JobTimeout
	}
	return 120 * time.Minute
}
