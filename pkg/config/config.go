// Package config handles pipeline and matrix configuration loading
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/matrixgen/pkg/interfaces"
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// SupportedVersion is the pipeline document version this loader reads
const SupportedVersion = "1"

// Loader reads pipeline documents and the matrix sources they reference
type Loader struct {
	reader interfaces.SourceReader
}

// NewLoader creates a loader backed by the local filesystem
func NewLoader() *Loader {
	return &Loader{reader: utils.NewFileSystem()}
}

// NewLoaderWithReader creates a loader reading through reader
func NewLoaderWithReader(reader interfaces.SourceReader) *Loader {
	return &Loader{reader: reader}
}

// pipelineDocument mirrors the on-disk pipeline layout
type pipelineDocument struct {
	Version    string                              `yaml:"version"`
	Variables  types.Variables                     `yaml:"variables"`
	Settings   types.Settings                      `yaml:"settings"`
	Steps      map[string][]map[string]interface{} `yaml:"steps"`
	Matrices   []matrixDocument                    `yaml:"matrices"`
	Test       *types.MatrixBinding                `yaml:"test"`
	Regression *types.RegressionConfig             `yaml:"regression"`
}

// matrixDocument mirrors a matrix source, inline or in its own file
type matrixDocument struct {
	Name          string                `yaml:"name"`
	File          string                `yaml:"file"`
	Dimensions    yaml.Node             `yaml:"dimensions"`
	Selection     types.SelectionMode   `yaml:"selection"`
	Filters       []types.MatrixFilter  `yaml:"filters"`
	Replace       []types.MatrixReplace `yaml:"replace"`
	Batch         *types.BatchControl   `yaml:"batch"`
	PoolDimension string                `yaml:"poolDimension"`
	Timeout       time.Duration         `yaml:"timeout"`
}

// Load reads and validates a pipeline document. Matrix sources are
// recorded but not resolved; see LoadMatrices.
func (l *Loader) Load(path string) (*types.PipelineConfig, error) {
	data, err := l.reader.ReadFile(path)
	if err != nil {
		return nil, types.NewConfigError(filepath.Base(path), "", "failed to read pipeline: %v", err)
	}
	return l.Parse(data, path)
}

// Parse decodes a pipeline document already in memory. path selects the
// format and anchors relative matrix file references.
func (l *Loader) Parse(data []byte, path string) (*types.PipelineConfig, error) {
	source := filepath.Base(path)

	root, err := parseDocument(data, DetectFormat(path))
	if err != nil {
		return nil, types.NewConfigError(source, "", "failed to parse: %v", err)
	}

	var doc pipelineDocument
	if err := root.Decode(&doc); err != nil {
		return nil, types.NewConfigError(source, "", "failed to decode: %v", err)
	}

	cfg := &types.PipelineConfig{
		Version:    doc.Version,
		Variables:  doc.Variables,
		Settings:   doc.Settings,
		Test:       doc.Test,
		Regression: doc.Regression,
		Path:       path,
	}
	if cfg.Version == "" {
		cfg.Version = SupportedVersion
	}

	var errs error

	steps, err := decodeSteps(source, doc.Steps)
	errs = multierr.Append(errs, err)
	cfg.Steps = steps

	for i := range doc.Matrices {
		src, err := doc.Matrices[i].source(source, i)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		cfg.Matrices = append(cfg.Matrices, src)
	}

	errs = multierr.Append(errs, l.ValidateConfig(cfg))
	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

// LoadMatrices resolves every matrix source, reading file references
// relative to baseDir. Errors across all sources are returned together.
func (l *Loader) LoadMatrices(sources []types.MatrixSource, baseDir string) (map[string]*types.MatrixConfig, error) {
	matrices := make(map[string]*types.MatrixConfig, len(sources))
	var errs error

	for _, src := range sources {
		if _, dup := matrices[src.Name]; dup {
			errs = multierr.Append(errs, types.NewConfigError(src.Name, "name", "matrix source declared twice"))
			continue
		}

		var (
			m   *types.MatrixConfig
			err error
		)
		if src.Inline != nil {
			m = src.Inline
			err = ValidateMatrix(m)
		} else {
			m, err = l.LoadMatrixFile(utils.ResolvePath(baseDir, src.File), src.Name)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		matrices[src.Name] = m
	}

	if errs != nil {
		return nil, errs
	}
	return matrices, nil
}

// LoadMatrixFile reads a standalone matrix file and names it name
func (l *Loader) LoadMatrixFile(path, name string) (*types.MatrixConfig, error) {
	data, err := l.reader.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewConfigError(name, "file", "referenced file %s does not exist", path)
		}
		return nil, types.NewConfigError(name, "file", "failed to read %s: %v", path, err)
	}

	root, err := parseDocument(data, DetectFormat(path))
	if err != nil {
		return nil, types.NewConfigError(name, "", "failed to parse %s: %v", path, err)
	}

	var doc matrixDocument
	if err := root.Decode(&doc); err != nil {
		return nil, types.NewConfigError(name, "", "failed to decode %s: %v", path, err)
	}
	if doc.File != "" {
		return nil, types.NewConfigError(name, "file", "matrix files cannot reference other files")
	}
	doc.Name = name

	m, err := doc.config(name)
	if err != nil {
		return nil, err
	}
	m.Source = path

	if err := ValidateMatrix(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SourceFiles lists the files a pipeline reads: itself and its matrix files
func SourceFiles(cfg *types.PipelineConfig) []string {
	files := []string{cfg.Path}
	baseDir := filepath.Dir(cfg.Path)
	for _, src := range cfg.Matrices {
		if src.File != "" {
			files = append(files, utils.ResolvePath(baseDir, src.File))
		}
	}
	return files
}

// ValidateConfig checks pipeline-level consistency: version, step kinds,
// matrix source names and the test/regression bindings.
func (l *Loader) ValidateConfig(cfg *types.PipelineConfig) error {
	source := filepath.Base(cfg.Path)
	var errs error

	if cfg.Version != SupportedVersion {
		errs = multierr.Append(errs, types.NewConfigError(source, "version", "unsupported version %q", cfg.Version))
	}

	if cfg.Settings.ExpansionCeiling < 0 {
		errs = multierr.Append(errs, types.NewConfigError(source, "settings.expansionCeiling", "must not be negative"))
	}

	names := make(map[string]bool)
	for _, src := range cfg.Matrices {
		if names[src.Name] {
			errs = multierr.Append(errs, types.NewConfigError(source, "matrices", "duplicate matrix name %q", src.Name))
		}
		names[src.Name] = true
	}

	if cfg.Test != nil && !names[cfg.Test.Matrix] {
		errs = multierr.Append(errs, types.NewConfigError(source, "test.matrix", "unknown matrix %q", cfg.Test.Matrix))
	}

	if r := cfg.Regression; r != nil {
		if !names[r.Matrix] {
			errs = multierr.Append(errs, types.NewConfigError(source, "regression.matrix", "unknown matrix %q", r.Matrix))
		}
		if cfg.Test != nil && cfg.Test.Matrix == r.Matrix {
			errs = multierr.Append(errs, types.NewConfigError(source, "regression.matrix",
				"matrix %q is already bound to test; the regression matrix gets a package dimension and needs its own matrix", r.Matrix))
		}
		if len(r.Services) == 0 {
			errs = multierr.Append(errs, types.NewConfigError(source, "regression.services", "no services requested"))
		}
		if r.PackageRoot == "" && len(r.Packages) == 0 {
			errs = multierr.Append(errs, types.NewConfigError(source, "regression", "either packageRoot or packages is required"))
		}
		for _, svc := range r.Services {
			if _, err := utils.NewValueMatcher(svc); err != nil {
				errs = multierr.Append(errs, types.NewConfigError(source, "regression.services", "invalid pattern %q: %v", svc, err))
			}
		}
	}

	needsIdentity := false
	for _, steps := range cfg.Steps {
		for _, s := range steps {
			needsIdentity = needsIdentity || s.RequireIdentity
		}
	}
	if needsIdentity && (cfg.Variables.Identity.Variable == "" || cfg.Variables.Identity.Project == "") {
		errs = multierr.Append(errs, types.NewConfigError(source, "variables.identity",
			"steps require an identity but variable or project is missing"))
	}

	return errs
}

// ValidateMatrix checks the structural invariants of a matrix config
func ValidateMatrix(m *types.MatrixConfig) error {
	var errs error
	add := func(field, format string, args ...interface{}) {
		errs = multierr.Append(errs, types.NewConfigError(m.Name, field, format, args...))
	}

	if m.Name == "" {
		add("name", "matrix name is required")
	}

	if len(m.Dimensions) == 0 {
		add("dimensions", "at least one dimension is required")
	}

	seenDims := make(map[string]bool)
	for _, d := range m.Dimensions {
		if d.Name == "" {
			add("dimensions", "dimension name is required")
			continue
		}
		if seenDims[d.Name] {
			add("dimensions", "duplicate dimension %q", d.Name)
		}
		seenDims[d.Name] = true

		if len(d.Values) == 0 {
			add("dimensions."+d.Name, "dimension has no values")
		}
		seenValues := make(map[string]bool)
		for _, v := range d.Values {
			if seenValues[v] {
				add("dimensions."+d.Name, "duplicate value %q", v)
			}
			seenValues[v] = true
		}
	}

	switch m.Selection {
	case "", types.SelectionAll, types.SelectionSparse:
	default:
		add("selection", "unknown selection mode %q", m.Selection)
	}

	for i, f := range m.Filters {
		field := fmt.Sprintf("filters[%d]", i)
		switch f.Kind {
		case types.FilterInclude, types.FilterExclude:
		default:
			add(field, "unknown filter kind %q", f.Kind)
		}
		if f.Dimension == "" {
			add(field, "dimension is required")
		}
		if _, err := utils.NewValueMatcher(f.Pattern); err != nil {
			add(field, "invalid pattern %q: %v", f.Pattern, err)
		}
	}

	for i, r := range m.Replace {
		field := fmt.Sprintf("replace[%d]", i)
		if r.Dimension == "" {
			add(field, "dimension is required")
		}
		if _, err := utils.NewValueMatcher(r.Pattern); err != nil {
			add(field, "invalid pattern %q: %v", r.Pattern, err)
		}
	}

	if m.Batch != nil && m.Batch.MaxBatchSize <= 0 {
		add("batch.maxBatchSize", "must be positive, got %d", m.Batch.MaxBatchSize)
	}

	if m.Timeout < 0 {
		add("timeout", "must not be negative")
	}

	return errs
}

// GetDefaultConfig returns the starter pipeline written by init
func (l *Loader) GetDefaultConfig() *types.PipelineConfig {
	return &types.PipelineConfig{
		Version: SupportedVersion,
		Variables: types.Variables{
			Pools: map[string]string{
				"linux":   "ubuntu-22.04",
				"windows": "windows-2022",
				"macos":   "macos-13",
			},
			DefaultPool: "ubuntu-22.04",
			Identity: types.Identity{
				Variable: "System.TeamProject",
				Project:  "internal",
			},
		},
		Settings: types.Settings{
			ExpansionCeiling: 1000,
			SkipAnalysisFlag: "Skip.Analyze",
		},
		Steps: types.StepTemplates{
			types.JobKindBuild: {
				{Body: map[string]interface{}{"script": "python -m build", "displayName": "Build"}},
			},
			types.JobKindTest: {
				{Body: map[string]interface{}{"script": "python -m pytest", "displayName": "Test"}},
				{
					Body:  map[string]interface{}{"task": "PublishTestResults@2", "displayName": "Publish results"},
					RunOn: types.RunOnSucceededOrFailed,
				},
			},
		},
		Matrices: []types.MatrixSource{
			{
				Name: "test",
				Inline: &types.MatrixConfig{
					Name: "test",
					Dimensions: []types.Dimension{
						{Name: "OS", Values: []string{"linux", "windows", "macos"}},
						{Name: "Python", Values: []string{"3.9", "3.12"}},
					},
					Selection: types.SelectionAll,
				},
			},
		},
		Test: &types.MatrixBinding{Matrix: "test"},
	}
}

// ConfigExists reports whether a pipeline file is present
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (d *matrixDocument) source(pipeline string, index int) (types.MatrixSource, error) {
	if d.Name == "" {
		return types.MatrixSource{}, types.NewConfigError(pipeline, fmt.Sprintf("matrices[%d]", index), "matrix name is required")
	}

	if d.File != "" {
		if d.Dimensions.Kind != 0 {
			return types.MatrixSource{}, types.NewConfigError(d.Name, "file", "a file reference cannot also declare dimensions")
		}
		return types.MatrixSource{Name: d.Name, File: d.File}, nil
	}

	m, err := d.config(d.Name)
	if err != nil {
		return types.MatrixSource{}, err
	}
	return types.MatrixSource{Name: d.Name, Inline: m}, nil
}

func (d *matrixDocument) config(name string) (*types.MatrixConfig, error) {
	dims, err := decodeDimensions(name, &d.Dimensions)
	if err != nil {
		return nil, err
	}
	return &types.MatrixConfig{
		Name:          name,
		Dimensions:    dims,
		Selection:     d.Selection,
		Filters:       d.Filters,
		Replace:       d.Replace,
		Batch:         d.Batch,
		PoolDimension: d.PoolDimension,
		Timeout:       d.Timeout,
	}, nil
}

// decodeDimensions accepts the mapping form (OS: [linux, windows]) and
// the list form (- {name: OS, values: [...]}), keeping declared order.
func decodeDimensions(matrix string, n *yaml.Node) ([]types.Dimension, error) {
	switch n.Kind {
	case 0:
		return nil, types.NewConfigError(matrix, "dimensions", "at least one dimension is required")
	case yaml.MappingNode:
		dims := make([]types.Dimension, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			name, ok := scalarValue(n.Content[i])
			if !ok {
				return nil, types.NewConfigError(matrix, "dimensions", "line %d: dimension name must be a scalar", n.Content[i].Line)
			}
			values, err := scalarList(n.Content[i+1])
			if err != nil {
				return nil, types.NewConfigError(matrix, "dimensions."+name, "%v", err)
			}
			dims = append(dims, types.Dimension{Name: name, Values: values})
		}
		return dims, nil
	case yaml.SequenceNode:
		dims := make([]types.Dimension, 0, len(n.Content))
		for _, item := range n.Content {
			var entry struct {
				Name   string    `yaml:"name"`
				Values yaml.Node `yaml:"values"`
			}
			if err := item.Decode(&entry); err != nil {
				return nil, types.NewConfigError(matrix, "dimensions", "%v", err)
			}
			var values []string
			if entry.Values.Kind != 0 {
				v, err := scalarList(&entry.Values)
				if err != nil {
					return nil, types.NewConfigError(matrix, "dimensions."+entry.Name, "%v", err)
				}
				values = v
			}
			dims = append(dims, types.Dimension{Name: entry.Name, Values: values})
		}
		return dims, nil
	}
	return nil, types.NewConfigError(matrix, "dimensions", "line %d: expected a mapping or a list", n.Line)
}

// decodeSteps splits the reserved runOn and requireIdentity keys out of
// each opaque step body.
func decodeSteps(source string, raw map[string][]map[string]interface{}) (types.StepTemplates, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	known := map[types.JobKind]bool{
		types.JobKindBuild:      true,
		types.JobKindAggregate:  true,
		types.JobKindDocs:       true,
		types.JobKindAnalysis:   true,
		types.JobKindTest:       true,
		types.JobKindRegression: true,
	}

	templates := make(types.StepTemplates, len(raw))
	var errs error

	kinds := make([]string, 0, len(raw))
	for kind := range raw {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		bodies := raw[kind]
		jobKind := types.JobKind(kind)
		if !known[jobKind] {
			errs = multierr.Append(errs, types.NewConfigError(source, "steps", "unknown job kind %q", kind))
			continue
		}

		steps := make([]types.Step, 0, len(bodies))
		for i, body := range bodies {
			field := fmt.Sprintf("steps.%s[%d]", kind, i)
			step := types.Step{Body: make(map[string]interface{}, len(body))}

			for k, v := range body {
				switch k {
				case "runOn":
					s, _ := v.(string)
					switch types.RunOn(s) {
					case types.RunOnSucceeded, types.RunOnSucceededOrFailed, types.RunOnFailed, types.RunOnAlways:
						step.RunOn = types.RunOn(s)
					default:
						errs = multierr.Append(errs, types.NewConfigError(source, field, "unknown runOn %v", v))
					}
				case "requireIdentity":
					b, ok := v.(bool)
					if !ok {
						errs = multierr.Append(errs, types.NewConfigError(source, field, "requireIdentity must be a boolean"))
					}
					step.RequireIdentity = b
				default:
					step.Body[k] = v
				}
			}

			if len(step.Body) == 0 {
				errs = multierr.Append(errs, types.NewConfigError(source, field, "step has no body"))
			}
			steps = append(steps, step)
		}
		templates[jobKind] = steps
	}

	return templates, errs
}
