package config

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poltergeist/matrixgen/pkg/types"
)

// renderedPipeline is the on-disk pipeline layout with empty sections left out
type renderedPipeline struct {
	Version    string                              `yaml:"version"`
	Variables  types.Variables                     `yaml:"variables"`
	Settings   renderedSettings                    `yaml:"settings,omitempty"`
	Steps      map[string][]map[string]interface{} `yaml:"steps,omitempty"`
	Matrices   []renderedMatrix                    `yaml:"matrices,omitempty"`
	Test       *types.MatrixBinding                `yaml:"test,omitempty"`
	Regression *types.RegressionConfig             `yaml:"regression,omitempty"`
}

type renderedSettings struct {
	ExpansionCeiling int                 `yaml:"expansionCeiling,omitempty"`
	SkipAnalysisFlag string              `yaml:"skipAnalysisFlag,omitempty"`
	Stages           *types.StageToggles `yaml:"stages,omitempty"`
	BuildTimeout     time.Duration       `yaml:"buildTimeout,omitempty"`
	JobTimeout       time.Duration       `yaml:"jobTimeout,omitempty"`
}

type renderedMatrix struct {
	Name          string                `yaml:"name"`
	File          string                `yaml:"file,omitempty"`
	Dimensions    *yaml.Node            `yaml:"dimensions,omitempty"`
	Selection     types.SelectionMode   `yaml:"selection,omitempty"`
	Filters       []types.MatrixFilter  `yaml:"filters,omitempty"`
	Replace       []types.MatrixReplace `yaml:"replace,omitempty"`
	Batch         *types.BatchControl   `yaml:"batch,omitempty"`
	PoolDimension string                `yaml:"poolDimension,omitempty"`
	Timeout       time.Duration         `yaml:"timeout,omitempty"`
}

// Marshal renders a pipeline back to the YAML layout Parse reads. Inline
// matrices use the mapping form for dimensions so declared order survives.
func Marshal(cfg *types.PipelineConfig) ([]byte, error) {
	doc := renderedPipeline{
		Version:    cfg.Version,
		Variables:  cfg.Variables,
		Steps:      encodeSteps(cfg.Steps),
		Test:       cfg.Test,
		Regression: cfg.Regression,
		Settings: renderedSettings{
			ExpansionCeiling: cfg.Settings.ExpansionCeiling,
			SkipAnalysisFlag: cfg.Settings.SkipAnalysisFlag,
			BuildTimeout:     cfg.Settings.BuildTimeout,
			JobTimeout:       cfg.Settings.JobTimeout,
		},
	}
	if s := cfg.Settings.Stages; s != (types.StageToggles{}) {
		doc.Settings.Stages = &s
	}

	for _, src := range cfg.Matrices {
		m := renderedMatrix{Name: src.Name, File: src.File}
		if src.Inline != nil {
			m.Dimensions = encodeDimensions(src.Inline.Dimensions)
			m.Selection = src.Inline.Selection
			m.Filters = src.Inline.Filters
			m.Replace = src.Inline.Replace
			m.Batch = src.Inline.Batch
			m.PoolDimension = src.Inline.PoolDimension
			m.Timeout = src.Inline.Timeout
		}
		doc.Matrices = append(doc.Matrices, m)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeDimensions builds OS: [linux, windows] entries. Values are tagged
// as strings so 3.10 is written quoted and reads back unchanged.
func encodeDimensions(dims []types.Dimension) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, d := range dims {
		values := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, v := range d.Values {
			values.Content = append(values.Content, stringNode(v))
		}
		node.Content = append(node.Content, stringNode(d.Name), values)
	}
	return node
}

// encodeSteps folds runOn and requireIdentity back into each step body
func encodeSteps(steps types.StepTemplates) map[string][]map[string]interface{} {
	if len(steps) == 0 {
		return nil
	}

	raw := make(map[string][]map[string]interface{}, len(steps))
	for kind, list := range steps {
		for _, step := range list {
			body := make(map[string]interface{}, len(step.Body)+2)
			for k, v := range step.Body {
				body[k] = v
			}
			if step.RunOn != "" {
				body["runOn"] = string(step.RunOn)
			}
			if step.RequireIdentity {
				body["requireIdentity"] = true
			}
			raw[string(kind)] = append(raw[string(kind)], body)
		}
	}
	return raw
}
