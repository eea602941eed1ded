// Package emitter serializes a stage graph into the executor's pipeline document
package emitter

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/matrixgen/pkg/graph"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Format is the output serialization
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ImageVariable is the job variable carrying the resolved image identifier
const ImageVariable = "ImageName"

// Document is the executor pipeline document
type Document struct {
	Stages []StageDoc `json:"stages" yaml:"stages"`
}

// StageDoc is one emitted stage
type StageDoc struct {
	Stage     string   `json:"stage" yaml:"stage"`
	DependsOn []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Jobs      []JobDoc `json:"jobs" yaml:"jobs"`
}

// JobDoc is one emitted job
type JobDoc struct {
	Job              string                   `json:"job" yaml:"job"`
	DisplayName      string                   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Pool             string                   `json:"pool" yaml:"pool"`
	DependsOn        []string                 `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Condition        string                   `json:"condition,omitempty" yaml:"condition,omitempty"`
	TimeoutInMinutes int                      `json:"timeoutInMinutes,omitempty" yaml:"timeoutInMinutes,omitempty"`
	Variables        map[string]string        `json:"variables,omitempty" yaml:"variables,omitempty"`
	Steps            []map[string]interface{} `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Build converts a stage graph into the document model
func Build(g *graph.StageGraph) *Document {
	doc := &Document{}
	for _, s := range g.Stages() {
		sd := StageDoc{
			Stage:     s.Name,
			DependsOn: nonEmpty(s.DependsOn),
			Condition: s.Condition.String(),
			Jobs:      make([]JobDoc, 0, len(s.Jobs)),
		}
		for _, name := range s.Jobs {
			job, _ := g.Job(name)
			sd.Jobs = append(sd.Jobs, jobDoc(job, localDeps(g, s.Name, job.DependsOn)))
		}
		doc.Stages = append(doc.Stages, sd)
	}
	return doc
}

// localDeps keeps the dependencies on jobs of the same stage. Edges into
// other stages are carried by the stage's own dependsOn.
func localDeps(g *graph.StageGraph, stage string, deps []string) []string {
	var out []string
	for _, dep := range deps {
		if g.StageOf(dep) == stage {
			out = append(out, dep)
		}
	}
	return out
}

func jobDoc(job types.GeneratedJob, deps []string) JobDoc {
	jd := JobDoc{
		Job:              job.Name,
		Pool:             job.Pool,
		DependsOn:        nonEmpty(deps),
		Condition:        types.And(job.Condition, job.Access).String(),
		TimeoutInMinutes: int(math.Ceil(job.Timeout.Minutes())),
	}

	if len(job.Params) > 0 {
		jd.Variables = make(map[string]string, len(job.Params))
		display := make([]string, len(job.Params))
		for i, p := range job.Params {
			jd.Variables[p.Dimension] = p.Value
			display[i] = p.Value
		}
		if job.Config != "" {
			jd.DisplayName = fmt.Sprintf("%s (%s)", job.Config, strings.Join(display, ", "))
		}
	}
	if job.Image != "" {
		if jd.Variables == nil {
			jd.Variables = make(map[string]string, 1)
		}
		// A dimension of the same name wins.
		if _, taken := jd.Variables[ImageVariable]; !taken {
			jd.Variables[ImageVariable] = job.Image
		}
	}

	for _, step := range job.Steps {
		body := make(map[string]interface{}, len(step.Body)+1)
		for k, v := range step.Body {
			body[k] = v
		}
		if step.RunOn != "" || step.RequireIdentity {
			body["condition"] = types.And(step.Condition, step.Access).String()
		}
		jd.Steps = append(jd.Steps, body)
	}
	return jd
}

func nonEmpty(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	return append([]string(nil), items...)
}

// Encode serializes a document
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML, "":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Decode parses an emitted document
func Decode(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &doc, nil
}

// Emit serializes the graph and verifies that the output decodes back to
// the same document.
func Emit(g *graph.StageGraph, format Format) ([]byte, error) {
	doc := Build(g)

	data, err := Encode(doc, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}

	decoded, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("emitted pipeline does not parse: %w", err)
	}
	if diff := Diff(doc, decoded); diff != "" {
		return nil, fmt.Errorf("emitted pipeline does not round-trip (-want +got):\n%s", diff)
	}

	return data, nil
}

// Diff reports the differences between two documents. Numbers compare by
// value so that JSON's float64 matches YAML's int.
func Diff(want, got *Document) string {
	return cmp.Diff(want, got, cmpopts.EquateEmpty(), numericEquality)
}

var numericEquality = cmp.FilterValues(
	func(x, y interface{}) bool {
		_, okX := toFloat(x)
		_, okY := toFloat(y)
		return okX && okY
	},
	cmp.Comparer(func(x, y interface{}) bool {
		fx, _ := toFloat(x)
		fy, _ := toFloat(y)
		return fx == fy
	}),
)

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// digestContext separates pipeline digests from other BLAKE3 uses
const digestContext = "matrixgen 2024 emitted pipeline digest"

// Digest returns the hex BLAKE3 digest of emitted pipeline bytes
func Digest(data []byte) string {
	hasher := blake3.NewDeriveKey(digestContext)
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}
