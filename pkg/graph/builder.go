package graph

import (
	"fmt"

	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/matrix"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Stage and job names of the fixed topology
const (
	StageBuild      = "build"
	StageAggregate  = "aggregate"
	StageDocs       = "docs"
	StageAnalyze    = "analyze"
	StageTest       = "test"
	StageRegression = "regression"

	JobAggregate = "build_aggregate"
	JobDocs      = "docs"
	JobAnalyze   = "analyze"
)

// LeafJob returns the build job name for a platform
func LeafJob(p types.Platform) string {
	return "build_" + string(p)
}

// LeafJobs returns the build job names in platform order
func LeafJobs() []string {
	names := make([]string, len(types.Platforms))
	for i, p := range types.Platforms {
		names[i] = LeafJob(p)
	}
	return names
}

// BatchStage returns the name of the nth batch stage of a matrix stage
func BatchStage(stage string, n int) string {
	return fmt.Sprintf("%s_batch_%d", stage, n)
}

// Builder assembles the fixed pipeline topology around expanded matrices
type Builder struct {
	cfg    *types.PipelineConfig
	logger logger.Logger
}

// NewBuilder creates a builder for one pipeline configuration
func NewBuilder(cfg *types.PipelineConfig, log logger.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		logger: log.WithComponent("graph"),
	}
}

// Build wires the build leaves, the aggregate, the optional docs and
// analysis jobs, and the test and regression matrices. Either result may be
// nil when that matrix is not configured. The aggregate gets its own stage
// so that only analysis waits for it. The graph is validated and sealed
// before it is returned.
func (b *Builder) Build(test, regression *matrix.Result) (*StageGraph, error) {
	g := New()
	stages := b.cfg.Settings.Stages
	leaves := LeafJobs()

	if err := g.AddStage(StageBuild, nil, types.Condition{}); err != nil {
		return nil, err
	}
	for _, p := range types.Platforms {
		job := types.GeneratedJob{
			Name:      LeafJob(p),
			Kind:      types.JobKindBuild,
			Params:    []types.Binding{{Dimension: "Platform", Value: string(p)}},
			Pool:      b.cfg.Variables.PoolFor(string(p)),
			Image:     b.cfg.Variables.ImageFor(string(p)),
			Condition: types.Succeeded(),
			Timeout:   b.cfg.GetBuildTimeout(),
		}
		if err := b.add(g, StageBuild, job); err != nil {
			return nil, err
		}
	}

	if err := g.AddStage(StageAggregate, []string{StageBuild}, types.And(types.Succeeded(), types.Succeeded(StageBuild))); err != nil {
		return nil, err
	}
	aggregate := types.GeneratedJob{
		Name:      JobAggregate,
		Kind:      types.JobKindAggregate,
		Pool:      b.cfg.Variables.PoolFor(""),
		DependsOn: leaves,
		Condition: types.Succeeded(),
		Timeout:   b.cfg.GetBuildTimeout(),
	}
	if err := b.add(g, StageAggregate, aggregate); err != nil {
		return nil, err
	}

	if stages.DocsEnabled() {
		if err := g.AddStage(StageDocs, []string{StageBuild}, types.Condition{}); err != nil {
			return nil, err
		}
		docs := types.GeneratedJob{
			Name:      JobDocs,
			Kind:      types.JobKindDocs,
			Pool:      b.cfg.Variables.PoolFor(string(types.PlatformLinux)),
			DependsOn: leaves,
			Condition: types.Succeeded(),
			Timeout:   b.cfg.GetJobTimeout(),
		}
		if err := b.add(g, StageDocs, docs); err != nil {
			return nil, err
		}
	}

	if stages.AnalysisEnabled() {
		if err := g.AddStage(StageAnalyze, []string{StageBuild, StageAggregate}, types.Condition{}); err != nil {
			return nil, err
		}
		analyze := types.GeneratedJob{
			Name:      JobAnalyze,
			Kind:      types.JobKindAnalysis,
			Pool:      b.cfg.Variables.PoolFor(string(types.PlatformLinux)),
			DependsOn: append(append([]string(nil), leaves...), JobAggregate),
			Condition: types.And(types.Succeeded(), types.Ne(b.cfg.GetSkipAnalysisFlag(), "true")),
			Timeout:   b.cfg.GetJobTimeout(),
		}
		if err := b.add(g, StageAnalyze, analyze); err != nil {
			return nil, err
		}
	}

	if stages.TestsEnabled() && test != nil {
		if err := b.addMatrix(g, StageTest, test, leaves); err != nil {
			return nil, err
		}
	}

	if stages.RegressionEnabled() && regression != nil {
		if err := b.addMatrix(g, StageRegression, regression, leaves); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.seal()

	b.logger.Debug("Built stage graph",
		logger.WithField("stages", len(g.stages)),
		logger.WithField("jobs", g.Len()))

	return g, nil
}

// addMatrix places matrix jobs behind the build leaves. Batched results get
// one stage per batch; later batches wait for earlier ones whatever their
// outcome, provided the build stage succeeded.
func (b *Builder) addMatrix(g *StageGraph, stage string, result *matrix.Result, leaves []string) error {
	if len(result.Jobs) == 0 {
		b.logger.Warn("Matrix produced no jobs, skipping stage",
			logger.WithField("matrix", result.Matrix),
			logger.WithField("stage", stage))
		return nil
	}

	for n, batch := range result.Batches {
		name := stage
		deps := []string{StageBuild}
		var cond types.Condition

		if result.Batched {
			name = BatchStage(stage, n+1)
			if n > 0 {
				deps = append(deps, BatchStage(stage, n))
				cond = types.And(types.SucceededOrFailed(), types.Succeeded(StageBuild))
			}
		}

		if err := g.AddStage(name, deps, cond); err != nil {
			return err
		}

		for _, job := range batch {
			job.DependsOn = leaves
			job.Condition = types.Succeeded()
			if job.Timeout == 0 {
				job.Timeout = b.cfg.GetJobTimeout()
			}
			if err := b.add(g, name, job); err != nil {
				return err
			}
		}
	}
	return nil
}

// add attaches the step templates for the job kind, resolving each step's
// predicates, then places the job.
func (b *Builder) add(g *StageGraph, stage string, job types.GeneratedJob) error {
	templates := b.cfg.Steps[job.Kind]
	if len(templates) > 0 {
		job.Steps = make([]types.Step, len(templates))
		allPrivileged := true
		for i, tmpl := range templates {
			job.Steps[i] = b.resolveStep(tmpl)
			allPrivileged = allPrivileged && tmpl.RequireIdentity
		}
		if allPrivileged {
			job.Access = b.identityGate()
		}
	}
	return g.AddJob(stage, job)
}

func (b *Builder) resolveStep(tmpl types.Step) types.Step {
	step := tmpl
	step.Body = make(map[string]interface{}, len(tmpl.Body))
	for k, v := range tmpl.Body {
		step.Body[k] = v
	}

	switch tmpl.RunOn {
	case types.RunOnSucceededOrFailed:
		step.Condition = types.SucceededOrFailed()
	case types.RunOnFailed:
		step.Condition = types.Failed()
	case types.RunOnAlways:
		step.Condition = types.Always()
	default:
		step.Condition = types.Succeeded()
	}
	if tmpl.RequireIdentity {
		step.Access = b.identityGate()
	}
	return step
}

func (b *Builder) identityGate() types.Condition {
	id := b.cfg.Variables.Identity
	return types.Eq(id.Variable, id.Project)
}
