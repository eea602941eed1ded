package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/poltergeist/matrixgen/internal/state"
	"github.com/poltergeist/matrixgen/pkg/config"
	mcontext "github.com/poltergeist/matrixgen/pkg/context"
	"github.com/poltergeist/matrixgen/pkg/coverage"
	"github.com/poltergeist/matrixgen/pkg/emitter"
	"github.com/poltergeist/matrixgen/pkg/graph"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/matrix"
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// Options are the frozen runtime options of one generation run
type Options struct {
	ConfigPath string
	// OutputPath receives the emitted pipeline; empty writes nothing.
	OutputPath string
	Format     emitter.Format
	Trigger    types.Trigger
	// Ceiling overrides the pipeline's expansion ceiling when positive.
	Ceiling int
	// DryRun runs every phase but never writes output or state.
	DryRun bool
}

// Pipeline is a loaded pipeline with its matrices resolved
type Pipeline struct {
	Config   *types.PipelineConfig
	Matrices map[string]*types.MatrixConfig
	BaseDir  string
}

// Result is the outcome of a successful run
type Result struct {
	RunID    string
	Pipeline string
	Output   string
	Data     []byte
	Digest   string
	Graph    *graph.StageGraph
	Coverage *coverage.Record
	Jobs     int
	Written  bool
	Duration time.Duration
}

// Generator turns a pipeline file into an emitted pipeline document
type Generator struct {
	loader *config.Loader
	deps   Dependencies
	logger logger.Logger
}

// NewGenerator creates a generator over deps
func NewGenerator(deps Dependencies, log logger.Logger) *Generator {
	if deps.Reader == nil || deps.Lister == nil || deps.Writer == nil {
		panic("generator requires Reader, Lister and Writer dependencies")
	}
	return &Generator{
		loader: config.NewLoaderWithReader(deps.Reader),
		deps:   deps,
		logger: log.WithComponent("engine"),
	}
}

// Loader returns the config loader the generator reads through
func (g *Generator) Loader() *config.Loader {
	return g.loader
}

// Load reads the pipeline and every matrix it declares
func (g *Generator) Load(path string) (*Pipeline, error) {
	cfg, err := g.loader.Load(path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	matrices, err := g.loader.LoadMatrices(cfg.Matrices, baseDir)
	if err != nil {
		return nil, err
	}

	return &Pipeline{Config: cfg, Matrices: matrices, BaseDir: baseDir}, nil
}

// Generate runs every phase and writes the output atomically. Nothing is
// written when any phase fails.
func (g *Generator) Generate(ctx context.Context, opts Options) (result *Result, err error) {
	ctx = mcontext.EnrichContext(ctx)
	ctx = mcontext.WithPipeline(ctx, opts.ConfigPath)
	ctx = mcontext.WithOperation(ctx, "generate")
	log := logger.WithContext(ctx, g.logger)
	runID := mcontext.GetRunID(ctx)

	defer func() {
		if err == nil || opts.DryRun || g.deps.State == nil {
			return
		}
		if _, stateErr := g.deps.State.Record(opts.ConfigPath, state.Outcome{
			RunID:    runID,
			Duration: mcontext.GetDuration(ctx),
			Err:      err,
		}); stateErr != nil {
			log.Warn("Failed to record run state", logger.WithField("error", stateErr))
		}
	}()

	log.Info("Generating pipeline",
		logger.WithField("trigger", opts.Trigger),
		logger.WithField("format", opts.Format))

	p, err := g.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	test, regression, record, err := g.expandAll(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg, err := graph.NewBuilder(p.Config, g.logger).Build(test, regression)
	if err != nil {
		return nil, err
	}

	data, err := emitter.Emit(sg, opts.Format)
	if err != nil {
		return nil, err
	}

	result = &Result{
		RunID:    runID,
		Pipeline: opts.ConfigPath,
		Output:   opts.OutputPath,
		Data:     data,
		Digest:   emitter.Digest(data),
		Graph:    sg,
		Coverage: record,
		Jobs:     sg.Len(),
	}

	if err := g.persist(ctx, log, result, opts); err != nil {
		return nil, err
	}
	result.Duration = mcontext.GetDuration(ctx)

	log.Success("Pipeline generated",
		logger.WithField("jobs", result.Jobs),
		logger.WithField("stages", len(sg.Stages())),
		logger.WithField("digest", result.Digest[:12]))

	return result, nil
}

func (g *Generator) persist(ctx context.Context, log logger.Logger, result *Result, opts Options) error {
	if opts.DryRun || opts.OutputPath == "" {
		return nil
	}

	if g.deps.State != nil && g.deps.State.Unchanged(opts.ConfigPath, opts.OutputPath, result.Digest) {
		log.Info("Output unchanged, skipping write", logger.WithField("output", opts.OutputPath))
	} else {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.deps.Writer.WriteFile(opts.OutputPath, result.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.OutputPath, err)
		}
		result.Written = true
	}

	if g.deps.State != nil {
		if _, err := g.deps.State.Record(opts.ConfigPath, state.Outcome{
			RunID:    result.RunID,
			Digest:   result.Digest,
			Output:   opts.OutputPath,
			Jobs:     result.Jobs,
			Duration: mcontext.GetDuration(ctx),
		}); err != nil {
			log.Warn("Failed to record run state", logger.WithField("error", err))
		}
	}
	return nil
}

// expandAll expands the matrices bound to enabled stages
func (g *Generator) expandAll(ctx context.Context, p *Pipeline, opts Options) (test, regression *matrix.Result, record *coverage.Record, err error) {
	stages := p.Config.Settings.Stages

	if p.Config.Test != nil && stages.TestsEnabled() {
		test, _, err = g.ExpandMatrix(ctx, p, p.Config.Test.Matrix, opts)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if p.Config.Regression != nil && stages.RegressionEnabled() {
		regression, record, err = g.ExpandMatrix(ctx, p, p.Config.Regression.Matrix, opts)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return test, regression, record, nil
}

// ExpandMatrix expands one named matrix. The regression matrix first gets
// the reconciled packages injected as its leading dimension.
func (g *Generator) ExpandMatrix(ctx context.Context, p *Pipeline, name string, opts Options) (*matrix.Result, *coverage.Record, error) {
	m, ok := p.Matrices[name]
	if !ok {
		return nil, nil, types.NewConfigError(p.Config.Path, "matrices", "unknown matrix %q", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = p.Config.GetExpansionCeiling()
	}
	expander := matrix.NewExpander(&p.Config.Variables, ceiling, g.logger)

	kind := types.JobKindTest
	var record *coverage.Record
	if reg := p.Config.Regression; reg != nil && reg.Matrix == name {
		kind = types.JobKindRegression

		var err error
		record, err = g.Reconcile(p)
		if err != nil {
			return nil, nil, err
		}
		if m, err = coverage.Inject(m, reg.GetDimension(), record.Packages()); err != nil {
			return nil, nil, err
		}
	}

	result, err := expander.Run(m, kind, opts.Trigger)
	if err != nil {
		return nil, nil, err
	}
	return result, record, nil
}

// Reconcile resolves the requested regression services against either the
// declared package map or the packages discovered under packageRoot.
func (g *Generator) Reconcile(p *Pipeline) (*coverage.Record, error) {
	reg := p.Config.Regression
	if reg == nil {
		return nil, types.NewConfigError(p.Config.Path, "regression", "no regression matrix is configured")
	}

	var universe coverage.Universe
	if len(reg.Packages) > 0 {
		universe = coverage.FromMap(reg.Packages)
	} else {
		var err error
		root := utils.ResolvePath(p.BaseDir, reg.PackageRoot)
		universe, err = coverage.NewDiscoverer(g.deps.Lister, g.logger).Discover(root, coverage.Options{
			Exclude:     reg.Exclude,
			IncludeMgmt: reg.IncludeMgmt,
		})
		if err != nil {
			return nil, err
		}
	}

	record, err := coverage.Reconcile(universe, reg.Services)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("Reconciled regression coverage",
		logger.WithField("services", len(record.Services)),
		logger.WithField("packages", len(record.Packages())))
	return record, nil
}
