package engine

import (
	"context"
	"runtime"
)

// CheckResult is the dry-run outcome of one pipeline file
type CheckResult struct {
	Pipeline string
	Jobs     int
	Digest   string
	Err      error
}

// Check dry-runs every pipeline in parallel. Runs are isolated: a failing
// pipeline is reported in its result and never cancels the others.
// Results keep the order of paths.
func (g *Generator) Check(ctx context.Context, paths []string, opts Options, parallelism int) []CheckResult {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	results := make([]CheckResult, len(paths))
	reported := make([]bool, len(paths))

	group, gctx := NewSafeGroup(ctx, g.logger)
	group.SetLimit(parallelism)

	for i, path := range paths {
		i, path := i, path
		group.Go(func() error {
			runOpts := opts
			runOpts.ConfigPath = path
			runOpts.OutputPath = ""
			runOpts.DryRun = true

			res := CheckResult{Pipeline: path}
			if out, err := g.Generate(gctx, runOpts); err != nil {
				res.Err = err
			} else {
				res.Jobs = out.Jobs
				res.Digest = out.Digest
			}

			// Each goroutine owns its index.
			results[i] = res
			reported[i] = true
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		// Only a recovered panic reaches here.
		for i := range results {
			if !reported[i] {
				results[i] = CheckResult{Pipeline: paths[i], Err: err}
			}
		}
	}

	return results
}
