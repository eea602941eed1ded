package matrix

import (
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Expander runs the full expansion pipeline for one matrix:
// expand, filter, replace, pool resolution and batching.
type Expander struct {
	variables *types.Variables
	ceiling   int
	logger    logger.Logger
}

// Result is the outcome of expanding one matrix
type Result struct {
	Matrix string
	Kind   types.JobKind
	// Enumerated counts jobs before filtering.
	Enumerated int
	Jobs       []types.GeneratedJob
	// Batches partitions Jobs. Without batching it holds a single batch.
	Batches [][]types.GeneratedJob
	Batched bool
}

// NewExpander creates an expander resolving pools from variables
func NewExpander(variables *types.Variables, ceiling int, log logger.Logger) *Expander {
	return &Expander{
		variables: variables,
		ceiling:   ceiling,
		logger:    log.WithComponent("expander"),
	}
}

// Run expands cfg into jobs of the given kind. Batching applies only to
// pull-request runs of matrices that declare a batch size.
func (e *Expander) Run(cfg *types.MatrixConfig, kind types.JobKind, trigger types.Trigger) (*Result, error) {
	jobs, err := Expand(cfg, e.ceiling)
	if err != nil {
		return nil, err
	}
	enumerated := len(jobs)

	if jobs, err = Filter(jobs, cfg.Filters); err != nil {
		return nil, withSource(err, cfg.Name)
	}
	if jobs, err = Replace(jobs, cfg.Replace); err != nil {
		return nil, withSource(err, cfg.Name)
	}

	poolDim := cfg.GetPoolDimension()
	for i := range jobs {
		jobs[i].Kind = kind
		jobs[i].Timeout = cfg.Timeout
		if value, ok := keyValue(jobs[i], poolDim); ok {
			jobs[i].Pool = e.variables.PoolFor(value)
			jobs[i].Image = e.variables.ImageFor(value)
		} else {
			jobs[i].Pool = e.variables.PoolFor("")
		}
	}

	result := &Result{
		Matrix:     cfg.Name,
		Kind:       kind,
		Enumerated: enumerated,
		Jobs:       jobs,
	}

	if trigger == types.TriggerPullRequest && cfg.Batch != nil {
		batches, err := Batch(jobs, cfg.Batch.MaxBatchSize)
		if err != nil {
			return nil, withSource(err, cfg.Name)
		}
		for b := range batches {
			for j := range batches[b] {
				batches[b][j].Batch = b + 1
			}
		}
		result.Batches = batches
		result.Batched = true
	} else if len(jobs) > 0 {
		result.Batches = [][]types.GeneratedJob{jobs}
	}

	e.logger.Debug("Expanded matrix",
		logger.WithField("matrix", cfg.Name),
		logger.WithField("selection", cfg.GetSelection()),
		logger.WithField("enumerated", enumerated),
		logger.WithField("jobs", len(jobs)),
		logger.WithField("batches", len(result.Batches)))

	return result, nil
}

func withSource(err error, source string) error {
	if cfgErr, ok := err.(*types.ConfigError); ok && cfgErr.Source == "" {
		cfgErr.Source = source
	}
	return err
}
