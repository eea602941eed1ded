package matrix

import (
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Batch splits jobs into consecutive groups of at most maxBatchSize.
// Concatenating the groups in order reproduces jobs.
func Batch(jobs []types.GeneratedJob, maxBatchSize int) ([][]types.GeneratedJob, error) {
	if maxBatchSize <= 0 {
		return nil, types.NewConfigError("", "batch.maxBatchSize", "must be positive, got %d", maxBatchSize)
	}

	batches := make([][]types.GeneratedJob, 0, (len(jobs)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(jobs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		batches = append(batches, jobs[start:end:end])
	}
	return batches, nil
}
