// Package matrix expands matrix configurations into concrete jobs
package matrix

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// DefaultCeiling bounds expansion when no ceiling is configured
const DefaultCeiling = 1000

// Count returns the size of the full Cartesian product. ok is false when
// the product does not fit in a uint64.
func Count(cfg *types.MatrixConfig) (count uint64, ok bool) {
	count = 1
	for _, d := range cfg.Dimensions {
		hi, lo := bits.Mul64(count, uint64(len(d.Values)))
		if hi != 0 {
			return 0, false
		}
		count = lo
	}
	return count, true
}

// Expand enumerates the jobs of a matrix. Exhaustive selection yields the
// Cartesian product with the first dimension varying slowest; sparse
// selection yields one row per value of the widest dimension.
func Expand(cfg *types.MatrixConfig, ceiling int) ([]types.GeneratedJob, error) {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if len(cfg.Dimensions) == 0 {
		return nil, types.NewConfigError(cfg.Name, "dimensions", "at least one dimension is required")
	}
	for _, d := range cfg.Dimensions {
		if len(d.Values) == 0 {
			return nil, types.NewConfigError(cfg.Name, "dimensions."+d.Name, "dimension has no values")
		}
	}

	var keys [][]string
	switch cfg.GetSelection() {
	case types.SelectionAll:
		count, ok := Count(cfg)
		if !ok || count > uint64(ceiling) {
			if !ok {
				count = ^uint64(0)
			}
			return nil, &types.ExpansionOverflowError{Matrix: cfg.Name, Count: count, Ceiling: ceiling}
		}
		keys = product(cfg.Dimensions, int(count))
	case types.SelectionSparse:
		n := widest(cfg.Dimensions)
		if n > ceiling {
			return nil, &types.ExpansionOverflowError{Matrix: cfg.Name, Count: uint64(n), Ceiling: ceiling}
		}
		keys = sparse(cfg.Dimensions, n)
	default:
		return nil, types.NewConfigError(cfg.Name, "selection", "unknown selection mode %q", cfg.Selection)
	}

	jobs := make([]types.GeneratedJob, len(keys))
	for i, key := range keys {
		params := make([]types.Binding, len(key))
		for d, value := range key {
			params[d] = types.Binding{Dimension: cfg.Dimensions[d].Name, Value: value}
		}
		jobs[i] = types.GeneratedJob{
			Config: cfg.Name,
			Key:    key,
			Params: params,
		}
	}
	assignNames(cfg.Name, jobs)

	return jobs, nil
}

// product walks the dimensions like an odometer, last dimension fastest
func product(dims []types.Dimension, count int) [][]string {
	keys := make([][]string, 0, count)
	idx := make([]int, len(dims))

	for {
		key := make([]string, len(dims))
		for d := range dims {
			key[d] = dims[d].Values[idx[d]]
		}
		keys = append(keys, key)

		d := len(dims) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < len(dims[d].Values) {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return keys
		}
	}
}

func widest(dims []types.Dimension) int {
	n := 0
	for _, d := range dims {
		if len(d.Values) > n {
			n = len(d.Values)
		}
	}
	return n
}

// sparse aligns dimensions round-robin: row r binds values[r mod len]
// of every dimension, so each value appears in at least one row.
func sparse(dims []types.Dimension, n int) [][]string {
	keys := make([][]string, n)
	for r := 0; r < n; r++ {
		key := make([]string, len(dims))
		for d := range dims {
			key[d] = dims[d].Values[r%len(dims[d].Values)]
		}
		keys[r] = key
	}
	return keys
}

// assignNames derives executor-safe job names from the key tuple.
// Collisions get _2, _3... in enumeration order.
func assignNames(config string, jobs []types.GeneratedJob) {
	used := make(map[string]bool, len(jobs))
	prefix := utils.Identifier(config)
	if prefix == "" {
		prefix = "matrix"
	}

	for i := range jobs {
		parts := []string{prefix}
		for _, v := range jobs[i].Key {
			if id := utils.Identifier(v); id != "" {
				parts = append(parts, id)
			}
		}
		base := strings.Join(parts, "_")

		name := base
		for n := 2; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		used[name] = true
		jobs[i].Name = name
	}
}
