package matrix_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/matrix"
	"github.com/poltergeist/matrixgen/pkg/types"
)

func osPython() *types.MatrixConfig {
	return &types.MatrixConfig{
		Name: "test",
		Dimensions: []types.Dimension{
			{Name: "OS", Values: []string{"linux", "windows"}},
			{Name: "Python", Values: []string{"3.9", "3.12"}},
		},
	}
}

func keys(jobs []types.GeneratedJob) [][]string {
	out := make([][]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Key
	}
	return out
}

func names(jobs []types.GeneratedJob) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

func TestExpand_ExhaustiveOrder(t *testing.T) {
	jobs, err := matrix.Expand(osPython(), 100)
	assert.NoError(t, err)

	assert.Equal(t, [][]string{
		{"linux", "3.9"},
		{"linux", "3.12"},
		{"windows", "3.9"},
		{"windows", "3.12"},
	}, keys(jobs))
	assert.Equal(t, []string{
		"test_linux_3_9",
		"test_linux_3_12",
		"test_windows_3_9",
		"test_windows_3_12",
	}, names(jobs))
	assert.Equal(t, []types.Binding{{Dimension: "OS", Value: "linux"}, {Dimension: "Python", Value: "3.9"}}, jobs[0].Params)
}

func TestExpand_Cardinality(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
	}{
		{"single", []int{1}},
		{"one dimension", []int{5}},
		{"two dimensions", []int{3, 4}},
		{"three dimensions", []int{2, 3, 5}},
		{"unit dimensions", []int{1, 1, 7, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &types.MatrixConfig{Name: "m"}
			want := 1
			for d, size := range tt.sizes {
				dim := types.Dimension{Name: fmt.Sprintf("D%d", d)}
				for v := 0; v < size; v++ {
					dim.Values = append(dim.Values, fmt.Sprintf("v%d", v))
				}
				cfg.Dimensions = append(cfg.Dimensions, dim)
				want *= size
			}

			jobs, err := matrix.Expand(cfg, 1000)
			assert.NoError(t, err)
			assert.Equal(t, want, len(jobs))

			count, ok := matrix.Count(cfg)
			assert.True(t, ok)
			assert.Equal(t, uint64(want), count)

			seen := map[string]bool{}
			for _, j := range jobs {
				assert.False(t, seen[j.Name], "duplicate name %s", j.Name)
				seen[j.Name] = true
			}
		})
	}
}

func TestExpand_Overflow(t *testing.T) {
	cfg := &types.MatrixConfig{Name: "huge"}
	for d := 0; d < 4; d++ {
		dim := types.Dimension{Name: fmt.Sprintf("D%d", d)}
		for v := 0; v < 10; v++ {
			dim.Values = append(dim.Values, fmt.Sprint(v))
		}
		cfg.Dimensions = append(cfg.Dimensions, dim)
	}

	_, err := matrix.Expand(cfg, 1000)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExpansionOverflow))

	var overflow *types.ExpansionOverflowError
	assert.True(t, errors.As(err, &overflow))
	assert.Equal(t, uint64(10000), overflow.Count)
	assert.Equal(t, 1000, overflow.Ceiling)
}

func TestExpand_ProductOverflowsUint64(t *testing.T) {
	cfg := &types.MatrixConfig{Name: "wide"}
	for d := 0; d < 65; d++ {
		cfg.Dimensions = append(cfg.Dimensions, types.Dimension{Name: fmt.Sprintf("D%d", d), Values: []string{"a", "b"}})
	}

	_, ok := matrix.Count(cfg)
	assert.False(t, ok)

	_, err := matrix.Expand(cfg, 1000)
	assert.True(t, errors.Is(err, types.ErrExpansionOverflow))
}

func TestExpand_Sparse(t *testing.T) {
	cfg := &types.MatrixConfig{
		Name:      "sparse",
		Selection: types.SelectionSparse,
		Dimensions: []types.Dimension{
			{Name: "OS", Values: []string{"linux", "windows", "macos"}},
			{Name: "Python", Values: []string{"3.9", "3.12"}},
		},
	}

	jobs, err := matrix.Expand(cfg, 1000)
	assert.NoError(t, err)
	assert.Equal(t, [][]string{
		{"linux", "3.9"},
		{"windows", "3.12"},
		{"macos", "3.9"},
	}, keys(jobs))

	again, err := matrix.Expand(cfg, 1000)
	assert.NoError(t, err)
	assert.Equal(t, jobs, again)
}

func TestExpand_EmptyDimensionIsConfigError(t *testing.T) {
	cfg := &types.MatrixConfig{
		Name:       "empty",
		Dimensions: []types.Dimension{{Name: "OS"}},
	}

	_, err := matrix.Expand(cfg, 1000)
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestExpand_NameCollisions(t *testing.T) {
	cfg := &types.MatrixConfig{
		Name: "t",
		Dimensions: []types.Dimension{
			{Name: "Python", Values: []string{"3.9", "3-9", "3 9"}},
		},
	}

	jobs, err := matrix.Expand(cfg, 1000)
	assert.NoError(t, err)
	assert.Equal(t, []string{"t_3_9", "t_3_9_2", "t_3_9_3"}, names(jobs))
}

func TestFilter_ExcludeExample(t *testing.T) {
	jobs, err := matrix.Expand(osPython(), 100)
	assert.NoError(t, err)

	filtered, err := matrix.Filter(jobs, []types.MatrixFilter{
		{Kind: types.FilterExclude, Dimension: "OS", Pattern: "windows"},
	})
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"linux", "3.9"}, {"linux", "3.12"}}, keys(filtered))
	assert.Equal(t, []string{"test_linux_3_9", "test_linux_3_12"}, names(filtered))
}

func TestFilter_Semantics(t *testing.T) {
	cfg := &types.MatrixConfig{
		Name: "m",
		Dimensions: []types.Dimension{
			{Name: "OS", Values: []string{"linux", "windows", "macos"}},
			{Name: "Python", Values: []string{"3.8", "3.9", "3.12", "pypy3.9"}},
		},
	}
	jobs, err := matrix.Expand(cfg, 1000)
	assert.NoError(t, err)

	tests := []struct {
		name    string
		filters []types.MatrixFilter
		want    int
	}{
		{"no filters", nil, 12},
		{"include alternatives", []types.MatrixFilter{{Kind: types.FilterInclude, Dimension: "OS", Pattern: "linux|macos"}}, 8},
		{"include glob", []types.MatrixFilter{{Kind: types.FilterInclude, Dimension: "Python", Pattern: "3.*"}}, 9},
		{"exclude glob", []types.MatrixFilter{{Kind: types.FilterExclude, Dimension: "Python", Pattern: "pypy*"}}, 9},
		{"include on unbound dimension", []types.MatrixFilter{{Kind: types.FilterInclude, Dimension: "Arch", Pattern: "arm64"}}, 12},
		{"filters combine", []types.MatrixFilter{
			{Kind: types.FilterInclude, Dimension: "OS", Pattern: "linux"},
			{Kind: types.FilterExclude, Dimension: "Python", Pattern: "3.8|pypy*"},
		}, 2},
		{"exclude everything", []types.MatrixFilter{{Kind: types.FilterExclude, Dimension: "OS", Pattern: "*"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once, err := matrix.Filter(jobs, tt.filters)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, len(once))

			twice, err := matrix.Filter(once, tt.filters)
			assert.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestFilter_UnknownKind(t *testing.T) {
	_, err := matrix.Filter(nil, []types.MatrixFilter{{Kind: "maybe", Dimension: "OS", Pattern: "linux"}})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestReplace_PreservesIdentity(t *testing.T) {
	jobs, err := matrix.Expand(osPython(), 100)
	assert.NoError(t, err)

	replaced, err := matrix.Replace(jobs, []types.MatrixReplace{
		{Dimension: "Python", Pattern: "3.12", Replacement: "3.12-dev"},
		{Dimension: "Python", Pattern: "3.*", Replacement: "never"},
		{Dimension: "OS", Pattern: "win*", Replacement: "windows-latest"},
	})
	assert.NoError(t, err)

	assert.Equal(t, len(jobs), len(replaced))
	assert.Equal(t, names(jobs), names(replaced))
	assert.Equal(t, keys(jobs), keys(replaced))

	python, _ := replaced[1].Param("Python")
	assert.Equal(t, "3.12-dev", python)
	python, _ = replaced[0].Param("Python")
	assert.Equal(t, "never", python)
	os, _ := replaced[3].Param("OS")
	assert.Equal(t, "windows-latest", os)

	original, _ := jobs[1].Param("Python")
	assert.Equal(t, "3.12", original)
}

func TestFilter_IgnoresReplacements(t *testing.T) {
	jobs, err := matrix.Expand(osPython(), 100)
	assert.NoError(t, err)

	replaced, err := matrix.Replace(jobs, []types.MatrixReplace{{Dimension: "OS", Pattern: "windows", Replacement: "linux"}})
	assert.NoError(t, err)

	filtered, err := matrix.Filter(replaced, []types.MatrixFilter{{Kind: types.FilterExclude, Dimension: "OS", Pattern: "windows"}})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(filtered))
}

func TestBatch(t *testing.T) {
	cfg := &types.MatrixConfig{
		Name: "b",
		Dimensions: []types.Dimension{
			{Name: "OS", Values: []string{"linux", "windows", "macos"}},
			{Name: "Python", Values: []string{"3.9", "3.10", "3.11", "3.12"}},
		},
	}
	jobs, err := matrix.Expand(cfg, 1000)
	assert.NoError(t, err)
	assert.Equal(t, 12, len(jobs))

	batches, err := matrix.Batch(jobs, 5)
	assert.NoError(t, err)

	sizes := make([]int, len(batches))
	var concat []types.GeneratedJob
	for i, b := range batches {
		sizes[i] = len(b)
		concat = append(concat, b...)
	}
	assert.Equal(t, []int{5, 5, 2}, sizes)
	assert.Equal(t, jobs, concat)

	again, err := matrix.Batch(jobs, 5)
	assert.NoError(t, err)
	assert.Equal(t, batches, again)
}

func TestBatch_Edges(t *testing.T) {
	jobs, err := matrix.Expand(osPython(), 100)
	assert.NoError(t, err)

	one, err := matrix.Batch(jobs, 100)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(one))

	empty, err := matrix.Batch(nil, 3)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(empty))

	for _, size := range []int{0, -1} {
		_, err := matrix.Batch(jobs, size)
		assert.True(t, errors.Is(err, types.ErrConfig))
	}
}

func TestExpander_Run(t *testing.T) {
	vars := &types.Variables{
		Pools:       map[string]string{"linux": "ubuntu-22.04", "windows": "windows-2022"},
		DefaultPool: "default-pool",
	}
	cfg := osPython()
	cfg.Dimensions[0].Values = append(cfg.Dimensions[0].Values, "macos")
	cfg.Batch = &types.BatchControl{MaxBatchSize: 4}
	cfg.Replace = []types.MatrixReplace{{Dimension: "OS", Pattern: "linux", Replacement: "ubuntu"}}

	expander := matrix.NewExpander(vars, 1000, logger.Discard())

	t.Run("ci run is not batched", func(t *testing.T) {
		result, err := expander.Run(cfg, types.JobKindTest, types.TriggerCI)
		assert.NoError(t, err)
		assert.Equal(t, 6, result.Enumerated)
		assert.Equal(t, 1, len(result.Batches))
		assert.False(t, result.Batched)
		for _, j := range result.Jobs {
			assert.Equal(t, types.JobKindTest, j.Kind)
			assert.Equal(t, 0, j.Batch)
		}
		assert.Equal(t, "ubuntu-22.04", result.Jobs[0].Pool)
		assert.Equal(t, "windows-2022", result.Jobs[2].Pool)
		assert.Equal(t, "default-pool", result.Jobs[4].Pool)
	})

	t.Run("pull request run is batched", func(t *testing.T) {
		result, err := expander.Run(cfg, types.JobKindTest, types.TriggerPullRequest)
		assert.NoError(t, err)
		assert.True(t, result.Batched)
		assert.Equal(t, 2, len(result.Batches))
		assert.Equal(t, 1, result.Jobs[3].Batch)
		assert.Equal(t, 2, result.Jobs[4].Batch)
	})

	t.Run("bad batch size", func(t *testing.T) {
		bad := osPython()
		bad.Batch = &types.BatchControl{MaxBatchSize: 0}
		_, err := expander.Run(bad, types.JobKindTest, types.TriggerPullRequest)
		var cfgErr *types.ConfigError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "test", cfgErr.Source)
	})
}
