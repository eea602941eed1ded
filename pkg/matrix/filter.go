package matrix

import (
	"fmt"

	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

type compiledFilter struct {
	kind      types.FilterKind
	dimension string
	matcher   *utils.ValueMatcher
}

// Filter keeps the jobs that satisfy every filter. An include filter only
// constrains jobs that bind its dimension; an exclude filter drops any job
// whose value matches. Filters see identity values, never replacements.
func Filter(jobs []types.GeneratedJob, filters []types.MatrixFilter) ([]types.GeneratedJob, error) {
	compiled := make([]compiledFilter, 0, len(filters))
	for i, f := range filters {
		if f.Kind != types.FilterInclude && f.Kind != types.FilterExclude {
			return nil, types.NewConfigError("", fmt.Sprintf("filters[%d]", i), "unknown filter kind %q", f.Kind)
		}
		m, err := utils.NewValueMatcher(f.Pattern)
		if err != nil {
			return nil, types.NewConfigError("", fmt.Sprintf("filters[%d]", i), "invalid pattern %q: %v", f.Pattern, err)
		}
		compiled = append(compiled, compiledFilter{kind: f.Kind, dimension: f.Dimension, matcher: m})
	}

	kept := make([]types.GeneratedJob, 0, len(jobs))
	for _, job := range jobs {
		if keep(job, compiled) {
			kept = append(kept, job)
		}
	}
	return kept, nil
}

func keep(job types.GeneratedJob, filters []compiledFilter) bool {
	for _, f := range filters {
		value, bound := keyValue(job, f.dimension)
		if !bound {
			continue
		}
		matched := f.matcher.Match(value)
		if f.kind == types.FilterInclude && !matched {
			return false
		}
		if f.kind == types.FilterExclude && matched {
			return false
		}
	}
	return true
}

// keyValue returns the identity value a job binds for a dimension
func keyValue(job types.GeneratedJob, dimension string) (string, bool) {
	for i, b := range job.Params {
		if b.Dimension == dimension && i < len(job.Key) {
			return job.Key[i], true
		}
	}
	return "", false
}
