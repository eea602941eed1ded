package matrix

import (
	"fmt"

	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

type compiledReplace struct {
	dimension   string
	matcher     *utils.ValueMatcher
	replacement string
}

// Replace rewrites the displayed parameter values of jobs. The first rule
// matching a dimension's identity value wins. Names, keys and the number
// of jobs never change; the input slice is left untouched.
func Replace(jobs []types.GeneratedJob, rules []types.MatrixReplace) ([]types.GeneratedJob, error) {
	compiled := make([]compiledReplace, 0, len(rules))
	for i, r := range rules {
		m, err := utils.NewValueMatcher(r.Pattern)
		if err != nil {
			return nil, types.NewConfigError("", fmt.Sprintf("replace[%d]", i), "invalid pattern %q: %v", r.Pattern, err)
		}
		compiled = append(compiled, compiledReplace{dimension: r.Dimension, matcher: m, replacement: r.Replacement})
	}

	out := make([]types.GeneratedJob, len(jobs))
	for i, job := range jobs {
		params := make([]types.Binding, len(job.Params))
		copy(params, job.Params)

		for p := range params {
			if p >= len(job.Key) {
				continue
			}
			for _, r := range compiled {
				if r.dimension == params[p].Dimension && r.matcher.Match(job.Key[p]) {
					params[p].Value = r.replacement
					break
				}
			}
		}

		job.Params = params
		out[i] = job
	}
	return out, nil
}
