package coverage

import (
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// Record is the reconciled service to package mapping of one run
type Record struct {
	Services []ServicePackages
}

// Packages returns every covered package once, in service order
func (r *Record) Packages() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sp := range r.Services {
		for _, pkg := range sp.Packages {
			if !seen[pkg] {
				seen[pkg] = true
				out = append(out, pkg)
			}
		}
	}
	return out
}

// Reconcile resolves each requested service pattern against universe.
// Every pattern must reach at least one package; all that do not are
// reported together in a CoverageError.
func Reconcile(universe Universe, services []string) (*Record, error) {
	record := &Record{}
	included := make(map[string]bool)
	var missing []string

	for _, pattern := range services {
		m, err := utils.NewValueMatcher(pattern)
		if err != nil {
			return nil, types.NewConfigError("regression", "services", "invalid pattern %q: %v", pattern, err)
		}

		found := false
		for _, sp := range universe {
			if !m.Match(sp.Service) || len(sp.Packages) == 0 {
				continue
			}
			found = true
			if !included[sp.Service] {
				included[sp.Service] = true
				record.Services = append(record.Services, sp)
			}
		}
		if !found {
			missing = append(missing, pattern)
		}
	}

	if len(missing) > 0 {
		return nil, &types.CoverageError{Services: missing}
	}
	return record, nil
}

// Inject returns a copy of cfg with packages as its leading dimension
func Inject(cfg *types.MatrixConfig, dimension string, packages []string) (*types.MatrixConfig, error) {
	if _, exists := cfg.Dimension(dimension); exists {
		return nil, types.NewConfigError(cfg.Name, "dimensions."+dimension, "dimension is reserved for regression packages")
	}
	if len(packages) == 0 {
		return nil, types.NewConfigError(cfg.Name, "dimensions."+dimension, "no packages to inject")
	}

	out := *cfg
	out.Dimensions = make([]types.Dimension, 0, len(cfg.Dimensions)+1)
	out.Dimensions = append(out.Dimensions, types.Dimension{Name: dimension, Values: append([]string(nil), packages...)})
	out.Dimensions = append(out.Dimensions, cfg.Dimensions...)
	return &out, nil
}
