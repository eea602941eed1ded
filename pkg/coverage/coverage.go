// Package coverage maps requested services to the packages that the
// regression matrix must exercise.
package coverage

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/poltergeist/matrixgen/pkg/interfaces"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// Package markers identifying a directory as a buildable package
var packageMarkers = []string{"setup.py", "pyproject.toml"}

const (
	namespaceSuffix = "-nspkg"
	mgmtPattern     = "*-mgmt-*"
)

// ServicePackages lists the packages that belong to one service
type ServicePackages struct {
	Service  string
	Packages []string
}

// Universe is every known service and its packages, ordered by service
type Universe []ServicePackages

// Options tunes package discovery
type Options struct {
	Exclude     []string
	IncludeMgmt bool
}

// Discoverer finds packages laid out as <root>/<service>/<package>
type Discoverer struct {
	fs     interfaces.DirectoryLister
	logger logger.Logger
}

// NewDiscoverer creates a discoverer over fs
func NewDiscoverer(fs interfaces.DirectoryLister, log logger.Logger) *Discoverer {
	return &Discoverer{
		fs:     fs,
		logger: log.WithComponent("coverage"),
	}
}

// Discover walks root and returns every service with at least one package
func (d *Discoverer) Discover(root string, opts Options) (Universe, error) {
	excluded := make([]*utils.ValueMatcher, 0, len(opts.Exclude)+1)
	for _, pattern := range opts.Exclude {
		m, err := utils.NewValueMatcher(pattern)
		if err != nil {
			return nil, types.NewConfigError("regression", "exclude", "invalid pattern %q: %v", pattern, err)
		}
		excluded = append(excluded, m)
	}
	if !opts.IncludeMgmt {
		excluded = append(excluded, utils.MustValueMatcher(mgmtPattern))
	}

	services, err := d.fs.ListDirectories(root)
	if err != nil {
		return nil, types.NewConfigError("regression", "packageRoot", "%v", err)
	}

	var universe Universe
	for _, service := range services {
		if strings.HasPrefix(service, ".") {
			continue
		}

		candidates, err := d.fs.ListDirectories(filepath.Join(root, service))
		if err != nil {
			return nil, types.NewConfigError("regression", "packageRoot", "%v", err)
		}

		var packages []string
		for _, pkg := range candidates {
			if strings.HasSuffix(pkg, namespaceSuffix) || matchesAny(excluded, pkg) {
				d.logger.Debug("Skipping package",
					logger.WithField("service", service),
					logger.WithField("package", pkg))
				continue
			}
			if d.isPackage(filepath.Join(root, service, pkg)) {
				packages = append(packages, pkg)
			}
		}

		if len(packages) > 0 {
			universe = append(universe, ServicePackages{Service: service, Packages: packages})
		}
	}

	d.logger.Debug("Discovered packages",
		logger.WithField("root", root),
		logger.WithField("services", len(universe)))

	return universe, nil
}

func (d *Discoverer) isPackage(dir string) bool {
	for _, marker := range packageMarkers {
		if d.fs.Exists(filepath.Join(dir, marker)) {
			return true
		}
	}
	return false
}

// FromMap builds a universe from an explicit service to packages mapping
func FromMap(packages map[string][]string) Universe {
	services := make([]string, 0, len(packages))
	for svc := range packages {
		services = append(services, svc)
	}
	sort.Strings(services)

	universe := make(Universe, 0, len(services))
	for _, svc := range services {
		universe = append(universe, ServicePackages{Service: svc, Packages: packages[svc]})
	}
	return universe
}

func matchesAny(matchers []*utils.ValueMatcher, value string) bool {
	for _, m := range matchers {
		if m.Match(value) {
			return true
		}
	}
	return false
}
