package engine

import (
	"github.com/poltergeist/matrixgen/internal/state"
	"github.com/poltergeist/matrixgen/pkg/interfaces"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/notifier"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

// Dependencies are the collaborators of a Generator. Reader, Lister and
// Writer are required; State and Notifier are optional.
type Dependencies struct {
	Reader   interfaces.SourceReader
	Lister   interfaces.DirectoryLister
	Writer   interfaces.FileWriter
	State    *state.StateManager
	Notifier interfaces.GenerationNotifier
}

// DependencyFactory creates default implementations of dependencies so
// that constructors never fall back to hidden concrete types.
type DependencyFactory struct {
	stateDir string
	notify   bool
	logger   logger.Logger
}

// NewDependencyFactory creates a factory. An empty stateDir disables run
// state; notify enables desktop notifications.
func NewDependencyFactory(stateDir string, notify bool, log logger.Logger) *DependencyFactory {
	return &DependencyFactory{
		stateDir: stateDir,
		notify:   notify,
		logger:   log,
	}
}

// CreateDefaults creates the production dependencies
func (f *DependencyFactory) CreateDefaults() Dependencies {
	fs := utils.NewFileSystem()
	deps := Dependencies{
		Reader: fs,
		Lister: fs,
		Writer: fs,
	}

	if f.stateDir != "" {
		deps.State = state.NewStateManager(f.stateDir, fs, f.logger)
	}
	if f.notify {
		deps.Notifier = notifier.New(notifier.Config{Enabled: true}, f.logger)
	}

	return deps
}

// CreateWithOverrides creates the defaults and replaces every non-nil
// override.
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Dependencies {
	deps := f.CreateDefaults()

	if overrides.Reader != nil {
		deps.Reader = overrides.Reader
	}
	if overrides.Lister != nil {
		deps.Lister = overrides.Lister
	}
	if overrides.Writer != nil {
		deps.Writer = overrides.Writer
	}
	if overrides.State != nil {
		deps.State = overrides.State
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}

	return deps
}
