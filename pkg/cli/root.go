// Package cli provides the command-line interface for matrixgen
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/poltergeist/matrixgen/internal/engine"
	"github.com/poltergeist/matrixgen/pkg/emitter"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// Exit codes by failure class
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitOverflow = 3
	ExitCoverage = 4
	ExitCycle    = 5
)

// ExitError carries an explicit process exit code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit code of its failure class
func ExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, types.ErrConfig):
		return ExitConfig
	case errors.Is(err, types.ErrExpansionOverflow):
		return ExitOverflow
	case errors.Is(err, types.ErrCoverage):
		return ExitCoverage
	case errors.Is(err, types.ErrDependencyCycle):
		return ExitCycle
	default:
		return ExitFailure
	}
}

// CLI holds one command tree and its runtime config, so tests can run
// commands without global state
type CLI struct {
	config   *Config
	viper    *viper.Viper
	rootCmd  *cobra.Command
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a CLI writing to stdout and stderr
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		viper:    viper.New(),
		logger:   logger.Discard(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	cli.setupCommands()
	return cli
}

// NewCLIWithOutput creates a CLI with custom output writers
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	cli := NewCLI(config)
	cli.output = output
	cli.errorOut = errorOut
	cli.rootCmd.SetOut(output)
	cli.rootCmd.SetErr(errorOut)
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "matrixgen",
		Short: "Expand job matrices into a CI pipeline graph",
		Long: `🧮 matrixgen - Job-matrix expansion and pipeline DAG construction

matrixgen reads a pipeline file with named job matrices, expands them into
concrete jobs, wires the fixed build → test topology around them and emits
the resulting stage graph for the CI executor.`,

		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("🧮 matrixgen v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newGenerateCmd())
	c.rootCmd.AddCommand(c.newExpandCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newCheckCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVarP(&c.config.ConfigFile, "config", "c", c.config.ConfigFile, "pipeline file (.yaml, .json or .jsonc)")
	flags.Var(newEnumValue(&c.config.Trigger, types.TriggerCI, types.TriggerPullRequest, types.TriggerManual),
		"trigger", "run trigger (ci|pullrequest|manual)")
	flags.IntVar(&c.config.Ceiling, "ceiling", c.config.Ceiling, "override the expansion ceiling")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.LogFile, "log-file", c.config.LogFile, "also append logs to this file")
	flags.StringVar(&c.config.StateDir, "state-dir", c.config.StateDir, "run state directory (default: .matrixgen next to the pipeline)")
}

// outputFlags registers the flags of commands that emit a pipeline
func (c *CLI) outputFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.config.OutputPath, "output", "o", c.config.OutputPath, "write the pipeline to this file (default: stdout)")
	flags.Var(newEnumValue(&c.config.Format, emitter.FormatYAML, emitter.FormatJSON),
		"format", "output format (yaml|json)")
}

// initializeConfig creates the logger and fills every flag the user did
// not set from its MATRIXGEN_* environment variable
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.viper.SetEnvPrefix("MATRIXGEN")
	c.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.viper.AutomaticEnv()

	var errs []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !c.viper.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, c.viper.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Sprintf("MATRIXGEN_%s: %v", strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
		}
	})
	if len(errs) > 0 {
		return &ExitError{Code: ExitConfig, Err: errors.New(strings.Join(errs, "; "))}
	}

	if f, ok := c.errorOut.(*os.File); ok && f == os.Stderr {
		c.logger = logger.CreateLogger(c.config.LogFile, c.config.Verbosity)
	} else {
		c.logger = logger.CreateLoggerWithOutput(c.config.Verbosity, c.errorOut)
	}

	c.logger.Debug("Runtime configuration",
		logger.WithField("config", c.config.ConfigFile),
		logger.WithField("trigger", c.config.Trigger),
		logger.WithField("format", c.config.Format))
	return nil
}

func (c *CLI) newGenerator(notify bool) *engine.Generator {
	deps := engine.NewDependencyFactory(c.config.GetStateDir(), notify, c.logger).CreateDefaults()
	return engine.NewGenerator(deps, c.logger)
}

// Helper methods for structured output

func (c *CLI) printSuccess(format string, args ...interface{}) {
	fmt.Fprintf(c.output, "🧮 %s %s\n", color.GreenString("[matrixgen]"), fmt.Sprintf(format, args...))
}

func (c *CLI) printInfo(format string, args ...interface{}) {
	fmt.Fprintf(c.output, "🧮 %s %s\n", color.CyanString("[matrixgen]"), fmt.Sprintf(format, args...))
}

func (c *CLI) printWarning(format string, args ...interface{}) {
	fmt.Fprintf(c.output, "🧮 %s %s\n", color.YellowString("[matrixgen]"), fmt.Sprintf(format, args...))
}

func (c *CLI) printError(format string, args ...interface{}) {
	fmt.Fprintf(c.errorOut, "🧮 %s %s\n", color.RedString("[matrixgen]"), fmt.Sprintf(format, args...))
}

// ExecuteWithVersion runs the CLI over os.Args and returns the exit code
func ExecuteWithVersion(version string) int {
	config := NewConfig()
	config.Version = version
	cli := NewCLI(config)

	if err := cli.Execute(os.Args[1:]); err != nil {
		cli.printError("%v", err)
		return ExitCode(err)
	}
	return ExitOK
}
