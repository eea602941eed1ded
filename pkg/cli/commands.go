package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/matrixgen/internal/state"
	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
	"github.com/poltergeist/matrixgen/pkg/validation"
)

func (c *CLI) newGenerateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the pipeline document",
		Long: `Expand the bound matrices, build the stage graph and emit it. Without
--output the document is written to stdout. Nothing is written when any
phase fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runGenerate(cmd, dryRun)
		},
	}

	c.outputFlags(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run every phase but write nothing")

	return cmd
}

func (c *CLI) newExpandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <matrix>",
		Short: "Show the jobs one matrix expands to",
		Long: `Expand a single named matrix for the current trigger and print its jobs
as a table. The regression matrix includes the reconciled packages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExpand(cmd, args[0])
		},
	}
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the pipeline file",
		Long:  `Load the pipeline and every matrix it declares, then report errors, warnings and hints.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate()
		},
	}
}

func (c *CLI) newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <pipeline>...",
		Short: "Dry-run several pipeline files in parallel",
		Long: `Run a full generation for every pipeline file without writing anything.
Runs are independent; one failing pipeline never stops the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheck(cmd, args)
		},
	}

	cmd.Flags().IntVarP(&c.config.Parallelism, "parallel", "j", c.config.Parallelism, "maximum concurrent runs (default: GOMAXPROCS)")

	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded run of each pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Forget the recorded run state of the pipeline",
		Long:  `Remove the run state of the pipeline so the next generate rewrites its output.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean()
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of matrixgen",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "🧮 matrixgen v%s\n", c.config.Version)
		},
	}
}

// Implementation functions

func (c *CLI) runGenerate(cmd *cobra.Command, dryRun bool) error {
	opts := c.config.Options()
	opts.DryRun = dryRun

	result, err := c.newGenerator(false).Generate(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if opts.OutputPath == "" {
		_, err := c.output.Write(result.Data)
		return err
	}

	switch {
	case dryRun:
		c.printInfo("Dry run: %d jobs in %d stages, nothing written", result.Jobs, len(result.Graph.Stages()))
	case result.Written:
		c.printSuccess("Wrote %d jobs in %d stages to %s", result.Jobs, len(result.Graph.Stages()), opts.OutputPath)
	default:
		c.printInfo("%s is up to date", opts.OutputPath)
	}
	return nil
}

func (c *CLI) runExpand(cmd *cobra.Command, name string) error {
	gen := c.newGenerator(false)
	p, err := gen.Load(c.config.ConfigFile)
	if err != nil {
		return err
	}

	result, record, err := gen.ExpandMatrix(cmd.Context(), p, name, c.config.Options())
	if err != nil {
		return err
	}

	m := p.Matrices[name]
	dims := m.DimensionNames()
	if record != nil {
		dims = append([]string{p.Config.Regression.GetDimension()}, dims...)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	header := append([]string{"JOB", "POOL", "BATCH"}, dims...)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	rule := make([]string, len(header))
	for i, h := range header {
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(rule, "\t"))

	for _, job := range result.Jobs {
		row := []string{job.Name, job.Pool, "-"}
		if result.Batched {
			row[2] = fmt.Sprint(job.Batch)
		}
		for _, d := range dims {
			v, _ := job.Param(d)
			row = append(row, v)
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(c.output)
	summary := fmt.Sprintf("%d of %d enumerated jobs kept", len(result.Jobs), result.Enumerated)
	if result.Batched {
		summary += fmt.Sprintf(", %d batches", len(result.Batches))
	}
	c.printInfo("%s", summary)

	if record != nil {
		for _, sp := range record.Services {
			fmt.Fprintf(c.output, "  %s %s → %s\n", color.CyanString("•"), sp.Service, strings.Join(sp.Packages, ", "))
		}
	}
	return nil
}

func (c *CLI) runValidate() error {
	p, err := c.newGenerator(false).Load(c.config.ConfigFile)
	if err != nil {
		return err
	}

	cfg := p.Config
	if c.config.Ceiling > 0 {
		cfg.Settings.ExpansionCeiling = c.config.Ceiling
	}
	result := validation.NewConfigValidator(c.config.Trigger).Validate(cfg, p.Matrices)

	for _, level := range []validation.ValidationLevel{
		validation.ValidationLevelError,
		validation.ValidationLevelWarning,
		validation.ValidationLevelInfo,
	} {
		for _, e := range result.Filter(level) {
			switch level {
			case validation.ValidationLevelError:
				fmt.Fprintf(c.output, "  %s %s\n", color.RedString("✗"), e.Error())
			case validation.ValidationLevelWarning:
				fmt.Fprintf(c.output, "  %s %s\n", color.YellowString("!"), e.Error())
			default:
				fmt.Fprintf(c.output, "  %s %s\n", color.CyanString("i"), e.Error())
			}
		}
	}

	errs := result.Filter(validation.ValidationLevelError)
	if !result.Valid {
		return fmt.Errorf("%w: %d error(s) in %s", types.ErrConfig, len(errs), c.config.ConfigFile)
	}

	c.printSuccess("%s is valid (%d warning(s))", c.config.ConfigFile, len(result.Filter(validation.ValidationLevelWarning)))
	return nil
}

func (c *CLI) runCheck(cmd *cobra.Command, paths []string) error {
	results := c.newGenerator(false).Check(cmd.Context(), paths, c.config.Options(), c.config.Parallelism)

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PIPELINE\tRESULT\tJOBS\tDIGEST")
	fmt.Fprintln(w, "--------\t------\t----\t------")

	var firstErr error
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.Err
			}
			fmt.Fprintf(w, "%s\t%s\t-\t%s\n", r.Pipeline, color.RedString("failed"), r.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Pipeline, color.GreenString("ok"), r.Jobs, r.Digest[:12])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d pipelines failed: %w", failed, len(results), firstErr)
	}
	c.printSuccess("All %d pipelines generate cleanly", len(results))
	return nil
}

func (c *CLI) runStatus() error {
	sm := state.NewStateManager(c.config.GetStateDir(), nil, c.logger)

	states, err := sm.DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}
	if len(states) == 0 {
		c.printInfo("No recorded runs in %s", c.config.GetStateDir())
		return nil
	}

	pipelines := make([]string, 0, len(states))
	for p := range states {
		pipelines = append(pipelines, p)
	}
	sort.Strings(pipelines)

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PIPELINE\tSTATUS\tLAST RUN\tJOBS\tRUNS\tFAILURES")
	fmt.Fprintln(w, "--------\t------\t--------\t----\t----\t--------")

	for _, p := range pipelines {
		st := states[p]

		status := string(st.Status)
		switch st.Status {
		case state.StatusSucceeded:
			status = color.GreenString(status)
		case state.StatusFailed:
			status = color.RedString(status)
		}

		lastRun := "-"
		if !st.LastRun.IsZero() {
			lastRun = st.LastRun.Format(time.DateTime)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", filepath.Base(st.Pipeline), status, lastRun, st.Jobs, st.RunCount, st.FailureCount)
	}

	return w.Flush()
}

func (c *CLI) runClean() error {
	sm := state.NewStateManager(c.config.GetStateDir(), nil, c.logger)

	if _, err := sm.ReadState(c.config.ConfigFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.printInfo("No recorded state for %s", c.config.ConfigFile)
			return nil
		}
		c.logger.Warn("Unreadable state file, removing", logger.WithField("error", err))
	}

	if err := sm.RemoveState(c.config.ConfigFile); err != nil {
		return err
	}
	c.printSuccess("Removed state for %s", c.config.ConfigFile)
	return nil
}
