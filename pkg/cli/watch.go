package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/matrixgen/internal/engine"
	"github.com/poltergeist/matrixgen/pkg/process"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var notify bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate the pipeline whenever its sources change",
		Long: `Generate once, then watch the pipeline file and every matrix file it
references. Each change regenerates the output; a failed regeneration
leaves the previous output in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), notify, debounce)
		},
	}

	c.outputFlags(cmd.Flags())
	cmd.Flags().BoolVar(&notify, "notify", false, "show a desktop notification after each run")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "quiet period before regenerating")

	return cmd
}

func (c *CLI) runWatch(parent context.Context, notify bool, debounce time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}

	pm := process.NewManager(c.logger)
	ctx := pm.Start(parent)
	defer pm.Stop()
	pm.RegisterShutdownHandler(func() { c.logger.Info("Shutting down gracefully") })

	opts := c.config.Options()
	c.printInfo("Watching %s", opts.ConfigPath)

	err := c.newGenerator(notify).Watch(ctx, opts, debounce, func(result *engine.Result, err error) {
		switch {
		case err != nil:
			c.printError("Generation failed: %v", err)
		case opts.OutputPath == "":
			if _, werr := c.output.Write(result.Data); werr != nil {
				c.printError("Failed to write pipeline: %v", werr)
			}
		case result.Written:
			c.printSuccess("Wrote %d jobs to %s in %s", result.Jobs, opts.OutputPath, result.Duration.Round(time.Millisecond))
		default:
			c.printInfo("%s is up to date", opts.OutputPath)
		}
	})
	if err != nil {
		return err
	}

	c.printSuccess("Stopped watching")
	return nil
}
