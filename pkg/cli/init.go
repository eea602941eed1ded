package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poltergeist/matrixgen/pkg/config"
	"github.com/poltergeist/matrixgen/pkg/utils"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter pipeline file",
		Long: `Write a starter pipeline with a linux/windows/macos × Python test matrix
to the --config path. An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing pipeline file")

	return cmd
}

func (c *CLI) runInit(force bool) error {
	path := c.config.ConfigFile

	if config.ConfigExists(path) && !force {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s already exists. Use --force to overwrite", path)}
	}

	if config.DetectFormat(path) != config.FormatYAML {
		return &ExitError{Code: ExitConfig, Err: fmt.Errorf("%s: init writes YAML, use a .yaml path", path)}
	}

	loader := config.NewLoader()
	data, err := config.Marshal(loader.GetDefaultConfig())
	if err != nil {
		return err
	}

	// The starter must read back through the loader.
	if _, err := loader.Parse(data, path); err != nil {
		return fmt.Errorf("starter pipeline does not parse: %w", err)
	}

	if err := utils.NewFileSystem().WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	c.printSuccess("Created pipeline at %s", path)
	c.printInfo("Run 'matrixgen expand test' to see the jobs it produces")
	return nil
}
