package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/config"
	"github.com/fdkit/fdkit/pkg/project"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an fdkit workspace",
		Long:  "Creates an fdkit.toml config, the metadata and srclibs directories, and configures .gitignore entries.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
		// init creates the config; skip loading it in the root PersistentPreRunE.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return nil
		},
	}
	cmd.Flags().Bool("no-prompt", false, "accept the defaults without asking")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	noPrompt, err := cmd.Flags().GetBool("no-prompt")
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg := config.Default()
	cfg.SDK.Path = os.Getenv("ANDROID_HOME")
	ignored := project.GeneratedDirs(cfg.Paths)

	if !noPrompt {
		if ignored, err = promptInit(cfg, ignored); err != nil {
			return err
		}
	}

	if err := project.Init(wd, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", project.ConfigFile)

	added, err := project.EnsureGitignore(wd, ignored)
	if err != nil {
		return err
	}
	for _, entry := range added {
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to .gitignore\n", entry)
	}

	return nil
}

// promptInit asks for the Android SDK location and which generated
// directories to gitignore.
func promptInit(cfg *config.Config, dirs []string) ([]string, error) {
	options := make([]huh.Option[string], len(dirs))
	for i, dir := range dirs {
		options[i] = huh.NewOption(dir, dir).Selected(true)
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Android SDK path").
				Description("Leave empty to rely on build-tools found on PATH.").
				Value(&cfg.SDK.Path),
			huh.NewMultiSelect[string]().
				Title("Add generated directories to .gitignore?").
				Options(options...).
				Value(&selected),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}

	return selected, nil
}
