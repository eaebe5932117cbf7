package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/metadata"
)

func newCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout <appid>",
		Short: "Check out and prepare an app's source",
		Long: `Takes the app's working copy to the commit of one of its builds,
initialises submodules, runs the init commands and resolves every
source library the build uses.

Without --vercode the latest build in the metadata is used.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheckout,
	}
	cmd.Flags().Int64("vercode", 0, "version code of the build to prepare")
	cmd.Flags().Bool("no-refresh", false, "do not fetch from the remote")
	return cmd
}

func runCheckout(cmd *cobra.Command, args []string) error {
	vercode, err := cmd.Flags().GetInt64("vercode")
	if err != nil {
		return err
	}
	noRefresh, err := cmd.Flags().GetBool("no-refresh")
	if err != nil {
		return err
	}

	ws, err := newWorkspace()
	if err != nil {
		return err
	}
	app, err := ws.loadApp(args[0])
	if err != nil {
		return err
	}

	var build *metadata.Build
	if vercode != 0 {
		build, err = app.Build(vercode)
	} else {
		build, err = app.LatestBuild()
	}
	if err != nil {
		return err
	}

	p, err := ws.preparer()
	if err != nil {
		return err
	}
	h, err := p.Handle(app)
	if err != nil {
		return err
	}
	prepared, err := p.Prepare(cmd.Context(), h, app, build, !noRefresh)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Prepared %s:%d in %s\n", app.ID, build.VersionCode, prepared.Root)
	fmt.Fprintf(out, "  tree %s\n", prepared.TreeHash)
	for _, lib := range prepared.Srclibs {
		if lib.Number != "" {
			fmt.Fprintf(out, "  %s:%s %s\n", lib.Number, lib.Name, lib.Dir)
		} else {
			fmt.Fprintf(out, "  %s %s\n", lib.Name, lib.Dir)
		}
	}
	return nil
}
