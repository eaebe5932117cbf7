package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/srclib"
)

func newSrclibCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "srclib <spec>",
		Short: "Check out a source library",
		Long: `Resolves a source library spec of the form [number:]name[/subdir]@ref
against the srclibs registry and checks it out.`,
		Args: cobra.ExactArgs(1),
		RunE: runSrclib,
	}
	cmd.Flags().Bool("no-prepare", false, "skip the library's prepare command")
	cmd.Flags().Bool("no-refresh", false, "do not fetch from the remote")
	return cmd
}

func runSrclib(cmd *cobra.Command, args []string) error {
	noPrepare, err := cmd.Flags().GetBool("no-prepare")
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
	p, err := ws.preparer()
	if err != nil {
		return err
	}

	lib, err := p.Srclibs.Resolve(cmd.Context(), args[0], srclib.Options{
		Prepare: !noPrepare,
		Refresh: !noRefresh,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), lib.Dir)
	return nil
}
