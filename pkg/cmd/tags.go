package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags <appid>",
		Short: "List the tags of an app's repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runTags,
	}
	cmd.Flags().Bool("latest", false, "order tags newest first (git only)")
	cmd.Flags().Bool("no-refresh", false, "do not fetch from the remote")
	return cmd
}

func runTags(cmd *cobra.Command, args []string) error {
	latest, err := cmd.Flags().GetBool("latest")
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
	p, err := ws.preparer()
	if err != nil {
		return err
	}
	h, err := p.Handle(app)
	if err != nil {
		return err
	}

	if err := h.GotoRevision(cmd.Context(), "", !noRefresh); err != nil {
		return err
	}

	var tags []string
	if latest {
		tags, err = h.LatestTags(cmd.Context())
	} else {
		tags, err = h.Tags(cmd.Context())
	}
	if err != nil {
		return err
	}
	for _, tag := range tags {
		fmt.Fprintln(cmd.OutOrStdout(), tag)
	}
	return nil
}
