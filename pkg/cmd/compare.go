package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/compare"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <signed-apk> <unsigned-apk>",
		Short: "Check that a build matches a signed release",
		Long: `Copies the v1 signature of the signed APK onto the contents of the
unsigned one and verifies the result. If that fails, both APKs are
unpacked and diffed; diffoscope, apktool and meld are used when
installed.

--diff-only skips the signature copy and diffs the two APKs as given,
writing diffoscope reports to the log directory.`,
		Args: cobra.ExactArgs(2),
		RunE: runCompare,
	}
	cmd.Flags().Bool("diff-only", false, "only unpack and diff the two APKs")
	return cmd
}

func runCompare(cmd *cobra.Command, args []string) error {
	diffOnly, err := cmd.Flags().GetBool("diff-only")
	if err != nil {
		return err
	}

	ws, err := newWorkspace()
	if err != nil {
		return err
	}
	v, err := ws.verifier()
	if err != nil {
		return err
	}
	tmp, err := ws.tmpDir()
	if err != nil {
		return err
	}

	engine := compare.New(ws.tools, ws.runner, v)
	var res compare.Result
	if diffOnly {
		logDir := ws.store.LogDir()
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return err
		}
		res, err = engine.CompareAPKs(cmd.Context(), args[0], args[1], tmp, logDir)
	} else {
		res, err = engine.ReconcileAndVerify(cmd.Context(), args[0], args[1], tmp)
	}
	if err != nil {
		return err
	}
	if !res.OK {
		fmt.Fprintln(cmd.ErrOrStderr(), res.Diagnostic)
		return errors.New("APKs do not match")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s matches %s\n", args[1], args[0])
	return nil
}
