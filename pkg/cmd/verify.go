package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <apk>",
		Short: "Verify an APK's signature",
		Long: `Verifies the signature of an APK with apksigner, or with jarsigner in
strict mode when apksigner is not available.

--legacy accepts archived APKs signed with algorithms the JDK has since
disabled, such as MD5.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
	cmd.Flags().Bool("legacy", false, "allow deprecated signature algorithms (jarsigner only)")
	cmd.Flags().Int("min-sdk", 0, "minimum SDK version passed to apksigner")
	cmd.MarkFlagsMutuallyExclusive("legacy", "min-sdk")
	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	legacy, err := cmd.Flags().GetBool("legacy")
	if err != nil {
		return err
	}
	minSDK, err := cmd.Flags().GetInt("min-sdk")
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

	var ok bool
	if legacy {
		ok, err = v.VerifyLegacy(cmd.Context(), args[0])
	} else {
		ok, err = v.Verify(cmd.Context(), args[0], minSDK)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s did not verify", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s verified\n", args[0])
	return nil
}
