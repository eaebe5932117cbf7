package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/apksig"
)

func newSigfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sigfiles <appid> [vercode]",
		Short: "Manage stored developer signatures",
		Long: `Manages the developer signature stored in the metadata directory for one
version of an app.

With --extract the v1 signature of a signed APK is copied into the
signature directory. With --implant the stored signature replaces the
signature of an unsigned build. Without either flag the fingerprint of
the app's first stored signature is printed, or of the given version's
signature when a version code is passed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSigfiles,
	}
	cmd.Flags().String("extract", "", "copy the signature of this APK into the metadata")
	cmd.Flags().String("implant", "", "sign this APK with the stored signature")
	cmd.MarkFlagsMutuallyExclusive("extract", "implant")
	return cmd
}

func runSigfiles(cmd *cobra.Command, args []string) error {
	extract, err := cmd.Flags().GetString("extract")
	if err != nil {
		return err
	}
	implant, err := cmd.Flags().GetString("implant")
	if err != nil {
		return err
	}
	if (extract != "" || implant != "") && len(args) < 2 {
		return errors.New("--extract and --implant need a version code")
	}
	var vc int64
	if len(args) == 2 {
		if vc, err = parseVersionCode(args[1]); err != nil {
			return err
		}
	}

	ws, err := newWorkspace()
	if err != nil {
		return err
	}
	appID := args[0]
	sigDir := ws.store.SigDir(appID, vc)

	switch {
	case extract != "":
		if err := os.MkdirAll(sigDir, 0o755); err != nil {
			return err
		}
		if err := apksig.ExtractSignatures(extract, sigDir, true); err != nil {
			return err
		}
		log.Infof("Extracted signature of %s into %s", extract, sigDir)
		return nil

	case implant != "":
		sig, err := apksig.FindDeveloperSigningFiles(sigDir)
		if err != nil {
			return err
		}
		if sig == nil {
			return fmt.Errorf("no signature stored in %s", sigDir)
		}
		if err := apksig.StripSignatures(implant, true); err != nil {
			return err
		}
		if err := apksig.ImplantSignatures(implant, *sig); err != nil {
			return err
		}
		log.Infof("Implanted signature from %s into %s", sigDir, implant)
		return nil
	}

	if vc != 0 {
		sig, err := apksig.FindDeveloperSigningFiles(sigDir)
		if err != nil {
			return err
		}
		if sig == nil {
			return fmt.Errorf("no signature stored in %s", sigDir)
		}
		fp, err := apksig.SignatureBlockFingerprint(sig.Signature)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	}

	fp, err := apksig.FindDeveloperSignature(sigDir)
	if err != nil {
		return err
	}
	if fp == "" {
		return fmt.Errorf("no developer signature stored for %s", appID)
	}
	fmt.Fprintln(cmd.OutOrStdout(), fp)
	return nil
}
