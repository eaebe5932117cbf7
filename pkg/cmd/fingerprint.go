package cmd

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/apksig"
)

func newFingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint <apk>...",
		Short: "Print the SHA-256 fingerprint of each APK's signer",
		Long: `Prints the SHA-256 fingerprint of the first signer certificate of each
APK. When a file name carries a short fingerprint, as in
appid_vercode_sigfp.apk, it is checked against the certificate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFingerprint,
	}
	cmd.Flags().Bool("short", false, "print only the first seven hex digits")
	return cmd
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	short, err := cmd.Flags().GetBool("short")
	if err != nil {
		return err
	}

	var failed int
	for _, apk := range args {
		fp, err := apksig.APKSignerFingerprint(apk)
		if err != nil {
			return err
		}
		if fp == "" {
			failed++
			continue
		}

		if _, _, sigfp := apksig.ParseReleaseFilename(filepath.Base(apk)); sigfp != "" && sigfp != fp[:apksig.ShortFingerprintLen] {
			log.Warnf("%s: file name says signer %s, certificate is %s", apk, sigfp, fp[:apksig.ShortFingerprintLen])
		}

		if short {
			fp = fp[:apksig.ShortFingerprintLen]
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", fp, apk)
	}

	if failed > 0 {
		return fmt.Errorf("no signing certificate found in %d of %d file(s)", failed, len(args))
	}
	return nil
}
