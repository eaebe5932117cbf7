package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fdkit/fdkit/pkg/config"
)

var (
	flagConfig  string
	flagVerbose bool
	flagQuiet   bool

	// Cfg holds the resolved configuration, available to all subcommands
	// after PersistentPreRunE completes.
	Cfg *config.Config
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fdkit",
		Short: "Reproducible Android app release tooling",
		Long:  "fdkit checks out app sources at pinned revisions, resolves their source libraries and verifies built APKs against signed releases.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			Cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default ./"+config.FileName+")")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "print debug output, including every command run")
	root.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only print warnings and errors")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(newInitCmd())
	root.AddCommand(newCheckoutCmd())
	root.AddCommand(newSrclibCmd())
	root.AddCommand(newTagsCmd())
	root.AddCommand(newFingerprintCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newCompareCmd())
	root.AddCommand(newSigfilesCmd())

	return root
}

func setupLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	switch {
	case flagVerbose:
		log.SetLevel(log.DebugLevel)
	case flagQuiet:
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
