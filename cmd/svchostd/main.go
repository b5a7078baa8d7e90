package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/svchost/internal/config"
	svcversion "github.com/nupi-ai/svchost/internal/version"
)

type globalFlags struct {
	instance string
	logLevel string
	dev      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "svchostd",
		Short:         "svchost daemon - hosts configured RPC services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = svcversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().StringVar(&flags.instance, "instance", config.DefaultInstance, "instance name")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flags.dev, "dev", false, "human-readable development logging")

	rootCmd.AddCommand(
		newRunCommand(flags),
		newImportCommand(flags),
		newModelsCommand(flags),
		newCheckCommand(flags),
		newStopCommand(flags),
		newVersionCommand(),
	)
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), svcversion.ServerToken())
			return nil
		},
	}
}
