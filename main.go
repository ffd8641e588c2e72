package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaliph/qrbridge/config"
)

// version is overridden at build time with -ldflags "-X main.version=v1.2.3"
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var settingsFlag string
	cfg := func() *config.Config {
		c := config.LoadConfig()
		if settingsFlag != "" {
			c.SettingsPath = c.Path(settingsFlag)
		}
		return c
	}

	rootCmd := &cobra.Command{
		Use:           "qrbridge",
		Short:         "Serve the mini-program QR code over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&settingsFlag, "settings", "s", "", "Settings document path (default config.json beside the executable)")

	rootCmd.AddCommand(newServeCommand(cfg))
	rootCmd.AddCommand(newConfigCommand(cfg))
	rootCmd.AddCommand(newDecodeCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newServeCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the QR bridge (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
