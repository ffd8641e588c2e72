package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jaliph/qrbridge/automation"
	"github.com/jaliph/qrbridge/config"
)

func newConfigCommand(cfg func() *config.Config) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Settings document utilities",
	}
	configCmd.AddCommand(newConfigInitCommand(cfg))
	configCmd.AddCommand(newConfigShowCommand(cfg))
	return configCmd
}

func newConfigInitCommand(cfg func() *config.Config) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings document with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := cfg().SettingsPath

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create settings directory %q: %w", dir, err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("settings already exist at %s (use --overwrite to replace them)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check settings path: %w", err)
				}
			}

			data, err := config.DefaultSettings().Marshal()
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write settings: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote default settings to %s\n", target)
			fmt.Fprintln(out, "Change the token before exposing the bridge.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing settings if present")
	return cmd
}

func newConfigShowCommand(cfg func() *config.Config) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings, backfilling missing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.OpenSettings(cfg().SettingsPath, nil)
			if err != nil {
				return err
			}
			s := store.Snapshot()
			if !reveal {
				s.Token = "********"
			}
			data, err := s.Marshal()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", store.Path())
			out.Write(data)
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the token instead of masking it")
	return cmd
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <image>",
		Short: "Decode the QR code in an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := automation.DecodeFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payload)
			return nil
		},
	}
}
