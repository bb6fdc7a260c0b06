// SPDX-License-Identifier: Apache-2.0

// Command vdchost runs the VdcHost process: a single-main-loop bridge
// between a proprietary home-automation bus and the north-bound
// controller API, per spec.md §1/§2.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "vdchost",
		Short: "vdc-host bridges a home-automation bus to the north-bound controller API",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/vdchost/config.json", "path to the config file")

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newCheckConfigCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the vdc-host process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if code := run(cfg, *configPath); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func newCheckConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "validate the config file without starting the process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if _, err := ResolveMAC(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: instance=%s listen=%s\n", cfg.InstanceName, cfg.ListenAddr)
			return nil
		},
	}
}

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the vdc-host version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
