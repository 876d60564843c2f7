// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command hpcc is the portable front end over whatever scheduler a site
// runs: it resolves a Config from config files, environment variables, and
// -c overrides, then hands a raw launch/submit argv to the resolved
// backend and execs the rewritten command line in place.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hpcconnect/hpcconnect/pkg/config"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = ""
	Commit    = ""

	configFlags []string
	infoFlag    bool
	debugFlag   bool

	cfg *config.Config
	log logging.Logger
)

var rootCmd = &cobra.Command{
	Use:     "hpcc",
	Short:   "Portable command line over HPC job schedulers",
	Long:    `hpcc resolves a scheduler backend (slurm, pbs, flux, local, or remote) from configuration and runs launch/submit commands against it.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if infoFlag {
			if err := printInfo(cmd); err != nil {
				return err
			}
			os.Exit(0)
		}
		return nil
	},
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)

	rootCmd.PersistentFlags().StringArrayVarP(&configFlags, "config", "c", nil, "config override \"section:key:...:value\" (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&infoFlag, "info", false, "print the resolved backend and topology, then exit")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the package-level cfg from site/global/local files and
// the environment, then layers in every -c override on the command-line
// scope, in order given.
func loadConfig() error {
	level := logging.DefaultConfig()
	if debugFlag {
		level.Level = slog.LevelDebug
	}
	log = logging.NewLogger(level)

	cfg = config.New()
	if err := cfg.LoadAll(log); err != nil {
		return err
	}

	for _, raw := range configFlags {
		path, value, err := parseConfigFlag(raw)
		if err != nil {
			return err
		}
		if err := cfg.Set(path, value, config.ScopeCommandLine); err != nil {
			return err
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hpcc version %s\n", Version)
		if BuildTime != "" {
			fmt.Printf("Build Time: %s\n", BuildTime)
		}
		if Commit != "" {
			fmt.Printf("Commit:     %s\n", Commit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
