// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"
)

var launchDryrun bool

var launchCmd = &cobra.Command{
	Use:   "launch -- <mpiexec/srun argv>",
	Short: "Compile and run an mpiexec/srun-style argv against the resolved backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, topology, err := resolveBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		launcher, err := b.Launcher()
		if err != nil {
			return err
		}

		opts := launchOptions(cfg, topology)
		parser := newParserFromOptions(opts)
		segments := parser.Parse(args)

		argv, err := launcher.Emit(segments, opts)
		if err != nil {
			return err
		}
		return runOrPrint(argv, launchDryrun)
	},
}

func init() {
	launchCmd.Flags().BoolVar(&launchDryrun, "dryrun", false, "print the resolved command line instead of running it")
}

func runOrPrint(argv []string, dryrun bool) error {
	if len(argv) == 0 {
		return fmt.Errorf("hpcc: backend produced an empty command line")
	}
	if dryrun {
		fmt.Println(shellJoin(argv))
		return nil
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return err
	}
	return execInPlace(path, argv)
}
