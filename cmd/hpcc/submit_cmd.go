// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/hpcconnect/hpcconnect/internal/backend"
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

var submitDryrun bool

var submitCmd = &cobra.Command{
	Use:   "submit -- <sbatch/qsub argv>",
	Short: "Rewrite and run an sbatch/qsub-style argv against the resolved backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, _, err := resolveBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		sm, err := b.SubmissionManager()
		if err != nil {
			return err
		}
		preparer, ok := sm.(backend.CommandLinePreparer)
		if !ok {
			return hpcerrors.New(hpcerrors.ConfigError, "submit: resolved backend cannot prepare a raw command line")
		}
		argv := preparer.PrepareCommandLine(args)
		return runOrPrint(argv, submitDryrun)
	},
}

func init() {
	submitCmd.Flags().BoolVar(&submitDryrun, "dryrun", false, "print the resolved command line instead of running it")
}
