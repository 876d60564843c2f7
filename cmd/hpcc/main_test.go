// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"config", "launch", "submit", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestParseConfigFlagSplitsPathAndValue(t *testing.T) {
	path, value, err := parseConfigFlag("submit:backend:slurm")
	require.NoError(t, err)
	assert.Equal(t, "submit:backend", path)
	assert.Equal(t, "slurm", value)
}

func TestParseConfigFlagDecodesJSONValue(t *testing.T) {
	path, value, err := parseConfigFlag("launch:default_options:[\"-x\",\"-y\"]")
	require.NoError(t, err)
	assert.Equal(t, "launch:default_options", path)
	assert.Equal(t, []any{"-x", "-y"}, value)
}

func TestParseConfigFlagStripsQuotesAroundValue(t *testing.T) {
	_, value, err := parseConfigFlag(`config:note:"has space"`)
	require.NoError(t, err)
	assert.Equal(t, "has space", value)
}

func TestParseConfigFlagRejectsMissingValue(t *testing.T) {
	_, _, err := parseConfigFlag("submit")
	assert.Error(t, err)
}

func TestShellJoinQuotesWhitespace(t *testing.T) {
	got := shellJoin([]string{"sbatch", "-J", "my job"})
	assert.Equal(t, "sbatch -J 'my job'", got)
}

func TestShellJoinLeavesPlainTokensBare(t *testing.T) {
	got := shellJoin([]string{"mpiexec", "-n", "4", "./a.out"})
	assert.Equal(t, "mpiexec -n 4 ./a.out", got)
}
