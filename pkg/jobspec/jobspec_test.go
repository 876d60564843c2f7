// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package jobspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUpdatesReturnsCopy(t *testing.T) {
	base := New("my-job", []string{"ls"}, WithNodes(1), WithCPUs(1))
	updated := base.WithUpdates(WithName("other-job"), WithCPUs(4))

	assert.Equal(t, "my-job", base.Name)
	assert.Equal(t, "other-job", updated.Name)
	assert.Equal(t, 1, base.CPUs)
	assert.Equal(t, 4, updated.CPUs)
}

func TestWithUpdatesDoesNotAliasSlices(t *testing.T) {
	base := New("job", []string{"ls"})
	updated := base.WithUpdates(WithCommands("ls", "-la"))
	updated.Commands[0] = "mutated"

	assert.Equal(t, []string{"ls"}, base.Commands)
	assert.Equal(t, []string{"mutated", "-la"}, updated.Commands)
}

func TestWithEnvUnset(t *testing.T) {
	spec := New("job", []string{"ls"}, WithEnv("FOO", strPtr("bar")))
	unset := spec.WithUpdates(WithEnv("FOO", nil))

	require.NotNil(t, spec.Env["FOO"])
	assert.Equal(t, "bar", *spec.Env["FOO"])
	assert.Nil(t, unset.Env["FOO"])
}

func TestValidateRequiresCommands(t *testing.T) {
	spec := JobSpec{Name: "x", Nodes: 1}
	require.Error(t, spec.Validate())
}

func TestValidateRequiresNodesOrCPUs(t *testing.T) {
	spec := JobSpec{Name: "x", Commands: []string{"ls"}}
	require.Error(t, spec.Validate())
}

func TestValidateNodesMustNotExceedCPUs(t *testing.T) {
	spec := JobSpec{Name: "x", Commands: []string{"ls"}, Nodes: 4, CPUs: 2}
	require.Error(t, spec.Validate())

	spec.Nodes, spec.CPUs = 2, 4
	require.NoError(t, spec.Validate())
}

func strPtr(s string) *string { return &s }
