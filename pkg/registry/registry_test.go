// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hpcconfig "github.com/hpcconnect/hpcconnect/pkg/config"
	"github.com/hpcconnect/hpcconnect/pkg/launch"
)

func TestResolveFallsBackToLocalForEmptyName(t *testing.T) {
	r := NewDefault()
	b, err := r.Resolve("", hpcconfig.New(), nil, nil)
	require.NoError(t, err)

	sm, err := b.SubmissionManager()
	require.NoError(t, err)
	assert.NotNil(t, sm)
}

func TestResolveUnknownNameErrors(t *testing.T) {
	r := NewDefault()
	_, err := r.Resolve("nonesuch", hpcconfig.New(), nil, nil)
	assert.Error(t, err)
}

func TestSlurmBackendSelectsSrunEmitterFromConfig(t *testing.T) {
	cfg := hpcconfig.New()
	require.NoError(t, cfg.Set("launch:exec", "srun", hpcconfig.ScopeLocal))

	b := slurmBackend{cfg: cfg}
	emitter, err := b.Launcher()
	require.NoError(t, err)
	assert.IsType(t, launch.SrunEmitter{}, emitter)
}

func TestSlurmBackendDefaultsToMpiexec(t *testing.T) {
	b := slurmBackend{cfg: hpcconfig.New()}
	emitter, err := b.Launcher()
	require.NoError(t, err)
	assert.IsType(t, launch.MpiexecEmitter{}, emitter)
}

func TestNameFromConfigPrefersSubmitBackend(t *testing.T) {
	cfg := hpcconfig.New()
	require.NoError(t, cfg.Set("submit:backend", "pbs", hpcconfig.ScopeLocal))
	assert.Equal(t, "pbs", NameFromConfig(cfg))
}
