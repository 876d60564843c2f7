// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package registry resolves a Config's configured (or environment-detected)
// scheduler name to a ready Backend, via an ordered list of
// (predicate, factory) pairs — the same "first match wins" dispatch the
// now-retired internal/factory package used for its REST client backends,
// generalized to the job-scheduler domain.
package registry

import (
	"strings"

	"github.com/hpcconnect/hpcconnect/internal/backend"
	"github.com/hpcconnect/hpcconnect/internal/backend/flux"
	"github.com/hpcconnect/hpcconnect/internal/backend/local"
	"github.com/hpcconnect/hpcconnect/internal/backend/pbs"
	"github.com/hpcconnect/hpcconnect/internal/backend/remote"
	"github.com/hpcconnect/hpcconnect/internal/backend/slurm"
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/launch"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
	"github.com/hpcconnect/hpcconnect/pkg/resource"

	hpcconfig "github.com/hpcconnect/hpcconnect/pkg/config"
)

// Backend yields the two ready adapters a given scheduler name maps to.
type Backend interface {
	SubmissionManager() (backend.SubmissionManager, error)
	Launcher() (launch.Emitter, error)
}

// Factory builds a Backend from a Config, a logger, and the discovered
// resource topology (nil when unknown).
type Factory func(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error)

type registration struct {
	name    string
	matches func(string) bool
	factory Factory
}

// Registry holds the ordered (predicate, factory) pairs consulted by Resolve.
type Registry struct {
	entries []registration
}

// NewDefault returns a Registry pre-populated with the built-in backends, in
// the precedence order spec.md lists: local, slurm, pbs, flux, remote.
func NewDefault() *Registry {
	r := &Registry{}
	r.Register("local", local.Matches, newLocalBackend)
	r.Register("slurm", slurm.Matches, newSlurmBackend)
	r.Register("pbs", pbs.Matches, newPBSBackend)
	r.Register("flux", flux.Matches, newFluxBackend)
	r.Register("remote", remote.Matches, newRemoteBackend)
	return r
}

// Register appends a (predicate, factory) pair. Earlier registrations take
// precedence; callers wanting to override a built-in should construct an
// empty Registry and register their own entries in the desired order.
func (r *Registry) Register(name string, matches func(string) bool, factory Factory) {
	r.entries = append(r.entries, registration{name: name, matches: matches, factory: factory})
}

// Resolve returns the Backend for the first registration whose predicate
// matches name. An empty name still resolves (local.Matches accepts "").
func (r *Registry) Resolve(name string, cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	for _, reg := range r.entries {
		if reg.matches(name) {
			return reg.factory(cfg, log, topology)
		}
	}
	return nil, hpcerrors.Newf(hpcerrors.ConfigError, "no backend registered matching %q", name)
}

// NameFromConfig resolves the backend name the same way the CLI and
// submission path do: submit:backend, falling back to config:backend, empty
// meaning "let local.Matches pick it up".
func NameFromConfig(cfg *hpcconfig.Config) string {
	if v, ok := cfg.Get("submit:backend"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := cfg.Get("config:backend"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// mpiexecBackend wraps a SubmissionManager that always launches via mpiexec,
// the fallback launcher for every backend but slurm.
type mpiexecBackend struct {
	sm backend.SubmissionManager
}

func (b mpiexecBackend) SubmissionManager() (backend.SubmissionManager, error) {
	return b.sm, nil
}

func (b mpiexecBackend) Launcher() (launch.Emitter, error) {
	return launch.MpiexecEmitter{}, nil
}

func newLocalBackend(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	sm, err := local.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return mpiexecBackend{sm: sm}, nil
}

func newPBSBackend(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	sm, err := pbs.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return mpiexecBackend{sm: sm}, nil
}

func newFluxBackend(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	sm, err := flux.New(cfg, log, topology)
	if err != nil {
		return nil, err
	}
	return mpiexecBackend{sm: sm}, nil
}

func newRemoteBackend(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	sm, err := remote.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return mpiexecBackend{sm: sm}, nil
}

// slurmBackend picks srun or mpiexec per launch:exec, per spec.md's
// backend-to-launcher wiring rule.
type slurmBackend struct {
	sm  backend.SubmissionManager
	cfg *hpcconfig.Config
}

func (b slurmBackend) SubmissionManager() (backend.SubmissionManager, error) { return b.sm, nil }

func (b slurmBackend) Launcher() (launch.Emitter, error) {
	exec := "mpiexec"
	if v, ok := b.cfg.Get("launch:exec"); ok {
		if s, ok := v.(string); ok && s != "" {
			exec = s
		}
	}
	if strings.Contains(strings.ToLower(exec), "srun") {
		return launch.SrunEmitter{}, nil
	}
	return launch.MpiexecEmitter{}, nil
}

func newSlurmBackend(cfg *hpcconfig.Config, log logging.Logger, topology *resource.Tree) (Backend, error) {
	sm, err := slurm.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return slurmBackend{sm: sm, cfg: cfg}, nil
}
