// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package remote is identical to the local backend except that the rendered
// script is executed over "ssh <host>" rather than as a direct child.
//
// Grounded on original_source/src/hpcc_remote/submit.py and hpcc_remote/process.py.
package remote

import (
	"context"
	"os/exec"
	"strings"

	"github.com/hpcconnect/hpcconnect/internal/backend"
	"github.com/hpcconnect/hpcconnect/internal/backend/local"
	"github.com/hpcconnect/hpcconnect/pkg/config"
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/future"
	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

// Name is the backend's registry identifier.
const Name = "remote"

// HostExtension is the jobspec.Extensions key carrying the ssh target host.
const HostExtension = "remote.host"

// Matches reports whether name selects the remote (ssh) backend.
func Matches(name string) bool {
	n := strings.ToLower(name)
	return n == "remote" || n == "ssh"
}

// Manager runs jobs on a remote host over ssh.
type Manager struct {
	cfg *config.Config
	log logging.Logger
	ssh string
}

// New resolves ssh on PATH.
func New(cfg *config.Config, log logging.Logger) (*Manager, error) {
	ssh, err := exec.LookPath("ssh")
	if err != nil {
		return nil, hpcerrors.NewMissingBinaryError(Name, "ssh")
	}
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Manager{cfg: cfg, log: log, ssh: ssh}, nil
}

// PrepareCommandLine builds the argv "hpcc submit" execs in place: ssh to the
// configured default host, then run the caller's raw arguments as one shell
// command line.
func (m *Manager) PrepareCommandLine(args []string) []string {
	host := ""
	if v, ok := m.cfg.Get("submit:remote_host"); ok {
		if s, ok := v.(string); ok {
			host = s
		}
	}
	return []string{m.ssh, host, strings.Join(args, " ")}
}

// Prepare renders a plain shell script, same as local.
func (m *Manager) Prepare(spec jobspec.JobSpec) (jobspec.JobSpec, error) {
	contents := backend.RenderScript(spec, backend.ScriptOptions{SubmitArgs: spec.SubmitArgs})
	name := spec.Name + ".sh"
	if name == ".sh" {
		name = "job.sh"
	}
	path, err := backend.WriteScript(spec, name, contents)
	if err != nil {
		return jobspec.JobSpec{}, err
	}
	return spec.WithUpdates(jobspec.WithCommands(path)), nil
}

// Submit prepares spec's script and runs it via "ssh <host> <script>".
func (m *Manager) Submit(ctx context.Context, spec jobspec.JobSpec, exclusive bool) (future.Process, error) {
	host, _ := spec.Extensions[HostExtension].(string)
	if host == "" {
		return nil, hpcerrors.New(hpcerrors.ConfigError, "remote: jobspec is missing the \"remote.host\" extension")
	}
	prepared, err := m.Prepare(spec)
	if err != nil {
		return nil, err
	}
	return local.Launch(ctx, prepared, m.log, m.ssh, host, prepared.Commands[0])
}
