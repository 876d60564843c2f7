// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jobspec defines the scheduler-agnostic job description that
// submission adapters translate into scheduler-specific scripts and
// invocations.
package jobspec

import (
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

// JobSpec is an immutable, scheduler-agnostic job description. Use
// WithUpdates to derive a modified copy; JobSpec values are never mutated
// in place once constructed.
type JobSpec struct {
	Name string
	// Commands is an ordered sequence of shell command strings.
	Commands []string
	// Nodes and CPUs are resource totals; zero means unset. At least one
	// must be set, and if both are set Nodes must be <= CPUs.
	Nodes int
	CPUs  int
	GPUs  int
	// TimeLimit is a wall-clock budget in seconds.
	TimeLimit float64
	// Env maps a variable name to its value; a nil pointer means the
	// variable should be explicitly unset in the child environment.
	Env map[string]*string
	// Output and Error are paths for the job's stdout/stderr; empty means
	// scheduler-default handling.
	Output string
	Error  string
	// Workspace is the filesystem path under which generated artifacts
	// (scripts, metadata) are written.
	Workspace string
	// SubmitArgs are raw flags passed through to the scheduler's submit
	// invocation.
	SubmitArgs []string
	// Extensions carries backend-specific hints, e.g. "remote.host".
	Extensions map[string]any
}

// Option mutates a copy of a JobSpec inside WithUpdates.
type Option func(*JobSpec)

// WithName overrides Name.
func WithName(name string) Option { return func(s *JobSpec) { s.Name = name } }

// WithCommands overrides Commands.
func WithCommands(commands ...string) Option {
	return func(s *JobSpec) { s.Commands = append([]string(nil), commands...) }
}

// WithNodes overrides Nodes.
func WithNodes(nodes int) Option { return func(s *JobSpec) { s.Nodes = nodes } }

// WithCPUs overrides CPUs.
func WithCPUs(cpus int) Option { return func(s *JobSpec) { s.CPUs = cpus } }

// WithGPUs overrides GPUs.
func WithGPUs(gpus int) Option { return func(s *JobSpec) { s.GPUs = gpus } }

// WithTimeLimit overrides TimeLimit (seconds).
func WithTimeLimit(seconds float64) Option { return func(s *JobSpec) { s.TimeLimit = seconds } }

// WithEnv sets a single environment variable; value nil unsets it.
func WithEnv(key string, value *string) Option {
	return func(s *JobSpec) {
		s.Env = cloneEnv(s.Env)
		s.Env[key] = value
	}
}

// WithOutput overrides Output.
func WithOutput(path string) Option { return func(s *JobSpec) { s.Output = path } }

// WithError overrides Error.
func WithError(path string) Option { return func(s *JobSpec) { s.Error = path } }

// WithWorkspace overrides Workspace.
func WithWorkspace(path string) Option { return func(s *JobSpec) { s.Workspace = path } }

// WithSubmitArgs overrides SubmitArgs.
func WithSubmitArgs(args ...string) Option {
	return func(s *JobSpec) { s.SubmitArgs = append([]string(nil), args...) }
}

// WithExtension sets a single backend-specific extension hint.
func WithExtension(key string, value any) Option {
	return func(s *JobSpec) {
		ext := make(map[string]any, len(s.Extensions)+1)
		for k, v := range s.Extensions {
			ext[k] = v
		}
		ext[key] = value
		s.Extensions = ext
	}
}

// WithUpdates returns a copy of s with each Option applied in order.
func (s JobSpec) WithUpdates(opts ...Option) JobSpec {
	out := s.clone()
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

func (s JobSpec) clone() JobSpec {
	out := s
	out.Commands = append([]string(nil), s.Commands...)
	out.SubmitArgs = append([]string(nil), s.SubmitArgs...)
	out.Env = cloneEnv(s.Env)
	out.Extensions = make(map[string]any, len(s.Extensions))
	for k, v := range s.Extensions {
		out.Extensions[k] = v
	}
	return out
}

func cloneEnv(env map[string]*string) map[string]*string {
	out := make(map[string]*string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Validate checks the JobSpec invariants: at least one of Nodes/CPUs set,
// Nodes <= CPUs when both are set, and Commands non-empty.
func (s JobSpec) Validate() error {
	if len(s.Commands) == 0 {
		return hpcerrors.New(hpcerrors.ConfigError, "jobspec: commands must be non-empty")
	}
	if s.Nodes == 0 && s.CPUs == 0 {
		return hpcerrors.New(hpcerrors.ConfigError, "jobspec: at least one of nodes or cpus must be specified")
	}
	if s.Nodes > 0 && s.CPUs > 0 && s.Nodes > s.CPUs {
		return hpcerrors.Newf(hpcerrors.ConfigError, "jobspec: nodes (%d) must be <= cpus (%d)", s.Nodes, s.CPUs)
	}
	return nil
}

// New constructs a JobSpec from its required fields, applying any
// additional options, without validating it. Callers that need a usable
// spec should call Validate afterward.
func New(name string, commands []string, opts ...Option) JobSpec {
	s := JobSpec{
		Name:     name,
		Commands: append([]string(nil), commands...),
		Env:      map[string]*string{},
	}
	return s.WithUpdates(opts...)
}
