// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package local runs jobs as a direct child subprocess, with no scheduler
// directives: "sh <script>", piping stdout/stderr to the spec's output/error
// files (merged when both point at the same path).
//
// Grounded on original_source/src/hpcc_subprocess/submit.py and
// hpcc_subprocess/process.py (subprocess launched immediately, "started"
// recorded at construction) and hpc_connect/local.py's process-tree cancel.
package local

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hpcconnect/hpcconnect/internal/backend"
	"github.com/hpcconnect/hpcconnect/pkg/config"
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/future"
	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

// Name is the backend's registry identifier.
const Name = "local"

// Matches reports whether name selects the local subprocess backend; it is
// also the fallback when no scheduler name is given.
func Matches(name string) bool {
	n := strings.ToLower(name)
	return n == "" || n == "local" || n == "subprocess" || n == "none"
}

// Manager runs jobs as direct child subprocesses.
type Manager struct {
	cfg *config.Config
	log logging.Logger
}

// New returns a local Manager. There is no required binary: /bin/sh always
// exists on the POSIX systems this backend targets.
func New(cfg *config.Config, log logging.Logger) (*Manager, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Manager{cfg: cfg, log: log}, nil
}

// PrepareCommandLine builds the argv "hpcc submit" execs in place: there is
// no scheduler binary, so the raw arguments are run through "sh -c" directly.
func (m *Manager) PrepareCommandLine(args []string) []string {
	return append([]string{"sh", "-c"}, strings.Join(args, " "))
}

// Prepare renders a plain shell script (no directives) into spec.Workspace.
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

// Submit prepares spec's script and launches "sh <script>" directly,
// returning a Process that tracks the child.
func (m *Manager) Submit(ctx context.Context, spec jobspec.JobSpec, exclusive bool) (future.Process, error) {
	prepared, err := m.Prepare(spec)
	if err != nil {
		return nil, err
	}
	return Launch(ctx, prepared, m.log, "sh", prepared.Commands[0])
}

// Launch starts argv (e.g. ["sh", script] or ["ssh", host, script]), wiring
// stdout/stderr to spec's output/error files. Exported so the remote backend
// can reuse it with an ssh-prefixed argv.
func Launch(ctx context.Context, spec jobspec.JobSpec, log logging.Logger, argv ...string) (*Process, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if len(argv) == 0 {
		return nil, hpcerrors.New(hpcerrors.ConfigError, "local: no command given to launch")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutFile, stderrFile *os.File
	var err error
	switch {
	case spec.Output != "" && spec.Output == spec.Error:
		stdoutFile, err = os.Create(spec.Output)
		if err != nil {
			return nil, hpcerrors.WithCause(hpcerrors.ConfigError, "failed to open output file", err)
		}
		stderrFile = stdoutFile
	default:
		if spec.Output != "" {
			if stdoutFile, err = os.Create(spec.Output); err != nil {
				return nil, hpcerrors.WithCause(hpcerrors.ConfigError, "failed to open output file", err)
			}
		}
		if spec.Error != "" {
			if stderrFile, err = os.Create(spec.Error); err != nil {
				return nil, hpcerrors.WithCause(hpcerrors.ConfigError, "failed to open error file", err)
			}
		}
	}

	var outBuf, errBuf bytes.Buffer
	if stdoutFile != nil {
		cmd.Stdout = stdoutFile
	} else {
		cmd.Stdout = &outBuf
	}
	if stderrFile != nil {
		cmd.Stderr = stderrFile
	} else {
		cmd.Stderr = &errBuf
	}

	if err := cmd.Start(); err != nil {
		return nil, hpcerrors.NewSubmissionError(Name, err, outBuf.String(), errBuf.String())
	}

	p := &Process{
		cmd:     cmd,
		started: time.Now(),
		doneCh:  make(chan struct{}),
		log:     log,
	}

	go func() {
		waitErr := cmd.Wait()
		if stdoutFile != nil {
			stdoutFile.Close()
		}
		if stderrFile != nil && stderrFile != stdoutFile {
			stderrFile.Close()
		}
		p.mu.Lock()
		p.returncode = exitCode(waitErr)
		p.done = true
		p.mu.Unlock()
		close(p.doneCh)
	}()

	return p, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

// Process tracks one locally spawned child process.
type Process struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	started    time.Time
	done       bool
	returncode int
	doneCh     chan struct{}
	log        logging.Logger
}

func (p *Process) JobID() string {
	if p.cmd.Process == nil {
		return ""
	}
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *Process) Started() time.Time { return p.started }

// Poll reports whether the child has exited, delegating to its wait state.
func (p *Process) Poll(ctx context.Context) (int, bool, error) {
	select {
	case <-p.doneCh:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.returncode, true, nil
	default:
		return 0, false, nil
	}
}

// Cancel walks the child's process group (parent plus all descendants
// sharing its pgid, since Setpgid was set at launch), sends SIGTERM, waits
// briefly, then sends SIGKILL to any survivors.
func (p *Process) Cancel(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid := p.cmd.Process.Pid
	p.log.Warn("cancelling local job", "pid", pgid)
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-p.doneCh:
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	return nil
}
