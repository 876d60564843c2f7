// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package slurm submits and tracks jobs through sbatch/sacct/scancel.
//
// Grounded on original_source/src/hpcc_slurm/submit.py (SlurmSubmissionManager,
// SlurmProcess.submit/poll/cancel) and hpcc_slurm/process.py.
package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hpcconnect/hpcconnect/internal/backend"
	"github.com/hpcconnect/hpcconnect/pkg/config"
	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/future"
	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
	"github.com/hpcconnect/hpcconnect/pkg/retry"
)

// jobidPattern matches sbatch's "Submitted batch job <id>" stdout line.
var jobidPattern = regexp.MustCompile(`Submitted batch job (\S+)`)

// Name is the backend's registry identifier.
const Name = "slurm"

// Matches reports whether name selects the slurm backend, per spec.md's
// submission-manager dispatch table.
func Matches(name string) bool {
	n := strings.ToLower(name)
	return n == "slurm" || n == "sbatch"
}

// Manager is the slurm SubmissionManager: it renders sbatch scripts and
// submits them, yielding a Process per job.
type Manager struct {
	cfg     *config.Config
	log     logging.Logger
	sbatch  string
	sacct   string
	scancel string
}

// New resolves sbatch/sacct/scancel on PATH and returns a Manager, or a
// MissingBinary error if any are absent.
func New(cfg *config.Config, log logging.Logger) (*Manager, error) {
	sbatch, err := exec.LookPath("sbatch")
	if err != nil {
		return nil, hpcerrors.NewMissingBinaryError(Name, "sbatch")
	}
	sacct, err := exec.LookPath("sacct")
	if err != nil {
		return nil, hpcerrors.NewMissingBinaryError(Name, "sacct")
	}
	scancel, err := exec.LookPath("scancel")
	if err != nil {
		return nil, hpcerrors.NewMissingBinaryError(Name, "scancel")
	}
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Manager{cfg: cfg, log: log, sbatch: sbatch, sacct: sacct, scancel: scancel}, nil
}

func (m *Manager) directives(spec jobspec.JobSpec, exclusive bool) []string {
	var d []string
	if spec.Nodes > 0 {
		d = append(d, fmt.Sprintf("#SBATCH --nodes=%d", spec.Nodes))
	}
	if spec.TimeLimit > 0 {
		d = append(d, "#SBATCH --time="+backend.TimeLimitClause(spec.TimeLimit))
	}
	if spec.Name != "" {
		d = append(d, "#SBATCH --job-name="+spec.Name)
	}
	if spec.Output != "" {
		d = append(d, "#SBATCH --output="+spec.Output)
	}
	if spec.Error != "" {
		d = append(d, "#SBATCH --error="+spec.Error)
	}
	if exclusive {
		d = append(d, "#SBATCH --exclusive")
	}
	return d
}

func (m *Manager) defaultOptions() []string {
	if v, ok := m.cfg.Get("submit:default_options"); ok {
		if opts, ok := v.([]string); ok {
			return opts
		}
	}
	return nil
}

// PrepareCommandLine builds the argv "hpcc submit" execs in place: sbatch,
// the configured default options, then the caller's raw arguments.
// Grounded on hpcc_slurm/submit.py's SlurmSubmissionManager.prepare_command_line.
func (m *Manager) PrepareCommandLine(args []string) []string {
	cmd := []string{m.sbatch}
	cmd = append(cmd, m.defaultOptions()...)
	return append(cmd, args...)
}

// Prepare renders an sbatch script into spec.Workspace and returns a copy
// whose Commands is the single rendered script path.
func (m *Manager) Prepare(spec jobspec.JobSpec) (jobspec.JobSpec, error) {
	contents := backend.RenderScript(spec, backend.ScriptOptions{
		Directives:     m.directives(spec, false),
		DefaultOptions: m.defaultOptions(),
		SubmitArgs:     spec.SubmitArgs,
	})
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

// Submit prepares spec's script, runs sbatch against it, and returns a
// Process tracking the resulting job.
func (m *Manager) Submit(ctx context.Context, spec jobspec.JobSpec, exclusive bool) (future.Process, error) {
	if exclusive {
		contents := backend.RenderScript(spec, backend.ScriptOptions{
			Directives:     m.directives(spec, true),
			DefaultOptions: m.defaultOptions(),
			SubmitArgs:     spec.SubmitArgs,
		})
		name := spec.Name + ".sh"
		if name == ".sh" {
			name = "job.sh"
		}
		path, err := backend.WriteScript(spec, name, contents)
		if err != nil {
			return nil, err
		}
		spec = spec.WithUpdates(jobspec.WithCommands(path))
	} else {
		prepared, err := m.Prepare(spec)
		if err != nil {
			return nil, err
		}
		spec = prepared
	}

	script := spec.Commands[0]
	scriptDir := filepath.Dir(script)
	args := []string{script}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.sbatch, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	submitStart := time.Now()
	err := cmd.Run()
	logging.LogDuration(m.log, submitStart, "slurm_sbatch_submit")
	if err != nil {
		backend.WriteMeta(scriptDir, "submit.meta.json", append([]string{m.sbatch}, args...), stdout.String()+stderr.String(), time.Now())
		return nil, hpcerrors.NewSubmissionError(Name, err, stdout.String(), stderr.String())
	}

	out := stdout.String()
	backend.WriteMeta(scriptDir, "submit.meta.json", append([]string{m.sbatch}, args...), out, time.Now())

	match := jobidPattern.FindStringSubmatch(out)
	if match == nil {
		m.log.Error("sbatch did not report a jobid", "stdout", out, "stderr", stderr.String())
		return nil, hpcerrors.NewSubmissionError(Name, nil, out, stderr.String())
	}

	return &Process{
		jobID:     strings.TrimSpace(match[1]),
		clusters:  clustersDirective(spec.SubmitArgs),
		scriptDir: scriptDir,
		sacct:     m.sacct,
		scancel:   m.scancel,
		log:       m.log,
	}, nil
}

// clustersDirective extracts a -M/--cluster/--clusters value from
// sbatch-style submit args, if present, so poll/cancel can scope their
// accounting queries the same way the job was submitted.
func clustersDirective(submitArgs []string) string {
	for i, a := range submitArgs {
		switch {
		case a == "-M" || a == "--cluster" || a == "--clusters":
			if i+1 < len(submitArgs) {
				return submitArgs[i+1]
			}
		case strings.HasPrefix(a, "--cluster="):
			return strings.TrimPrefix(a, "--cluster=")
		case strings.HasPrefix(a, "--clusters="):
			return strings.TrimPrefix(a, "--clusters=")
		}
	}
	return ""
}

// Process tracks one sbatch-submitted job via sacct.
type Process struct {
	mu        sync.Mutex
	jobID     string
	clusters  string
	scriptDir string
	sacct     string
	scancel   string
	started   time.Time
	log       logging.Logger
}

func (p *Process) JobID() string { return p.jobID }

func (p *Process) Started() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// acctRow is one sacct --noheader -p -b line, parsed.
type acctRow struct {
	state      string
	returncode int
	signal     int
}

const maxPollRetries = 20

// Poll runs sacct, retrying up to maxPollRetries times at 0.5s while the
// accounting database hasn't caught up, per spec.
func (p *Process) Poll(ctx context.Context) (int, bool, error) {
	args := []string{"--noheader", "-j", p.jobID, "-p", "-b"}
	if p.clusters != "" {
		args = append(args, "--clusters="+p.clusters)
	}

	backoff := retry.NewConstantBackoff(500*time.Millisecond, maxPollRetries)
	var lastErr string
	rows, err := retry.RetryWithResult(ctx, backoff, func() (map[string]acctRow, error) {
		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, p.sacct, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr := cmd.Run()
		lastErr = stderr.String()
		if runErr != nil {
			p.log.Warn("sacct returned non-zero status", "jobid", p.jobID, "error", runErr)
			return nil, runErr
		}
		if parsed := parseAcctOutput(stdout.String()); len(parsed) > 0 {
			return parsed, nil
		}
		return nil, fmt.Errorf("sacct: no accounting row yet for job %s", p.jobID)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, hpcerrors.NewAccountingError(Name, p.jobID, maxPollRetries, fmt.Errorf("%s", lastErr))
	}

	row, ok := rows[p.jobID]
	if !ok {
		return 0, false, hpcerrors.Newf(hpcerrors.AccountingUnavailable, "accounting data for job %s not returned by sacct", p.jobID)
	}

	switch strings.ToUpper(row.state) {
	case "PENDING":
		return 0, false, nil
	case "RUNNING":
		p.mu.Lock()
		if p.started.IsZero() {
			p.started = time.Now()
		}
		p.mu.Unlock()
		return 0, false, nil
	}

	returncode := row.returncode
	if row.signal > returncode {
		returncode = row.signal
	}
	if row.signal != 0 {
		p.log.Error("job failed with signal", "jobid", p.jobID, "signal", row.signal)
		dumpAcctJSON(ctx, p.sacct, p.jobID, p.scriptDir)
	}
	return returncode, true, nil
}

func dumpAcctJSON(ctx context.Context, sacct, jobID, scriptDir string) {
	cmd := exec.CommandContext(ctx, sacct, "-j", jobID, "--json")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err == nil {
		backend.WriteMeta(scriptDir, jobID+".acct.json", []string{sacct, "-j", jobID, "--json"}, out.String(), time.Now())
	}
}

// parseAcctOutput parses sacct --noheader -p -b output into per-jobid rows.
// Grounded on hpcc_slurm/process.py's line-splitting logic: pipe-delimited
// "jobid|state|exit_code" rows where exit_code may be "N:SIG", and a
// trailing '+' on state marks array-job truncation.
func parseAcctOutput(out string) map[string]acctRow {
	rows := make(map[string]acctRow)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitNonEmpty(line, "|")
		if len(fields) < 3 {
			continue
		}
		jobID, state, exitCode := fields[0], fields[1], fields[2]
		var returncode, signal int
		if parts := strings.SplitN(exitCode, ":", 2); len(parts) == 2 {
			returncode, _ = strconv.Atoi(parts[0])
			signal, _ = strconv.Atoi(parts[1])
		} else {
			returncode, _ = strconv.Atoi(exitCode)
		}
		stateFields := strings.Fields(state)
		normalized := state
		if len(stateFields) > 0 {
			normalized = stateFields[0]
		}
		rows[jobID] = acctRow{
			state:      strings.TrimSuffix(normalized, "+"),
			returncode: returncode,
			signal:     signal,
		}
	}
	return rows
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, f := range strings.Split(s, sep) {
		if t := strings.TrimSpace(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Cancel runs scancel; per spec the returncode is forced to 1 regardless of
// scancel's own exit status, since the future that owns this Process is
// about to be marked done anyway.
func (p *Process) Cancel(ctx context.Context) error {
	p.log.Warn("cancelling slurm job", "jobid", p.jobID)
	cmd := exec.CommandContext(ctx, p.scancel, p.jobID, "--clusters=all")
	_ = cmd.Run()
	return nil
}
