// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package backend declares the submission-manager contract every scheduler
// adapter (slurm, pbs, flux, local, remote) implements, plus the shell-script
// rendering shared by the script-based adapters.
//
// Grounded on original_source/src/hpcc_slurm/submit.py's SlurmSubmissionManager
// and the common script skeleton described across the hpcc_* submit modules.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/future"
	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
)

// SubmissionManager is the two-operation contract every backend adapter
// implements: render a job's script, then hand it to the scheduler.
type SubmissionManager interface {
	// Prepare renders spec's script into spec.Workspace, chmods it
	// executable, and returns a copy whose Commands is [script-path].
	Prepare(spec jobspec.JobSpec) (jobspec.JobSpec, error)
	// Submit calls Prepare, invokes the scheduler's submit binary, and
	// returns a future.Process tracking the resulting job. exclusive
	// requests exclusive node allocation where the backend supports it.
	Submit(ctx context.Context, spec jobspec.JobSpec, exclusive bool) (future.Process, error)
}

// CommandLinePreparer is implemented by backends that wrap a scheduler CLI
// directly (slurm, pbs, flux, local, remote): it builds the argv "hpcc
// submit"/"hpcc launch" exec in place, prefixing the caller's raw arguments
// with the resolved binary and any configured default options.
type CommandLinePreparer interface {
	PrepareCommandLine(args []string) []string
}

// ScriptOptions parameterizes RenderScript for one backend's directive
// dialect.
type ScriptOptions struct {
	Shebang        string
	Directives     []string
	DefaultOptions []string
	SubmitArgs     []string
}

// RenderScript builds the common script skeleton: shebang, scheduler
// directives, configured default options, spec-supplied submit args, env
// exports/unsets, then the spec's commands, one per line.
func RenderScript(spec jobspec.JobSpec, opts ScriptOptions) string {
	var sb strings.Builder
	shebang := opts.Shebang
	if shebang == "" {
		shebang = "#!/bin/sh"
	}
	sb.WriteString(shebang)
	sb.WriteByte('\n')

	for _, d := range opts.Directives {
		sb.WriteString(d)
		sb.WriteByte('\n')
	}
	for _, d := range opts.DefaultOptions {
		sb.WriteString(d)
		sb.WriteByte('\n')
	}
	for _, d := range opts.SubmitArgs {
		sb.WriteString(d)
		sb.WriteByte('\n')
	}

	writeEnv(&sb, spec.Env)

	for _, cmd := range spec.Commands {
		sb.WriteString(cmd)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// writeEnv emits "export KEY=VALUE" for set variables and "unset KEY" for
// entries mapped to a nil value, in deterministic key order.
func writeEnv(sb *strings.Builder, env map[string]*string) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := env[k]; v != nil {
			fmt.Fprintf(sb, "export %s=%s\n", k, shellQuote(*v))
		} else {
			fmt.Fprintf(sb, "unset %s\n", k)
		}
	}
}

// shellQuote wraps v in single quotes, escaping any embedded single quote,
// so env values survive verbatim through /bin/sh.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// WriteScript renders contents to spec.Workspace/name and chmods it 0755,
// returning the script's absolute path.
func WriteScript(spec jobspec.JobSpec, name, contents string) (string, error) {
	if spec.Workspace == "" {
		return "", hpcerrors.New(hpcerrors.ConfigError, "jobspec: workspace must be set to render a submission script")
	}
	if err := os.MkdirAll(spec.Workspace, 0o755); err != nil {
		return "", hpcerrors.WithCause(hpcerrors.ConfigError, "failed to create workspace", err)
	}
	path := filepath.Join(spec.Workspace, name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		return "", hpcerrors.WithCause(hpcerrors.ConfigError, "failed to write submission script", err)
	}
	return path, nil
}

// TimeLimitClause renders seconds as HH:MM:SS, per the shared convention
// that schedulers are given a 25% pad over the job's requested time limit.
func TimeLimitClause(seconds float64) string {
	padded := int64(seconds * 1.25)
	if padded < 0 {
		padded = 0
	}
	h := padded / 3600
	m := (padded % 3600) / 60
	s := padded % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// WriteMeta dumps submission diagnostics (argv, timestamp, captured
// stdout/stderr) as JSON next to the rendered script: the slurm backend
// writes it as submit.meta.json and the pbs backend as qsub.meta.json.
func WriteMeta(dir, name string, args []string, output string, now time.Time) error {
	type meta struct {
		Args         []string `json:"args"`
		Date         string   `json:"date"`
		StdoutStderr string   `json:"stdout/stderr"`
	}
	contents, err := json.MarshalIndent(struct {
		Meta meta `json:"meta"`
	}{
		Meta: meta{Args: args, Date: now.Format(time.RFC1123), StdoutStderr: output},
	}, "", "  ")
	if err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to encode submission metadata", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(contents, '\n'), 0o644); err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to write submission metadata", err)
	}
	return nil
}
