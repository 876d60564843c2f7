// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

// MultiProgFileName is the srun MPMD layout file written to the current
// working directory (or Options.WorkDir), per spec.
const MultiProgFileName = "launch-multi-prog.conf"

// SrunEmitter matches MpiexecEmitter for single-segment jobs; for MPMD jobs
// it instead writes a srun --multi-prog layout file and points a single
// srun invocation at it.
//
// Grounded on original_source/src/hpcc_slurm/launch.py's SrunAdapter.
type SrunEmitter struct{}

func (SrunEmitter) Emit(segments []Segment, opts Options) ([]string, error) {
	if len(segments) <= 1 {
		if len(segments) == 0 {
			return []string{opts.Exec}, nil
		}
		return emitSingle(segments[0], opts)
	}
	return emitSrunMPMD(segments, opts)
}

func emitSrunMPMD(segments []Segment, opts Options) ([]string, error) {
	var lines []string
	np := 0
	for _, seg := range segments {
		var rankRange string
		if seg.HasProcesses && seg.Processes > 0 {
			rankRange = fmt.Sprintf("%d-%d", np, np+seg.Processes-1)
			np += seg.Processes
		} else {
			rankRange = strconv.Itoa(np)
			np++
		}

		view, err := resourceView(opts.Topology, seg.Processes)
		if err != nil {
			return nil, err
		}
		fields := viewFields(seg.Processes, view)
		_, programOpts := seg.Partition()

		// The rank range already encodes the process count the launch_opts
		// would otherwise carry (numproc_flag and its value), so only the
		// per-segment extras and the program itself go on the line.
		line := []string{rankRange}
		for _, group := range [][]string{opts.MPMDLocalOptions, opts.PreOptions, programOpts} {
			expanded, err := expandAll(group, fields)
			if err != nil {
				return nil, err
			}
			line = append(line, expanded...)
		}
		lines = append(lines, strings.Join(line, " "))
	}

	path := MultiProgFileName
	if opts.WorkDir != "" {
		path = filepath.Join(opts.WorkDir, MultiProgFileName)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, hpcerrors.WithCause(hpcerrors.ConfigError, "failed to write "+MultiProgFileName, err)
	}

	globalView, err := resourceView(opts.Topology, np)
	if err != nil {
		return nil, err
	}
	cmd := []string{opts.Exec}
	if cmd, err = appendExpanded(cmd, opts.DefaultOptions, viewFields(np, globalView)); err != nil {
		return nil, err
	}
	cmd = append(cmd, fmt.Sprintf("-n%d", np), "--multi-prog", path)
	return cmd, nil
}
