// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package launch

// MpiexecEmitter is the default and fallback launcher: every segment's
// options and program arguments land directly on the mpiexec command line,
// with ':' separating MPMD segments.
//
// Grounded on original_source/src/hpc_connect/launch/base.py's HPCLauncher.join_specs.
type MpiexecEmitter struct{}

func (MpiexecEmitter) Emit(segments []Segment, opts Options) ([]string, error) {
	if len(segments) == 0 {
		return []string{opts.Exec}, nil
	}
	if len(segments) == 1 {
		return emitSingle(segments[0], opts)
	}
	return emitMPMD(segments, opts)
}

// appendExpanded percent-expands each of opts against fields and appends the
// result to cmd, short-circuiting on the first expansion error.
func appendExpanded(cmd []string, opts []string, fields map[string]string) ([]string, error) {
	expanded, err := expandAll(opts, fields)
	if err != nil {
		return nil, err
	}
	return append(cmd, expanded...), nil
}

func emitSingle(seg Segment, opts Options) ([]string, error) {
	view, err := resourceView(opts.Topology, seg.Processes)
	if err != nil {
		return nil, err
	}
	fields := viewFields(seg.Processes, view)
	launchOpts, programOpts := seg.Partition()

	cmd := []string{opts.Exec}
	for _, group := range [][]string{opts.DefaultOptions, launchOpts, opts.PreOptions, programOpts} {
		if cmd, err = appendExpanded(cmd, group, fields); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

func emitMPMD(segments []Segment, opts Options) ([]string, error) {
	total := sumProcesses(segments)
	globalView, err := resourceView(opts.Topology, total)
	if err != nil {
		return nil, err
	}

	cmd := []string{opts.Exec}
	if cmd, err = appendExpanded(cmd, opts.DefaultOptions, viewFields(total, globalView)); err != nil {
		return nil, err
	}

	for _, seg := range segments {
		view, err := resourceView(opts.Topology, seg.Processes)
		if err != nil {
			return nil, err
		}
		fields := viewFields(seg.Processes, view)
		launchOpts, programOpts := seg.Partition()

		for _, group := range [][]string{opts.MPMDLocalOptions, launchOpts, opts.PreOptions, programOpts} {
			if cmd, err = appendExpanded(cmd, group, fields); err != nil {
				return nil, err
			}
		}
		cmd = append(cmd, ":")
	}
	if cmd[len(cmd)-1] == ":" {
		cmd = cmd[:len(cmd)-1]
	}
	return cmd, nil
}
