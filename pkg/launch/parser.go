// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package launch compiles an mpiexec/srun-style argv into a launcher-specific
// command line (or, for MPMD srun, a multi-prog layout file), applying the
// configured option mappings along the way.
//
// Grounded on original_source/src/hpc_connect/launch/base.py (ArgumentParser,
// HPCLauncher.join_specs) and hpcc_slurm/launch.py (SrunAdapter's MPMD file
// layout).
package launch

import (
	"os/exec"
	"strconv"
	"strings"
)

// Segment is one ':'-delimited launch specification: the tokens passed to
// the launcher for one program in an MPMD job, plus where in that token
// slice the program executable was first recognized.
type Segment struct {
	Args         []string
	Processes    int
	HasProcesses bool
	// ProgramIndex is the offset into Args where the program executable
	// and its own arguments begin; -1 if no executable token was found.
	ProgramIndex int
}

// Partition splits a segment into its launcher-option tokens and its
// program/executable tokens.
func (s Segment) Partition() (launchOpts, programOpts []string) {
	if s.ProgramIndex < 0 {
		return s.Args, nil
	}
	return s.Args[:s.ProgramIndex], s.Args[s.ProgramIndex:]
}

// lookExecutable reports whether name resolves to an executable on PATH.
// A var so tests can stub it without touching the real PATH.
var lookExecutable = func(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Parser turns an argv into a list of Segments, mapping launcher options
// through mappings and recognizing numprocFlag along the way.
type Parser struct {
	mappings    map[string]string
	numprocFlag string
}

// NewParser builds a Parser. mappings is copied; a "-n" entry is added
// unless the caller already supplied one, so a bare "-n" in argv always
// maps to numprocFlag.
func NewParser(mappings map[string]string, numprocFlag string) *Parser {
	if numprocFlag == "" {
		numprocFlag = "-n"
	}
	m := make(map[string]string, len(mappings)+1)
	for k, v := range mappings {
		m[k] = v
	}
	if _, ok := m["-n"]; !ok {
		m["-n"] = numprocFlag
	}
	return &Parser{mappings: m, numprocFlag: numprocFlag}
}

// mapped resolves arg through mappings, also matching "pat=value" long-opt
// forms against a bare "pat" mapping entry.
func (p *Parser) mapped(arg string) (string, bool) {
	if v, ok := p.mappings[arg]; ok {
		return v, true
	}
	for pat, repl := range p.mappings {
		if rest, ok := strings.CutPrefix(arg, pat+"="); ok {
			return repl + "=" + rest, true
		}
	}
	return "", false
}

// Parse splits args into Segments at ':' tokens, mapping options until the
// first token that resolves to an executable on PATH; everything from that
// token on is left untouched as program arguments.
func (p *Parser) Parse(args []string) []Segment {
	var segments []Segment
	var cur []string
	processes := 0
	hasProcesses := false
	commandSeen := false
	programIndex := -1

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !commandSeen && lookExecutable(arg) {
			commandSeen = true
			programIndex = len(cur)
		}

		switch {
		case arg == ":":
			segments = append(segments, Segment{
				Args: cur, Processes: processes, HasProcesses: hasProcesses, ProgramIndex: programIndex,
			})
			cur = nil
			processes = 0
			hasProcesses = false
			commandSeen = false
			programIndex = -1
		case !commandSeen:
			skip := false
			if mapped, ok := p.mapped(arg); ok {
				switch {
				case mapped == "SUPPRESS":
					i++
					skip = true
				case strings.HasPrefix(mapped, "SUPPRESS="):
					skip = true
				default:
					arg = mapped
				}
			}
			if skip {
				continue
			}

			switch {
			case arg == p.numprocFlag:
				if i+1 >= len(args) {
					cur = append(cur, arg)
					break
				}
				i++
				s := args[i]
				if n, err := strconv.Atoi(s); err == nil {
					processes = n
					hasProcesses = true
				}
				cur = append(cur, arg, s)
			case strings.HasPrefix(arg, p.numprocFlag+"="):
				val := strings.TrimPrefix(arg, p.numprocFlag+"=")
				if n, err := strconv.Atoi(val); err == nil {
					processes = n
					hasProcesses = true
				}
				cur = append(cur, arg)
			default:
				cur = append(cur, arg)
			}
		default:
			cur = append(cur, arg)
		}
	}

	if len(cur) > 0 {
		segments = append(segments, Segment{
			Args: cur, Processes: processes, HasProcesses: hasProcesses, ProgramIndex: programIndex,
		})
	}
	return segments
}
