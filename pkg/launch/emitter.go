// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"github.com/hpcconnect/hpcconnect/pkg/resource"
)

// Options carries the launch section's merged configuration values an
// Emitter needs: the executable, its option lists, and the mapping table
// the Parser already consumed.
type Options struct {
	Exec              string
	DefaultOptions    []string
	PreOptions        []string
	MPMDLocalOptions  []string
	NumprocFlag       string
	Mappings          map[string]string
	Topology          *resource.Tree // nil when no socket-level topology is known
	WorkDir           string         // directory launch-multi-prog.conf is written into; "" means CWD
}

// Emitter compiles parsed Segments plus Options into a launcher command
// line. MPMD emitters may also write auxiliary files (srun's multi-prog
// layout) as a side effect of Emit.
type Emitter interface {
	Emit(segments []Segment, opts Options) ([]string, error)
}
