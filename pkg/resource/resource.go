// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resource models the nested node/socket/device resource tree that
// backends and the launcher compiler query to derive node counts and
// percent-expansion views.
package resource

import (
	"math"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

// Spec is one node of a resource tree. The canonical shape is
// node -> socket -> {cpu, gpu, ...}, but any nesting is legal; only the
// top-level entries are required to have Type "node".
type Spec struct {
	Type                 string
	Count                int
	AdditionalProperties map[string]any
	Resources            []Spec
}

type occurrence struct {
	spec       Spec
	parentType string
	// multiplier is the product of ancestor counts between the owning
	// top-level node and this occurrence, excluding the node itself.
	multiplier int
}

// Tree is a parsed, indexed resource specification. Build it once with New
// and query it repeatedly; Tree is immutable and safe for concurrent reads.
type Tree struct {
	roots []Spec
	index map[string][]occurrence
}

// New validates roots (every entry must have Type "node" and Count >= 1)
// and builds the type index described in the resource algebra.
func New(roots []Spec) (*Tree, error) {
	for _, r := range roots {
		if r.Type != "node" {
			return nil, hpcerrors.NewTopologyError("top-level resource entries must have type \"node\"")
		}
		if r.Count < 1 {
			return nil, hpcerrors.NewTopologyError("node count must be >= 1")
		}
	}

	t := &Tree{roots: roots, index: make(map[string][]occurrence)}
	for _, root := range roots {
		t.walk(root, root.Resources, 1)
	}
	return t, nil
}

func (t *Tree) walk(parent Spec, children []Spec, ancestorProduct int) {
	for _, c := range children {
		t.index[c.Type] = append(t.index[c.Type], occurrence{
			spec:       c,
			parentType: parent.Type,
			multiplier: ancestorProduct,
		})
		t.walk(c, c.Resources, ancestorProduct*c.Count)
	}
}

// CountPerNode returns the sum, over all occurrences of typ, of
// (spec.Count * product of ancestor counts up to but not including the
// owning node). Returns def (0 if omitted) when typ does not occur.
func (t *Tree) CountPerNode(typ string, def ...int) int {
	occs, ok := t.index[typ]
	if !ok {
		return firstOr(def, 0)
	}
	total := 0
	for _, o := range occs {
		total += o.multiplier * o.spec.Count
	}
	return total
}

// CountPerSocket returns the count of the first occurrence of typ whose
// immediate parent is a socket. Falls back to CountPerNode(typ) /
// SocketsPerNode() when no direct socket child matches, per the chosen
// resolution of the source's inconsistent behavior across backends.
func (t *Tree) CountPerSocket(typ string, def ...int) int {
	for _, o := range t.index[typ] {
		if o.parentType == "socket" {
			return o.spec.Count
		}
	}
	if spn := t.SocketsPerNode(); spn > 0 {
		if per := t.CountPerNode(typ); per > 0 {
			return per / spn
		}
	}
	return firstOr(def, 0)
}

// NodeCount returns the sum of top-level node counts.
func (t *Tree) NodeCount() int {
	total := 0
	for _, r := range t.roots {
		total += r.Count
	}
	return total
}

// SocketsPerNode returns CountPerNode("socket"), defaulting to 1 when the
// tree has no socket level.
func (t *Tree) SocketsPerNode() int {
	return t.CountPerNode("socket", 1)
}

// NodesRequired returns, for a map of type -> requested total count, the
// maximum over each type of ceil(requested / CountPerNode(type)), floored
// at 1. Types with zero per-node count are ignored as non-constraining.
func (t *Tree) NodesRequired(perTypeTotals map[string]int) int {
	nodes := 1
	for typ, requested := range perTypeTotals {
		if requested <= 0 {
			continue
		}
		perNode := t.CountPerNode(typ)
		if perNode <= 0 {
			continue
		}
		n := int(math.Ceil(float64(requested) / float64(perNode)))
		if n > nodes {
			nodes = n
		}
	}
	return nodes
}

// View is the derived snapshot used to percent-expand launcher flags.
type View struct {
	NP             int
	Ranks          int
	RanksPerSocket int
	Nodes          int
	Sockets        int
}

// ResourceView derives a View from a requested rank count and, optionally,
// an explicit ranks-per-socket. Requires a socket-level topology.
func (t *Tree) ResourceView(ranks, ranksPerSocket int) (View, error) {
	if ranksPerSocket > 0 && ranks == 0 {
		return View{}, hpcerrors.NewTopologyError("ranks_per_socket given without ranks")
	}
	if ranks == 0 && ranksPerSocket == 0 {
		return View{}, nil
	}

	if _, ok := t.index["socket"]; !ok {
		return View{}, hpcerrors.NewTopologyError("resource_view requires a socket-based topology")
	}
	cpuPerSocket := t.CountPerSocket("cpu")
	if cpuPerSocket <= 0 {
		return View{}, hpcerrors.NewTopologyError("resource_view requires a socket-based topology with cpu children")
	}

	if ranksPerSocket == 0 {
		ranksPerSocket = minInt(ranks, cpuPerSocket)
	}

	socketsPerNode := t.SocketsPerNode()
	nodes := int(math.Ceil(float64(ranks) / float64(ranksPerSocket) / float64(socketsPerNode)))
	sockets := int(math.Ceil(float64(ranks) / float64(ranksPerSocket)))

	return View{
		NP:             ranks,
		Ranks:          ranks,
		RanksPerSocket: ranksPerSocket,
		Nodes:          nodes,
		Sockets:        sockets,
	}, nil
}

func firstOr(def []int, fallback int) int {
	if len(def) > 0 {
		return def[0]
	}
	return fallback
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
