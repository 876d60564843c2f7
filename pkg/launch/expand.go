// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"regexp"
	"strconv"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/resource"
)

var placeholderPattern = regexp.MustCompile(`%\((\w+)\)[sd]`)

// viewFields returns the percent-expansion keys available for a segment: np
// (the segment's own process count) plus the resource view's derived keys.
func viewFields(np int, view resource.View) map[string]string {
	return map[string]string{
		"np":               strconv.Itoa(np),
		"ranks":            strconv.Itoa(view.Ranks),
		"ranks_per_socket": strconv.Itoa(view.RanksPerSocket),
		"nodes":            strconv.Itoa(view.Nodes),
		"sockets":          strconv.Itoa(view.Sockets),
	}
}

// expand percent-expands tmpl (e.g. "-n%(np)s" or "--ntasks-per-node=%(ranks_per_socket)d")
// against fields, mirroring Python's `tmpl % kwargs`. A placeholder with no
// matching field is a configuration error: the author is expected to supply
// only keys the view actually defines.
func expand(tmpl string, fields map[string]string) (string, error) {
	var missing string
	result := placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := fields[key]
		if !ok {
			missing = key
			return m
		}
		return v
	})
	if missing != "" {
		return "", hpcerrors.Newf(hpcerrors.ConfigError, "launch option %q references undefined key %q", tmpl, missing)
	}
	return result, nil
}

func expandAll(opts []string, fields map[string]string) ([]string, error) {
	out := make([]string, 0, len(opts))
	for _, opt := range opts {
		v, err := expand(opt, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func sumProcesses(segments []Segment) int {
	total := 0
	for _, s := range segments {
		if s.HasProcesses {
			total += s.Processes
		}
	}
	return total
}

func resourceView(tree *resource.Tree, ranks int) (resource.View, error) {
	if tree == nil || ranks == 0 {
		return resource.View{NP: ranks}, nil
	}
	v, err := tree.ResourceView(ranks, 0)
	if err != nil {
		return resource.View{}, err
	}
	v.NP = ranks
	return v, nil
}
