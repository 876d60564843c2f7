// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"sync"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
)

// tree is a generic nested map used to hold one scope's view of one
// section. Leaves are strings, bools, ints, []string, or map[string]string.
type tree map[string]any

type layer struct {
	scope    Scope
	file     string // empty for synthetic scopes (environment, command_line, internal)
	sections map[string]tree
}

func newLayer(scope Scope, file string) *layer {
	l := &layer{scope: scope, file: file, sections: make(map[string]tree)}
	for _, name := range sectionNames {
		l.sections[name] = tree{}
	}
	return l
}

// Config is the layered configuration tree described in the package doc.
// It is safe for concurrent use.
type Config struct {
	mu     sync.RWMutex
	layers map[Scope]*layer
}

// New returns a Config pre-populated with the built-in defaults scope
// (grounded on the original implementation's launch defaults: vendor
// "unknown", exec "mpiexec", numproc_flag "-n").
func New() *Config {
	c := &Config{layers: make(map[Scope]*layer)}
	for _, scope := range scopeOrder {
		c.layers[scope] = newLayer(scope, "")
	}
	c.layers[ScopeDefaults].sections[SectionLaunch] = tree{
		"vendor":          "unknown",
		"exec":            "mpiexec",
		"numproc_flag":    "-n",
		"default_options": []string{},
		"pre_options":     []string{},
		"mappings":        map[string]string{},
		"mpmd": tree{
			"local_options": []string{},
		},
	}
	return c
}

// SetFile records the on-disk path backing a file-backed scope (site,
// global, local), so future Set calls on that scope know where to dump.
func (c *Config) SetFile(scope Scope, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layers[scope]; ok {
		l.file = path
	}
}

// LoadSection replaces scope's view of section wholesale — used by the file
// loader after parsing a scope's YAML document, and by the environment
// overlay after parsing HPC_CONNECT_* variables.
func (c *Config) LoadSection(scope Scope, section string, data tree) error {
	if !validScope(scope) {
		return hpcerrors.Newf(hpcerrors.ConfigError, "unknown scope %q", scope)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers[scope].sections[section] = data
	return nil
}

// Get resolves path (section[:key...]) against the merged view across all
// scopes, in precedence order, returning the first defined value scanning
// from highest to lowest precedence. When scope is given, Get instead
// returns only that scope's own value at path, unmerged.
func (c *Config) Get(path string, scope ...Scope) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	section, keys := splitPath(path)
	if len(scope) > 0 {
		l, ok := c.layers[scope[0]]
		if !ok {
			return nil, false
		}
		return lookup(l.sections[section], keys)
	}

	merged := c.mergedSectionLocked(section)
	return lookup(merged, keys)
}

// mergedSectionLocked deep-merges one section across all scopes in
// precedence order. Callers must hold c.mu for reading.
func (c *Config) mergedSectionLocked(section string) tree {
	result := tree{}
	for _, scope := range scopeOrder {
		l, ok := c.layers[scope]
		if !ok {
			continue
		}
		result = deepMerge(result, l.sections[section]).(tree)
	}
	return result
}

// Set mutates the named scope at path, replacing the leaf value outright.
func (c *Config) Set(path string, value any, scope Scope) error {
	if !validScope(scope) {
		return hpcerrors.Newf(hpcerrors.ConfigError, "unknown scope %q", scope)
	}
	section, keys := splitPath(path)
	if len(keys) == 0 {
		return hpcerrors.Newf(hpcerrors.ConfigError, "path %q has no key within its section", path)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.layers[scope]
	l.sections[section] = setAt(l.sections[section], keys, value)
	return nil
}

// Add appends to a list-valued path, merges into a map-valued path, or
// replaces a scalar-valued path, writing into scope.
func (c *Config) Add(path string, value any, scope Scope) error {
	existing, _ := c.Get(path, scope)
	switch ev := existing.(type) {
	case []string:
		if nv, ok := asStringSlice(value); ok {
			return c.Set(path, append(append([]string(nil), ev...), nv...), scope)
		}
	case map[string]string:
		if nv, ok := asStringMap(value); ok {
			merged := make(map[string]string, len(ev)+len(nv))
			for k, v := range ev {
				merged[k] = v
			}
			for k, v := range nv {
				merged[k] = v
			}
			return c.Set(path, merged, scope)
		}
	}
	return c.Set(path, value, scope)
}

// Section returns the fully merged view of an entire section (e.g. "launch").
func (c *Config) Section(name string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any(c.mergedSectionLocked(name))
}

func splitPath(path string) (section string, keys []string) {
	parts := strings.Split(path, ":")
	return parts[0], parts[1:]
}

func lookup(t tree, keys []string) (any, bool) {
	var cur any = t
	for _, k := range keys {
		m, ok := cur.(tree)
		if !ok {
			if mm, ok2 := cur.(map[string]any); ok2 {
				m = tree(mm)
			} else {
				return nil, false
			}
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	if len(keys) == 0 {
		if len(t) == 0 {
			return nil, false
		}
		return t, true
	}
	return cur, true
}

func setAt(t tree, keys []string, value any) tree {
	if t == nil {
		t = tree{}
	}
	if len(keys) == 1 {
		t[keys[0]] = value
		return t
	}
	child, _ := t[keys[0]].(tree)
	t[keys[0]] = setAt(child, keys[1:], value)
	return t
}

// deepMerge unions maps recursively and replaces everything else (lists,
// scalars) with the override's value when the override defines it.
func deepMerge(base, override any) any {
	bt, bok := base.(tree)
	ot, ook := override.(tree)
	if bok && ook {
		result := tree{}
		for k, v := range bt {
			result[k] = v
		}
		for k, v := range ot {
			if existing, has := result[k]; has {
				result[k] = deepMerge(existing, v)
			} else {
				result[k] = v
			}
		}
		return result
	}
	if override == nil {
		return base
	}
	return override
}

func asStringSlice(v any) ([]string, bool) {
	s, ok := v.([]string)
	return s, ok
}

func asStringMap(v any) (map[string]string, bool) {
	m, ok := v.(map[string]string)
	return m, ok
}
