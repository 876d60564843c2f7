// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hpcconnect/hpcconnect/pkg/config"
	hpcctx "github.com/hpcconnect/hpcconnect/pkg/context"
	"github.com/hpcconnect/hpcconnect/pkg/launch"
	"github.com/hpcconnect/hpcconnect/pkg/registry"
	"github.com/hpcconnect/hpcconnect/pkg/resource"
)

var titleCaser = cases.Title(language.English)

// printInfo reports the backend and topology hpcc resolved from the
// current configuration, for "--info" to print before exiting.
func printInfo(cmd *cobra.Command) error {
	name := registry.NameFromConfig(cfg)
	if name == "" {
		name = "local"
	}
	topology, err := resolveTopology(cmd.Context(), cfg, name)
	if err != nil {
		return err
	}
	fmt.Printf("backend:   %s\n", titleCaser.String(name))
	fmt.Printf("nodes:     %d\n", topology.NodeCount())
	fmt.Printf("cpus/node: %d\n", topology.CountPerNode("cpu"))
	fmt.Printf("launch:    %s\n", getString(cfg, "launch:exec", "mpiexec"))
	return nil
}

// parseConfigFlag splits a "-c" argument of the form
// "section:key:[subkey:...]:value" into its ':'-joined path and its decoded
// value: the last ':'-delimited field is the value, everything before it
// is joined back into the path.
func parseConfigFlag(raw string) (path string, value any, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 {
		return "", nil, configFlagError(raw)
	}
	path = strings.Join(parts[:len(parts)-1], ":")
	value = decodeConfigValue(parts[len(parts)-1])
	return path, value, nil
}

func configFlagError(raw string) error {
	return &flagFormatError{raw: raw}
}

type flagFormatError struct{ raw string }

func (e *flagFormatError) Error() string {
	return "invalid -c value " + e.raw + ": expected \"section:key:...:value\""
}

// decodeConfigValue strips a surrounding pair of quotes, else tries JSON
// (so "[1,2]", "true", "3" parse as their native types), else falls back to
// the raw string.
func decodeConfigValue(raw string) any {
	if n := len(raw); n >= 2 {
		if (raw[0] == '"' && raw[n-1] == '"') || (raw[0] == '\'' && raw[n-1] == '\'') {
			return raw[1 : n-1]
		}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// resolveTopology returns the resource tree cached in cfg's internal scope,
// discovering and caching it there the first time it's needed. A
// machine:resources value set in any other scope is not consulted.
func resolveTopology(ctx context.Context, cfg *config.Config, backendName string) (*resource.Tree, error) {
	specs, ok := cachedResources(cfg)
	if !ok {
		discoverCtx, cancel := hpcctx.EnsureTimeout(ctx, hpcctx.DefaultTimeout)
		defer cancel()
		specs = config.DiscoverResources(discoverCtx, backendName, log)
		_ = cfg.Set("machine:resources", specs, config.ScopeInternal)
	}
	return resource.New(specs)
}

func cachedResources(cfg *config.Config) ([]resource.Spec, bool) {
	v, ok := cfg.Get("machine:resources", config.ScopeInternal)
	if !ok {
		return nil, false
	}
	specs, ok := v.([]resource.Spec)
	return specs, ok
}

// resolveBackend builds the scheduler backend named by submit:backend (or
// the local fallback when unset), along with the topology it was resolved
// against.
func resolveBackend(ctx context.Context, cfg *config.Config) (registry.Backend, *resource.Tree, error) {
	name := registry.NameFromConfig(cfg)
	topology, err := resolveTopology(ctx, cfg, name)
	if err != nil {
		return nil, nil, err
	}
	b, err := registry.NewDefault().Resolve(name, cfg, log, topology)
	if err != nil {
		return nil, nil, err
	}
	return b, topology, nil
}

// launchOptions reads the merged launch section into a launch.Options.
func launchOptions(cfg *config.Config, topology *resource.Tree) launch.Options {
	return launch.Options{
		Exec:             getString(cfg, "launch:exec", "mpiexec"),
		DefaultOptions:   getStringSlice(cfg, "launch:default_options"),
		PreOptions:       getStringSlice(cfg, "launch:pre_options"),
		MPMDLocalOptions: getStringSlice(cfg, "launch:mpmd:local_options"),
		NumprocFlag:      getString(cfg, "launch:numproc_flag", "-n"),
		Mappings:         getStringMap(cfg, "launch:mappings"),
		Topology:         topology,
	}
}

// newParserFromOptions builds the launch.Parser matching opts' mappings and
// numproc flag, so launch_cmd and submit_cmd share one construction site.
func newParserFromOptions(opts launch.Options) *launch.Parser {
	return launch.NewParser(opts.Mappings, opts.NumprocFlag)
}

func getString(cfg *config.Config, path, def string) string {
	if v, ok := cfg.Get(path); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func getStringSlice(cfg *config.Config, path string) []string {
	v, ok := cfg.Get(path)
	if !ok {
		return nil
	}
	if s, ok := v.([]string); ok {
		return s
	}
	if items, ok := v.([]any); ok {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getStringMap(cfg *config.Config, path string) map[string]string {
	v, ok := cfg.Get(path)
	if !ok {
		return nil
	}
	if m, ok := v.(map[string]string); ok {
		return m
	}
	return nil
}

// shellJoin renders argv the way a shell would read it back, quoting any
// token that contains whitespace or shell metacharacters.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuoteIfNeeded(a)
	}
	return strings.Join(quoted, " ")
}

func shellQuoteIfNeeded(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){}|&;<>~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
