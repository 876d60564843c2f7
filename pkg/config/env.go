// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

// envPrefix is the shared prefix for every variable that feeds the
// environment scope.
const envPrefix = "HPC_CONNECT_"

// listValuedKeys and mapValuedKeys name the keys that EnvarSchema-style
// parsing coerces into []string / map[string]string rather than leaving as
// a plain string.
var listValuedKeys = map[string]bool{
	"default_options":   true,
	"pre_options":       true,
	"mpmd_local_options": true,
}

var mapValuedKeys = map[string]bool{
	"mappings": true,
}

// LoadEnvironment scans the process environment for HPC_CONNECT_<SECTION>_<KEY>
// variables, splits each into its target section by prefix match against
// the four known sections (falling back to the "config" section), coerces
// booleans/lists/maps, and loads the result into the environment scope.
//
// Grounded on original_source's EnvarSchema, which splits HPC_CONNECT_LAUNCH_*
// and HPC_CONNECT_SUBMIT_* into their own sub-trees and treats everything
// else as top-level config.
func (c *Config) LoadEnvironment(environ []string) error {
	bySection := map[string]tree{
		SectionConfig:  {},
		SectionMachine: {},
		SectionSubmit:  {},
		SectionLaunch:  {},
	}

	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(k, envPrefix)
		section, key := splitEnvSection(rest)
		bySection[section][key] = coerceEnvValue(key, v)
	}

	for section, data := range bySection {
		if err := c.LoadSection(ScopeEnvironment, section, data); err != nil {
			return err
		}
	}
	return nil
}

// splitEnvSection matches rest (everything after HPC_CONNECT_) against the
// known section prefixes LAUNCH_, SUBMIT_ and MACHINE_; anything else falls into the
// "config" section under its lowercased key as-is.
func splitEnvSection(rest string) (section, key string) {
	switch {
	case strings.HasPrefix(rest, "LAUNCH_"):
		return SectionLaunch, strings.ToLower(strings.TrimPrefix(rest, "LAUNCH_"))
	case strings.HasPrefix(rest, "SUBMIT_"):
		return SectionSubmit, strings.ToLower(strings.TrimPrefix(rest, "SUBMIT_"))
	case strings.HasPrefix(rest, "MACHINE_"):
		return SectionMachine, strings.ToLower(strings.TrimPrefix(rest, "MACHINE_"))
	default:
		return SectionConfig, strings.ToLower(rest)
	}
}

func coerceEnvValue(key, raw string) any {
	switch {
	case listValuedKeys[key]:
		return flagSplit(raw)
	case mapValuedKeys[key]:
		return loadMappings(raw)
	default:
		if b, ok := parseBoolLoose(raw); ok {
			return b
		}
		return raw
	}
}

// flagSplit mimics shlex.split for the simple space/quote cases this
// module's flags actually use.
func flagSplit(arg string) []string {
	var out []string
	var cur strings.Builder
	inQuote := rune(0)
	for _, r := range arg {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			inQuote = r
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// loadMappings parses a "k:v,k:v" string into a map, per
// original_source/schemas.py:load_mappings.
func loadMappings(arg string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(arg, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// parseBoolLoose recognizes the same false-spellings as the original
// implementation's `boolean()` schema validator ("0", "off", "false", "no")
// in addition to Go's strconv.ParseBool vocabulary.
func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "off", "false", "no":
		return false, true
	case "1", "on", "true", "yes":
		return true, true
	default:
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
		return false, false
	}
}

// ResolveExecutable resolves name to an absolute path via PATH lookup,
// logging at debug level when it cannot be found instead of failing
// immediately — callers decide whether a missing binary is fatal.
func ResolveExecutable(log logging.Logger, name string) (string, bool) {
	path, err := exec.LookPath(name)
	if err != nil {
		if log != nil {
			log.Debug("executable not found on PATH", "operation", "resolve_executable", "name", name, "error", err.Error())
		}
		return "", false
	}
	return path, true
}

// Environ is a seam for tests to inject a fake process environment instead
// of os.Environ().
func Environ() []string {
	return os.Environ()
}
