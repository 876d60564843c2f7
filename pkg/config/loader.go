// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	hpcerrors "github.com/hpcconnect/hpcconnect/pkg/errors"
	"github.com/hpcconnect/hpcconnect/pkg/logging"
)

// fileDoc is the on-disk shape of a config file: a single top-level key
// "hpc_connect" wrapping the four sections.
type fileDoc struct {
	HPCConnect map[string]tree `yaml:"hpc_connect"`
}

// LoadFile reads and decodes a YAML config file, loading each present
// section into scope. Unknown top-level keys are tolerated (KnownFields(false)),
// matching the snmp_collector loader's leniency for forward-compatible files.
func (c *Config) LoadFile(scope Scope, path string) error {
	c.SetFile(scope, path)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to open config file "+path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(false)

	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to parse config file "+path, err)
	}

	for _, section := range sectionNames {
		if data, ok := doc.HPCConnect[section]; ok {
			if err := c.LoadSection(scope, section, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveScope writes scope's own (unmerged) section data back to the file
// path SetFile recorded for it — used by "hpcc config add" to persist an
// edit instead of leaving it live only for the current process.
func (c *Config) SaveScope(scope Scope) error {
	c.mu.RLock()
	l, ok := c.layers[scope]
	if !ok {
		c.mu.RUnlock()
		return hpcerrors.Newf(hpcerrors.ConfigError, "unknown scope %q", scope)
	}
	path := l.file
	doc := fileDoc{HPCConnect: make(map[string]tree, len(sectionNames))}
	for _, name := range sectionNames {
		if len(l.sections[name]) > 0 {
			doc.HPCConnect[name] = l.sections[name]
		}
	}
	c.mu.RUnlock()

	if path == "" {
		return hpcerrors.Newf(hpcerrors.ConfigError, "scope %q has no backing file to save to", scope)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to create config directory", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to marshal config", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return hpcerrors.WithCause(hpcerrors.ConfigError, "failed to write config file "+path, err)
	}
	return nil
}

// SiteConfigPath resolves the site scope's file: $HPC_CONNECT_SITE_CONFIG,
// else <prefix>/etc/hpc_connect/config.yaml relative to the running binary.
func SiteConfigPath() string {
	if p := os.Getenv("HPC_CONNECT_SITE_CONFIG"); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join("/usr/local", "etc", "hpc_connect", "config.yaml")
	}
	prefix := filepath.Dir(filepath.Dir(exe))
	return filepath.Join(prefix, "etc", "hpc_connect", "config.yaml")
}

// GlobalConfigPath resolves the global scope's file: $HPC_CONNECT_GLOBAL_CONFIG,
// else $XDG_CONFIG_HOME/hpc_connect/config.yaml, else ~/.config/hpc_connect.yaml.
func GlobalConfigPath() string {
	if p := os.Getenv("HPC_CONNECT_GLOBAL_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hpc_connect", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hpc_connect.yaml")
}

// LocalConfigPath is always ./hpc_connect.yaml.
func LocalConfigPath() string {
	return "hpc_connect.yaml"
}

// LoadAll loads the site, global, and local file-backed scopes (in that
// order, so later scopes correctly override earlier ones in Get's merge),
// then the environment scope. Missing files are silently skipped.
func (c *Config) LoadAll(log logging.Logger) error {
	for _, pair := range []struct {
		scope Scope
		path  string
	}{
		{ScopeSite, SiteConfigPath()},
		{ScopeGlobal, GlobalConfigPath()},
		{ScopeLocal, LocalConfigPath()},
	} {
		if pair.path == "" {
			continue
		}
		if err := c.LoadFile(pair.scope, pair.path); err != nil {
			if log != nil {
				logging.LogError(log, err, "load_config_file", "scope", string(pair.scope), "path", pair.path)
			}
			return err
		}
	}
	return c.LoadEnvironment(Environ())
}
