// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hpcconnect/hpcconnect/pkg/config"
)

var configShowScope string
var configAddScope string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		sections := map[string]any{}
		scopes := []config.Scope{}
		if configShowScope != "" {
			scopes = append(scopes, config.Scope(configShowScope))
		}
		for _, name := range []string{config.SectionConfig, config.SectionMachine, config.SectionSubmit, config.SectionLaunch} {
			if v, ok := cfg.Get(name, scopes...); ok {
				sections[name] = v
			}
		}
		out, err := yaml.Marshal(map[string]any{"hpc_connect": sections})
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configAddCmd = &cobra.Command{
	Use:   "add <section:key:...:value>",
	Short: "Add or replace a value in a given scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, value, err := parseConfigFlag(args[0])
		if err != nil {
			return err
		}
		scope := config.Scope(configAddScope)
		if scope == "" {
			scope = config.ScopeLocal
		}
		if err := cfg.Add(path, value, scope); err != nil {
			return err
		}
		switch scope {
		case config.ScopeSite, config.ScopeGlobal, config.ScopeLocal:
			return cfg.SaveScope(scope)
		default:
			return nil
		}
	},
}

func init() {
	configShowCmd.Flags().StringVar(&configShowScope, "scope", "", "limit to one scope (defaults, site, global, local, environment, command_line, internal)")
	configAddCmd.Flags().StringVar(&configAddScope, "scope", "", "scope to write into (default: local)")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configAddCmd)
}
