// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/hpcconnect/hpcconnect/pkg/logging"
	"github.com/hpcconnect/hpcconnect/pkg/resource"
)

// DiscoverResources builds a machine:resources value by probing, in order: the cluster's own backend (sinfo for slurm,
// pbsnodes for pbs), $HPC_CONNECT_HOSTFILE, then a single-node default of
// {node:1 -> socket:1 -> cpu:runtime.NumCPU()}.
func DiscoverResources(ctx context.Context, backend string, log logging.Logger) []resource.Spec {
	probes := []func(context.Context) ([]resource.Spec, bool){
		func(ctx context.Context) ([]resource.Spec, bool) { return probeBackend(ctx, backend, log) },
		func(ctx context.Context) ([]resource.Spec, bool) { return probeHostfile(log) },
	}
	for _, probe := range probes {
		if specs, ok := probe(ctx); ok {
			return specs
		}
	}
	return defaultTopology()
}

func defaultTopology() []resource.Spec {
	return []resource.Spec{
		{Type: "node", Count: 1, Resources: []resource.Spec{
			{Type: "socket", Count: 1, Resources: []resource.Spec{
				{Type: "cpu", Count: runtime.NumCPU()},
			}},
		}},
	}
}

func probeBackend(ctx context.Context, backend string, log logging.Logger) ([]resource.Spec, bool) {
	switch backend {
	case "slurm":
		return probeSinfo(ctx, log)
	case "pbs":
		return probePbsnodes(ctx, log)
	default:
		return nil, false
	}
}

// probeSinfo runs `sinfo -h -o "%n %c %N"` (hostname, cpus, nodelist) and
// builds one node group per distinct cpu count observed.
func probeSinfo(ctx context.Context, log logging.Logger) ([]resource.Spec, bool) {
	path, err := exec.LookPath("sinfo")
	if err != nil {
		return nil, false
	}

	out, err := exec.CommandContext(ctx, path, "-h", "-o", "%n %c %N").Output()
	if err != nil {
		if log != nil {
			logging.LogError(log, err, "discover_sinfo")
		}
		return nil, false
	}

	cpusByNode := map[string]int{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		cpus, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpusByNode[fields[0]] = cpus
	}
	if len(cpusByNode) == 0 {
		return nil, false
	}

	byCPU := map[int]int{}
	for _, cpus := range cpusByNode {
		byCPU[cpus]++
	}

	var specs []resource.Spec
	for cpus, count := range byCPU {
		specs = append(specs, resource.Spec{
			Type: "node", Count: count,
			Resources: []resource.Spec{
				{Type: "socket", Count: 1, Resources: []resource.Spec{
					{Type: "cpu", Count: cpus},
				}},
			},
		})
	}
	return specs, true
}

// probePbsnodes runs `pbsnodes -a` and counts distinct np values.
func probePbsnodes(ctx context.Context, log logging.Logger) ([]resource.Spec, bool) {
	path, err := exec.LookPath("pbsnodes")
	if err != nil {
		return nil, false
	}

	out, err := exec.CommandContext(ctx, path, "-a").Output()
	if err != nil {
		if log != nil {
			logging.LogError(log, err, "discover_pbsnodes")
		}
		return nil, false
	}

	byCPU := map[int]int{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "np = ") && !strings.HasPrefix(line, "resources_available.ncpus = ") {
			continue
		}
		_, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cpus, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		byCPU[cpus]++
	}
	if len(byCPU) == 0 {
		return nil, false
	}

	var specs []resource.Spec
	for cpus, count := range byCPU {
		specs = append(specs, resource.Spec{
			Type: "node", Count: count,
			Resources: []resource.Spec{
				{Type: "socket", Count: 1, Resources: []resource.Spec{
					{Type: "cpu", Count: cpus},
				}},
			},
		})
	}
	return specs, true
}

// probeHostfile treats $HPC_CONNECT_HOSTFILE as a filesystem glob pattern;
// every matching path becomes one node group with count 1, holding one
// socket of runtime.NumCPU() cpus. The matched files are not opened, so
// their contents (hostnames or per-host resources) are not read.
func probeHostfile(log logging.Logger) ([]resource.Spec, bool) {
	path := os.Getenv("HPC_CONNECT_HOSTFILE")
	if path == "" {
		return nil, false
	}

	matches, err := filepath.Glob(path)
	if err != nil || len(matches) == 0 {
		if log != nil && err != nil {
			logging.LogError(log, err, "discover_hostfile", "path", path)
		}
		return nil, false
	}

	specs := make([]resource.Spec, 0, len(matches))
	for range matches {
		specs = append(specs, resource.Spec{
			Type: "node", Count: 1,
			Resources: []resource.Spec{
				{Type: "socket", Count: 1, Resources: []resource.Spec{
					{Type: "cpu", Count: runtime.NumCPU()},
				}},
			},
		})
	}
	return specs, true
}
