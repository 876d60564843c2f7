// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package pbs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
)

func TestDirectivesComputesPPNFromNodesAndCPUs(t *testing.T) {
	m := &Manager{}
	spec := jobspec.New("job", []string{"./run.sh"}, jobspec.WithNodes(2), jobspec.WithCPUs(9))
	d := m.directives(spec)
	assert.Contains(t, d, "#PBS -l nodes=2:ppn=5")
}

func TestDirectivesMergesOutputErrorWhenSamePath(t *testing.T) {
	m := &Manager{}
	spec := jobspec.New("job", []string{"./run.sh"}, jobspec.WithOutput("out.log"), jobspec.WithError("out.log"))
	d := m.directives(spec)
	assert.Contains(t, d, "#PBS -j oe")
	assert.NotContains(t, d, "#PBS -e out.log")
}

func TestDirectivesKeepsOutputErrorSeparateByDefault(t *testing.T) {
	m := &Manager{}
	spec := jobspec.New("job", []string{"./run.sh"}, jobspec.WithOutput("out.log"), jobspec.WithError("err.log"))
	d := m.directives(spec)
	assert.Contains(t, d, "#PBS -o out.log")
	assert.Contains(t, d, "#PBS -e err.log")
}

func TestJobStillQueuedMatchesExactAndTruncatedIDs(t *testing.T) {
	qstat := "Job id            Name\n" +
		"123.server        myjob\n" +
		"456789012345*      other\n"
	assert.True(t, jobStillQueued(qstat, "123.server"))
	assert.True(t, jobStillQueued(qstat, "456789012345.extra.server"))
	assert.False(t, jobStillQueued(qstat, "999.server"))
}
