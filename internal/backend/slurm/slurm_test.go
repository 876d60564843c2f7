// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
)

func testSpec() jobspec.JobSpec {
	return jobspec.New("job", []string{"./run.sh"}, jobspec.WithNodes(2), jobspec.WithTimeLimit(60))
}

func TestParseAcctOutputStripsTruncationMarkerAndSplitsSignal(t *testing.T) {
	out := "12345|RUNNING+|0:0\n" + "12346|COMPLETED|2:9\n"
	rows := parseAcctOutput(out)

	require := assert.New(t)
	require.Equal("RUNNING", rows["12345"].state)
	require.Equal(0, rows["12345"].returncode)

	require.Equal("COMPLETED", rows["12346"].state)
	require.Equal(2, rows["12346"].returncode)
	require.Equal(9, rows["12346"].signal)
}

func TestParseAcctOutputPlainExitCode(t *testing.T) {
	rows := parseAcctOutput("777|FAILED|1\n")
	assert.Equal(t, 1, rows["777"].returncode)
	assert.Equal(t, 0, rows["777"].signal)
}

func TestParseAcctOutputIgnoresBlankLines(t *testing.T) {
	rows := parseAcctOutput("\n   \n999|PENDING|0:0\n")
	assert.Len(t, rows, 1)
	assert.Equal(t, "PENDING", rows["999"].state)
}

func TestClustersDirectiveRecognizesAllForms(t *testing.T) {
	assert.Equal(t, "foo", clustersDirective([]string{"-M", "foo"}))
	assert.Equal(t, "bar", clustersDirective([]string{"--clusters", "bar"}))
	assert.Equal(t, "baz", clustersDirective([]string{"--clusters=baz"}))
	assert.Equal(t, "", clustersDirective([]string{"--other"}))
}

func TestDirectivesIncludeExclusiveFlag(t *testing.T) {
	m := &Manager{}
	spec := testSpec()
	d := m.directives(spec, true)
	assert.Contains(t, d, "#SBATCH --exclusive")
}

func TestDirectivesOmitExclusiveFlagByDefault(t *testing.T) {
	m := &Manager{}
	spec := testSpec()
	d := m.directives(spec, false)
	assert.NotContains(t, d, "#SBATCH --exclusive")
}
