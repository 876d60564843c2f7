// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcconnect/hpcconnect/pkg/jobspec"
)

func strptr(s string) *string { return &s }

func TestRenderScriptOrdersSectionsAndSortsEnv(t *testing.T) {
	spec := jobspec.New("job", []string{"./run.sh"},
		jobspec.WithSubmitArgs("--foo"),
		jobspec.WithEnv("ZETA", strptr("9")),
		jobspec.WithEnv("ALPHA", strptr("1")),
		jobspec.WithEnv("GONE", nil),
	)

	out := RenderScript(spec, ScriptOptions{
		Directives:     []string{"#DIRECTIVE"},
		DefaultOptions: []string{"# default"},
		SubmitArgs:     spec.SubmitArgs,
	})

	expected := "#!/bin/sh\n" +
		"#DIRECTIVE\n" +
		"# default\n" +
		"--foo\n" +
		"export ALPHA='1'\n" +
		"unset GONE\n" +
		"export ZETA='9'\n" +
		"./run.sh\n"
	assert.Equal(t, expected, out)
}

func TestShellQuoteEscapesEmbeddedQuote(t *testing.T) {
	spec := jobspec.New("job", []string{"./run.sh"}, jobspec.WithEnv("X", strptr("it's")))
	out := RenderScript(spec, ScriptOptions{})
	assert.Contains(t, out, `export X='it'\''s'`)
}

func TestTimeLimitClausePadsByQuarter(t *testing.T) {
	assert.Equal(t, "00:01:15", TimeLimitClause(60))
	assert.Equal(t, "00:00:00", TimeLimitClause(0))
}

func TestWriteScriptChmodsExecutable(t *testing.T) {
	dir := t.TempDir()
	spec := jobspec.New("job", []string{"./run.sh"}, jobspec.WithWorkspace(dir))

	path, err := WriteScript(spec, "job.sh", "#!/bin/sh\necho hi\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job.sh"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestWriteScriptRequiresWorkspace(t *testing.T) {
	spec := jobspec.New("job", []string{"./run.sh"})
	_, err := WriteScript(spec, "job.sh", "x")
	assert.Error(t, err)
}
