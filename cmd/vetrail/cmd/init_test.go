package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrail/vetrail/internal/config"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
	return tmpDir
}

func TestInitCmd_WritesConfig(t *testing.T) {
	tmpDir := chdirTemp(t)

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	path := filepath.Join(tmpDir, ".vetrail.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "llm:")
	assert.Contains(t, buf.String(), ".vetrail.yaml")

	// The template must parse as valid configuration.
	_, err = config.LoadFile(path)
	require.NoError(t, err)
}

func TestInitCmd_RefusesOverwrite(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile(".vetrail.yaml", []byte("version: 1\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// Existing content untouched.
	data, err := os.ReadFile(".vetrail.yaml")
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestInitCmd_ForceOverwrites(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile(".vetrail.yaml", []byte("version: 1\n"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--force"})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(".vetrail.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "llm:")
}
