package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["import"])
	assert.True(t, names["migrate"])
	assert.True(t, names["normalize"])
}

func TestNormalizeNameCommand(t *testing.T) {
	out, err := executeCLI(t, "normalize", "name", "Peterson, Chris")
	require.NoError(t, err)
	assert.Contains(t, out, "CHRIS PETERSON")
}

func TestNormalizeDomainCommand(t *testing.T) {
	out, err := executeCLI(t, "normalize", "domain", "sales@foo.bar.com")
	require.NoError(t, err)
	assert.Contains(t, out, "bar.com")
}

func TestNormalizeDomainInvalid(t *testing.T) {
	out, err := executeCLI(t, "normalize", "domain", "not-a-domain")
	require.NoError(t, err)
	assert.Contains(t, out, "(invalid)")
}

func TestImportRequiresSources(t *testing.T) {
	_, err := executeCLI(t, "import", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sources")
}
