package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thothlabs/thoth/internal/config"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()
	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "ingest", "merge", "jobs", "sources", "search", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "thoth")

	out, err = runCommand(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
}

func TestSourcesCmd_ListsDefaults(t *testing.T) {
	out, err := runCommand(t, "sources")
	require.NoError(t, err)

	var sources []config.SourceConfig
	require.NoError(t, json.Unmarshal([]byte(out), &sources))

	names := make(map[string]bool)
	for _, s := range sources {
		names[s.Name] = true
	}
	assert.True(t, names["handbook"])
}

func TestIngestCmd_RequiresSource(t *testing.T) {
	_, err := runCommand(t, "ingest")
	require.Error(t, err)
}
