package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExperiment(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidExperiment(t *testing.T) {
	yamlFile := writeExperiment(t, "experiment.yaml", `
node_type: rogers_agent
networks:
  - topology: fully_connected
    max_size: 4
types:
  - name: rogers_agent
    kind: node
    parent: agent
`)
	cueFile := writeExperiment(t, "experiment.cue", `
networks: [{topology: "empty", max_size: 1}]
`)

	out, err := runValidateCmd(t, "text", yamlFile, cueFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 experiment file(s) valid")
}

func TestValidateValidExperimentJSON(t *testing.T) {
	file := writeExperiment(t, "experiment.yaml", "{}\n")

	out, err := runValidateCmd(t, "json", file)
	require.NoError(t, err)

	var result ValidationResult
	decodeData(t, out, &result)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.Files)
}

func TestValidateNonExistentFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", "/nonexistent/experiment.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantCode string
	}{
		{"malformed yaml", "bad.yaml", "networks: [\n", "E_CONFIG_PARSE"},
		{"unknown field", "extra.yaml", "colour: blue\n", "E_CONFIG_SCHEMA"},
		{"unknown topology", "topology.yaml", "networks:\n  - topology: ring\n", "E_CONFIG_SCHEMA"},
		{"unresolved node type", "type.yaml", "node_type: ghost\n", "E_CONFIG_INVALID"},
		{"cue syntax", "bad.cue", "networks: [\n", "E_CONFIG_PARSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeExperiment(t, tt.file, tt.content)

			out, err := runValidateCmd(t, "text", file)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, tt.wantCode)
		})
	}
}

func TestValidateRejectionJSON(t *testing.T) {
	good := writeExperiment(t, "good.yaml", "{}\n")
	bad := writeExperiment(t, "bad.yaml", "node_type: ghost\n")

	out, err := runValidateCmd(t, "json", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Files)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, bad, resp.Data.Errors[0].File)
	assert.Equal(t, "E_CONFIG_INVALID", resp.Error.Code)
}

func TestValidateRequiresArgument(t *testing.T) {
	_, err := runValidateCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}
