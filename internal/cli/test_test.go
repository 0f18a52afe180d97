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

const passingScenario = `name: basic-updates
description: state updates accumulate into the live view
events:
  - seq: "1"
    kind: graph_start
    payload:
      nodes: ["plan"]
  - seq: "2"
    kind: state_update
    payload:
      values:
        topic: go
expect:
  - at: live
    state:
      topic: go
`

const failingScenario = `name: wrong-expectation
description: live state is checked against a value the stream never wrote
events:
  - seq: "1"
    kind: state_update
    payload:
      values:
        topic: go
expect:
  - at: live
    state:
      topic: rust
`

// writeScenario writes content into dir under name and returns dir.
func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{}) // Missing scenarios directory

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	scenariosDir := t.TempDir()

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	scenariosDir := t.TempDir()

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandPassingScenario(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "basic-updates.yaml", passingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ basic-updates")
	assert.Contains(t, output, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFailingScenario(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "wrong-expectation.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ wrong-expectation")
	assert.Contains(t, output, "expect[0] at live")
	assert.Contains(t, output, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "wrong-expectation.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
}

func TestTestCommandMixedResults(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "basic-updates.yaml", passingScenario)
	writeScenario(t, scenariosDir, "wrong-expectation.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "basic-updates.yaml", passingScenario)
	writeScenario(t, scenariosDir, "wrong-expectation.yaml", failingScenario)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "basic-*"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "basic-updates.yaml", passingScenario)

	// First pass records the golden view.
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir, "--update"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "(golden updated)")

	goldenPath := filepath.Join(scenariosDir, "golden", "basic-updates.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"thread_id":"run-1"`)

	// The recorded view is deterministic, so a re-run matches it.
	buf.Reset()
	cmd = NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All scenarios passed")

	// A stale golden file fails the scenario.
	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"stale":true}`), 0644))
	buf.Reset()
	cmd = NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Golden file mismatch")
}

func TestTestCommandMalformedScenario(t *testing.T) {
	scenariosDir := t.TempDir()
	writeScenario(t, scenariosDir, "broken.yaml", "name: broken\nevents: {not a list\n")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "✗ broken.yaml")
	assert.Contains(t, buf.String(), "Load error")
}

func TestTestHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "scenarios-dir")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "golden")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	// Create scenario files
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	// Create scenario files
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "checkpoint-basic.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "checkpoint-gap.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ordering-basic.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "checkpoint-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// All found files should start with checkpoint-
	for _, f := range files {
		base := filepath.Base(f)
		assert.True(t, len(base) >= 11 && base[:11] == "checkpoint-", "Expected file to start with 'checkpoint-': %s", f)
	}
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	// Create scenario files in root and subdir
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		result := goldenFilePath(tc.input)
		assert.Equal(t, tc.expected, result)
	}
}
