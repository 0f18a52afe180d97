package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeEventsFile writes wire envelopes to a temp JSONL file, one per
// line, and returns its path.
func writeEventsFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestIngestFromFile(t *testing.T) {
	path := writeEventsFile(t,
		`{"thread_id":"run-1","sequence":"1","timestamp_us":1700000000000000,"type":"graph_start","payload":{"nodes":["plan"]}}`,
		`{"thread_id":"run-1","sequence":"2","timestamp_us":1700000001000000,"type":"node_start","node_name":"plan"}`,
		`{"thread_id":"run-1","sequence":"3","timestamp_us":1700000002000000,"type":"state_update","payload":{"values":{"topic":"go"}}}`,
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Ingest Summary: 3 event(s), 1 run(s)")
	assert.Contains(t, output, "Applied: 3")
	assert.Contains(t, output, "Rejected: 0")
	assert.Contains(t, output, "✓ Ingest complete")
}

func TestIngestFromFileJSON(t *testing.T) {
	path := writeEventsFile(t,
		`{"thread_id":"run-1","sequence":"1","timestamp_us":1700000000000000,"type":"graph_start","payload":{"nodes":["plan"]}}`,
		`{"thread_id":"run-1","sequence":"2","timestamp_us":1700000001000000,"type":"state_update","payload":{"values":{"topic":"go"}}}`,
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)

	data, ok := response.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["events"])
	assert.Equal(t, float64(2), data["applied"])
	assert.Equal(t, float64(1), data["runs"])
}

func TestIngestDropsUndecodableEvents(t *testing.T) {
	path := writeEventsFile(t,
		`{"thread_id":"run-1","sequence":"1","timestamp_us":1700000000000000,"type":"graph_start","payload":{"nodes":["plan"]}}`,
		`{"thread_id":"run-1","sequence":"2","timestamp_us":1700000001000000,"type":"not_a_kind"}`,
		`{"thread_id":"run-1","sequence":"3","timestamp_us":1700000002000000,"type":"state_update","payload":{"values":{"topic":"go"}}}`,
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Ingest Summary: 3 event(s)")
	assert.Contains(t, output, "Rejected: 1")
	assert.Contains(t, output, "✓ Ingest complete")
}

func TestIngestMalformedJSON(t *testing.T) {
	path := writeEventsFile(t,
		`{"thread_id":"run-1","sequence":"1","timestamp_us":1700000000000000,"type":"graph_start"}`,
		`{not json`,
	)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON at value 2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestMissingFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/events.jsonl"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open events file")
}

func TestIngestFromArchive(t *testing.T) {
	archPath := seedArchive(t)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Archive: archPath}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Ingest Summary: 4 event(s), 1 run(s)")
	assert.Contains(t, output, "Applied: 4")
}

func TestIngestNoArchiveNoFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive path is required")
}

func TestIngestRecord(t *testing.T) {
	eventsPath := writeEventsFile(t,
		`{"thread_id":"run-1","sequence":"1","timestamp_us":1700000000000000,"type":"graph_start","payload":{"nodes":["plan"]}}`,
		`{"thread_id":"run-1","sequence":"2","timestamp_us":1700000001000000,"type":"state_update","payload":{"values":{"topic":"go"}}}`,
	)
	archPath := filepath.Join(t.TempDir(), "rewind.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Archive: archPath}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{eventsPath, "--record"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Recorded: 2")

	// A second pass dedupes on (thread, seq), so nothing is recorded.
	buf.Reset()
	cmd = NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{eventsPath, "--record"})

	err = cmd.Execute()
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "Recorded:")
}

func TestIngestRecordWithoutFile(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Archive: filepath.Join(t.TempDir(), "rewind.db")}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--record"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--record needs a file")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestIngestHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewIngestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "JSONL")
	assert.Contains(t, output, "--record")
}
