package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts config.Options, serverOpts ...ServerOption) (*httptest.Server, *Server, *runstate.Store) {
	t.Helper()

	store := runstate.New(opts, runstate.WithLogger(quietLogger()))
	serverOpts = append([]ServerOption{WithLogger(quietLogger())}, serverOpts...)
	srv := NewServer(store, serverOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv, store
}

func postEvent(t *testing.T, ts *httptest.Server, ev event.Event) *http.Response {
	t.Helper()
	data, err := ev.EncodeWire()
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

// waitForSeq blocks until the run's live position reaches target,
// proving the intake loop applied everything enqueued before it.
func waitForSeq(t *testing.T, store *runstate.Store, thread string, target int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		vm, err := store.LiveView(thread)
		return err == nil && vm.Seq.Compare(seq.FromInt(target)) >= 0
	}, 2*time.Second, 5*time.Millisecond)
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	defer resp.Body.Close()
	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestIngestEndpointAcceptsAndApplies(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())

	resp := postEvent(t, ts, testutil.UpdateEvent("run-1", 1, `{"topic":"go"}`))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack ingestAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	resp.Body.Close()
	assert.Equal(t, "run-1", ack.ThreadID)
	assert.Equal(t, "1", ack.Seq.String())
	assert.True(t, ack.Enqueued)

	waitForSeq(t, store, "run-1", 1)

	viewResp, err := http.Get(ts.URL + "/v1/runs/run-1")
	require.NoError(t, err)
	defer viewResp.Body.Close()
	require.Equal(t, http.StatusOK, viewResp.StatusCode)

	var vm struct {
		ThreadID string         `json:"thread_id"`
		Seq      string         `json:"seq"`
		IsLive   bool           `json:"is_live"`
		State    map[string]any `json:"state"`
	}
	require.NoError(t, json.NewDecoder(viewResp.Body).Decode(&vm))
	assert.Equal(t, "run-1", vm.ThreadID)
	assert.Equal(t, "1", vm.Seq)
	assert.True(t, vm.IsLive)
	assert.Equal(t, "go", vm.State["topic"])
}

func TestIngestEndpointRejectsMalformed(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Defaults())

	resp, err := http.Post(ts.URL+"/v1/events", "application/json",
		strings.NewReader(`{"sequence": 1}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MALFORMED_EVENT", decodeError(t, resp).Code)
}

func TestLiveViewUnknownRun(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Defaults())

	resp, err := http.Get(ts.URL + "/v1/runs/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_RUN", decodeError(t, resp).Code)
}

func TestStateAtAndDiff(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())

	store.Ingest(testutil.UpdateEvent("run-1", 1, `{"a":1}`))
	store.Ingest(testutil.UpdateEvent("run-1", 2, `{"b":2}`))
	store.Ingest(testutil.UpdateEvent("run-1", 3, `{"a":9}`))

	resp, err := http.Get(ts.URL + "/v1/runs/run-1/state?seq=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vm struct {
		Seq    string         `json:"seq"`
		IsLive bool           `json:"is_live"`
		State  map[string]any `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vm))
	resp.Body.Close()
	assert.Equal(t, "2", vm.Seq)
	assert.False(t, vm.IsLive)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, vm.State)

	resp, err = http.Get(ts.URL + "/v1/runs/run-1/diff?from=2&to=3")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var diff diffResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&diff))
	resp.Body.Close()
	assert.Equal(t, []string{"/a"}, diff.Paths)

	resp, err = http.Get(ts.URL + "/v1/runs/run-1/state")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, resp).Code)
}

func TestStateGapReturns410(t *testing.T) {
	opts := config.Defaults()
	opts.MaxEventsPerRun = 3
	opts.CheckpointInterval = 100
	ts, _, store := newTestServer(t, opts)

	for i := int64(1); i <= 10; i++ {
		store.Ingest(testutil.UpdateEvent("run-1", i, `{"n":1}`))
	}

	resp, err := http.Get(ts.URL + "/v1/runs/run-1/state?seq=5")
	require.NoError(t, err)
	require.Equal(t, http.StatusGone, resp.StatusCode)

	body := decodeError(t, resp)
	assert.Equal(t, "HISTORY_GAP", body.Code)
	assert.Equal(t, "10", body.Details["oldest_available"])
}

func TestRemoveEndpoint(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())
	store.Ingest(testutil.UpdateEvent("run-1", 1, `{"a":1}`))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCheckpointsEndpoint(t *testing.T) {
	opts := config.Defaults()
	opts.CheckpointInterval = 2
	ts, _, store := newTestServer(t, opts)

	for i := int64(1); i <= 6; i++ {
		store.Ingest(testutil.UpdateEvent("run-1", i, `{"n":1}`))
	}

	resp, err := http.Get(ts.URL + "/v1/runs/run-1/checkpoints")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Checkpoints []struct {
			ID        string `json:"id"`
			Seq       string `json:"seq"`
			StateHash string `json:"state_hash"`
		} `json:"checkpoints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Checkpoints, 3)
	assert.Equal(t, "2", body.Checkpoints[0].Seq)
	assert.NotEmpty(t, body.Checkpoints[0].StateHash)
	assert.NotEmpty(t, body.Checkpoints[0].ID)
}

func TestRunsEndpoint(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())
	store.Ingest(testutil.UpdateEvent("run-a", 1, `{"a":1}`))
	store.Ingest(testutil.UpdateEvent("run-b", 1, `{"b":1}`))

	resp, err := http.Get(ts.URL + "/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Runs []struct {
			ThreadID  string `json:"thread_id"`
			HighWater string `json:"high_water"`
		} `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Runs, 2)
}

func TestEventsEndpointWithoutArchive(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Defaults())

	resp, err := http.Get(ts.URL + "/v1/runs/run-1/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ARCHIVE_DISABLED", decodeError(t, resp).Code)
}

func TestEventsEndpointWithArchive(t *testing.T) {
	arch, err := archive.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { arch.Close() })

	_, err = arch.WriteStream(context.Background(), []event.Event{
		testutil.MakeEvent("run-1", 1, event.KindNodeStart, "plan", ""),
		testutil.UpdateEvent("run-1", 2, `{"a":1}`),
		testutil.UpdateEvent("run-1", 3, `{"a":2}`),
	})
	require.NoError(t, err)

	ts, _, _ := newTestServer(t, config.Defaults(), WithArchive(arch))

	resp, err := http.Get(ts.URL + "/v1/runs/run-1/events?kind=state_update&limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []struct {
			ThreadID string `json:"thread_id"`
			Sequence string `json:"sequence"`
			Type     string `json:"type"`
		} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "run-1", body.Events[0].ThreadID)
	assert.Equal(t, "2", body.Events[0].Sequence)
	assert.Equal(t, "state_update", body.Events[0].Type)
}

type wsFrame struct {
	Type string `json:"type"`
	View struct {
		ThreadID string         `json:"thread_id"`
		Seq      string         `json:"seq"`
		IsLive   bool           `json:"is_live"`
		State    map[string]any `json:"state"`
	} `json:"view"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStreamDeliversFrames(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())
	store.Ingest(testutil.UpdateEvent("run-1", 1, `{"a":1}`))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?thread=run-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Snapshot frame arrives on subscribe.
	frame := readFrame(t, conn)
	assert.Equal(t, FrameTypeView, frame.Type)
	assert.Equal(t, "run-1", frame.View.ThreadID)
	assert.Equal(t, "1", frame.View.Seq)

	// Each applied event produces a fresh frame.
	postResp := postEvent(t, ts, testutil.UpdateEvent("run-1", 2, `{"b":2}`))
	require.Equal(t, http.StatusAccepted, postResp.StatusCode)
	postResp.Body.Close()

	frame = readFrame(t, conn)
	assert.Equal(t, "2", frame.View.Seq)
	assert.Equal(t, float64(2), frame.View.State["b"])
	assert.True(t, frame.View.IsLive)
}

func TestStreamRequiresThread(t *testing.T) {
	ts, _, _ := newTestServer(t, config.Defaults())

	resp, err := http.Get(ts.URL + "/v1/stream")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, resp).Code)
}

func TestResponsesDoNotEscapeHTML(t *testing.T) {
	ts, _, store := newTestServer(t, config.Defaults())
	store.Ingest(testutil.UpdateEvent("run-1", 1, `{"html":"<b>&</b>"}`))

	resp, err := http.Get(ts.URL + "/v1/runs/run-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"<b>&</b>"`)
	assert.NotContains(t, string(body), `\u003c`)
}
