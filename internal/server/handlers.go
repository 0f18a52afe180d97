package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
	"github.com/rewindhq/rewind/internal/seq"
)

// maxEventBody bounds a single wire event. Full-state snapshots are the
// largest legitimate payloads, and the store enforces its own tighter
// size limits after decode.
const maxEventBody = 16 << 20

// ingestAck acknowledges an enqueued event. Application happens on the
// intake loop; outcomes surface in logs and stream frames.
type ingestAck struct {
	ThreadID string  `json:"thread_id"`
	Seq      seq.Seq `json:"seq"`
	Enqueued bool    `json:"enqueued"`
}

// handleIngest decodes one wire event and hands it to the intake.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
				fmt.Sprintf("event body exceeds %d bytes", maxEventBody))
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("reading body: %v", err))
		return
	}

	ev, err := event.DecodeWire(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_EVENT", err.Error())
		return
	}

	if !s.intake.Enqueue(ev) {
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "intake is closed")
		return
	}
	writeJSON(w, http.StatusAccepted, ingestAck{ThreadID: ev.ThreadID, Seq: ev.Seq, Enqueued: true})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.store.Runs()})
}

func (s *Server) handleLiveView(w http.ResponseWriter, r *http.Request) {
	vm, err := s.store.LiveView(chi.URLParam(r, "thread"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

func (s *Server) handleStateAt(w http.ResponseWriter, r *http.Request) {
	target, ok := seqParam(w, r, "seq")
	if !ok {
		return
	}
	vm, err := s.store.ViewAt(chi.URLParam(r, "thread"), target)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

type diffResponse struct {
	ThreadID string   `json:"thread_id"`
	From     seq.Seq  `json:"from"`
	To       seq.Seq  `json:"to"`
	Paths    []string `json:"paths"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	from, ok := seqParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := seqParam(w, r, "to")
	if !ok {
		return
	}

	thread := chi.URLParam(r, "thread")
	paths, err := s.store.Diff(thread, from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diffResponse{ThreadID: thread, From: from, To: to, Paths: paths})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.store.Checkpoints(chi.URLParam(r, "thread"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	thread := chi.URLParam(r, "thread")
	if !s.store.Remove(thread) {
		writeError(w, http.StatusNotFound, string(runstate.ErrCodeUnknownRun),
			fmt.Sprintf("no run for thread %q", thread))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents lists recorded history for a thread, when an archive is
// attached.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.arch == nil {
		writeError(w, http.StatusNotFound, "ARCHIVE_DISABLED", "no archive configured")
		return
	}

	q := archive.Query{
		ThreadID: chi.URLParam(r, "thread"),
		NodeName: r.URL.Query().Get("node"),
	}
	for _, kind := range r.URL.Query()["kind"] {
		q.Kinds = append(q.Kinds, event.Kind(kind))
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := seq.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("from: %v", err))
			return
		}
		q.FromSeq = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := seq.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("to: %v", err))
			return
		}
		q.ToSeq = to
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("limit: invalid value %q", raw))
			return
		}
		q.Limit = limit
	}

	events, err := s.arch.Events(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ARCHIVE_READ", err.Error())
		return
	}

	encoded := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := ev.EncodeWire()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ARCHIVE_READ", err.Error())
			return
		}
		encoded = append(encoded, data)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": encoded})
}

// seqParam parses a required sequence query parameter, writing a 400 on
// failure.
func seqParam(w http.ResponseWriter, r *http.Request, name string) (seq.Seq, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST",
			fmt.Sprintf("missing required query parameter %q", name))
		return seq.Seq{}, false
	}
	parsed, err := seq.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("%s: %v", name, err))
		return seq.Seq{}, false
	}
	return parsed, true
}

// Stream connection tuning.
const (
	sendBuffer    = 16
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	maxStreamRead = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream upgrades the connection and follows one thread. The
// subscriber immediately receives the current view model if the run
// exists, then a frame after each applied event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	thread := r.URL.Query().Get("thread")
	if thread == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing required query parameter \"thread\"")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "thread_id", thread, "error", err)
		return
	}

	sub := s.hub.Subscribe(thread, conn)

	if vm, err := s.store.LiveView(thread); err == nil {
		if data, encErr := encodeJSON(StreamFrame{Type: FrameTypeView, View: vm}); encErr == nil {
			sub.send <- data
		}
	}

	go s.writePump(sub)
	go s.readPump(sub)
}

// writePump delivers queued frames and keeps the connection alive with
// pings.
func (s *Server) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and unsubscribes when the
// connection drops. The stream is one-way; reads exist to notice the
// close.
func (s *Server) readPump(sub *subscriber) {
	defer func() {
		s.hub.Unsubscribe(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(maxStreamRead)
	sub.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
