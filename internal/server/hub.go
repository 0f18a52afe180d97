package server

import (
	"crypto/rand"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/rewindhq/rewind/internal/runstate"
)

// Frame types delivered to stream subscribers.
const (
	FrameTypeView = "view"
)

// StreamFrame is one message on the consumer stream.
type StreamFrame struct {
	Type string                  `json:"type"`
	View runstate.GraphViewModel `json:"view"`
}

// subscriber is one WebSocket consumer following a single thread.
type subscriber struct {
	id     ulid.ULID
	thread string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks stream subscribers per thread. Broadcast never blocks on
// a subscriber: one whose send buffer is full is dropped instead.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	threads map[string]map[ulid.ULID]*subscriber
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		threads: make(map[string]map[ulid.ULID]*subscriber),
	}
}

// Subscribe registers conn as a follower of thread.
func (h *Hub) Subscribe(thread string, conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:     ulid.MustNew(ulid.Now(), rand.Reader),
		thread: thread,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.threads[thread] == nil {
		h.threads[thread] = make(map[ulid.ULID]*subscriber)
	}
	h.threads[thread][sub.id] = sub
	h.mu.Unlock()

	h.log.Debug("stream subscriber joined", "thread_id", thread, "subscriber_id", sub.id.String())
	return sub
}

// Unsubscribe removes sub and closes its send channel. Safe to call
// more than once; only the first call closes the channel.
func (h *Hub) Unsubscribe(sub *subscriber) {
	h.mu.Lock()
	subs, ok := h.threads[sub.thread]
	if ok {
		if _, present := subs[sub.id]; present {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.threads, sub.thread)
			}
			close(sub.send)
		} else {
			ok = false
		}
	}
	h.mu.Unlock()

	if ok {
		h.log.Debug("stream subscriber left", "thread_id", sub.thread, "subscriber_id", sub.id.String())
	}
}

// Broadcast queues data for every subscriber of thread. Subscribers
// that cannot keep up are disconnected.
func (h *Hub) Broadcast(thread string, data []byte) {
	var slow []*subscriber

	h.mu.RLock()
	for _, sub := range h.threads[thread] {
		select {
		case sub.send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.log.Warn("dropping slow stream subscriber",
			"thread_id", sub.thread, "subscriber_id", sub.id.String())
		h.Unsubscribe(sub)
		sub.conn.Close()
	}
}

// SubscriberCount reports how many subscribers follow thread.
func (h *Hub) SubscriberCount(thread string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[thread])
}
