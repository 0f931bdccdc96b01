package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

// Client is one connected SSE subscriber. An empty OrganizationID receives
// every organization's events.
type Client struct {
	ID             string
	OrganizationID string
	Events         chan Event
}

// Hub fans events out to SSE subscribers. A subscriber whose buffer is full
// misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  int
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{clients: make(map[string]*Client), buffer: buffer}
}

// Subscribe registers a new client.
func (h *Hub) Subscribe(orgID string) *Client {
	c := &Client{ID: uuid.NewString(), OrganizationID: orgID, Events: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	zap.L().Debug("notify: sse client registered", zap.String("client_id", c.ID), zap.Int("total", n))
	return c
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		close(c.Events)
		delete(h.clients, id)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.OrganizationID != "" && c.OrganizationID != e.OrganizationID {
			continue
		}
		select {
		case c.Events <- e:
		default:
			zap.L().Warn("notify: sse buffer full, dropping event",
				zap.String("client_id", c.ID),
				zap.String("type", string(e.Type)),
			)
		}
	}
}

// ServeHTTP streams events as text/event-stream. The optional
// organization_id query parameter filters the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c := h.Subscribe(r.URL.Query().Get("organization_id"))
	defer h.Unsubscribe(c.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", c.ID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-c.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				zap.L().Warn("notify: marshal sse event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
