// Package sse fans worker events out to connected dashboard clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Event types pushed over the stream.
const (
	EventNewObservation         = "new_observation"
	EventNewSummary             = "new_summary"
	EventNewPrompt              = "new_prompt"
	EventProcessingStatus       = "processing_status"
	EventInitialLoad            = "initial_load"
	EventPlanAssociationChanged = "plan_association_changed"
)

// Event is one frame: a type tag plus an arbitrary payload.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ProcessingStatus is the queue snapshot included in health responses
// and pushed on every change.
type ProcessingStatus struct {
	Processing     bool `json:"processing"`
	QueueDepth     int  `json:"queue_depth"`
	ActiveSessions int  `json:"active_sessions"`
}

// Snapshot supplies the initial frames for a new connection: the known
// project list and the current processing status.
type Snapshot func() ([]string, ProcessingStatus)

type client struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// Broadcaster holds the connected clients and writes event frames to
// each. A client whose write fails is dropped.
type Broadcaster struct {
	clients  map[string]*client
	snapshot Snapshot
	mu       sync.RWMutex
	nextID   int
}

// NewBroadcaster creates a broadcaster. snapshot may be nil until
// SetSnapshot is called.
func NewBroadcaster(snapshot Snapshot) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[string]*client),
		snapshot: snapshot,
	}
}

// SetSnapshot installs the initial-frame provider.
func (b *Broadcaster) SetSnapshot(snapshot Snapshot) {
	b.mu.Lock()
	b.snapshot = snapshot
	b.mu.Unlock()
}

// Broadcast writes one event frame to every connected client.
func (b *Broadcaster) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Str("event", event.Type).Err(err).Msg("Failed to marshal SSE event")
		return
	}
	frame := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var dead []string
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		if _, err := c.writer.Write([]byte(frame)); err != nil {
			log.Debug().Str("clientId", c.id).Err(err).Msg("SSE write failed, dropping client")
			dead = append(dead, c.id)
			continue
		}
		c.flusher.Flush()
	}

	for _, id := range dead {
		b.removeByID(id)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleStream serves one SSE connection until the client disconnects.
func (b *Broadcaster) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	b.mu.Lock()
	b.nextID++
	c := &client{
		id:      fmt.Sprintf("client-%d", b.nextID),
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	b.clients[c.id] = c
	snapshot := b.snapshot
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", c.id).Int("totalClients", total).Msg("SSE client connected")
	defer b.remove(c)

	b.writeTo(c, Event{Type: "connected", Data: map[string]string{"clientId": c.id}})
	if snapshot != nil {
		projects, status := snapshot()
		b.writeTo(c, Event{Type: EventInitialLoad, Data: map[string]interface{}{"projects": projects}})
		b.writeTo(c, Event{Type: EventProcessingStatus, Data: status})
	}

	<-r.Context().Done()
}

func (b *Broadcaster) writeTo(c *client, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload); err != nil {
		return
	}
	c.flusher.Flush()
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	total := len(b.clients)
	b.mu.Unlock()

	close(c.done)
	log.Debug().Str("clientId", c.id).Int("totalClients", total).Msg("SSE client disconnected")
}

func (b *Broadcaster) removeByID(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if ok {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
}
