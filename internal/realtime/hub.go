package realtime

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const maxStreamIDLen = 64

// Hub tracks the open streams of each portal session. Every page keeps its
// own stream, keyed by the stream id the page chose, so tabs sharing a
// session never displace each other.
type Hub struct {
	mu      sync.Mutex
	streams map[string]map[string]*Notifier
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[string]*Notifier)}
}

// StreamID returns requested when it is a usable stream id and a fresh one
// otherwise.
func StreamID(requested string) string {
	if requested == "" || len(requested) > maxStreamIDLen {
		return uuid.NewString()
	}
	valid := strings.IndexFunc(requested, func(r rune) bool {
		return !(r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) < 0
	if !valid {
		return uuid.NewString()
	}
	return requested
}

// Register binds n to one stream of sessionID. A notifier already held for
// the same stream belongs to an earlier connection of that page and is
// closed.
func (h *Hub) Register(sessionID, streamID string, n *Notifier) {
	h.mu.Lock()
	streams := h.streams[sessionID]
	if streams == nil {
		streams = make(map[string]*Notifier)
		h.streams[sessionID] = streams
	}
	old := streams[streamID]
	streams[streamID] = n
	h.mu.Unlock()
	if old != nil && old != n {
		old.Close()
	}
}

// Unregister removes n if it is still bound to the stream.
func (h *Hub) Unregister(sessionID, streamID string, n *Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.streams[sessionID]
	if streams[streamID] != n {
		return
	}
	delete(streams, streamID)
	if len(streams) == 0 {
		delete(h.streams, sessionID)
	}
}

// SetVisible pauses or resumes one stream of the session, or all of them
// when streamID is empty. It returns false when nothing matched.
func (h *Hub) SetVisible(sessionID, streamID string, visible bool) bool {
	h.mu.Lock()
	var targets []*Notifier
	for id, n := range h.streams[sessionID] {
		if streamID == "" || id == streamID {
			targets = append(targets, n)
		}
	}
	h.mu.Unlock()
	for _, n := range targets {
		if visible {
			n.Resume()
		} else {
			n.Pause()
		}
	}
	return len(targets) > 0
}

// Len reports the number of open streams.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, streams := range h.streams {
		total += len(streams)
	}
	return total
}
