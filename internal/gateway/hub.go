package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dp62042/duty-platform/internal/attendance"
	"github.com/dp62042/duty-platform/internal/session"
)

// Recorder is the attendance authority the gateway delegates joins to.
type Recorder interface {
	Mark(ctx context.Context, sessionCode, registrationNumber, claimedName string, via attendance.Channel) (*attendance.MarkResult, error)
}

// SessionControl is the slice of the session service the gateway drives.
type SessionControl interface {
	EndByCode(ctx context.Context, code string) (*session.Session, error)
	Connect(ctx context.Context, sessionID, studentID string) error
}

// Hub owns the room registry: one room per session code, mapping to the live
// connections subscribed to it. Membership here is transient; the persistent
// connected-student list lives with the session.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*Client]struct{}
	recorder  Recorder
	sessions  SessionControl
	opTimeout time.Duration
}

// NewHub creates a hub wired to the recorder and session service.
func NewHub(recorder Recorder, sessions SessionControl) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Client]struct{}),
		recorder:  recorder,
		sessions:  sessions,
		opTimeout: 10 * time.Second,
	}
}

func (h *Hub) join(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[code] = room
	}
	room[c] = struct{}{}
	c.rooms[code] = struct{}{}
}

func (h *Hub) leave(code string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(c.rooms, code)
	if room, ok := h.rooms[code]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, code)
		}
	}
}

// removeClient drops a disconnected client from every room it joined.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for code := range c.rooms {
		if room, ok := h.rooms[code]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, code)
			}
		}
	}
	c.rooms = make(map[string]struct{})
}

// RoomSize reports the live connection count for a session code.
func (h *Hub) RoomSize(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}

// broadcast sends an event to every member of a room, optionally excluding one
// connection (the sender).
func (h *Hub) broadcast(code, event string, data any, except *Client) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("gateway: marshal %s failed: %v", event, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[code] {
		if c == except {
			continue
		}
		c.enqueue(payload)
	}
}

// SessionEnded broadcasts termination to the whole room. Implements
// session.EndNotifier so every end path (HTTP or gateway) reaches the room.
func (h *Hub) SessionEnded(sessionCode string, endedAt time.Time) {
	h.broadcast(sessionCode, EventSessionEnded, sessionEndedPayload{
		Message: "Session has ended",
		EndedAt: endedAt,
	}, nil)
}

func marshalEvent(event string, data any) ([]byte, error) {
	return json.Marshal(envelope{Event: event, Data: mustRaw(data)})
}

func mustRaw(data any) json.RawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
