// Package relay fans broadcast frames out to every other connection joined
// to the same channel.
package relay

import (
	"errors"
	"sync"
	"time"

	"classboard/internal/participant"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrTooManyRooms   = errors.New("server at maximum room capacity")
	ErrMissingChannel = errors.New("channel name missing")
)

// Room is one broadcast channel and the connections joined to it.
type Room struct {
	Channel     string
	connections map[string]*participant.Participant
	colors      map[string]string // participantID -> color (room-specific)
	palette     *participant.Palette
	LastActive  time.Time
	CreatedAt   time.Time
	mu          sync.RWMutex
}

// NewRoom: creates an empty room for channel
func NewRoom(channel string) *Room {
	return newRoom(channel, time.Now())
}

func newRoom(channel string, now time.Time) *Room {
	return &Room{
		Channel:     channel,
		connections: make(map[string]*participant.Participant),
		colors:      make(map[string]string),
		palette:     participant.NewPalette(),
		LastActive:  now,
		CreatedAt:   now,
	}
}

// Join: adds a connection and assigns it a color for this room
func (r *Room) Join(p *participant.Participant, maxRoomSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, rejoin := r.connections[p.ID]; !rejoin && len(r.connections) >= maxRoomSize {
		return ErrRoomFull
	}

	r.connections[p.ID] = p
	if _, hasColor := r.colors[p.ID]; !hasColor {
		r.colors[p.ID] = r.palette.Next()
	}
	r.LastActive = time.Now()

	return nil
}

// Leave: removes the connection if it is still the one registered for p.ID
func (r *Room) Leave(p *participant.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.connections[p.ID]; ok && current == p {
		delete(r.connections, p.ID)
	}
	r.LastActive = time.Now()
}

// ConnectionCount: returns number of connections in room
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}

// Connections: returns a copy of the current connections
func (r *Room) Connections() map[string]*participant.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]*participant.Participant, len(r.connections))
	for k, v := range r.connections {
		snapshot[k] = v
	}
	return snapshot
}

// RemoveConnection: drops a connection after a failed write
func (r *Room) RemoveConnection(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, participantID)
}

// Color: returns the participant's color in this room
func (r *Room) Color(participantID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.colors[participantID]
}

// Touch: marks the room active
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastActive = time.Now()
}

// expired: 1 hour empty or 24 hours old
func (r *Room) expired(now time.Time, idle, maxAge time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	empty := len(r.connections) == 0
	inactive := now.Sub(r.LastActive) > idle
	tooOld := now.Sub(r.CreatedAt) > maxAge

	return (inactive && empty) || tooOld
}
