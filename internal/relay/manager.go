package relay

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classboard/internal/middleware"
	"classboard/internal/participant"
)

const (
	DefaultRoomIdle   = 1 * time.Hour
	DefaultRoomMaxAge = 24 * time.Hour
)

// Manager owns every room of the relay, keyed by channel name
type Manager struct {
	rooms        map[string]*Room
	limits       *middleware.RateLimit
	synchronizer *Synchronizer
	log          *logrus.Entry
	now          func() time.Time
	mu           sync.RWMutex
}

// NewManager creates a new room manager
func NewManager(limits *middleware.RateLimit, log *logrus.Entry) *Manager {
	return &Manager{
		rooms:        make(map[string]*Room),
		limits:       limits,
		synchronizer: NewSynchronizer(),
		log:          log,
		now:          time.Now,
	}
}

// Join adds p to the room for channel, creating the room if needed, and
// sends the welcome frame.
func (m *Manager) Join(channel string, p *participant.Participant) (*Room, error) {
	if channel == "" {
		return nil, ErrMissingChannel
	}

	room, err := m.joinLocked(channel, p)
	if err != nil {
		return nil, err
	}
	p.Session.LastChannel = channel

	if err := m.synchronizer.SyncNewParticipant(room, p); err != nil {
		room.Leave(p)
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"channel":     channel,
		"participant": p.ID,
		"members":     room.ConnectionCount(),
	}).Info("participant joined")

	return room, nil
}

func (m *Manager) joinLocked(channel string, p *participant.Participant) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[channel]
	if !exists {
		if !m.limits.CanCreateRoom(len(m.rooms)) {
			return nil, ErrTooManyRooms
		}
		room = newRoom(channel, m.now())
		m.rooms[channel] = room
	}

	if err := room.Join(p, m.limits.MaxRoomSize); err != nil {
		return nil, err
	}
	return room, nil
}

// Leave: removes p from room
func (m *Manager) Leave(room *Room, p *participant.Participant) {
	room.Leave(p)

	m.log.WithFields(logrus.Fields{
		"channel":     room.Channel,
		"participant": p.ID,
	}).Info("participant left")
}

// Cleanup removes rooms empty for longer than idle or older than maxAge.
// Returns how many were removed.
func (m *Manager) Cleanup(idle, maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for channel, room := range m.rooms {
		if room.expired(now, idle, maxAge) {
			delete(m.rooms, channel)
			removed++
		}
	}
	return removed
}

// Room: checks if a room exists and returns it
func (m *Manager) Room(channel string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, exists := m.rooms[channel]
	return room, exists
}

// RoomCount returns the total number of rooms
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rooms)
}
