package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classboard/internal/participant"
)

// Connections is what the broadcaster needs from a room
type Connections interface {
	Connections() map[string]*participant.Participant
	RemoveConnection(participantID string)
}

// Broadcaster writes frames to every connection of a room except the sender
type Broadcaster struct {
	log *logrus.Entry
}

// NewBroadcaster: creates a new broadcaster
func NewBroadcaster(log *logrus.Entry) *Broadcaster {
	return &Broadcaster{log: log}
}

// Broadcast: concurrent write to everyone but senderID. Connections that
// fail are removed from the room and closed. Returns how many received it.
func (b *Broadcaster) Broadcast(room Connections, msg []byte, senderID string) int {
	connections := room.Connections()

	targets := make([]*participant.Participant, 0, len(connections))
	for id, p := range connections {
		if id != senderID {
			targets = append(targets, p)
		}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []*participant.Participant
	)

	for _, p := range targets {
		wg.Add(1)
		go func(p *participant.Participant) {
			defer wg.Done()

			if err := p.WriteMessage(websocket.TextMessage, msg); err != nil {
				b.log.WithError(err).WithField("participant", p.ID).Warn("broadcast failed")
				mu.Lock()
				failed = append(failed, p)
				mu.Unlock()
			}
		}(p)
	}

	wg.Wait()

	for _, p := range failed {
		room.RemoveConnection(p.ID)
		p.Close()
	}

	return len(targets) - len(failed)
}
