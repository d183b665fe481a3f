package relay

import (
	"fmt"

	"classboard/internal/participant"
)

// Welcome is the first frame after a join.
type Welcome struct {
	Type          string `json:"type"`
	Channel       string `json:"channel"`
	ParticipantID string `json:"participantId"`
	Color         string `json:"color"`
	Members       int    `json:"members"`
}

// Synchronizer: brings a newly joined participant up to date
type Synchronizer struct{}

// NewSynchronizer: creates new synchronizer
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// SyncNewParticipant sends the room_joined frame. The relay keeps no
// canvas state; clients load the persisted snapshot themselves.
func (s *Synchronizer) SyncNewParticipant(room *Room, p *participant.Participant) error {
	msg := Welcome{
		Type:          "room_joined",
		Channel:       room.Channel,
		ParticipantID: p.ID,
		Color:         room.Color(p.ID),
		Members:       room.ConnectionCount(),
	}

	if err := p.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send room_joined: %w", err)
	}
	return nil
}
