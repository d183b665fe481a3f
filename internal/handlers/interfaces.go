package handlers

import (
	"classboard/internal/relay"
)

// Broadcaster defines the fan-out used to relay frames to a room
type Broadcaster interface {
	Broadcast(room relay.Connections, msg []byte, senderID string) int
}
