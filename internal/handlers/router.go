package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"classboard/internal/broadcast"
	"classboard/internal/middleware"
	"classboard/internal/object"
	"classboard/internal/participant"
	"classboard/internal/relay"
	"classboard/internal/whiteboard"
)

const pingType = "ping"

// MessageRouter routes incoming frames to the appropriate handler
type MessageRouter struct {
	limits        *middleware.RateLimit
	objectHandler *ObjectHandler
	broadcaster   Broadcaster
	log           *logrus.Entry
}

func NewMessageRouter(
	validator *object.Validator,
	limits *middleware.RateLimit,
	broadcaster Broadcaster,
	log *logrus.Entry,
) *MessageRouter {
	return &MessageRouter{
		limits:        limits,
		objectHandler: NewObjectHandler(validator),
		broadcaster:   broadcaster,
		log:           log,
	}
}

// Route: process a frame from p, who is joined to room
func (mr *MessageRouter) Route(room *relay.Room, p *participant.Participant, raw []byte) error {
	var msg broadcast.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal base message: %w", err)
	}

	switch msg.Type {
	case pingType:
		return p.WriteJSON(map[string]string{"type": "pong"})
	case broadcast.MessageType:
		return mr.relay(room, p, msg)
	case "":
		return fmt.Errorf("missing message type")
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// relay validates a broadcast, stamps the sender and fans it out
func (mr *MessageRouter) relay(room *relay.Room, p *participant.Participant, msg broadcast.Message) error {
	if msg.Event == "" {
		return fmt.Errorf("missing event name")
	}
	if err := mr.limits.ValidatePayloadComplexity(msg.Payload); err != nil {
		return err
	}

	var err error
	switch msg.Event {
	case whiteboard.EventObjectAdded, whiteboard.EventObjectModified, whiteboard.EventPathCreated:
		msg, err = mr.objectHandler.SanitizeObject(msg)
	case whiteboard.EventObjectRemoved:
		msg, err = mr.objectHandler.SanitizeRemoved(msg)
	}
	if err != nil {
		return err
	}

	msg.Sender = p.ID
	out, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}

	room.Touch()
	n := mr.broadcaster.Broadcast(room, out, p.ID)

	mr.log.WithFields(logrus.Fields{
		"channel":    room.Channel,
		"event":      msg.Event,
		"sender":     p.ID,
		"recipients": n,
	}).Debug("relayed")
	return nil
}
