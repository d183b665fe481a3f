// Package broadcast provides named pub/sub channels used to mirror
// whiteboard edits between participants. Delivery is best effort: no
// acknowledgements, no ordering across publishers, and a channel never
// receives its own messages.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageType is the envelope type of every relayed frame.
const MessageType = "broadcast"

const topicPrefix = "whiteboard:"

var (
	ErrClosed       = errors.New("channel closed")
	ErrInvalidTopic = errors.New("invalid topic")
)

// Message is the wire envelope of a broadcast.
type Message struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Sender  string          `json:"sender,omitempty"`
}

// Handler is called for every message delivered to a channel.
type Handler func(msg Message)

// Channel is a joined topic. It is owned by whoever called Join and must be
// released with Unsubscribe.
type Channel interface {
	Topic() string
	MemberID() string
	Publish(ctx context.Context, event string, payload interface{}) error
	Unsubscribe() error
}

// Transport joins topics.
type Transport interface {
	Join(ctx context.Context, topic string, h Handler) (Channel, error)
}

// Topic: returns the channel name of a whiteboard session
func Topic(sessionID string) string {
	return topicPrefix + sessionID
}

// NewMessage: builds an envelope with the payload encoded as JSON
func NewMessage(sender, event string, payload interface{}) (Message, error) {
	msg := Message{Type: MessageType, Event: event, Sender: sender}
	if payload == nil {
		return msg, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "marshal %s payload", event)
	}
	msg.Payload = raw
	return msg, nil
}

// Valid: reports whether the message is a well-formed broadcast
func (m Message) Valid() bool {
	return m.Type == MessageType && m.Event != ""
}

func newMemberID() string {
	return uuid.NewString()
}

func validTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return nil
}
