package broadcast

import (
	"context"
	"sync"
)

// Hub is an in-process transport. Messages are delivered synchronously in
// the publisher's goroutine, outside the hub lock.
type Hub struct {
	topics map[string]map[*hubChannel]struct{}
	mu     sync.RWMutex
}

// NewHub: creates an empty hub
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*hubChannel]struct{}),
	}
}

// Join: subscribes h to topic
func (hub *Hub) Join(ctx context.Context, topic string, h Handler) (Channel, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := &hubChannel{
		hub:     hub,
		topic:   topic,
		id:      newMemberID(),
		handler: h,
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	members, exists := hub.topics[topic]
	if !exists {
		members = make(map[*hubChannel]struct{})
		hub.topics[topic] = members
	}
	members[ch] = struct{}{}

	return ch, nil
}

// MemberCount: returns the number of channels joined to topic
func (hub *Hub) MemberCount(topic string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	return len(hub.topics[topic])
}

func (hub *Hub) deliver(from *hubChannel, msg Message) {
	hub.mu.RLock()
	// snapshot of members
	targets := make([]*hubChannel, 0, len(hub.topics[from.topic]))
	for ch := range hub.topics[from.topic] {
		if ch != from {
			targets = append(targets, ch)
		}
	}
	hub.mu.RUnlock()

	for _, ch := range targets {
		ch.receive(msg)
	}
}

func (hub *Hub) leave(ch *hubChannel) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	members := hub.topics[ch.topic]
	delete(members, ch)
	if len(members) == 0 {
		delete(hub.topics, ch.topic)
	}
}

type hubChannel struct {
	hub     *Hub
	topic   string
	id      string
	handler Handler
	closed  bool
	mu      sync.RWMutex
}

func (c *hubChannel) Topic() string    { return c.topic }
func (c *hubChannel) MemberID() string { return c.id }

func (c *hubChannel) Publish(ctx context.Context, event string, payload interface{}) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := NewMessage(c.id, event, payload)
	if err != nil {
		return err
	}

	c.hub.deliver(c, msg)
	return nil
}

func (c *hubChannel) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.leave(c)
	return nil
}

func (c *hubChannel) receive(msg Message) {
	if c.isClosed() {
		return
	}
	c.handler(msg)
}

func (c *hubChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}
