package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DialRedis: parses the URL and verifies the connection
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse redis url %q", redisURL)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "connect to redis")
	}
	return client, nil
}

// RedisTransport maps topics onto Redis pub/sub channels.
type RedisTransport struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedisTransport: creates a transport over an established client
func NewRedisTransport(client *redis.Client, log *logrus.Entry) *RedisTransport {
	return &RedisTransport{client: client, log: log}
}

// Join: subscribes to topic and starts the receive loop
func (t *RedisTransport) Join(ctx context.Context, topic string, h Handler) (Channel, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}

	ps := t.client.Subscribe(ctx, topic)
	// wait for the subscription confirmation
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}

	ch := &redisChannel{
		client:  t.client,
		ps:      ps,
		topic:   topic,
		id:      newMemberID(),
		handler: h,
		done:    make(chan struct{}),
		log:     t.log.WithField("topic", topic),
	}
	go ch.run(ps.Channel())

	return ch, nil
}

type redisChannel struct {
	client  *redis.Client
	ps      *redis.PubSub
	topic   string
	id      string
	handler Handler
	done    chan struct{}
	once    sync.Once
	closed  bool
	mu      sync.RWMutex
	log     *logrus.Entry
}

func (c *redisChannel) Topic() string    { return c.topic }
func (c *redisChannel) MemberID() string { return c.id }

func (c *redisChannel) run(messages <-chan *redis.Message) {
	defer close(c.done)

	for m := range messages {
		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			c.log.WithError(err).Warn("dropping malformed message")
			continue
		}
		if !msg.Valid() || msg.Sender == c.id {
			continue
		}
		c.handler(msg)
	}
}

func (c *redisChannel) Publish(ctx context.Context, event string, payload interface{}) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := NewMessage(c.id, event, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	if err := c.client.Publish(ctx, c.topic, data).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", event)
	}
	return nil
}

func (c *redisChannel) Unsubscribe() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		err = c.ps.Close()
		<-c.done
	})
	return err
}
