package broadcast

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	authTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// WebsocketTransport joins topics through the relay server.
type WebsocketTransport struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	log     *logrus.Entry
}

// NewWebsocketTransport: baseURL is the relay root, e.g. ws://localhost:8080.
// token resumes an earlier relay session and may be empty.
func NewWebsocketTransport(baseURL, token string, log *logrus.Entry) *WebsocketTransport {
	return &WebsocketTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

type authResponse struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Token  string `json:"token"`
	Error  string `json:"error,omitempty"`
}

// Join: dials the relay, authenticates and starts the read loop
func (t *WebsocketTransport) Join(ctx context.Context, topic string, h Handler) (Channel, error) {
	if err := validTopic(topic); err != nil {
		return nil, err
	}

	endpoint := t.baseURL + "/ws?channel=" + url.QueryEscape(topic)
	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial relay for %s", topic)
	}

	auth, err := authenticate(conn, t.token)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ch := &wsChannel{
		conn:    conn,
		topic:   topic,
		id:      auth.UserID,
		token:   auth.Token,
		handler: h,
		done:    make(chan struct{}),
		log:     t.log.WithField("topic", topic),
	}
	go ch.readLoop()

	return ch, nil
}

func authenticate(conn *websocket.Conn, token string) (*authResponse, error) {
	conn.SetWriteDeadline(time.Now().Add(authTimeout))
	err := conn.WriteJSON(map[string]string{
		"type":  "authenticate",
		"token": token,
	})
	if err != nil {
		return nil, errors.Wrap(err, "send authenticate")
	}

	conn.SetReadDeadline(time.Now().Add(authTimeout))
	var resp authResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, errors.Wrap(err, "read authenticate response")
	}
	conn.SetReadDeadline(time.Time{})

	if resp.Type != "authenticated" || resp.UserID == "" {
		return nil, errors.Errorf("relay refused authentication: %s", resp.Error)
	}
	return &resp, nil
}

type wsChannel struct {
	conn    *websocket.Conn
	topic   string
	id      string
	token   string
	handler Handler
	done    chan struct{}
	once    sync.Once
	closed  bool
	writeMu sync.Mutex
	mu      sync.RWMutex
	log     *logrus.Entry
}

func (c *wsChannel) Topic() string    { return c.topic }
func (c *wsChannel) MemberID() string { return c.id }

// Token returns the relay session token, usable to resume the identity.
func (c *wsChannel) Token() string { return c.token }

func (c *wsChannel) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.WithError(err).Warn("relay connection lost")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		if !msg.Valid() {
			// relay control frames (room_joined, pong)
			c.log.WithField("type", msg.Type).Debug("control frame")
			continue
		}
		if msg.Sender == c.id {
			continue
		}
		c.handler(msg)
	}
}

func (c *wsChannel) Publish(ctx context.Context, event string, payload interface{}) error {
	if c.isClosed() {
		return ErrClosed
	}

	msg, err := NewMessage(c.id, event, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "publish %s", event)
	}
	return nil
}

func (c *wsChannel) Unsubscribe() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *wsChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}
