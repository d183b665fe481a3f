// Package participant tracks who is connected to the relay and the session
// each connection resumes.
package participant

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// Session survives reconnects and is resumed by token.
type Session struct {
	ParticipantID string
	Token         string
	LastChannel   string
	LastSeen      time.Time
	RateLimiter   *rate.Limiter
}

// Participant is one live websocket connection.
type Participant struct {
	ID         string
	Session    *Session
	Connection *websocket.Conn
	writeMu    sync.Mutex
}

// New: wraps an authenticated connection
func New(session *Session, conn *websocket.Conn) *Participant {
	return &Participant{
		ID:         session.ParticipantID,
		Session:    session,
		Connection: conn,
	}
}

// WriteMessage serializes writes; gorilla connections allow one writer at a time.
func (p *Participant) WriteMessage(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	return p.Connection.WriteMessage(messageType, data)
}

// WriteJSON: same as WriteMessage for a JSON value
func (p *Participant) WriteJSON(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	return p.Connection.WriteJSON(v)
}

// Close: closes the underlying connection
func (p *Participant) Close() error {
	return p.Connection.Close()
}

// GenerateID: returns a fresh participant id
func GenerateID() string {
	return uuid.NewString()
}

// GenerateSessionToken: returns 32 random bytes, hex encoded
func GenerateSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}
