package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"classboard/internal/participant"
)

// Authenticator: handles the first frame of every connection
type Authenticator struct {
	registry *participant.Registry
}

// NewAuthenticator: creates a new authenticator
func NewAuthenticator(registry *participant.Registry) *Authenticator {
	return &Authenticator{registry: registry}
}

// AuthResult contains the results of authentication
type AuthResult struct {
	Session *participant.Session
	Resumed bool
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Authenticate reads {"type":"authenticate","token"} within timeout. A known
// token resumes its session; an empty or unknown one starts a new session.
func (a *Authenticator) Authenticate(conn *websocket.Conn, timeout time.Duration) (*AuthResult, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to receive auth message: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var auth authMessage
	if err := json.Unmarshal(msg, &auth); err != nil {
		return nil, fmt.Errorf("invalid auth message format: %w", err)
	}
	if auth.Type != "authenticate" {
		return nil, fmt.Errorf("expected authenticate message, got: %s", auth.Type)
	}

	if session, ok := a.registry.Resume(auth.Token); ok {
		return &AuthResult{Session: session, Resumed: true}, nil
	}

	return &AuthResult{Session: a.registry.Create()}, nil
}
