package participant

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry maps participant ids and session tokens to sessions.
type Registry struct {
	sessions  map[string]*Session // participantID -> session
	tokenToID map[string]string   // token -> participantID
	perSecond rate.Limit
	burst     int
	now       func() time.Time
	mu        sync.RWMutex
}

// NewRegistry: every session gets its own limiter of perSecond messages with burst
func NewRegistry(perSecond float64, burst int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		tokenToID: make(map[string]string),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		now:       time.Now,
	}
}

// Create: starts a new session with a fresh id and token
func (r *Registry) Create() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := &Session{
		ParticipantID: GenerateID(),
		Token:         GenerateSessionToken(),
		LastSeen:      r.now(),
		RateLimiter:   rate.NewLimiter(r.perSecond, r.burst),
	}
	r.sessions[session.ParticipantID] = session
	r.tokenToID[session.Token] = session.ParticipantID
	return session
}

// Resume: returns the session for token and marks it seen
func (r *Registry) Resume(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.tokenToID[token]
	if !exists {
		return nil, false
	}
	session, exists := r.sessions[id]
	if !exists {
		delete(r.tokenToID, token)
		return nil, false
	}

	session.LastSeen = r.now()
	return session, true
}

// Touch: records activity on the session
func (r *Registry) Touch(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[participantID]; exists {
		session.LastSeen = r.now()
	}
}

// Remove: forgets a session and its token
func (r *Registry) Remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[participantID]; exists {
		delete(r.tokenToID, session.Token)
	}
	delete(r.sessions, participantID)
}

// Cleanup: removes sessions idle for longer than maxIdle, returns how many
func (r *Registry) Cleanup(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, session := range r.sessions {
		if now.Sub(session.LastSeen) > maxIdle {
			delete(r.tokenToID, session.Token)
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// Len: returns the number of known sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
