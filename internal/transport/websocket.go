// Package transport accepts relay websocket connections.
package transport

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classboard/internal/handlers"
	"classboard/internal/middleware"
	"classboard/internal/participant"
	"classboard/internal/relay"
)

const (
	authTimeout = 5 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
)

// Handler upgrades /ws requests and runs one connection per request
type Handler struct {
	upgrader      websocket.Upgrader
	ipRateLimiter *middleware.IPRateLimit
	limits        *middleware.RateLimit
	registry      *participant.Registry
	rooms         *relay.Manager
	router        *handlers.MessageRouter
	authenticator *Authenticator
	log           *logrus.Entry
}

// Options wires a Handler
type Options struct {
	AllowedOrigins []string
	IPRateLimiter  *middleware.IPRateLimit
	Limits         *middleware.RateLimit
	Registry       *participant.Registry
	Rooms          *relay.Manager
	Router         *handlers.MessageRouter
	Log            *logrus.Entry
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: CheckOrigin(opts.AllowedOrigins),
		},
		ipRateLimiter: opts.IPRateLimiter,
		limits:        opts.Limits,
		registry:      opts.Registry,
		rooms:         opts.Rooms,
		router:        opts.Router,
		authenticator: NewAuthenticator(opts.Registry),
		log:           opts.Log,
	}
}

// CheckOrigin: browsers must come from an allowed origin; "*" allows all.
// Requests without an Origin header are not from browsers and are allowed.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

// GetClientIP: uses RemoteAddr only, which cannot be spoofed by the client
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := GetClientIP(r)
	log := h.log.WithField("ip", clientIP)

	if !h.ipRateLimiter.Allow(clientIP) {
		log.Warn("connection rate limit exceeded")
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()

	auth, err := h.authenticator.Authenticate(conn, authTimeout)
	if err != nil {
		log.WithError(err).Warn("authentication failed")
		return
	}

	p := participant.New(auth.Session, conn)
	log = log.WithFields(logrus.Fields{"participant": p.ID, "channel": channel, "resumed": auth.Resumed})

	// the client must store the token to resume this identity
	err = p.WriteJSON(map[string]string{
		"type":   "authenticated",
		"userId": p.ID,
		"token":  auth.Session.Token,
	})
	if err != nil {
		log.WithError(err).Warn("failed to send auth response")
		return
	}

	room, err := h.rooms.Join(channel, p)
	if err != nil {
		log.WithError(err).Warn("failed to join room")
		p.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
		return
	}
	defer h.rooms.Leave(room, p)

	h.run(conn, room, p, log)
}

// run: ping/pong keepalive plus the read loop
func (h *Handler) run(conn *websocket.Conn, room *relay.Room, p *participant.Participant, log *logrus.Entry) {
	conn.SetReadLimit(int64(h.limits.MaxMessageSize) * 2)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := p.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.registry.Touch(p.ID)

		if !h.limits.ValidateMessageSize(len(msg)) {
			log.WithField("bytes", len(msg)).Warn("dropping oversized message")
			continue
		}

		if !p.Session.RateLimiter.Allow() {
			log.Warn("message rate limit exceeded")
			continue
		}

		if err := h.router.Route(room, p, msg); err != nil {
			log.WithError(err).Warn("dropping message")
			continue
		}
	}
}
