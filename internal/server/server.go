// Package server assembles the relay and the snapshot API into one HTTP
// handler.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"classboard/internal/config"
	"classboard/internal/handlers"
	"classboard/internal/logging"
	"classboard/internal/middleware"
	"classboard/internal/object"
	"classboard/internal/participant"
	"classboard/internal/relay"
	"classboard/internal/snapshot"
	"classboard/internal/transport"
)

// Server is the relay plus the snapshot API.
type Server struct {
	cfg       *config.Config
	rooms     *relay.Manager
	registry  *participant.Registry
	ipLimiter *middleware.IPRateLimit
	handler   http.Handler
	log       *logrus.Entry
}

// New wires every component against store.
func New(cfg *config.Config, store snapshot.Store) *Server {
	limits := middleware.NewRateLimit(
		cfg.MaxRoomSize,
		cfg.MaxRooms,
		cfg.MaxMessageSize,
		cfg.MaxPayloadDepth,
		cfg.MaxPayloadKeys,
		cfg.MessagesPerSecond,
		cfg.BurstSize,
	)

	s := &Server{
		cfg:       cfg,
		rooms:     relay.NewManager(limits, logging.For("relay")),
		registry:  participant.NewRegistry(cfg.MessagesPerSecond, cfg.BurstSize),
		ipLimiter: middleware.NewIPRateLimit(cfg.ConnectEvery, cfg.ConnectBurst),
		log:       logging.For("server"),
	}

	router := handlers.NewMessageRouter(
		object.NewValidator(),
		limits,
		relay.NewBroadcaster(logging.For("broadcast")),
		logging.For("router"),
	)

	ws := transport.NewHandler(transport.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		IPRateLimiter:  s.ipLimiter,
		Limits:         limits,
		Registry:       s.registry,
		Rooms:          s.rooms,
		Router:         router,
		Log:            logging.For("transport"),
	})

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.ErrorResponse(w, http.StatusNotFound, "no such endpoint")
	})
	r.Handle("/ws", ws)
	r.HandleFunc("/healthz", handlers.Health(s.rooms)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	handlers.NewSnapshotHandler(store, logging.For("snapshot")).Register(api)

	corsOptions := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	s.handler = corsOptions.Handler(r)

	return s
}

// Handler: returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Rooms: returns the relay room manager
func (s *Server) Rooms() *relay.Manager {
	return s.rooms
}

// Cleanup drops expired rooms, idle sessions and idle IP limiters.
func (s *Server) Cleanup() {
	rooms := s.rooms.Cleanup(relay.DefaultRoomIdle, relay.DefaultRoomMaxAge)
	sessions := s.registry.Cleanup(s.cfg.SessionIdle)
	ips := s.ipLimiter.Cleanup(time.Hour)

	if rooms+sessions+ips > 0 {
		s.log.WithFields(logrus.Fields{
			"rooms":    rooms,
			"sessions": sessions,
			"ips":      ips,
		}).Info("cleanup")
	}
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Server) RunCleanup(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-ctx.Done():
			return nil
		}
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
