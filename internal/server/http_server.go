package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-rooms/internal/auth"
	"github.com/Tyrowin/gochat-rooms/internal/bus"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/store"
)

// Server wires the presence registry, broadcast bus, store and authenticator
// into the HTTP and websocket handlers.
type Server struct {
	cfg      Config
	store    store.Store
	auth     auth.Authenticator
	registry *presence.Registry
	bus      *bus.Bus
	hub      *Hub
	origins  originPolicy
	upgrader websocket.Upgrader
}

// New builds a Server. st should be a store.Pool so that queries never run on
// a connection goroutine.
func New(cfg Config, st store.Store, authenticator auth.Authenticator, b *bus.Bus, registry *presence.Registry) *Server {
	cfg = sanitizeConfig(cfg)
	s := &Server{
		cfg:      cfg,
		store:    st,
		auth:     authenticator,
		registry: registry,
		bus:      b,
		hub:      NewHub(cfg.ShutdownTimeout),
		origins:  newOriginPolicy(cfg.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the session hub for supervision and shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
