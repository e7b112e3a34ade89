package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-rooms/internal/bus"
	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/metrics"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
)

const (
	sendBufferSize    = 256
	eventBufferSize   = 64
	inboundBufferSize = 16
)

// sessionHandler is the per-variant behavior of a session. All methods run on
// the session loop goroutine.
type sessionHandler interface {
	// refreshKind is the event published on admission and teardown.
	refreshKind() protocol.EventKind
	admitted(s *session)
	handleFrame(s *session, in protocol.Inbound)
	handleEvent(s *session, ev protocol.Event)
}

// session is one accepted websocket connection.
type session struct {
	id       string
	identity presence.Identity
	scope    presence.Scope
	endpoint string
	addr     string
	handler  sessionHandler
	srv      *Server
	log      zerolog.Logger

	conn    *websocket.Conn
	send    chan []byte
	events  chan protocol.Event
	refresh chan protocol.Event
	inbound chan []byte
	limiter *rate.Limiter

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

var _ bus.Subscriber = (*session)(nil)

func newSession(srv *Server, identity presence.Identity, scope presence.Scope, endpoint, addr string, handler sessionHandler) *session {
	ctx, cancel := context.WithCancel(srv.hub.ctx)
	id := uuid.NewString()
	return &session{
		id:       id,
		identity: identity,
		scope:    scope,
		endpoint: endpoint,
		addr:     addr,
		handler:  handler,
		srv:      srv,
		log: logging.With().
			Str("conn_id", id).
			Str("user", identity.Username).
			Str("scope", string(scope)).
			Str("remote_addr", addr).
			Logger(),
		send:    make(chan []byte, sendBufferSize),
		events:  make(chan protocol.Event, eventBufferSize),
		refresh: make(chan protocol.Event, 1),
		inbound: make(chan []byte, inboundBufferSize),
		limiter: newFrameLimiter(srv.cfg.RateLimit),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID implements bus.Subscriber.
func (s *session) ID() string {
	return s.id
}

// Deliver implements bus.Subscriber. It never blocks. Refresh events carry no
// payload and coalesce into a single pending slot, so they are always
// accepted. Any other event needs room in the mailbox; a full mailbox refuses
// it and the bus closes the session.
func (s *session) Deliver(ev protocol.Event) bool {
	if s.ctx.Err() != nil {
		return false
	}
	if ev.Kind == s.handler.refreshKind() {
		select {
		case s.refresh <- ev:
		default:
			metrics.RefreshesCoalesced.Inc()
		}
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Close implements bus.Subscriber. The session loop notices and tears down.
func (s *session) Close() {
	s.cancel()
}

func (s *session) group() string {
	return string(s.scope)
}

// start launches the pumps and the session loop. conn must be attached and
// the identity admitted to the registry.
func (s *session) start(conn *websocket.Conn) {
	s.conn = conn
	conn.SetReadLimit(s.srv.cfg.MaxMessageSize)
	metrics.ConnectionsActive.WithLabelValues(s.endpoint).Inc()
	s.log.Info().Msg("connection admitted")

	s.srv.hub.goroutine(s.writePump)
	s.srv.hub.goroutine(s.readPump)
	s.srv.hub.goroutine(s.run)
}

// run handles inbound frames and bus events one at a time until the session
// ends, then tears down.
func (s *session) run() {
	defer s.teardown()

	s.handler.admitted(s)
	for {
		select {
		case <-s.ctx.Done():
			return
		case raw, ok := <-s.inbound:
			if !ok {
				return
			}
			s.handleRaw(raw)
		case ev := <-s.events:
			s.handler.handleEvent(s, ev)
		case ev := <-s.refresh:
			s.handler.handleEvent(s, ev)
		}
	}
}

func (s *session) handleRaw(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		metrics.InboundFramesDropped.WithLabelValues("malformed").Inc()
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}
	s.handler.handleFrame(s, in)
}

// teardown evicts, leaves the bus and publishes the refresh event. It runs
// exactly once.
func (s *session) teardown() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.srv.registry.Evict(s.scope, s.identity)
		s.srv.bus.LeaveAll(s)
		s.srv.bus.Publish(s.group(), protocol.Event{Kind: s.handler.refreshKind()})
		close(s.send)
		s.srv.hub.unregister(s)
		metrics.ConnectionsActive.WithLabelValues(s.endpoint).Dec()
		s.log.Info().Msg("connection closed")
	})
}

// queue hands a frame to the write pump. A full send buffer means the client
// is not keeping up, so the session is closed instead of blocking.
func (s *session) queue(frame []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode frame")
		return
	}
	select {
	case s.send <- frame:
	default:
		s.log.Warn().Msg("send buffer full; closing slow connection")
		s.Close()
	}
}

// publish sends ev to the session's own group.
func (s *session) publish(ev protocol.Event) {
	delivered := s.srv.bus.Publish(s.group(), ev)
	s.log.Debug().Str("kind", ev.Kind.String()).Int("delivered", delivered).Msg("published event")
}
