package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/logging"
)

// Hub tracks live sessions and the goroutines serving them so the server can
// report connection counts and shut every connection down.
type Hub struct {
	sessions map[*session]struct{}
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closing  bool
	timeout  time.Duration
}

// NewHub creates a hub whose Shutdown waits at most timeout for sessions to
// finish.
func NewHub(timeout time.Duration) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Hub{
		sessions: make(map[*session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		timeout:  timeout,
	}
}

// register starts tracking s. It returns false once shutdown has begun.
func (h *Hub) register(s *session) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closing {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) unregister(s *session) {
	h.mutex.Lock()
	delete(h.sessions, s)
	h.mutex.Unlock()
}

// goroutine runs fn as a tracked session goroutine.
func (h *Hub) goroutine(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// getSessionSnapshot returns a thread-safe snapshot of all current sessions
func (h *Hub) getSessionSnapshot() []*session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// shutdownSessions closes every session; each one's write pump then sends a
// close frame and releases its socket.
func (h *Hub) shutdownSessions() {
	sessions := h.getSessionSnapshot()
	for _, s := range sessions {
		s.Close()
	}
	logging.Info().Int("sessions", len(sessions)).Msg("closed client connections")
}

// Shutdown closes all sessions and waits for their goroutines, returning
// context.DeadlineExceeded if they outlive timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logging.Info().Msg("initiating hub shutdown")

	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	h.cancel()
	h.shutdownSessions()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Serve implements suture.Service: it waits for ctx and then shuts down.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := h.Shutdown(h.timeout); err != nil {
		return err
	}
	return ctx.Err()
}

func (h *Hub) String() string {
	return "session-hub"
}
