package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-rooms/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.log.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the reason a read loop ended.
func (s *session) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		s.log.Warn().Int64("max_message_size", s.srv.cfg.MaxMessageSize).Msg("message exceeded maximum size")
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		s.log.Debug().Err(err).Msg("client disconnected")
		return
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("connection closed")
		return
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		s.log.Warn().Err(err).Msg("unexpected websocket close")
		return
	}

	s.log.Warn().Err(err).Msg("websocket read error")
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (s *session) checkRateLimit() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.InboundFramesDropped.WithLabelValues("rate_limited").Inc()
		s.log.Debug().
			Int("burst", s.srv.cfg.RateLimit.Burst).
			Dur("refill_interval", s.srv.cfg.RateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// readPump moves frames from the socket to the session loop. Closing inbound
// tells the loop the client is gone.
func (s *session) readPump() {
	defer close(s.inbound)

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		if !s.checkRateLimit() {
			continue
		}

		select {
		case s.inbound <- raw:
		case <-s.ctx.Done():
			return
		}
	}
}

// writePump owns all socket writes. It stops when send is closed by
// teardown or a write fails.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleMessage(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

func (s *session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn().Err(err).Msg("error closing connection")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (s *session) handleMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return s.writeCloseMessage()
	}

	return s.writeTextMessage(message)
}

func (s *session) writeCloseMessage() bool {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes exactly one frame per message; clients parse each
// frame as a single JSON document.
func (s *session) writeTextMessage(message []byte) bool {
	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (s *session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Debug().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}
