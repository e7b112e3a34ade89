package server

import (
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
)

// presenceSession reports who is online, either process-wide or in one room.
type presenceSession struct {
	global bool
}

func newPresenceSession(scope presence.Scope) *presenceSession {
	return &presenceSession{global: scope == presence.Global}
}

func (p *presenceSession) refreshKind() protocol.EventKind {
	if p.global {
		return protocol.EventUpdateCount
	}
	return protocol.EventRoomPresenceUpdate
}

func (p *presenceSession) admitted(s *session) {
	if p.global {
		p.sendOnlineCount(s)
	}
	s.publish(protocol.Event{Kind: p.refreshKind()})
}

func (p *presenceSession) handleFrame(s *session, in protocol.Inbound) {
	switch in.Type {
	case protocol.TypePing:
		s.queue(protocol.Pong())
	case protocol.TypeGetOnlineCount:
		if p.global {
			p.sendOnlineCount(s)
		}
	default:
		s.log.Debug().Str("type", in.Type).Msg("ignoring frame")
	}
}

// handleEvent recomputes state from the registry; event payloads are only a
// signal to look again.
func (p *presenceSession) handleEvent(s *session, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventUpdateCount:
		if p.global {
			p.sendOnlineCount(s)
		}
	case protocol.EventRoomPresenceUpdate:
		if !p.global {
			s.queue(protocol.RoomPresenceNames(s.srv.registry.Usernames(s.scope)))
		}
	default:
		s.log.Debug().Stringer("kind", ev.Kind).Msg("ignoring event")
	}
}

func (p *presenceSession) sendOnlineCount(s *session) {
	s.queue(protocol.OnlineCount(s.srv.registry.Usernames(presence.Global)))
}
