package server

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-rooms/internal/metrics"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
	"github.com/Tyrowin/gochat-rooms/internal/store"
)

const storeCallTimeout = 5 * time.Second

// roomSession is a chat connection to a single room.
type roomSession struct {
	slug string
}

func newRoomSession(slug string) *roomSession {
	return &roomSession{slug: slug}
}

func (r *roomSession) refreshKind() protocol.EventKind {
	return protocol.EventRoomPresenceUpdate
}

func (r *roomSession) admitted(s *session) {
	s.publish(protocol.Event{Kind: protocol.EventRoomPresenceUpdate})
	r.sendHistory(s)
}

func (r *roomSession) handleFrame(s *session, in protocol.Inbound) {
	switch in.Type {
	case protocol.TypePing:
		s.queue(protocol.Pong())
	case protocol.TypeChatMessage:
		r.handleChatMessage(s, in.Message)
	default:
		s.log.Debug().Str("type", in.Type).Msg("ignoring frame")
	}
}

func (r *roomSession) handleEvent(s *session, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventRoomPresenceUpdate:
		r.sendPresence(s)
	case protocol.EventBroadcastMessage:
		s.queue(protocol.ChatMessage(ev.Payload))
	default:
		s.log.Debug().Stringer("kind", ev.Kind).Msg("ignoring event")
	}
}

func (r *roomSession) sendHistory(s *session) {
	ctx, cancel := context.WithTimeout(s.ctx, storeCallTimeout)
	defer cancel()

	messages, err := s.srv.store.LastMessages(ctx, r.slug, s.srv.cfg.HistoryLimit)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error().Err(err).Msg("failed to load chat history")
		return
	}
	slices.Reverse(messages)
	s.queue(protocol.ChatHistory(lo.Map(messages, func(m store.Message, _ int) protocol.MessageDict {
		return messageDict(m)
	})))
}

// sendPresence lists the identities present in the room that are still
// members of it.
func (r *roomSession) sendPresence(s *session) {
	ctx, cancel := context.WithTimeout(s.ctx, storeCallTimeout)
	defer cancel()

	members, err := s.srv.store.Members(ctx, r.slug)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error().Err(err).Msg("failed to load room members")
		return
	}
	byID := lo.KeyBy(members, func(m store.Member) int64 { return m.UserID })

	users := lo.FilterMap(s.srv.registry.Members(s.scope), func(id presence.Identity, _ int) (protocol.RoomUser, bool) {
		member, ok := byID[id.ID]
		if !ok {
			return protocol.RoomUser{}, false
		}
		return protocol.RoomUser{ID: id.ID, Username: member.Username, Nickname: member.Nickname}, true
	})
	s.queue(protocol.RoomPresence(users))
}

// handleChatMessage persists a non-blank message and broadcasts it to the
// room, the sender included.
func (r *roomSession) handleChatMessage(s *session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, storeCallTimeout)
	defer cancel()

	nickname := s.identity.Username
	membership, err := s.srv.store.Membership(ctx, r.slug, s.identity.ID)
	switch {
	case err == nil:
		nickname = membership.DisplayName()
	case errors.Is(err, store.ErrNotFound):
		s.log.Debug().Msg("membership gone; using username as nickname")
	default:
		s.log.Error().Err(err).Msg("failed to resolve membership")
		return
	}

	saved, err := s.srv.store.CreateMessage(ctx, store.NewMessage{
		RoomSlug: r.slug,
		UserID:   s.identity.ID,
		Text:     text,
		Nickname: nickname,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to persist message")
		return
	}
	metrics.MessagesPersisted.Inc()

	ev, err := protocol.NewMessageEvent(messageDict(saved))
	if err != nil {
		s.log.Error().Err(err).Int64("message_id", saved.ID).Msg("failed to encode message event")
		return
	}
	s.publish(ev)
}

func messageDict(m store.Message) protocol.MessageDict {
	return protocol.MessageDict{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Nickname:  m.Nickname,
		Message:   m.Text,
		CreatedAt: protocol.FormatTimestamp(m.CreatedAt),
	}
}
