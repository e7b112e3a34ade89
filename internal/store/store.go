// Package store defines the durable-store boundary used by connection
// handlers: rooms, memberships and chat messages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a room, membership or user does not exist.
var ErrNotFound = errors.New("not found")

// Room is a chat room. Rooms are created and edited outside this service.
type Room struct {
	ID          int64
	Slug        string
	Name        string
	Description string
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership ties a user to a room.
type Membership struct {
	UserID   int64
	RoomID   int64
	Username string
	Nickname string
	IsAdmin  bool
	IsMuted  bool
	JoinedAt time.Time
}

// DisplayName returns the room nickname, falling back to the username.
func (m Membership) DisplayName() string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.Username
}

// Member is a room member as shown in room presence lists. Nickname is
// already resolved to the effective display name.
type Member struct {
	UserID   int64
	Username string
	Nickname string
}

// NewMessage is the input for CreateMessage.
type NewMessage struct {
	RoomSlug string
	UserID   int64
	Text     string
	Nickname string
}

// Message is a persisted chat message. Nickname is the display name captured
// when the message was sent.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Username  string
	Nickname  string
	Text      string
	CreatedAt time.Time
}

// Store is the durable store reached by connection handlers. Implementations
// perform blocking I/O; handlers call it through a Pool.
type Store interface {
	RoomBySlug(ctx context.Context, slug string) (Room, error)
	// Membership returns ErrNotFound when either the room or the membership
	// does not exist.
	Membership(ctx context.Context, slug string, userID int64) (Membership, error)
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	// LastMessages returns at most limit messages, newest first.
	LastMessages(ctx context.Context, slug string, limit int) ([]Message, error)
	Members(ctx context.Context, slug string) ([]Member, error)
}

// IsMember reports whether userID holds a membership in the room. A missing
// room counts as not a member.
func IsMember(ctx context.Context, s Store, slug string, userID int64) (bool, error) {
	_, err := s.Membership(ctx, slug, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
