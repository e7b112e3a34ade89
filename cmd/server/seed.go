package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-rooms/internal/auth"
	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/store"
	"github.com/Tyrowin/gochat-rooms/internal/store/sqlite"
)

type seedMember struct {
	username string
	nickname string
	admin    bool
}

var seedRoom = store.Room{Slug: "general", Name: "General", Description: "Everyone's room"}

var seedMembers = []seedMember{
	{username: "alice", nickname: "Alice", admin: true},
	{username: "bob"},
}

// seedDemo creates a demo room with two members, skipping rows that already
// exist, and logs a token for each member.
func seedDemo(ctx context.Context, db *sqlite.Store, authenticator *auth.JWTAuthenticator) error {
	ids := make(map[string]int64, len(seedMembers))
	for _, m := range seedMembers {
		id, err := ensureUser(ctx, db, m.username)
		if err != nil {
			return err
		}
		ids[m.username] = id
	}

	room := seedRoom
	room.CreatedBy = ids[seedMembers[0].username]
	if _, err := db.CreateRoom(ctx, room); err != nil && !errors.Is(err, sqlite.ErrAlreadyExists) {
		return fmt.Errorf("seed room: %w", err)
	}

	for _, m := range seedMembers {
		err := db.AddMembership(ctx, room.Slug, ids[m.username], m.nickname, m.admin)
		if err != nil && !errors.Is(err, sqlite.ErrAlreadyExists) {
			return fmt.Errorf("seed membership %s: %w", m.username, err)
		}
		token, err := authenticator.IssueToken(presence.Identity{ID: ids[m.username], Username: m.username})
		if err != nil {
			return err
		}
		logging.Info().Str("user", m.username).Str("room", room.Slug).Str("token", token).Msg("seeded member")
	}
	return nil
}

func ensureUser(ctx context.Context, db *sqlite.Store, username string) (int64, error) {
	id, err := db.UserID(ctx, username)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	return db.CreateUser(ctx, username)
}
