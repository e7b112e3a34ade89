// Package sqlite provides the SQLite-backed chat store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Tyrowin/gochat-rooms/internal/store"
	"github.com/Tyrowin/gochat-rooms/internal/store/sqlite/migrations"
)

// ErrAlreadyExists is returned by the seeding helpers on unique conflicts.
var ErrAlreadyExists = errors.New("already exists")

// Store persists rooms, memberships and messages in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RoomBySlug returns the room with the given slug.
func (s *Store) RoomBySlug(ctx context.Context, slug string) (store.Room, error) {
	var (
		room                 store.Room
		createdAt, updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, slug, name, description, created_by, created_at, updated_at
		   FROM rooms WHERE slug = ?`, slug,
	).Scan(&room.ID, &room.Slug, &room.Name, &room.Description, &room.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Room{}, store.ErrNotFound
	}
	if err != nil {
		return store.Room{}, fmt.Errorf("get room %q: %w", slug, err)
	}
	room.CreatedAt = fromMicros(createdAt)
	room.UpdatedAt = fromMicros(updatedAt)
	return room, nil
}

// Membership returns the membership of userID in the room slug.
func (s *Store) Membership(ctx context.Context, slug string, userID int64) (store.Membership, error) {
	var (
		m                store.Membership
		nickname         sql.NullString
		isAdmin, isMuted bool
		joinedAt         int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT m.user_id, m.room_id, u.username, m.nickname, m.is_admin, m.is_muted, m.joined_at
		   FROM room_memberships m
		   JOIN rooms r ON r.id = m.room_id
		   JOIN users u ON u.id = m.user_id
		  WHERE r.slug = ? AND m.user_id = ?`, slug, userID,
	).Scan(&m.UserID, &m.RoomID, &m.Username, &nickname, &isAdmin, &isMuted, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Membership{}, store.ErrNotFound
	}
	if err != nil {
		return store.Membership{}, fmt.Errorf("get membership %q/%d: %w", slug, userID, err)
	}
	m.Nickname = nickname.String
	m.IsAdmin = isAdmin
	m.IsMuted = isMuted
	m.JoinedAt = fromMicros(joinedAt)
	return m, nil
}

// CreateMessage persists a message. created_at never goes backwards within a
// room, so history order matches send order.
func (s *Store) CreateMessage(ctx context.Context, msg store.NewMessage) (store.Message, error) {
	room, err := s.RoomBySlug(ctx, msg.RoomSlug)
	if err != nil {
		return store.Message{}, err
	}

	var (
		out       store.Message
		createdAt int64
	)
	err = s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO messages (room_id, user_id, text, nickname, created_at)
		 VALUES (?, ?, ?, ?, MAX(?, COALESCE((SELECT MAX(created_at) FROM messages WHERE room_id = ?), 0)))
		 RETURNING id, created_at`,
		room.ID, msg.UserID, msg.Text, nullString(msg.Nickname), toMicros(s.now()), room.ID,
	).Scan(&out.ID, &createdAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := s.sqlDB.QueryRowContext(ctx, `SELECT username FROM users WHERE id = ?`, msg.UserID).Scan(&out.Username); err != nil {
		return store.Message{}, fmt.Errorf("get message author: %w", err)
	}
	out.RoomID = room.ID
	out.UserID = msg.UserID
	out.Text = msg.Text
	out.Nickname = msg.Nickname
	if out.Nickname == "" {
		out.Nickname = out.Username
	}
	out.CreatedAt = fromMicros(createdAt)
	return out, nil
}

// LastMessages returns up to limit messages of the room, newest first.
func (s *Store) LastMessages(ctx context.Context, slug string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT m.id, m.room_id, m.user_id, u.username, m.nickname, m.text, m.created_at
		   FROM messages m
		   JOIN rooms r ON r.id = m.room_id
		   JOIN users u ON u.id = m.user_id
		  WHERE r.slug = ?
		  ORDER BY m.created_at DESC, m.id DESC
		  LIMIT ?`, slug, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages %q: %w", slug, err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var (
			m         store.Message
			nickname  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &nickname, &m.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Nickname = nickname.String
		if m.Nickname == "" {
			m.Nickname = m.Username
		}
		m.CreatedAt = fromMicros(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Members lists the members of a room with their effective nicknames.
func (s *Store) Members(ctx context.Context, slug string) ([]store.Member, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT u.id, u.username, COALESCE(NULLIF(m.nickname, ''), u.username)
		   FROM room_memberships m
		   JOIN rooms r ON r.id = m.room_id
		   JOIN users u ON u.id = m.user_id
		  WHERE r.slug = ?
		  ORDER BY u.username`, slug,
	)
	if err != nil {
		return nil, fmt.Errorf("list members %q: %w", slug, err)
	}
	defer rows.Close()

	var members []store.Member
	for rows.Next() {
		var m store.Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.Nickname); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, fmt.Errorf("username is required")
	}
	res, err := s.sqlDB.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// UserID returns the id of username.
func (s *Store) UserID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, strings.TrimSpace(username)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query user: %w", err)
	}
	return id, nil
}

// CreateRoom inserts a room. A blank slug is derived from the name with a
// random suffix.
func (s *Store) CreateRoom(ctx context.Context, room store.Room) (store.Room, error) {
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		return store.Room{}, fmt.Errorf("room name is required")
	}
	if strings.TrimSpace(room.Slug) == "" {
		room.Slug = Slugify(room.Name) + "-" + uuid.NewString()[:8]
	}
	now := s.now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = room.CreatedAt

	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO rooms (slug, name, description, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		room.Slug, room.Name, room.Description, room.CreatedBy, toMicros(room.CreatedAt), toMicros(room.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Room{}, fmt.Errorf("room %q: %w", room.Slug, ErrAlreadyExists)
		}
		return store.Room{}, fmt.Errorf("insert room: %w", err)
	}
	room.ID, err = res.LastInsertId()
	if err != nil {
		return store.Room{}, fmt.Errorf("room id: %w", err)
	}
	return room, nil
}

// AddMembership makes userID a member of the room slug.
func (s *Store) AddMembership(ctx context.Context, slug string, userID int64, nickname string, isAdmin bool) error {
	room, err := s.RoomBySlug(ctx, slug)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO room_memberships (user_id, room_id, nickname, is_admin, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, room.ID, nullString(strings.TrimSpace(nickname)), isAdmin, toMicros(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("membership %q/%d: %w", slug, userID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// RemoveMembership deletes the membership of userID in the room slug.
func (s *Store) RemoveMembership(ctx context.Context, slug string, userID int64) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM room_memberships
		 WHERE user_id = ? AND room_id = (SELECT id FROM rooms WHERE slug = ?)`,
		userID, slug,
	)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("membership %q/%d: %w", slug, userID, store.ErrNotFound)
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name and joins its alphanumeric runs with hyphens.
func Slugify(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "room"
	}
	return slug
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
