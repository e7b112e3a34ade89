package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-rooms/internal/auth"
	"github.com/Tyrowin/gochat-rooms/internal/bus"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
	"github.com/Tyrowin/gochat-rooms/internal/store"
	"github.com/Tyrowin/gochat-rooms/internal/store/sqlite"
)

const (
	testSecret = "test-secret-0123456789abcdef"
	testOrigin = "http://localhost:8080"
	frameWait  = 3 * time.Second
)

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	db       *sqlite.Store
	auth     *auth.JWTAuthenticator
	registry *presence.Registry
	bus      *bus.Bus
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	pool := store.NewPool(db, store.PoolConfig{Workers: 2, QueueSize: 32})
	ctx, cancel := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = pool.Serve(ctx)
	}()

	authenticator, err := auth.NewJWTAuthenticator(testSecret, time.Hour)
	require.NoError(t, err)

	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.JWTSecret = testSecret
	cfg.UpgradeRateLimit = 0
	cfg.RateLimit = RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	cfg.ShutdownTimeout = 2 * time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}

	registry := presence.NewRegistry()
	b := bus.New()
	srv := New(cfg, pool, authenticator, b, registry)
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
		cancel()
		<-poolDone
		_ = db.Close()
	})

	return &testEnv{srv: srv, http: ts, db: db, auth: authenticator, registry: registry, bus: b}
}

// user creates a user and returns its identity.
func (e *testEnv) user(t *testing.T, username string) presence.Identity {
	t.Helper()
	id, err := e.db.CreateUser(context.Background(), username)
	require.NoError(t, err)
	return presence.Identity{ID: id, Username: username}
}

// room creates a room with the given slug and members; nicknames maps a
// username to its room nickname.
func (e *testEnv) room(t *testing.T, slug string, nicknames map[string]string, members ...presence.Identity) {
	t.Helper()
	ctx := context.Background()
	_, err := e.db.CreateRoom(ctx, store.Room{Slug: slug, Name: slug, CreatedBy: members[0].ID})
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, e.db.AddMembership(ctx, slug, m.ID, nicknames[m.Username], false))
	}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

func (e *testEnv) headers(t *testing.T, id presence.Identity) http.Header {
	t.Helper()
	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	token, err := e.auth.IssueToken(id)
	require.NoError(t, err)
	headers.Set("Authorization", "Bearer "+token)
	return headers
}

// dial connects as id and fails the test on error.
func (e *testEnv) dial(t *testing.T, path string, id presence.Identity) *websocket.Conn {
	t.Helper()
	conn, status, err := e.dialWithHeaders(path, e.headers(t, id))
	require.NoError(t, err, "dial %s: status %d", path, status)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialWithHeaders returns the handshake status so rejections can be checked.
func (e *testEnv) dialWithHeaders(path string, headers http.Header) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(path), headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

type frame struct {
	Type     string                 `json:"type"`
	Count    int                    `json:"count"`
	Users    json.RawMessage        `json:"users"`
	Messages []protocol.MessageDict `json:"messages"`
	protocol.MessageDict
}

func (f frame) usernames(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, json.Unmarshal(f.Users, &names))
	return names
}

func (f frame) roomUsers(t *testing.T) []protocol.RoomUser {
	t.Helper()
	var users []protocol.RoomUser
	require.NoError(t, json.Unmarshal(f.Users, &users))
	return users
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f), "frame %s", data)
	return f
}

// readUntil discards frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) {
		f := readFrame(t, conn)
		if match(f) {
			return f
		}
	}
	t.Fatalf("no matching frame within %s", frameWait)
	return frame{}
}

func ofType(typ string) func(frame) bool {
	return func(f frame) bool { return f.Type == typ }
}

func countOf(typ string, count int) func(frame) bool {
	return func(f frame) bool { return f.Type == typ && f.Count == count }
}

// expectNoFrame fails if a frame of typ arrives within d.
func expectNoFrame(t *testing.T, conn *websocket.Conn, typ string, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.NotEqual(t, typ, f.Type, "unexpected frame %s", data)
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func closeGracefully(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

// eventRecorder is a bus subscriber that keeps every event it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *eventRecorder) ID() string { return "recorder" }

func (r *eventRecorder) Deliver(ev protocol.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *eventRecorder) Close() {}

// count returns how many recorded events have kind.
func (r *eventRecorder) count(kind protocol.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
