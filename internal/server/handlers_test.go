package server

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
)

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)

	resp, body := get(t, env.http.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	require.Equal(t, "GoChat server is running!", string(body))
}

func TestHealthzReportsConnections(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.user(t, "u1")
	conn := env.dial(t, "/ws/presence", u1)
	readUntil(t, conn, ofType(protocol.TypeOnlineCount))

	resp, body := get(t, env.http.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok","connections":1}`, string(body))
}

func TestPresenceSnapshot(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")
	env.room(t, "general", nil, alice, bob)

	c1 := env.dial(t, "/ws/presence", alice)
	readUntil(t, c1, ofType(protocol.TypeOnlineCount))
	c2 := env.dial(t, "/ws/room/general", bob)
	readUntil(t, c2, ofType(protocol.TypeRoomPresence))

	resp, body := get(t, env.http.URL+"/api/presence")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snapshot presenceSnapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	require.Equal(t, 1, snapshot.Global.Count)
	require.Equal(t, []string{"alice"}, snapshot.Global.Users)
	require.Equal(t, map[string]int{"general": 1}, snapshot.Rooms)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.dialWithHeaders("/ws/presence", http.Header{"Origin": {testOrigin}})
	require.Error(t, err)

	resp, body := get(t, env.http.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "chat_admissions_rejected_total")
}

func TestWebSocketRoutesOnlyAcceptGet(t *testing.T) {
	env := newTestEnv(t)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(env.http.URL+"/ws/presence", "application/json", http.NoBody)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTestPageUsesRoomProtocol(t *testing.T) {
	env := newTestEnv(t)

	resp, body := get(t, env.http.URL+"/test")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "/ws/room/")
	require.Contains(t, string(body), "chat_message")
}

func TestUpgradeRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.UpgradeRateLimit = 2 })

	headers := http.Header{"Origin": {testOrigin}}
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		_, status, _ := env.dialWithHeaders("/ws/presence", headers)
		statuses = append(statuses, status)
	}
	require.Equal(t, []int{http.StatusForbidden, http.StatusForbidden, http.StatusTooManyRequests}, statuses)
}

func TestShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	env.room(t, "general", nil, alice)

	global := env.dial(t, "/ws/presence", alice)
	readUntil(t, global, ofType(protocol.TypeOnlineCount))
	room := env.dial(t, "/ws/room/general", alice)
	readUntil(t, room, ofType(protocol.TypeChatHistory))

	require.NoError(t, env.srv.Hub().Shutdown(2*time.Second))

	for _, conn := range []*websocket.Conn{global, room} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameWait)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
	require.Empty(t, env.registry.Snapshot())
	require.Zero(t, env.bus.Subscribers())
	require.Zero(t, env.srv.Hub().Count())

	_, status, err := env.dialWithHeaders("/ws/presence", env.headers(t, alice))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.False(t, env.registry.Exists(presence.Global))
}
