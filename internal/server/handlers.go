package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/Tyrowin/gochat-rooms/internal/auth"
	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/metrics"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/store"
)

const (
	endpointPresence = "presence"
	endpointRoom     = "room"
)

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Connections: s.hub.Count()})
}

type scopeSnapshot struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type presenceSnapshot struct {
	Global scopeSnapshot  `json:"global"`
	Rooms  map[string]int `json:"rooms"`
}

// presenceSnapshotHandler reports who is online globally and how many
// identities are present in each active room.
func (s *Server) presenceSnapshotHandler(w http.ResponseWriter, _ *http.Request) {
	users := s.registry.Usernames(presence.Global)
	snapshot := presenceSnapshot{
		Global: scopeSnapshot{Count: len(users), Users: users},
		Rooms:  make(map[string]int),
	}
	for scope, count := range s.registry.Snapshot() {
		if scope.IsRoom() {
			snapshot.Rooms[scope.Slug()] = count
		}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("error writing JSON response")
	}
}

// reject refuses an upgrade before any frame is exchanged.
func reject(w http.ResponseWriter, r *http.Request, endpoint, reason string, status int) {
	metrics.AdmissionsRejected.WithLabelValues(endpoint, reason).Inc()
	logging.Info().
		Str("endpoint", endpoint).
		Str("reason", reason).
		Str("remote_addr", r.RemoteAddr).
		Str("path", r.URL.Path).
		Msg("connection rejected")
	http.Error(w, http.StatusText(status), status)
}

// authorize resolves the caller and, for room scopes, checks membership. It
// writes the rejection itself and returns false when the caller may not
// connect.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, endpoint, slug string) (presence.Identity, bool) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			logging.Error().Err(err).Msg("authentication failed")
		}
		reject(w, r, endpoint, "unauthenticated", http.StatusForbidden)
		return presence.Identity{}, false
	}
	if slug == "" {
		return identity, true
	}

	member, err := store.IsMember(r.Context(), s.store, slug, identity.ID)
	if err != nil {
		logging.Error().Err(err).Str("room", slug).Str("user", identity.Username).Msg("membership lookup failed")
		reject(w, r, endpoint, "store_error", http.StatusServiceUnavailable)
		return presence.Identity{}, false
	}
	if !member {
		reject(w, r, endpoint, "not_member", http.StatusForbidden)
		return presence.Identity{}, false
	}
	return identity, true
}

// PresenceHandler serves /ws/presence (global scope) and
// /ws/presence/{slug} (room scope, members only).
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	identity, ok := s.authorize(w, r, endpointPresence, slug)
	if !ok {
		return
	}

	scope := presence.Global
	if slug != "" {
		scope = presence.Room(slug)
	}
	s.accept(w, r, newSession(s, identity, scope, endpointPresence, r.RemoteAddr, newPresenceSession(scope)))
}

// RoomHandler serves /ws/room/{slug}, the chat connection of one room.
func (s *Server) RoomHandler(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		reject(w, r, endpointRoom, "missing_slug", http.StatusForbidden)
		return
	}
	identity, ok := s.authorize(w, r, endpointRoom, slug)
	if !ok {
		return
	}
	s.accept(w, r, newSession(s, identity, presence.Room(slug), endpointRoom, r.RemoteAddr, newRoomSession(slug)))
}

// accept joins the bus group, upgrades, admits the identity and starts the
// session. Events published between the join and the start wait in the
// session mailbox.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, sess *session) {
	if !s.hub.register(sess) {
		sess.cancel()
		reject(w, r, sess.endpoint, "shutting_down", http.StatusServiceUnavailable)
		return
	}
	s.bus.Join(sess.group(), sess)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.bus.LeaveAll(sess)
		s.hub.unregister(sess)
		sess.cancel()
		sess.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	if sess.ctx.Err() != nil {
		s.bus.LeaveAll(sess)
		s.hub.unregister(sess)
		_ = conn.Close()
		return
	}

	s.registry.Admit(sess.scope, sess.identity)
	sess.start(conn)
}

// TestPageHandler serves an HTML page for trying a room connection from a
// browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Room Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { 
            border: 1px solid #ccc; 
            height: 300px; 
            padding: 10px; 
            overflow-y: scroll; 
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { 
            width: 300px; 
            padding: 5px; 
            margin-right: 10px;
        }
        button { 
            padding: 5px 15px; 
            background-color: #007cba; 
            color: white; 
            border: none; 
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { 
            margin: 10px 0; 
            padding: 5px; 
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Room Test</h1>
    
    <div id="status" class="status disconnected">Disconnected</div>
    
    <div>
        <input type="text" id="roomInput" placeholder="room slug" value="general">
        <input type="text" id="tokenInput" placeholder="access token">
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(message, type = 'info') {
            const messageElement = document.createElement('div');
            messageElement.style.margin = '5px 0';
            messageElement.style.padding = '3px';
            messageElement.style.color = type === 'chat' ? 'green' : 'gray';
            messageElement.textContent = message;
            messagesDiv.appendChild(messageElement);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function handleFrame(frame) {
            switch (frame.type) {
            case 'chat_history':
                frame.messages.forEach(m => addMessage(m.nickname + ': ' + m.message, 'chat'));
                break;
            case 'chat_message':
                addMessage(frame.nickname + ': ' + frame.message, 'chat');
                break;
            case 'room_presence':
                addMessage('online (' + frame.count + '): ' + frame.users.map(u => u.nickname).join(', '));
                break;
            default:
                addMessage(JSON.stringify(frame));
            }
        }

        function updateStatus(connected) {
            if (connected) {
                statusDiv.textContent = 'Connected';
                statusDiv.className = 'status connected';
                messageInput.disabled = false;
                sendButton.disabled = false;
                connectButton.textContent = 'Disconnect';
            } else {
                statusDiv.textContent = 'Disconnected';
                statusDiv.className = 'status disconnected';
                messageInput.disabled = true;
                sendButton.disabled = true;
                connectButton.textContent = 'Connect';
            }
        }

        function connect() {
            const room = encodeURIComponent(document.getElementById('roomInput').value.trim());
            const token = encodeURIComponent(document.getElementById('tokenInput').value.trim());
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/room/' + room + '?token=' + token);
            
            ws.onopen = function(event) {
                addMessage('Connected to room ' + decodeURIComponent(room));
                updateStatus(true);
            };
            
            ws.onmessage = function(event) {
                handleFrame(JSON.parse(event.data));
            };
            
            ws.onclose = function(event) {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };
            
            ws.onerror = function(error) {
                addMessage('Connection error: ' + error);
                updateStatus(false);
            };
        }

        function disconnect() {
            if (ws) {
                ws.close();
            }
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                disconnect();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'chat_message', message: message}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		logging.Warn().Err(err).Msg("error writing HTML response")
	}
}
