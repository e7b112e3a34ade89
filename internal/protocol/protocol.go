// Package protocol defines the JSON wire envelopes exchanged over presence and
// room connections, and the event kinds carried by the broadcast bus.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Inbound frame types.
const (
	TypePing           = "ping"
	TypeGetOnlineCount = "get_online_count"
	TypeChatMessage    = "chat_message"
)

// Outbound frame types.
const (
	TypePong         = "pong"
	TypeOnlineCount  = "online_count"
	TypeRoomPresence = "room_presence"
	TypeChatHistory  = "chat_history"
)

// ErrMalformed is returned for frames that are not a JSON object with a type.
var ErrMalformed = errors.New("malformed frame")

// Inbound is a decoded client frame. Message is only meaningful for
// chat_message frames.
type Inbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Decode parses one client frame.
func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return in, nil
}

// MessageDict is the serialized form of a persisted chat message.
type MessageDict struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// TimestampLayout is ISO-8601 with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RoomUser is one entry of a room connection's room_presence frame.
type RoomUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

type typeOnly struct {
	Type string `json:"type"`
}

type countFrame[T any] struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Users []T    `json:"users"`
}

type historyFrame struct {
	Type     string        `json:"type"`
	Messages []MessageDict `json:"messages"`
}

type chatFrame struct {
	Type string `json:"type"`
	MessageDict
}

// Pong encodes the reply to ping.
func Pong() ([]byte, error) {
	return json.Marshal(typeOnly{Type: TypePong})
}

// OnlineCount encodes the global presence frame.
func OnlineCount(users []string) ([]byte, error) {
	return json.Marshal(countFrame[string]{Type: TypeOnlineCount, Count: len(users), Users: nonNil(users)})
}

// RoomPresenceNames encodes the room presence frame sent on presence
// connections, which lists usernames only.
func RoomPresenceNames(users []string) ([]byte, error) {
	return json.Marshal(countFrame[string]{Type: TypeRoomPresence, Count: len(users), Users: nonNil(users)})
}

// RoomPresence encodes the room presence frame sent on room connections.
func RoomPresence(users []RoomUser) ([]byte, error) {
	return json.Marshal(countFrame[RoomUser]{Type: TypeRoomPresence, Count: len(users), Users: nonNil(users)})
}

// ChatHistory encodes the history frame; messages must already be in
// ascending chronological order.
func ChatHistory(messages []MessageDict) ([]byte, error) {
	return json.Marshal(historyFrame{Type: TypeChatHistory, Messages: nonNil(messages)})
}

// ChatMessage wraps a serialized MessageDict into a chat_message frame with
// the message fields inlined.
func ChatMessage(payload json.RawMessage) ([]byte, error) {
	var msg MessageDict
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	return json.Marshal(chatFrame{Type: TypeChatMessage, MessageDict: msg})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
