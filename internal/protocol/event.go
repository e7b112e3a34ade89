package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EventKind tags a broadcast bus event.
type EventKind int

const (
	// EventUpdateCount asks global presence connections to resend online_count.
	EventUpdateCount EventKind = iota + 1
	// EventRoomPresenceUpdate asks room-scoped connections to recompute the
	// room's member list.
	EventRoomPresenceUpdate
	// EventBroadcastMessage carries a persisted chat message.
	EventBroadcastMessage
)

func (k EventKind) String() string {
	switch k {
	case EventUpdateCount:
		return "update_count"
	case EventRoomPresenceUpdate:
		return "room_presence_update"
	case EventBroadcastMessage:
		return "broadcast_message"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered by the bus. Presence events carry no payload: recipients
// always re-read current state. Payload is a serialized MessageDict for
// EventBroadcastMessage.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage
}

// NewMessageEvent serializes msg into a broadcast_message event.
func NewMessageEvent(msg MessageDict) (Event, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Event{}, fmt.Errorf("encode message: %w", err)
	}
	return Event{Kind: EventBroadcastMessage, Payload: payload}, nil
}
