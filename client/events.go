package client

import (
	"encoding/json"
	"time"

	"github.com/myzymo/realtime/internal/protocol"
)

// MessageEvent is emitted when a chat message is broadcast to the room,
// the session's own messages included.
type MessageEvent struct {
	Id         string
	SenderId   string
	SenderName string
	Content    string
	FileUrl    string
	FileName   string
	FileSize   int64
	FileType   string
	CreatedAt  time.Time
}

// PresenceEvent is emitted whenever the room's live membership changes.
type PresenceEvent struct {
	ActiveUsers []string
}

// SignalEvent carries call-control data to the media layer. Payload is
// SDP or ICE data the session never interprets.
type SignalEvent struct {
	Kind     protocol.Type
	SenderId string
	CallType string
	Payload  json.RawMessage
}
