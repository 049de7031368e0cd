// Package protocol defines the JSON envelopes exchanged over a relay
// websocket connection. Every frame is one Envelope discriminated by its
// Type field.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	TypeJoin         Type = "join"
	TypeMessage      Type = "message"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypePresence     Type = "presence"
	TypeError        Type = "error"
	TypeCallOffer    Type = "call-offer"
	TypeCallAnswer   Type = "call-answer"
	TypeICECandidate Type = "ice-candidate"
	TypeCallReject   Type = "call-reject"
	TypeCallEnd      Type = "call-end"
)

// RecipientUnavailable is the error message the relay sends back when a
// call signal names a user with no live connections. Error envelopes
// carry no correlation id, so clients match on this text to tell an
// undeliverable offer apart from unrelated relay errors.
const RecipientUnavailable = "recipient unavailable"

// IsCallSignal reports whether t is one of the call-control kinds the
// relay forwards user-to-user without interpreting.
func (t Type) IsCallSignal() bool {
	switch t {
	case TypeCallOffer, TypeCallAnswer, TypeICECandidate, TypeCallReject, TypeCallEnd:
		return true
	}
	return false
}

func (t Type) Valid() bool {
	switch t {
	case TypeJoin, TypeMessage, TypePing, TypePong, TypePresence, TypeError:
		return true
	}
	return t.IsCallSignal()
}

// Envelope is the single wire frame. Only the fields relevant to Type are
// populated; the rest are omitted from the encoding.
type Envelope struct {
	Type Type `json:"type"`

	// join
	EventId  string `json:"eventId,omitempty"`
	UserId   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// message
	Id         string     `json:"id,omitempty"`
	SenderId   string     `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
	Content    string     `json:"content,omitempty"`
	FileUrl    string     `json:"fileUrl,omitempty"`
	FileName   string     `json:"fileName,omitempty"`
	FileSize   int64      `json:"fileSize,omitempty"`
	FileType   string     `json:"fileType,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`

	// presence
	ActiveUsers []string `json:"activeUsers,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// call signaling. Payload carries SDP/ICE data and is opaque to the
	// relay.
	RecipientId string          `json:"recipientId,omitempty"`
	CallType    string          `json:"callType,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// HasBody reports whether a message envelope carries any content or file
// attachment. Messages without a body are rejected by the relay.
func (e *Envelope) HasBody() bool {
	return e.Content != "" || e.FileUrl != "" || e.FileName != ""
}

// Decode parses raw into an Envelope, rejecting frames with a missing or
// unknown type so new envelope kinds cannot silently fall through.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if !env.Type.Valid() {
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}

	return &env, nil
}

func Pong() *Envelope {
	return &Envelope{Type: TypePong}
}

func Presence(activeUsers []string) *Envelope {
	return &Envelope{Type: TypePresence, ActiveUsers: activeUsers}
}

func Errorf(format string, args ...any) *Envelope {
	return &Envelope{Type: TypeError, Message: fmt.Sprintf(format, args...)}
}
