package types

import (
	"time"
)

type User struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Message is a chat message as persisted and as returned by the history
// API. Messages are append-only; the relay never mutates or deletes them.
type Message struct {
	Id         string    `json:"id"`
	EventId    string    `json:"eventId"`
	SenderId   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	FileUrl    string    `json:"fileUrl,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	FileSize   int64     `json:"fileSize,omitempty"`
	FileType   string    `json:"fileType,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
