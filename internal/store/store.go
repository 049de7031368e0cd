package store

import (
	"time"

	"github.com/myzymo/realtime/internal/types"
)

// MessageStore persists chat messages. Durability is owned by the store;
// the relay only appends and reads back history.
type MessageStore interface {
	SaveMessage(msg types.Message) error
	ListMessages(eventId string, before time.Time, limit int) ([]types.Message, error)
	Ping() error
	Close() error
}
