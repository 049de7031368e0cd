package store

import (
	"time"

	"github.com/myzymo/realtime/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) SaveMessage(msg types.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockMessageStore) ListMessages(eventId string, before time.Time, limit int) ([]types.Message, error) {
	args := m.Called(eventId, before, limit)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessageStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
