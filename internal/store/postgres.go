package store

import (
	"database/sql"
	"time"

	"github.com/myzymo/realtime/internal/types"
)

const defaultListLimit = 50

type PgMessageStore struct {
	conn *sql.DB
}

func NewPgMessageStore(dsn string) (*PgMessageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgMessageStore{conn: db}, nil
}

func (s *PgMessageStore) SaveMessage(msg types.Message) error {
	_, err := s.conn.Exec(
		"INSERT INTO messages (id, event_id, sender_id, sender_name, content, "+
			"file_url, file_name, file_size, file_type, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		msg.Id,
		msg.EventId,
		msg.SenderId,
		msg.SenderName,
		msg.Content,
		msg.FileUrl,
		msg.FileName,
		msg.FileSize,
		msg.FileType,
		msg.CreatedAt,
	)

	return err
}

func (s *PgMessageStore) ListMessages(eventId string, before time.Time, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	rows, err := s.conn.Query(
		"SELECT id, event_id, sender_id, sender_name, content, "+
			"file_url, file_name, file_size, file_type, created_at "+
			"FROM messages WHERE event_id = $1 AND created_at < $2 "+
			"ORDER BY created_at DESC LIMIT $3",
		eventId,
		before,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(
			&m.Id,
			&m.EventId,
			&m.SenderId,
			&m.SenderName,
			&m.Content,
			&m.FileUrl,
			&m.FileName,
			&m.FileSize,
			&m.FileType,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (s *PgMessageStore) Ping() error {
	return s.conn.Ping()
}

func (s *PgMessageStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
