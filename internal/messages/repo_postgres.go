package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
//
// CREATE TABLE chat_messages (
//   id              UUID PRIMARY KEY,
//   conversation_id TEXT NOT NULL,
//   sender_id       TEXT NOT NULL,
//   body            TEXT NOT NULL,
//   sent_at         TIMESTAMPTZ NOT NULL,
//   delivered_at    TIMESTAMPTZ,
//   read_at         TIMESTAMPTZ
// );
// CREATE INDEX ON chat_messages (conversation_id, sent_at);
//
// CREATE TABLE conversation_participants (
//   conversation_id TEXT NOT NULL,
//   user_id         TEXT NOT NULL,
//   PRIMARY KEY (conversation_id, user_id)
// );

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

// Store persists chat messages and answers conversation membership.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create appends one chat message. The ID is assigned here.
func (s *Store) Create(ctx context.Context, conversationID, senderID, body string, at time.Time) (Message, error) {
	if conversationID == "" || senderID == "" {
		return Message{}, fmt.Errorf("%w: conversation and sender are required", ErrInvalidArgument)
	}

	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		SentAt:         at,
	}

	const q = `
INSERT INTO chat_messages (id, conversation_id, sender_id, body, sent_at)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := s.db.ExecContext(ctx, q, m.ID, m.ConversationID, m.SenderID, m.Body, m.SentAt); err != nil {
		return Message{}, fmt.Errorf("insert chat message: %w", err)
	}
	return m, nil
}

// Participants returns the members of a conversation. ErrNotFound means
// the conversation is unknown to the store; callers decide whether to
// degrade to a wider delivery.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation is required", ErrInvalidArgument)
	}

	const q = `
SELECT user_id
FROM conversation_participants
WHERE conversation_id = $1
`
	rows, err := s.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
