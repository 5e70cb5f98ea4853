package messages

import "time"

// Message is one durable chat message. The JSON keys follow the wire
// protocol spoken by clients (camelCase), not the storage columns.
// The relay treats rows as append-only; delivered/read receipts are
// recorded by a later propagation step, not mutated here.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	SenderID       string    `json:"sender" db:"sender_id"`
	Body           string    `json:"body" db:"body"`
	SentAt         time.Time `json:"timestamp" db:"sent_at"`

	DeliveredAt *time.Time `json:"deliveredAt,omitempty" db:"delivered_at"`
	ReadAt      *time.Time `json:"readAt,omitempty" db:"read_at"`
}
