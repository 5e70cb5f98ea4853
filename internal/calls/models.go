package calls

import "time"

// Log is the durable record of a terminated call. It is derived exactly
// once from the in-memory active-call state when a terminal signaling
// event arrives, and never mutated afterwards.
//
// Status semantics: "completed" iff the computed duration exceeds the
// answer threshold; a call torn down faster than that after the invite
// is recorded as "missed". "declined" is recorded when the receiver
// explicitly rejects before answering.
type Log struct {
	ID         string `json:"id" db:"id"`
	CallerID   string `json:"caller_id" db:"caller_id"`
	ReceiverID string `json:"receiver_id" db:"receiver_id"`

	Status Status `json:"status" db:"status"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is present only for completed calls.
	DurationSeconds *int `json:"duration,omitempty" db:"duration"`
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusDeclined  Status = "declined"
)

// Valid reports whether s is one of the recordable terminal statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusDeclined:
		return true
	default:
		return false
	}
}
