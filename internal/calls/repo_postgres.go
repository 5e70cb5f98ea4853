package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following table exists:
//
// CREATE TABLE call_logs (
//   id          UUID PRIMARY KEY,
//   caller_id   TEXT NOT NULL,
//   receiver_id TEXT NOT NULL,
//   status      TEXT NOT NULL,
//   started_at  TIMESTAMPTZ NOT NULL,
//   ended_at    TIMESTAMPTZ,
//   duration    INT
// );

var ErrInvalidArgument = errors.New("invalid argument")

// Store persists call logs in Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create appends one immutable call log row. The ID is assigned here.
func (s *Store) Create(ctx context.Context, l Log) (Log, error) {
	if l.CallerID == "" || l.ReceiverID == "" {
		return Log{}, fmt.Errorf("%w: caller and receiver are required", ErrInvalidArgument)
	}
	if !l.Status.Valid() {
		return Log{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, l.Status)
	}
	if l.StartedAt.IsZero() {
		return Log{}, fmt.Errorf("%w: started_at is required", ErrInvalidArgument)
	}
	l.ID = uuid.NewString()

	const q = `
INSERT INTO call_logs (id, caller_id, receiver_id, status, started_at, ended_at, duration)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := s.db.ExecContext(ctx, q,
		l.ID,
		l.CallerID,
		l.ReceiverID,
		l.Status,
		l.StartedAt,
		nullTime(l.EndedAt),
		nullInt(l.DurationSeconds),
	)
	if err != nil {
		return Log{}, fmt.Errorf("insert call log: %w", err)
	}
	return l, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
