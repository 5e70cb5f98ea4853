package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NOTE: This service assumes a users table with at least:
//
//   id        TEXT PRIMARY KEY,
//   full_name TEXT NOT NULL

var ErrNotFound = errors.New("user not found")

const (
	cacheKeyPrefix  = "user:name:"
	defaultCacheTTL = 10 * time.Minute
)

// Service resolves a subject identifier to a display name. Lookups are
// fronted by Redis so the per-invite path avoids a database round trip
// for repeat callers. Cache failures are logged and degrade to the
// database; callers treat any error as "use a placeholder name".
type Service struct {
	db  *sql.DB
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewService(db *sql.DB, rdb *redis.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, rdb: rdb, ttl: defaultCacheTTL, log: log}
}

// DisplayName returns the user's display name, or ErrNotFound if no
// such user exists.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrNotFound
	}

	key := cacheKeyPrefix + userID
	if s.rdb != nil {
		name, err := s.rdb.Get(ctx, key).Result()
		if err == nil && name != "" {
			return name, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			s.log.Warn("directory cache read failed", "err", err)
		}
	}

	const q = `SELECT full_name FROM users WHERE id = $1`
	var name string
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query user name: %w", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, name, s.ttl).Err(); err != nil {
			s.log.Warn("directory cache write failed", "err", err)
		}
	}
	return name, nil
}
