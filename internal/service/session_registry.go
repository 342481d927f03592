package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-speaking/internal/config"
)

var ErrSessionAlreadyActive = errors.New("candidate already has an active session for this exam")

// SessionRegistry enforces one live session per candidate and exam.
type SessionRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionRegistry creates a registry whose claims expire after ttl so
// a crashed host cannot lock a candidate out forever.
func NewSessionRegistry(rdb *redis.Client, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{rdb: rdb, ttl: ttl}
}

// Acquire claims the exam for the candidate.
func (r *SessionRegistry) Acquire(ctx context.Context, examID uuid.UUID, candidateID int, sessionID uuid.UUID) error {
	key := config.CacheKey.CandidateActiveSessionKey(examID.String(), strconv.Itoa(candidateID))
	ok, err := r.rdb.SetNX(ctx, key, sessionID.String(), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim session: %w", err)
	}
	if !ok {
		return ErrSessionAlreadyActive
	}
	return nil
}

// releaseScript deletes the claim only while it still holds the caller's
// session id, in one round trip.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the claim if it still belongs to sessionID. A newer
// session's claim is left alone.
func (r *SessionRegistry) Release(ctx context.Context, examID uuid.UUID, candidateID int, sessionID uuid.UUID) error {
	key := config.CacheKey.CandidateActiveSessionKey(examID.String(), strconv.Itoa(candidateID))
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, sessionID.String()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release session claim: %w", err)
	}
	return nil
}
