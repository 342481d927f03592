package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSessionRegistryAcquire(t *testing.T) {
	examID, sessionID := uuid.New(), uuid.New()
	key := config.CacheKey.CandidateActiveSessionKey(examID.String(), strconv.Itoa(7))

	db, mock := redismock.NewClientMock()
	mock.ExpectSetNX(key, sessionID.String(), time.Hour).SetVal(true)
	mock.ExpectSetNX(key, sessionID.String(), time.Hour).SetVal(false)
	mock.ExpectSetNX(key, sessionID.String(), time.Hour).SetErr(errors.New("conn refused"))

	r := NewSessionRegistry(db, time.Hour)
	ctx := context.Background()
	assert.NoError(t, r.Acquire(ctx, examID, 7, sessionID))
	assert.ErrorIs(t, r.Acquire(ctx, examID, 7, sessionID), ErrSessionAlreadyActive)
	err := r.Acquire(ctx, examID, 7, sessionID)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionAlreadyActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRegistryReleaseIsCompareAndDelete(t *testing.T) {
	examID, sessionID := uuid.New(), uuid.New()
	key := config.CacheKey.CandidateActiveSessionKey(examID.String(), strconv.Itoa(7))

	tests := []struct {
		name    string
		deleted int64
		err     error
		wantErr bool
	}{
		{name: "own claim deleted", deleted: 1},
		{name: "claim taken by newer session kept", deleted: 0},
		{name: "redis down", err: errors.New("conn refused"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			// GET and DEL run inside one script, never as separate commands.
			exp := mock.ExpectEvalSha(releaseScript.Hash(), []string{key}, sessionID.String())
			if tt.err != nil {
				exp.SetErr(tt.err)
			} else {
				exp.SetVal(tt.deleted)
			}

			err := NewSessionRegistry(db, time.Hour).Release(context.Background(), examID, 7, sessionID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
