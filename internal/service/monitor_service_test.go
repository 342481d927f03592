package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	examID := uuid.New()
	ev := MonitorEvent{
		Type:        MonitorStage,
		SessionID:   uuid.New(),
		CandidateID: 42,
		QuestionID:  "q1",
		Stage:       model.StageSpeaking,
		At:          time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	mock.ExpectPublish(config.CacheKey.ExamMonitorChannel(examID.String()), data).SetVal(1)

	NewMonitorService(db, zerolog.Nop()).Publish(context.Background(), examID, ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRegistry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	examID, sessionID := uuid.New(), uuid.New()
	key := config.CacheKey.CandidateActiveSessionKey(examID.String(), "7")
	reg := NewSessionRegistry(db, time.Hour)
	ctx := context.Background()

	mock.ExpectSetNX(key, sessionID.String(), time.Hour).SetVal(true)
	require.NoError(t, reg.Acquire(ctx, examID, 7, sessionID))

	mock.ExpectSetNX(key, uuid.Nil.String(), time.Hour).SetVal(false)
	assert.ErrorIs(t, reg.Acquire(ctx, examID, 7, uuid.Nil), ErrSessionAlreadyActive)

	mock.ExpectGet(key).SetVal(sessionID.String())
	mock.ExpectDel(key).SetVal(1)
	require.NoError(t, reg.Release(ctx, examID, 7, sessionID))

	mock.ExpectGet(key).SetVal(sessionID.String())
	require.NoError(t, reg.Release(ctx, examID, 7, uuid.New()), "foreign session leaves the claim")

	assert.NoError(t, mock.ExpectationsWereMet())
}
