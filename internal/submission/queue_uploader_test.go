package submission

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedQueueUploader(t *testing.T) (*QueueUploader, redismock.ClientMock, time.Time) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	u := NewQueueUploader(db, zerolog.Nop())
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	u.newID = func() string { return "rcpt-fixed" }
	u.now = func() time.Time { return at }
	return u, mock, at
}

func TestQueueUploaderPushesSubmission(t *testing.T) {
	u, mock, at := fixedQueueUploader(t)
	sub := testSubmission()

	expected, err := json.Marshal(QueuedSubmission{ReceiptID: "rcpt-fixed", AcceptedAt: at, Submission: sub})
	require.NoError(t, err)
	mock.ExpectRPush(config.WorkerKey.PersistSubmissionsQueue, string(expected)).SetVal(1)

	receipt, err := u.Upload(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, "rcpt-fixed", receipt.ID)
	assert.Equal(t, sub.ExamID, receipt.ExamID)
	assert.Equal(t, at, receipt.AcceptedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueUploaderRedisFailureIsTransient(t *testing.T) {
	u, mock, at := fixedQueueUploader(t)
	sub := testSubmission()

	expected, err := json.Marshal(QueuedSubmission{ReceiptID: "rcpt-fixed", AcceptedAt: at, Submission: sub})
	require.NoError(t, err)
	mock.ExpectRPush(config.WorkerKey.PersistSubmissionsQueue, string(expected)).SetErr(errors.New("connection refused"))

	_, err = u.Upload(context.Background(), sub)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
	assert.NoError(t, mock.ExpectationsWereMet())
}
