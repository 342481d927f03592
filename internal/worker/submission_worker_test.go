package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	err    error
	saved  []string
	onSave func()
}

func (f *fakeStore) Save(_ context.Context, receiptID string, _ time.Time, _ *model.Submission) error {
	if f.onSave != nil {
		f.onSave()
	}
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, receiptID)
	return nil
}

func queued(t *testing.T, receiptID string) string {
	t.Helper()
	data, err := json.Marshal(submission.QueuedSubmission{
		ReceiptID:  receiptID,
		AcceptedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Submission: &model.Submission{
			ExamID:     uuid.New(),
			Recordings: []*model.Recording{{QuestionID: "q1", MimeType: model.MimeTypeWAV, Bytes: []byte("RIFF")}},
		},
	})
	require.NoError(t, err)
	return string(data)
}

func TestProcessNextPersists(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	mock.ExpectBLPop(PollTimeout, key).SetVal([]string{key, queued(t, "r-1")})

	store := &fakeStore{}
	w := NewSubmissionWorker(store, db, zerolog.Nop())
	w.processNext(context.Background())

	assert.Equal(t, []string{"r-1"}, store.saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessNextRequeuesOnStoreError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	raw := queued(t, "r-2")
	mock.ExpectBLPop(PollTimeout, key).SetVal([]string{key, raw})
	mock.ExpectRPush(key, raw).SetVal(1)

	w := NewSubmissionWorker(&fakeStore{err: errors.New("db down")}, db, zerolog.Nop())
	w.retryPause = time.Millisecond
	w.processNext(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessNextDropsMalformed(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	mock.ExpectBLPop(PollTimeout, key).SetVal([]string{key, "{not json"})

	store := &fakeStore{}
	w := NewSubmissionWorker(store, db, zerolog.Nop())
	w.processNext(context.Background())

	assert.Empty(t, store.saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrain(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	mock.ExpectLPop(key).SetVal(queued(t, "r-3"))
	mock.ExpectLPop(key).SetVal(queued(t, "r-4"))
	mock.ExpectLPop(key).RedisNil()

	store := &fakeStore{}
	NewSubmissionWorker(store, db, zerolog.Nop()).drain(context.Background())

	assert.Equal(t, []string{"r-3", "r-4"}, store.saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessNextRequeuesWhenShutdownInterruptsSave(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	raw := queued(t, "r-5")
	mock.ExpectBLPop(PollTimeout, key).SetVal([]string{key, raw})
	mock.ExpectRPush(key, raw).SetVal(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &fakeStore{err: context.Canceled, onSave: cancel}

	w := NewSubmissionWorker(store, db, zerolog.Nop())
	w.processNext(ctx)

	assert.Empty(t, store.saved)
	assert.NoError(t, mock.ExpectationsWereMet(), "entry must be pushed back")
}

func TestDrainRequeuesOnStoreError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	raw := queued(t, "r-6")
	mock.ExpectLPop(key).SetVal(raw)
	mock.ExpectRPush(key, raw).SetVal(1)

	NewSubmissionWorker(&fakeStore{err: errors.New("db down")}, db, zerolog.Nop()).drain(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueContextOutlivesShutdown(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, done := requeueContext(parent)
	defer done()
	assert.NoError(t, ctx.Err(), "requeue must run after the worker context is cancelled")
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(requeueTimeout), deadline, time.Second)
}

func TestRequeueFailureLogsReceipt(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := config.WorkerKey.PersistSubmissionsQueue
	raw := queued(t, "r-7")
	mock.ExpectBLPop(PollTimeout, key).SetVal([]string{key, raw})
	mock.ExpectRPush(key, raw).SetErr(errors.New("connection reset"))

	var buf bytes.Buffer
	w := NewSubmissionWorker(&fakeStore{err: errors.New("db down")}, db, zerolog.New(&buf))
	w.retryPause = time.Millisecond
	w.processNext(context.Background())

	assert.Contains(t, buf.String(), "Requeue failed")
	assert.Contains(t, buf.String(), `"receipt_id":"r-7"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
