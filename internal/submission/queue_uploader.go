package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// QueuedSubmission is one entry of the persist queue.
type QueuedSubmission struct {
	ReceiptID  string            `json:"receipt_id"`
	AcceptedAt time.Time         `json:"accepted_at"`
	Submission *model.Submission `json:"submission"`
}

// QueueUploader pushes submissions onto a Redis list for the
// persistence worker. The receipt is issued at enqueue time.
type QueueUploader struct {
	rdb *redis.Client
	log zerolog.Logger

	newID func() string
	now   func() time.Time
}

func NewQueueUploader(rdb *redis.Client, log zerolog.Logger) *QueueUploader {
	return &QueueUploader{
		rdb:   rdb,
		log:   log.With().Str("component", "queue_uploader").Logger(),
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (u *QueueUploader) Upload(ctx context.Context, sub *model.Submission) (*model.Receipt, error) {
	item := QueuedSubmission{
		ReceiptID:  u.newID(),
		AcceptedAt: u.now().UTC(),
		Submission: sub,
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal submission: %v", ErrRejected, err)
	}

	if err := u.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, string(data)).Err(); err != nil {
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	u.log.Debug().
		Str("receipt_id", item.ReceiptID).
		Int("bytes", len(data)).
		Msg("Submission queued")
	return &model.Receipt{ID: item.ReceiptID, ExamID: sub.ExamID, AcceptedAt: item.AcceptedAt}, nil
}
