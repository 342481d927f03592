package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/submission"
)

const (
	PollTimeout       = time.Second
	defaultRetryPause = 5 * time.Second
	requeueTimeout    = 5 * time.Second
)

// SubmissionStore persists a queued submission.
type SubmissionStore interface {
	Save(ctx context.Context, receiptID string, acceptedAt time.Time, sub *model.Submission) error
}

// SubmissionWorker consumes persist_submissions_queue and writes each
// submission with its audio to PostgreSQL.
type SubmissionWorker struct {
	store      SubmissionStore
	rdb        *redis.Client
	log        zerolog.Logger
	retryPause time.Duration
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(store SubmissionStore, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "submission_worker").Logger(),
		retryPause: defaultRetryPause,
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistSubmissionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.persist(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Dur("pause", w.retryPause).Msg("Persist error, requeueing")
		w.requeue(ctx, result[1])
		pause(ctx, w.retryPause)
	}
}

// requeue puts a popped entry back at the tail of the queue. It is not
// bound to ctx, so an entry whose save failed during shutdown stays queued.
func (w *SubmissionWorker) requeue(ctx context.Context, raw string) {
	rctx, cancel := requeueContext(ctx)
	defer cancel()

	if err := w.rdb.RPush(rctx, config.WorkerKey.PersistSubmissionsQueue, raw).Err(); err != nil {
		var item submission.QueuedSubmission
		_ = json.Unmarshal([]byte(raw), &item)
		w.log.Error().
			Err(err).
			Str("receipt_id", item.ReceiptID).
			Int("bytes", len(raw)).
			Msg("Requeue failed, submission lost")
	}
}

// persist returns an error only for failures worth retrying. Malformed
// entries are logged and dropped.
func (w *SubmissionWorker) persist(ctx context.Context, raw string) error {
	var item submission.QueuedSubmission
	if err := json.Unmarshal([]byte(raw), &item); err != nil || item.Submission == nil || item.ReceiptID == "" {
		w.log.Error().Err(err).Msg("Dropping malformed submission entry")
		return nil
	}

	if err := w.store.Save(ctx, item.ReceiptID, item.AcceptedAt, item.Submission); err != nil {
		return err
	}

	w.log.Info().
		Str("receipt_id", item.ReceiptID).
		Str("exam_id", item.Submission.ExamID.String()).
		Int("recordings", len(item.Submission.Recordings)).
		Msg("Submission persisted")
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *SubmissionWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSubmissionsQueue).Result()
		if err != nil {
			break
		}
		if err := w.persist(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(ctx, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func requeueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
