// Package submission assembles finalized recordings into one upload
// payload and hands it to an Uploader.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/model"
)

var (
	// ErrSubmissionFailed is terminal for one Handoff. The caller keeps the
	// submission and may hand it off again.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrRejected marks an upload the endpoint refused. It is not retried.
	ErrRejected = errors.New("submission rejected")
)

const maxAttempts = 2

// Uploader delivers a submission to the scoring side.
type Uploader interface {
	Upload(ctx context.Context, sub *model.Submission) (*model.Receipt, error)
}

type Packager struct {
	uploader   Uploader
	retryDelay time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

func NewPackager(uploader Uploader, retryDelay time.Duration, log zerolog.Logger) *Packager {
	return &Packager{
		uploader:   uploader,
		retryDelay: retryDelay,
		log:        log.With().Str("component", "submission_packager").Logger(),
		now:        time.Now,
	}
}

// Build aggregates recordings in question order. Questions without a
// recording are listed as unanswered; flagged empty recordings are kept
// so the scorer can tell a capture failure from silence.
func (p *Packager) Build(
	examID, sessionID uuid.UUID,
	sequence []model.Question,
	recordings map[string]*model.Recording,
	elapsedSeconds int,
) *model.Submission {
	sub := &model.Submission{
		ExamID:              examID,
		SessionID:           sessionID,
		TotalElapsedSeconds: elapsedSeconds,
		Recordings:          make([]*model.Recording, 0, len(sequence)),
		SubmittedAt:         p.now(),
	}
	for _, q := range sequence {
		rec, ok := recordings[q.ID]
		if !ok || rec == nil {
			sub.Unanswered = append(sub.Unanswered, q.ID)
			continue
		}
		sub.Recordings = append(sub.Recordings, rec)
	}
	return sub
}

// Handoff uploads sub, retrying once after a transient failure.
func (p *Packager) Handoff(ctx context.Context, sub *model.Submission) (*model.Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		receipt, err := p.uploader.Upload(ctx, sub)
		if err == nil {
			metrics.SubmissionAttempts.WithLabelValues("ok").Inc()
			p.log.Info().
				Str("exam_id", sub.ExamID.String()).
				Str("receipt_id", receipt.ID).
				Int("attempt", attempt).
				Msg("Submission handed off")
			return receipt, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, ErrRejected) || attempt == maxAttempts {
			break
		}

		metrics.SubmissionAttempts.WithLabelValues("retry").Inc()
		p.log.Warn().Err(err).Int("attempt", attempt).Msg("Submission upload failed, retrying")
		if err := sleep(ctx, p.retryDelay); err != nil {
			lastErr = err
			break
		}
	}

	metrics.SubmissionAttempts.WithLabelValues("failed").Inc()
	p.log.Error().Err(lastErr).Str("exam_id", sub.ExamID.String()).Msg("Submission handoff failed")
	return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
