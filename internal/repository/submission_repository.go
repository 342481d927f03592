package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// SubmissionRepository stores accepted submissions and their audio.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Save writes the submission and its recordings in one transaction.
// Saving the same receipt twice is a no-op, so queue redeliveries are safe.
func (r *SubmissionRepository) Save(ctx context.Context, receiptID string, acceptedAt time.Time, sub *model.Submission) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	unanswered := sub.Unanswered
	if unanswered == nil {
		unanswered = []string{}
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO speaking_submissions
		   (receipt_id, exam_id, session_id, total_elapsed_seconds, unanswered, submitted_at, accepted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (receipt_id) DO NOTHING`,
		receiptID, sub.ExamID, sub.SessionID, sub.TotalElapsedSeconds,
		unanswered, sub.SubmittedAt, acceptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if len(sub.Recordings) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"speaking_recordings"},
			[]string{"receipt_id", "question_id", "mime_type", "audio", "duration_seconds", "failed"},
			pgx.CopyFromSlice(len(sub.Recordings), func(i int) ([]interface{}, error) {
				rec := sub.Recordings[i]
				return []interface{}{receiptID, rec.QuestionID, rec.MimeType, rec.Bytes, rec.DurationSeconds, rec.Failed}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy recordings: %w", err)
		}
	}

	return tx.Commit(ctx)
}
