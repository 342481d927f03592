package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// ExamRepository loads speaking exam definitions.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetDefinition loads a published exam with its parts and questions in
// order. It returns pgx.ErrNoRows when no published exam has id.
func (r *ExamRepository) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	def := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, updated_at
		 FROM speaking_exams
		 WHERE id = $1 AND status = 'PUBLISHED'`, id,
	).Scan(&def.ID, &def.Title, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.label,
		        q.id, q.prompt, q.prep_seconds, q.speak_seconds, COALESCE(q.media_url, '')
		 FROM exam_parts p
		 JOIN exam_questions q ON q.exam_id = p.exam_id AND q.part_id = p.id
		 WHERE p.exam_id = $1
		 ORDER BY p.order_num, q.order_num`, id)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			partID, label string
			q             model.Question
		)
		if err := rows.Scan(&partID, &label,
			&q.ID, &q.Prompt, &q.PrepSeconds, &q.SpeakSeconds, &q.MediaURL); err != nil {
			return nil, err
		}
		q.PartID = partID

		if n := len(def.Parts); n == 0 || def.Parts[n-1].ID != partID {
			def.Parts = append(def.Parts, model.Part{ID: partID, Label: label})
		}
		last := &def.Parts[len(def.Parts)-1]
		last.Questions = append(last.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return def, nil
}
