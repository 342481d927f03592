package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is the single upload payload built when a session completes.
type Submission struct {
	ExamID              uuid.UUID    `json:"exam_id"`
	SessionID           uuid.UUID    `json:"session_id"`
	TotalElapsedSeconds int          `json:"total_elapsed_seconds"`
	Recordings          []*Recording `json:"recordings"`
	// Unanswered lists questions without a recording, in exam order.
	Unanswered  []string  `json:"unanswered,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Receipt is returned by the submission endpoint once it accepts a payload.
type Receipt struct {
	ID         string    `json:"id"`
	ExamID     uuid.UUID `json:"exam_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}
