package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is the immutable ordered content of one speaking exam.
// It is loaded once before the microphone check and never mutated afterwards.
type ExamDefinition struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	Title     string    `json:"title" validate:"required,max=255"`
	Parts     []Part    `json:"parts" validate:"required,min=1,dive"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Part is an ordered, labelled group of questions.
type Part struct {
	ID        string     `json:"id" validate:"required"`
	Label     string     `json:"label" validate:"required,max=100"`
	Questions []Question `json:"questions" validate:"required,min=1,dive"`
}

// Question is one timed prompt. Prompt content is opaque to the engine
// (text, images, bullet points) and is only forwarded to the host.
type Question struct {
	ID           string          `json:"id" validate:"required"`
	PartID       string          `json:"part_id"`
	Prompt       json.RawMessage `json:"prompt"`
	PrepSeconds  int             `json:"prep_seconds" validate:"min=0,max=600"`
	SpeakSeconds int             `json:"speak_seconds" validate:"min=1,max=900"`
	MediaURL     string          `json:"media_url,omitempty" validate:"omitempty,url"`
}

// HasAudio reports whether the question carries a playable prompt handle.
func (q Question) HasAudio() bool {
	return q.MediaURL != ""
}

// Sequence flattens all parts into one ordered question list so the
// session can track its position with a single monotonic index.
// PartID is filled from the owning part.
func (d *ExamDefinition) Sequence() []Question {
	n := 0
	for _, p := range d.Parts {
		n += len(p.Questions)
	}
	seq := make([]Question, 0, n)
	for _, p := range d.Parts {
		for _, q := range p.Questions {
			q.PartID = p.ID
			seq = append(seq, q)
		}
	}
	return seq
}

// DuplicateQuestionID returns the first question ID used more than once
// across all parts. Recordings are keyed by question ID, so a repeated ID
// would make the second answer overwrite the first.
func (d *ExamDefinition) DuplicateQuestionID() (string, bool) {
	seen := make(map[string]struct{})
	for _, p := range d.Parts {
		for _, q := range p.Questions {
			if _, ok := seen[q.ID]; ok {
				return q.ID, true
			}
			seen[q.ID] = struct{}{}
		}
	}
	return "", false
}

// AllottedSeconds is the sum of every prep and speak window in the exam.
func (d *ExamDefinition) AllottedSeconds() int {
	total := 0
	for _, q := range d.Sequence() {
		total += q.PrepSeconds + q.SpeakSeconds
	}
	return total
}
