package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage enumerates the states of the exam flow.
type Stage string

const (
	StageIdle      Stage = "IDLE"
	StageReading   Stage = "READING"
	StagePreparing Stage = "PREPARING"
	StageSpeaking  Stage = "SPEAKING"
	StageComplete  Stage = "COMPLETE"
)

// Timed reports whether the stage is driven by the stage clock.
func (s Stage) Timed() bool {
	return s == StagePreparing || s == StageSpeaking
}

// Generation invalidates asynchronous callbacks issued for a stage that
// has already been left. It only ever increases within a session.
type Generation uint64

// SessionState is the runtime position of one candidate session.
type SessionState struct {
	SessionID        uuid.UUID  `json:"session_id"`
	ExamID           uuid.UUID  `json:"exam_id"`
	Index            int        `json:"index"`
	QuestionCount    int        `json:"question_count"`
	QuestionID       string     `json:"question_id,omitempty"`
	PartID           string     `json:"part_id,omitempty"`
	Stage            Stage      `json:"stage"`
	RemainingSeconds int        `json:"remaining_seconds"`
	TotalSeconds     int        `json:"total_seconds"`
	Generation       Generation `json:"generation"`
	// Halted is set while a fatal capture error awaits an explicit retry.
	Halted    bool      `json:"halted"`
	StartedAt time.Time `json:"started_at"`
}
