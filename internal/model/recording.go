package model

import "time"

// MimeTypeWAV is the container produced by the capture service.
const MimeTypeWAV = "audio/wav"

// Recording is the finalized audio answer for one question.
type Recording struct {
	QuestionID string `json:"question_id"`
	MimeType   string `json:"mime_type"`
	Bytes      []byte `json:"bytes"`
	// DurationSeconds is derived from the encoded PCM length.
	DurationSeconds float64   `json:"duration_seconds"`
	Failed          bool      `json:"failed,omitempty"`
	FinalizedAt     time.Time `json:"finalized_at"`
}

// Empty reports whether the recording carries no audio.
func (r *Recording) Empty() bool {
	return r == nil || len(r.Bytes) == 0
}
