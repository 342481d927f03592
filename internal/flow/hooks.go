package flow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// Hooks are the host callbacks. All of them run on the controller's loop
// goroutine, so they must not block. A panicking hook is recovered and
// logged. Nil hooks are skipped.
type Hooks struct {
	OnStageChange func(state model.SessionState)
	OnTick        func(state model.SessionState)
	// OnError receives every error the session absorbs or halts on.
	// Use IsFatal to tell them apart.
	OnError     func(err error)
	OnComplete  func(sub *model.Submission)
	OnSubmitted func(receipt *model.Receipt)
}

// Recorder captures one question at a time.
type Recorder interface {
	Start(ctx context.Context, questionID string) error
	Stop(ctx context.Context) (*model.Recording, error)
	Recordings() map[string]*model.Recording
	Release()
}

// Prompter plays a question's prompt and returns once it has finished.
type Prompter interface {
	Play(ctx context.Context, q model.Question) error
}

// Packager turns finalized recordings into a submission and uploads it.
type Packager interface {
	Build(examID, sessionID uuid.UUID, sequence []model.Question, recordings map[string]*model.Recording, elapsedSeconds int) *model.Submission
	Handoff(ctx context.Context, sub *model.Submission) (*model.Receipt, error)
}

// Gate reports whether the microphone pre-flight has passed.
type Gate interface {
	CanStart() bool
}

// IsFatal reports whether err halts the session until Retry.
func IsFatal(err error) bool {
	return errors.Is(err, capture.ErrPermissionDenied) || errors.Is(err, capture.ErrDeviceUnavailable)
}

var _ Recorder = (*capture.Service)(nil)
