// Package micgate implements the one-time microphone pre-flight. A
// candidate must grant permission, record one non-empty test clip and
// play it back before a session may start.
package micgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/model"
)

var (
	ErrGateClosed         = errors.New("microphone check not passed")
	ErrPermissionRequired = errors.New("microphone permission not granted")
	ErrEmptyTestRecording = errors.New("test recording is empty")
	ErrNoTestRecording    = errors.New("no test recording to play back")
)

// testQuestionID keys the test clip inside the gate's private capture
// service. It never reaches a Submission.
const testQuestionID = "mic-check"

const defaultFlushTimeout = 3 * time.Second

// Status is the observable progress of the check.
type Status struct {
	PermissionGranted bool `json:"permission_granted"`
	Recording         bool `json:"recording"`
	Recorded          bool `json:"recorded"`
	PlayedBack        bool `json:"played_back"`
	CanStart          bool `json:"can_start"`
}

type Gate struct {
	backend      capture.Backend
	capture      *capture.Service
	flushTimeout time.Duration
	log          zerolog.Logger

	mu         sync.Mutex
	permission bool
	test       *model.Recording
	playedBack bool
}

// New creates a Gate over backend. The gate records through its own
// capture service so test clips never mix with exam recordings.
func New(backend capture.Backend, flushTimeout time.Duration, log zerolog.Logger) *Gate {
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Gate{
		backend:      backend,
		capture:      capture.NewService(backend, flushTimeout, log),
		flushTimeout: flushTimeout,
		log:          log.With().Str("component", "mic_gate").Logger(),
	}
}

// RequestPermission opens and immediately releases the microphone.
func (g *Gate) RequestPermission(ctx context.Context) error {
	stream, err := g.backend.Open(ctx)
	if err != nil {
		g.mu.Lock()
		g.permission = false
		g.mu.Unlock()
		if !errors.Is(err, capture.ErrPermissionDenied) && !errors.Is(err, capture.ErrDeviceUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		g.log.Info().Err(err).Msg("Microphone permission not granted")
		return err
	}
	// The stream is released even when the client never confirms the
	// flush, so a silent client cannot keep the microphone busy.
	closeCtx, cancel := context.WithTimeout(ctx, g.flushTimeout)
	err = stream.Close(closeCtx)
	cancel()
	if err != nil {
		g.log.Warn().Err(err).Msg("Closing permission probe stream failed")
	}

	g.mu.Lock()
	g.permission = true
	g.mu.Unlock()
	return nil
}

// BeginTest starts the test recording. A previous clip is discarded.
func (g *Gate) BeginTest(ctx context.Context) error {
	g.mu.Lock()
	granted := g.permission
	g.test = nil
	g.playedBack = false
	g.mu.Unlock()

	if !granted {
		return ErrPermissionRequired
	}
	if err := g.capture.Start(ctx, testQuestionID); err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) {
			g.mu.Lock()
			g.permission = false
			g.mu.Unlock()
		}
		return err
	}
	return nil
}

// EndTest stops the test recording and returns it for playback.
func (g *Gate) EndTest(ctx context.Context) (*model.Recording, error) {
	rec, err := g.capture.Stop(ctx)
	if rec == nil && err == nil {
		return nil, ErrNoTestRecording
	}
	if err != nil || rec.Empty() {
		g.log.Info().Err(err).Msg("Test recording empty")
		return nil, ErrEmptyTestRecording
	}

	g.mu.Lock()
	g.test = rec
	g.mu.Unlock()
	return rec, nil
}

// ConfirmPlayback records that the candidate listened to the test clip.
func (g *Gate) ConfirmPlayback() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.test == nil {
		return ErrNoTestRecording
	}
	g.playedBack = true
	return nil
}

// CanStart reports whether every pre-flight step has passed.
func (g *Gate) CanStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canStartLocked()
}

func (g *Gate) canStartLocked() bool {
	return g.permission && g.test != nil && !g.test.Empty() && g.playedBack
}

func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		PermissionGranted: g.permission,
		Recording:         g.capture.Active(),
		Recorded:          g.test != nil,
		PlayedBack:        g.playedBack,
		CanStart:          g.canStartLocked(),
	}
}

// Close stops an unfinished test recording and drops the test clip.
func (g *Gate) Close(ctx context.Context) {
	if _, err := g.capture.Stop(ctx); err != nil {
		g.log.Debug().Err(err).Msg("Discarded unfinished test recording")
	}
	g.capture.Release()
	g.mu.Lock()
	g.test = nil
	g.mu.Unlock()
}
