// Package flow sequences a candidate through the timed stages of every
// question. A Controller runs one event loop goroutine which is the only
// writer of the session state; clock ticks, playback results, capture
// stops and upload results are posted to it tagged with the generation
// they were issued under, and anything from an older generation is
// dropped.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/micgate"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/stageclock"
)

var (
	ErrEmptyExam         = errors.New("exam has no questions")
	ErrDuplicateQuestion = errors.New("duplicate question id")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrSessionClosed     = errors.New("session closed")
	ErrNotComplete       = errors.New("session not complete")
	ErrAlreadySubmitted  = errors.New("submission already accepted")
	ErrHandoffInProgress = errors.New("submission handoff in progress")
)

const eventBuffer = 64

type Option func(*Controller)

// WithClock passes options to the stage clock.
func WithClock(opts ...stageclock.Option) Option {
	return func(c *Controller) { c.clockOpts = append(c.clockOpts, opts...) }
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id uuid.UUID) Option {
	return func(c *Controller) { c.sessionID = id }
}

type Controller struct {
	exam     *model.ExamDefinition
	sequence []model.Question
	recorder Recorder
	prompter Prompter
	packager Packager
	hooks    Hooks
	log      zerolog.Logger

	clockOpts []stageclock.Option
	clock     *stageclock.Clock
	sessionID uuid.UUID

	events   chan any
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	gen      atomic.Uint64
	started  atomic.Bool
	live     atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	snapMu   sync.Mutex
	snapshot model.SessionState

	// Owned by the loop goroutine.
	state       model.SessionState
	stageCancel context.CancelFunc
	finalizing  bool
	elapsed     int
	submission  *model.Submission
	handoffBusy bool
	submitted   bool
}

// New creates a Controller for exam. The exam must not change while the
// session runs.
func New(
	exam *model.ExamDefinition,
	recorder Recorder,
	prompter Prompter,
	packager Packager,
	hooks Hooks,
	log zerolog.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		exam:      exam,
		sequence:  exam.Sequence(),
		recorder:  recorder,
		prompter:  prompter,
		packager:  packager,
		hooks:     hooks,
		sessionID: uuid.New(),
		events:    make(chan any, eventBuffer),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = stageclock.New(c.clockOpts...)
	c.log = log.With().
		Str("component", "flow_controller").
		Str("exam_id", exam.ID.String()).
		Str("session_id", c.sessionID.String()).
		Logger()
	return c
}

func (c *Controller) SessionID() uuid.UUID { return c.sessionID }

// Start creates the session state and enters the first question. It
// refuses to start until gate reports the microphone check passed.
// Cancelling ctx abandons the session.
func (c *Controller) Start(ctx context.Context, gate Gate) error {
	if gate == nil || !gate.CanStart() {
		return micgate.ErrGateClosed
	}
	if len(c.sequence) == 0 {
		return ErrEmptyExam
	}
	if id, dup := c.exam.DuplicateQuestionID(); dup {
		return fmt.Errorf("%w: %s", ErrDuplicateQuestion, id)
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state = model.SessionState{
		SessionID:     c.sessionID,
		ExamID:        c.exam.ID,
		QuestionCount: len(c.sequence),
		Stage:         model.StageIdle,
		StartedAt:     time.Now(),
	}
	c.publish()

	metrics.SessionsActive.Inc()
	c.log.Info().Int("questions", len(c.sequence)).Msg("Session started")

	c.live.Store(true)
	go c.run()
	return nil
}

// State returns a copy of the current session state.
func (c *Controller) State() model.SessionState {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snapshot
}

// Done is closed once the session has ended and every resource it held
// is released.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Skip fast-forwards the current stage. Skips issued for a stage that has
// already been left are ignored, so repeated calls advance only once.
func (c *Controller) Skip() {
	c.post(evSkip{gen: model.Generation(c.gen.Load())})
}

// Retry re-enters Speaking for the current question after a fatal
// capture error.
func (c *Controller) Retry() {
	c.post(evRetry{})
}

// Resubmit hands the completed submission off again after a failure.
func (c *Controller) Resubmit(ctx context.Context) error {
	if !c.live.Load() {
		return ErrNotComplete
	}
	reply := make(chan error, 1)
	select {
	case c.events <- evResubmit{reply: reply}:
	case <-c.stopping:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.stopping:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abandon cancels the active stage, stops any recording, releases the
// microphone and discards the session. It returns once teardown is done.
func (c *Controller) Abandon() {
	if !c.live.Load() {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Controller) post(ev any) {
	if !c.live.Load() {
		return
	}
	select {
	case c.events <- ev:
	case <-c.stopping:
	}
}

// async runs fn on a tracked goroutine so teardown can wait for it.
func (c *Controller) async(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Controller) run() {
	defer func() {
		c.cancel()
		close(c.stopping)
		c.wg.Wait()
		c.recorder.Release()
		metrics.SessionsActive.Dec()
		close(c.done)
	}()

	c.enterQuestion(0)

	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			if c.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the loop must exit.
func (c *Controller) handle(ev any) bool {
	switch e := ev.(type) {
	case evTick:
		c.onTick(e)
	case evExpire:
		c.onExpire(e)
	case evPlaybackDone:
		c.onPlaybackDone(e)
	case evCaptureStopped:
		c.onCaptureStopped(e)
	case evSkip:
		c.onSkip(e)
	case evRetry:
		c.onRetry()
	case evHandoff:
		return c.onHandoff(e)
	case evResubmit:
		e.reply <- c.onResubmit()
	}
	return false
}
