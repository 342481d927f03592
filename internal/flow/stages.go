package flow

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/playback"
)

type (
	evTick struct {
		gen       model.Generation
		remaining int
	}

	evExpire struct {
		gen model.Generation
	}

	evPlaybackDone struct {
		gen model.Generation
		err error
	}

	evCaptureStopped struct {
		gen model.Generation
		rec *model.Recording
		err error
	}

	evSkip struct {
		gen model.Generation
	}

	evRetry struct{}

	evHandoff struct {
		receipt *model.Receipt
		err     error
	}

	evResubmit struct {
		reply chan error
	}
)

func (c *Controller) question() model.Question {
	return c.sequence[c.state.Index]
}

// advanceGeneration invalidates every callback issued so far and gives
// the next stage a fresh context.
func (c *Controller) advanceGeneration() (model.Generation, context.Context) {
	if c.stageCancel != nil {
		c.stageCancel()
	}
	c.state.Generation++
	c.gen.Store(uint64(c.state.Generation))

	var stageCtx context.Context
	stageCtx, c.stageCancel = context.WithCancel(c.ctx)
	return c.state.Generation, stageCtx
}

func (c *Controller) enterQuestion(index int) {
	c.state.Index = index
	q := c.question()
	c.state.QuestionID = q.ID
	c.state.PartID = q.PartID

	gen, stageCtx := c.advanceGeneration()
	c.setStage(model.StageReading, 0)

	c.async(func() {
		err := c.prompter.Play(stageCtx, q)
		c.post(evPlaybackDone{gen: gen, err: err})
	})
}

func (c *Controller) enterPreparing() {
	gen, _ := c.advanceGeneration()
	secs := c.question().PrepSeconds
	c.setStage(model.StagePreparing, secs)
	c.armClock(gen, secs)
}

func (c *Controller) enterSpeaking() {
	gen, _ := c.advanceGeneration()
	q := c.question()
	c.state.Halted = false

	if err := c.recorder.Start(c.ctx, q.ID); err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.state.Halted = true
		c.setStage(model.StageSpeaking, q.SpeakSeconds)
		c.log.Error().Err(err).Str("question_id", q.ID).Msg("Capture failed to start, session halted")
		c.reportError(err)
		return
	}

	c.setStage(model.StageSpeaking, q.SpeakSeconds)
	c.armClock(gen, q.SpeakSeconds)
}

// leaveSpeaking ends the answer window and waits for the capture to
// finalize off the loop. The stage stays Speaking until it has.
func (c *Controller) leaveSpeaking(spent int) {
	c.clock.Cancel()
	c.elapsed += spent
	c.finalizing = true
	gen, _ := c.advanceGeneration()
	c.publish()

	c.async(func() {
		rec, err := c.recorder.Stop(c.ctx)
		c.post(evCaptureStopped{gen: gen, rec: rec, err: err})
	})
}

func (c *Controller) complete() {
	c.clock.Cancel()
	c.advanceGeneration()
	c.setStage(model.StageComplete, 0)

	c.submission = c.packager.Build(c.exam.ID, c.sessionID, c.sequence, c.recorder.Recordings(), c.elapsed)
	c.log.Info().
		Int("recordings", len(c.submission.Recordings)).
		Int("unanswered", len(c.submission.Unanswered)).
		Int("elapsed_s", c.elapsed).
		Msg("Session complete")
	c.invoke("OnComplete", func() {
		if c.hooks.OnComplete != nil {
			c.hooks.OnComplete(c.submission)
		}
	})
	c.startHandoff()
}

func (c *Controller) startHandoff() {
	c.handoffBusy = true
	sub := c.submission
	c.async(func() {
		receipt, err := c.packager.Handoff(c.ctx, sub)
		c.post(evHandoff{receipt: receipt, err: err})
	})
}

func (c *Controller) armClock(gen model.Generation, seconds int) {
	c.clock.Start(seconds,
		func(remaining int) { c.post(evTick{gen: gen, remaining: remaining}) },
		func() { c.post(evExpire{gen: gen}) },
	)
}

func (c *Controller) onTick(e evTick) {
	if e.gen != c.state.Generation || !c.state.Stage.Timed() {
		return
	}
	c.state.RemainingSeconds = e.remaining
	c.publish()
	c.invoke("OnTick", func() {
		if c.hooks.OnTick != nil {
			c.hooks.OnTick(c.state)
		}
	})
}

func (c *Controller) onExpire(e evExpire) {
	if e.gen != c.state.Generation {
		return
	}
	switch c.state.Stage {
	case model.StagePreparing:
		c.elapsed += c.state.TotalSeconds
		c.enterSpeaking()
	case model.StageSpeaking:
		c.leaveSpeaking(c.state.TotalSeconds)
	}
}

func (c *Controller) onPlaybackDone(e evPlaybackDone) {
	if e.gen != c.state.Generation || c.state.Stage != model.StageReading {
		return
	}
	if e.err != nil {
		if errors.Is(e.err, playback.ErrPlaybackDegraded) {
			c.reportError(e.err)
		} else if c.ctx.Err() != nil {
			return
		}
	}
	c.enterPreparing()
}

func (c *Controller) onCaptureStopped(e evCaptureStopped) {
	if e.gen != c.state.Generation {
		return
	}
	c.finalizing = false
	if e.rec != nil {
		c.log.Debug().
			Str("question_id", e.rec.QuestionID).
			Float64("duration_s", e.rec.DurationSeconds).
			Msg("Answer finalized")
	}
	if e.err != nil {
		// The flagged empty recording is already stored.
		c.reportError(e.err)
	}

	if next := c.state.Index + 1; next < len(c.sequence) {
		c.enterQuestion(next)
		return
	}
	c.complete()
}

func (c *Controller) onSkip(e evSkip) {
	if e.gen != c.state.Generation || c.finalizing || c.state.Halted {
		return
	}
	switch c.state.Stage {
	case model.StageReading:
		c.enterPreparing()
	case model.StagePreparing:
		c.elapsed += c.spent()
		c.clock.Cancel()
		c.enterSpeaking()
	case model.StageSpeaking:
		c.leaveSpeaking(c.spent())
	}
}

// spent returns the seconds used of the active timed stage.
func (c *Controller) spent() int {
	used := c.state.TotalSeconds - c.clock.Remaining()
	if used < 0 {
		return 0
	}
	return used
}

func (c *Controller) onRetry() {
	if c.state.Stage != model.StageSpeaking || !c.state.Halted {
		return
	}
	c.log.Info().Str("question_id", c.state.QuestionID).Msg("Retrying capture")
	c.enterSpeaking()
}

func (c *Controller) onHandoff(e evHandoff) bool {
	c.handoffBusy = false
	if e.err != nil {
		if c.ctx.Err() != nil {
			return false
		}
		c.reportError(e.err)
		return false
	}

	c.submitted = true
	c.recorder.Release()
	for _, rec := range c.submission.Recordings {
		rec.Bytes = nil
	}
	c.invoke("OnSubmitted", func() {
		if c.hooks.OnSubmitted != nil {
			c.hooks.OnSubmitted(e.receipt)
		}
	})
	c.log.Info().Str("receipt_id", e.receipt.ID).Msg("Session closed after submission")
	c.discard()
	return true
}

func (c *Controller) onResubmit() error {
	switch {
	case c.state.Stage != model.StageComplete:
		return ErrNotComplete
	case c.submitted:
		return ErrAlreadySubmitted
	case c.handoffBusy:
		return ErrHandoffInProgress
	}
	c.startHandoff()
	return nil
}

// teardown releases exactly what the current stage holds.
func (c *Controller) teardown() {
	c.clock.Cancel()
	if c.stageCancel != nil {
		c.stageCancel()
	}
	if _, err := c.recorder.Stop(context.WithoutCancel(c.ctx)); err != nil {
		c.log.Debug().Err(err).Msg("Discarded in-flight recording")
	}
	c.log.Info().
		Str("stage", string(c.state.Stage)).
		Str("question_id", c.state.QuestionID).
		Msg("Session abandoned")
	c.discard()
}

func (c *Controller) discard() {
	if c.stageCancel != nil {
		c.stageCancel()
	}
	c.submission = nil
	c.state = model.SessionState{SessionID: c.sessionID, ExamID: c.exam.ID, Stage: model.StageIdle}
	c.publish()
}

func (c *Controller) setStage(stage model.Stage, seconds int) {
	c.state.Stage = stage
	c.state.TotalSeconds = seconds
	c.state.RemainingSeconds = seconds
	c.publish()

	metrics.StageTransitions.WithLabelValues(string(stage)).Inc()
	c.log.Debug().
		Str("stage", string(stage)).
		Str("question_id", c.state.QuestionID).
		Int("seconds", seconds).
		Msg("Stage entered")
	c.invoke("OnStageChange", func() {
		if c.hooks.OnStageChange != nil {
			c.hooks.OnStageChange(c.state)
		}
	})
}

func (c *Controller) reportError(err error) {
	c.invoke("OnError", func() {
		if c.hooks.OnError != nil {
			c.hooks.OnError(err)
		}
	})
}

func (c *Controller) invoke(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("hook", hook).Msg("Host callback panicked")
		}
	}()
	fn()
}

func (c *Controller) publish() {
	c.snapMu.Lock()
	c.snapshot = c.state
	c.snapMu.Unlock()
}
