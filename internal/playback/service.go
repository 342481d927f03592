// Package playback plays the spoken prompt of a question. Playback never
// blocks the exam flow: a broken or missing prompt resolves after a short
// delay and is reported only as advisory ErrPlaybackDegraded.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/model"
)

var ErrPlaybackDegraded = errors.New("prompt playback degraded")

const defaultFallbackDelay = 1500 * time.Millisecond

// Player plays one audio URL and returns when it ends or fails.
type Player interface {
	Play(ctx context.Context, url string) error
}

type Service struct {
	player   Player
	fallback time.Duration
	log      zerolog.Logger
}

// NewService creates a Service. A nil player makes every question resolve
// through the fallback delay.
func NewService(player Player, fallback time.Duration, log zerolog.Logger) *Service {
	if fallback <= 0 {
		fallback = defaultFallbackDelay
	}
	return &Service{
		player:   player,
		fallback: fallback,
		log:      log.With().Str("component", "playback_service").Logger(),
	}
}

// Play resolves when the prompt of q has finished. The only error that
// escapes is ctx's own cancellation; any other failure is downgraded to a
// returned ErrPlaybackDegraded that callers may log and ignore.
func (s *Service) Play(ctx context.Context, q model.Question) error {
	if !q.HasAudio() || s.player == nil {
		return s.wait(ctx)
	}

	err := s.player.Play(ctx, q.MediaURL)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	metrics.PlaybackDegraded.Inc()
	s.log.Warn().Err(err).Str("question_id", q.ID).Msg("Prompt playback failed, continuing")
	return fmt.Errorf("%w: question %s: %v", ErrPlaybackDegraded, q.ID, err)
}

func (s *Service) wait(ctx context.Context) error {
	t := time.NewTimer(s.fallback)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
