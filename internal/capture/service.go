package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/model"
)

const defaultFlushTimeout = 3 * time.Second

// Service records one question at a time and keeps the finalized
// Recordings keyed by question ID. A retake overwrites the earlier take.
type Service struct {
	backend      Backend
	log          zerolog.Logger
	flushTimeout time.Duration
	now          func() time.Time

	mu         sync.Mutex
	active     *session
	recordings map[string]*model.Recording
}

// session buffers the chunks of one open stream.
type session struct {
	questionID string
	stream     Stream
	done       chan struct{}

	mu  sync.Mutex
	pcm []byte
}

// NewService creates a Service over backend. flushTimeout bounds how long
// Stop waits for the final chunk; zero selects the default.
func NewService(backend Backend, flushTimeout time.Duration, log zerolog.Logger) *Service {
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Service{
		backend:      backend,
		log:          log.With().Str("component", "capture_service").Logger(),
		flushTimeout: flushTimeout,
		now:          time.Now,
		recordings:   make(map[string]*model.Recording),
	}
}

// Start acquires the microphone and begins buffering audio for questionID.
// If a capture is already active it is stopped and stored first; the flow
// never does this on purpose, so it is logged as an error.
func (s *Service) Start(ctx context.Context, questionID string) error {
	s.mu.Lock()
	prev := s.active
	s.active = nil
	s.mu.Unlock()

	if prev != nil {
		s.log.Error().
			Str("question_id", prev.questionID).
			Str("next_question_id", questionID).
			Msg("Capture started while another was active, stopping previous")
		if _, err := s.finalize(ctx, prev); err != nil {
			s.log.Warn().Err(err).Str("question_id", prev.questionID).Msg("Implicit stop failed")
		}
	}

	stream, err := s.backend.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("open microphone: %w", err)
	}

	sess := &session{
		questionID: questionID,
		stream:     stream,
		done:       make(chan struct{}),
	}
	go sess.pump()

	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()

	metrics.ActiveMicrophoneStreams.Inc()
	s.log.Debug().Str("question_id", questionID).Msg("Capture started")
	return nil
}

// Stop flushes the final chunk, releases the microphone and returns the
// finalized Recording. It returns (nil, nil) when nothing is recording.
// When the audio cannot be encoded the returned Recording is empty and
// flagged, and the error wraps ErrEncodingFailed.
func (s *Service) Stop(ctx context.Context) (*model.Recording, error) {
	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	return s.finalize(ctx, sess)
}

// Active reports whether a capture is in progress.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Recording returns the stored recording for questionID.
func (s *Service) Recording(questionID string) (*model.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[questionID]
	return rec, ok
}

// Recordings returns a snapshot of all stored recordings.
func (s *Service) Recordings() map[string]*model.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*model.Recording, len(s.recordings))
	for id, rec := range s.recordings {
		out[id] = rec
	}
	return out
}

// Release drops every stored recording buffer.
func (s *Service) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = make(map[string]*model.Recording)
}

func (s *Service) finalize(ctx context.Context, sess *session) (*model.Recording, error) {
	defer metrics.ActiveMicrophoneStreams.Dec()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flushTimeout)
	defer cancel()

	if err := sess.stream.Close(flushCtx); err != nil {
		s.log.Warn().Err(err).Str("question_id", sess.questionID).Msg("Stream close reported an error")
	}

	select {
	case <-sess.done:
	case <-flushCtx.Done():
		s.log.Warn().Str("question_id", sess.questionID).Msg("Final chunk not flushed before timeout")
	}

	pcm := sess.snapshot()
	format := s.backend.Format()
	rec := &model.Recording{
		QuestionID:  sess.questionID,
		MimeType:    model.MimeTypeWAV,
		FinalizedAt: s.now(),
	}

	var encErr error
	if data, err := EncodeWAV(pcm, format); err != nil {
		rec.Failed = true
		encErr = fmt.Errorf("%w: question %s: %v", ErrEncodingFailed, sess.questionID, err)
	} else {
		rec.Bytes = data
		rec.DurationSeconds = PCMDuration(len(data)-wavHeaderSize, format)
		metrics.RecordingDuration.Observe(rec.DurationSeconds)
	}

	s.mu.Lock()
	s.recordings[sess.questionID] = rec
	s.mu.Unlock()

	s.log.Debug().
		Str("question_id", sess.questionID).
		Int("bytes", len(rec.Bytes)).
		Float64("duration_s", rec.DurationSeconds).
		Bool("failed", rec.Failed).
		Msg("Capture finalized")

	return rec, encErr
}

func (s *session) pump() {
	defer close(s.done)
	for chunk := range s.stream.Chunks() {
		s.mu.Lock()
		s.pcm = append(s.pcm, chunk...)
		s.mu.Unlock()
	}
}

func (s *session) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pcm...)
}
