package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/validator"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found or not published")
	ErrExamInvalid  = errors.New("exam definition is invalid")
	ErrExamEmpty    = errors.New("exam has no questions")
)

// DefinitionStore loads exam definitions from the system of record.
type DefinitionStore interface {
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
}

// ExamService serves validated exam definitions through a Redis cache.
type ExamService struct {
	store DefinitionStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(store DefinitionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the exam definition, from cache when warm.
// Cache failures fall through to the store.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamDefinitionKey(examID.String())

	// 1. Fast lane: Redis
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var def model.ExamDefinition
		if err := json.Unmarshal(data, &def); err == nil {
			return &def, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached definition, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Cache read failed")
	}

	// 2. Slow lane: PostgreSQL
	def, err := s.store.GetDefinition(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load definition: %w", err)
	}
	if len(def.Sequence()) == 0 {
		return nil, ErrExamEmpty
	}
	if err := validator.Struct(def); err != nil {
		s.log.Warn().
			Str("exam_id", examID.String()).
			Interface("fields", validator.Fields(err)).
			Msg("Exam definition failed validation")
		return nil, fmt.Errorf("%w: %v", ErrExamInvalid, err)
	}
	if id, dup := def.DuplicateQuestionID(); dup {
		return nil, fmt.Errorf("%w: duplicate question id %s", ErrExamInvalid, id)
	}
	for _, q := range def.Sequence() {
		if _, err := q.DecodePrompt(); err != nil {
			return nil, fmt.Errorf("%w: question %s: %v", ErrExamInvalid, q.ID, err)
		}
	}

	// 3. Warm the cache, best effort.
	if payload, err := json.Marshal(def); err == nil {
		if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Cache write failed")
		}
	}

	s.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(def.Sequence())).
		Msg("Definition loaded")
	return def, nil
}
