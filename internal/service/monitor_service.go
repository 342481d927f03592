package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// MonitorEvent types.
const (
	MonitorStage     = "stage"
	MonitorError     = "error"
	MonitorComplete  = "complete"
	MonitorSubmitted = "submitted"
	MonitorAbandoned = "abandoned"
)

// MonitorEvent is one live-proctoring update for an exam dashboard.
type MonitorEvent struct {
	Type        string      `json:"type"`
	SessionID   uuid.UUID   `json:"session_id"`
	CandidateID int         `json:"candidate_id"`
	QuestionID  string      `json:"question_id,omitempty"`
	Index       int         `json:"index"`
	Stage       model.Stage `json:"stage,omitempty"`
	Code        string      `json:"code,omitempty"`
	At          time.Time   `json:"at"`
}

// MonitorService publishes session progress to the exam's monitor channel.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish is best effort; a dashboard missing an update must never
// affect the candidate.
func (s *MonitorService) Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal monitor event")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("Monitor publish failed")
	}
}
