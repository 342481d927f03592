package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/flow"
	"github.com/stemsi/exstem-speaking/internal/logger"
	"github.com/stemsi/exstem-speaking/internal/metrics"
	"github.com/stemsi/exstem-speaking/internal/micgate"
	"github.com/stemsi/exstem-speaking/internal/middleware"
	"github.com/stemsi/exstem-speaking/internal/model"
	"github.com/stemsi/exstem-speaking/internal/playback"
	"github.com/stemsi/exstem-speaking/internal/response"
	"github.com/stemsi/exstem-speaking/internal/service"
	"github.com/stemsi/exstem-speaking/internal/stageclock"
	ws "github.com/stemsi/exstem-speaking/internal/websocket"
)

const (
	noticeBuffer    = 128
	shutdownTimeout = 5 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// DefinitionProvider loads a validated exam definition.
type DefinitionProvider interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// SessionLocker keeps a candidate to one running session per exam.
type SessionLocker interface {
	Acquire(ctx context.Context, examID uuid.UUID, candidateID int, sessionID uuid.UUID) error
	Release(ctx context.Context, examID uuid.UUID, candidateID int, sessionID uuid.UUID) error
}

// MonitorPublisher receives live progress for proctoring dashboards.
type MonitorPublisher interface {
	Publish(ctx context.Context, examID uuid.UUID, ev service.MonitorEvent)
}

// SessionConfig carries the per-connection tuning of the session host.
type SessionConfig struct {
	AllowedOrigins []string
	Format         capture.Format
	FlushTimeout   time.Duration
	PromptFallback time.Duration
	// Clock overrides the stage clock, e.g. to shorten the second in tests.
	Clock []stageclock.Option
}

// SessionHandler hosts one exam session per WebSocket connection. The
// candidate's browser serves as microphone and speaker through a
// RemoteDevice, and every controller hook is forwarded as an event.
type SessionHandler struct {
	exams    DefinitionProvider
	registry SessionLocker
	monitor  MonitorPublisher
	packager flow.Packager
	cfg      SessionConfig
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	exams DefinitionProvider,
	registry SessionLocker,
	monitor MonitorPublisher,
	packager flow.Packager,
	cfg SessionConfig,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		exams:    exams,
		registry: registry,
		monitor:  monitor,
		packager: packager,
		cfg:      cfg,
		log:      log.With().Str("component", "session_handler").Logger(),
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}
}

// ExamSession godoc
// WS /ws/v1/candidate/exams/:exam_id/session?token=...
// Runs the microphone check and then the timed exam over one connection.
func (h *SessionHandler) ExamSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Load before upgrading so a missing exam is a plain HTTP error.
	exam, err := h.exams.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		if response.CodeFor(err) == response.ErrInternal {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Load exam definition failed")
		}
		response.FailError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s := h.newConn(conn, exam, claims.UserID)
	s.log.Info().Msg("Candidate connected")
	s.serve()
	s.log.Info().Msg("Candidate disconnected")
}

// sessionConn is the state of one connected candidate.
type sessionConn struct {
	h           *SessionHandler
	conn        *websocket.Conn
	exam        *model.ExamDefinition
	sequence    []model.Question
	candidateID int
	out         *ws.Writer
	device      *ws.RemoteDevice
	gate        *micgate.Gate
	log         zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	notices chan func()

	mu        sync.Mutex
	ctrl      *flow.Controller
	submitted atomic.Bool
}

func (h *SessionHandler) newConn(conn *websocket.Conn, exam *model.ExamDefinition, candidateID int) *sessionConn {
	log := h.log.With().
		Int("candidate_id", candidateID).
		Str("exam_id", exam.ID.String()).
		Logger()
	out := ws.NewWriter(conn)
	device := ws.NewRemoteDevice(out, h.cfg.Format, log)
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionConn{
		h:           h,
		conn:        conn,
		exam:        exam,
		sequence:    exam.Sequence(),
		candidateID: candidateID,
		out:         out,
		device:      device,
		gate:        micgate.New(device, h.cfg.FlushTimeout, log),
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		notices:     make(chan func(), noticeBuffer),
	}
}

func (s *sessionConn) serve() {
	noticesDone := make(chan struct{})
	go func() {
		defer close(noticesDone)
		for fn := range s.notices {
			fn()
		}
	}()

	s.sendGate()
	s.readLoop()
	s.shutdown()

	close(s.notices)
	<-noticesDone
}

func (s *sessionConn) readLoop() {
	for {
		msgType, data, err := ws.ReadMessage(s.conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			s.device.HandleAudio(data)
			continue
		}

		var req ws.RequestEnvelope
		if err := json.Unmarshal(data, &req); err != nil {
			s.fail(response.ErrInvalidPayload, false)
			continue
		}
		s.dispatch(req)
	}
}

// dispatch must never block: device replies for pending requests arrive
// on this same loop.
func (s *sessionConn) dispatch(req ws.RequestEnvelope) {
	switch req.Action {
	case ws.ActionPing:
		s.send(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionCaptureReady:
		s.device.HandleCaptureReady(req.ID)
	case ws.ActionCaptureFailed:
		s.device.HandleCaptureFailed(req.ID, req.Reason)
	case ws.ActionCaptureFlushed:
		s.device.HandleCaptureFlushed(req.ID)
	case ws.ActionPlaybackEnded:
		s.device.HandlePlaybackEnded(req.ID)
	case ws.ActionPlaybackFailed:
		s.device.HandlePlaybackFailed(req.ID, req.Reason)

	case ws.ActionMicPermission, ws.ActionMicTestStart, ws.ActionMicTestStop, ws.ActionMicTestPlayed:
		if s.controller() != nil {
			s.fail(response.ErrInvalidAction, false)
			return
		}
		s.async(func() { s.handleGate(req.Action) })

	case ws.ActionStart:
		s.start()
	case ws.ActionSkip:
		if ctrl := s.requireController(); ctrl != nil {
			ctrl.Skip()
		}
	case ws.ActionRetry:
		if ctrl := s.requireController(); ctrl != nil {
			ctrl.Retry()
		}
	case ws.ActionResubmit:
		if ctrl := s.requireController(); ctrl != nil {
			s.async(func() {
				if err := ctrl.Resubmit(s.ctx); err != nil {
					s.failErr(err)
				}
			})
		}
	case ws.ActionAbandon:
		if ctrl := s.requireController(); ctrl != nil {
			s.async(ctrl.Abandon)
		}

	default:
		s.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		s.fail(response.ErrInvalidAction, false)
	}
}

func (s *sessionConn) handleGate(action ws.Action) {
	var err error
	switch action {
	case ws.ActionMicPermission:
		err = s.gate.RequestPermission(s.ctx)
	case ws.ActionMicTestStart:
		err = s.gate.BeginTest(s.ctx)
	case ws.ActionMicTestStop:
		var rec *model.Recording
		rec, err = s.gate.EndTest(s.ctx)
		if err == nil {
			s.send(ws.TestRecordingResponse{
				Event:           ws.EventTestRecording,
				MimeType:        rec.MimeType,
				Audio:           rec.Bytes,
				DurationSeconds: rec.DurationSeconds,
			})
		}
	case ws.ActionMicTestPlayed:
		err = s.gate.ConfirmPlayback()
	}
	if err != nil {
		s.failErr(err)
	}
	s.sendGate()
}

func (s *sessionConn) start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl != nil {
		s.failErr(flow.ErrAlreadyStarted)
		return
	}
	if !s.gate.CanStart() {
		s.failErr(micgate.ErrGateClosed)
		return
	}

	sessionID := uuid.New()
	if err := s.h.registry.Acquire(s.ctx, s.exam.ID, s.candidateID, sessionID); err != nil {
		if !errors.Is(err, service.ErrSessionAlreadyActive) {
			s.log.Error().Err(err).Msg("Acquire session lock failed")
		}
		s.failErr(err)
		return
	}

	log := logger.ForSession(s.h.log, s.exam.ID.String(), sessionID.String()).
		With().Int("candidate_id", s.candidateID).Logger()
	ctrl := flow.New(
		s.exam,
		capture.NewService(s.device, s.h.cfg.FlushTimeout, log),
		playback.NewService(s.device, s.h.cfg.PromptFallback, log),
		s.h.packager,
		s.hooks(sessionID),
		log,
		flow.WithSessionID(sessionID),
		flow.WithClock(s.h.cfg.Clock...),
	)
	if err := ctrl.Start(s.ctx, s.gate); err != nil {
		s.release(sessionID)
		s.failErr(err)
		return
	}
	s.ctrl = ctrl

	s.async(func() {
		<-ctrl.Done()
		if !s.submitted.Load() {
			s.publish(sessionID, service.MonitorEvent{Type: service.MonitorAbandoned})
		}
		s.release(sessionID)
	})
}

func (s *sessionConn) hooks(sessionID uuid.UUID) flow.Hooks {
	return flow.Hooks{
		OnStageChange: func(state model.SessionState) {
			resp := ws.StageResponse{Event: ws.EventStage, State: state}
			if state.Stage == model.StageReading && state.Index < len(s.sequence) {
				q := s.sequence[state.Index]
				resp.Question = &q
			}
			s.notify(func() {
				s.send(resp)
				s.publish(sessionID, service.MonitorEvent{
					Type:       service.MonitorStage,
					QuestionID: state.QuestionID,
					Index:      state.Index,
					Stage:      state.Stage,
				})
			})
		},
		OnTick: func(state model.SessionState) {
			s.notify(func() {
				s.send(ws.TickResponse{
					Event:            ws.EventTick,
					Stage:            state.Stage,
					RemainingSeconds: state.RemainingSeconds,
				})
			})
		},
		OnError: func(err error) {
			code := response.CodeFor(err)
			fatal := flow.IsFatal(err)
			metrics.SessionErrors.WithLabelValues(string(code)).Inc()
			s.log.Warn().Err(err).Str("code", string(code)).Bool("fatal", fatal).Msg("Session error")
			s.notify(func() {
				s.fail(code, fatal)
				s.publish(sessionID, service.MonitorEvent{Type: service.MonitorError, Code: string(code)})
			})
		},
		OnComplete: func(sub *model.Submission) {
			resp := ws.CompleteResponse{
				Event:               ws.EventComplete,
				Recordings:          len(sub.Recordings),
				Unanswered:          sub.Unanswered,
				TotalElapsedSeconds: sub.TotalElapsedSeconds,
			}
			if resp.Unanswered == nil {
				resp.Unanswered = []string{}
			}
			s.notify(func() {
				s.send(resp)
				s.publish(sessionID, service.MonitorEvent{Type: service.MonitorComplete})
			})
		},
		OnSubmitted: func(receipt *model.Receipt) {
			s.submitted.Store(true)
			s.notify(func() {
				s.send(ws.SubmittedResponse{
					Event:      ws.EventSubmitted,
					ReceiptID:  receipt.ID,
					AcceptedAt: receipt.AcceptedAt,
				})
				s.publish(sessionID, service.MonitorEvent{Type: service.MonitorSubmitted})
			})
		},
	}
}

// shutdown abandons whatever is still running. The device is closed
// first so requests waiting on the client fail instead of timing out.
func (s *sessionConn) shutdown() {
	s.cancel()
	s.device.Close()

	if ctrl := s.controller(); ctrl != nil {
		ctrl.Abandon()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.gate.Close(ctx)

	s.wg.Wait()
}

func (s *sessionConn) release(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.h.registry.Release(ctx, s.exam.ID, s.candidateID, sessionID); err != nil {
		s.log.Warn().Err(err).Msg("Release session lock failed")
	}
}

func (s *sessionConn) publish(sessionID uuid.UUID, ev service.MonitorEvent) {
	ev.SessionID = sessionID
	ev.CandidateID = s.candidateID
	ev.At = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.h.monitor.Publish(ctx, s.exam.ID, ev)
}

func (s *sessionConn) controller() *flow.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

func (s *sessionConn) requireController() *flow.Controller {
	ctrl := s.controller()
	if ctrl == nil {
		s.fail(response.ErrSessionNotDone, false)
	}
	return ctrl
}

// notify queues fn for the writer goroutine. Hooks run on the
// controller loop and must not wait on the socket or Redis.
func (s *sessionConn) notify(fn func()) {
	select {
	case s.notices <- fn:
	default:
		s.log.Warn().Msg("Notice queue full, event dropped")
	}
}

func (s *sessionConn) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *sessionConn) sendGate() {
	s.send(ws.GateResponse{Event: ws.EventGate, Status: s.gate.Status()})
}

func (s *sessionConn) send(v interface{}) {
	if err := s.out.Send(v); err != nil {
		s.log.Debug().Err(err).Msg("Write to client failed")
	}
}

func (s *sessionConn) failErr(err error) {
	s.fail(response.CodeFor(err), flow.IsFatal(err))
}

func (s *sessionConn) fail(code response.ErrCode, fatal bool) {
	if err := s.out.SendError(string(code), response.GetMessage(code), fatal); err != nil {
		s.log.Debug().Err(err).Msg("Write error to client failed")
	}
}
