package websocket

import (
	"time"

	"github.com/stemsi/exstem-speaking/internal/micgate"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"

	// Microphone check
	ActionMicPermission Action = "mic_permission"
	ActionMicTestStart  Action = "mic_test_start"
	ActionMicTestStop   Action = "mic_test_stop"
	ActionMicTestPlayed Action = "mic_test_played"

	// Session control
	ActionStart    Action = "start"
	ActionSkip     Action = "skip"
	ActionRetry    Action = "retry"
	ActionAbandon  Action = "abandon"
	ActionResubmit Action = "resubmit"

	// Device replies
	ActionPlaybackEnded  Action = "playback_ended"
	ActionPlaybackFailed Action = "playback_failed"
	ActionCaptureReady   Action = "capture_ready"
	ActionCaptureFailed  Action = "capture_failed"
	ActionCaptureFlushed Action = "capture_flushed"
)

// Capture failure reasons reported by the client.
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonNotFound         = "not_found"
	ReasonNotReadable      = "not_readable"
)

// RequestEnvelope carries every client action. ID echoes the id of the
// play_prompt or capture_open request a device reply answers.
type RequestEnvelope struct {
	Action Action `json:"action"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventPong          Event = "pong"
	EventError         Event = "error"
	EventGate          Event = "gate"
	EventTestRecording Event = "test_recording"
	EventStage         Event = "stage"
	EventTick          Event = "tick"
	EventComplete      Event = "complete"
	EventSubmitted     Event = "submitted"
	EventPlayPrompt    Event = "play_prompt"
	EventCaptureOpen   Event = "capture_open"
	EventCaptureClose  Event = "capture_close"
)

type PongResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event   Event  `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type GateResponse struct {
	Event  Event          `json:"event"`
	Status micgate.Status `json:"status"`
}

// TestRecordingResponse returns the microphone test clip for playback.
type TestRecordingResponse struct {
	Event           Event   `json:"event"`
	MimeType        string  `json:"mime_type"`
	Audio           []byte  `json:"audio"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type StageResponse struct {
	Event Event              `json:"event"`
	State model.SessionState `json:"state"`

	// Question is only set when a new question is entered.
	Question *model.Question `json:"question,omitempty"`
}

type TickResponse struct {
	Event            Event       `json:"event"`
	Stage            model.Stage `json:"stage"`
	RemainingSeconds int         `json:"remaining_seconds"`
}

type CompleteResponse struct {
	Event               Event    `json:"event"`
	Recordings          int      `json:"recordings"`
	Unanswered          []string `json:"unanswered"`
	TotalElapsedSeconds int      `json:"total_elapsed_seconds"`
}

type SubmittedResponse struct {
	Event      Event     `json:"event"`
	ReceiptID  string    `json:"receipt_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type PlayPromptRequest struct {
	Event Event  `json:"event"`
	ID    string `json:"id"`
	URL   string `json:"url"`
}

// CaptureOpenRequest asks the client to start streaming PCM16LE frames
// as binary messages.
type CaptureOpenRequest struct {
	Event      Event  `json:"event"`
	ID         string `json:"id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type CaptureCloseRequest struct {
	Event Event  `json:"event"`
	ID    string `json:"id"`
}
