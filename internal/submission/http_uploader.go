package submission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/model"
)

// wireSubmission is the body accepted by the scoring endpoint.
type wireSubmission struct {
	ExamID              uuid.UUID       `json:"examId"`
	SessionID           uuid.UUID       `json:"sessionId"`
	TotalElapsedSeconds int             `json:"totalElapsedSeconds"`
	Recordings          []wireRecording `json:"recordings"`
	Unanswered          []string        `json:"unanswered,omitempty"`
	SubmittedAt         time.Time       `json:"submittedAt"`
}

type wireRecording struct {
	QuestionID string `json:"questionId"`
	MimeType   string `json:"mimeType"`
	Bytes      []byte `json:"bytes"`
	Failed     bool   `json:"failed,omitempty"`
}

type wireReceipt struct {
	ID         string    `json:"id"`
	ExamID     uuid.UUID `json:"examId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// HTTPUploader posts submissions as JSON. 4xx answers other than 408 and
// 429 are reported as ErrRejected.
type HTTPUploader struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

func NewHTTPUploader(url string, timeout time.Duration, log zerolog.Logger) *HTTPUploader {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPUploader{
		client: client,
		url:    url,
		log:    log.With().Str("component", "http_uploader").Logger(),
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, sub *model.Submission) (*model.Receipt, error) {
	var out wireReceipt
	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(toWire(sub)).
		SetResult(&out).
		Post(u.url)
	if err != nil {
		return nil, fmt.Errorf("post submission: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return nil, fmt.Errorf("submission endpoint returned %d", status)
	case resp.IsError():
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, status, resp.String())
	}

	if out.ID == "" {
		return nil, fmt.Errorf("submission endpoint returned no receipt id")
	}
	if out.ExamID == uuid.Nil {
		out.ExamID = sub.ExamID
	}
	u.log.Debug().Str("receipt_id", out.ID).Dur("latency", resp.Time()).Msg("Submission accepted")
	return &model.Receipt{ID: out.ID, ExamID: out.ExamID, AcceptedAt: out.AcceptedAt}, nil
}

func toWire(sub *model.Submission) wireSubmission {
	w := wireSubmission{
		ExamID:              sub.ExamID,
		SessionID:           sub.SessionID,
		TotalElapsedSeconds: sub.TotalElapsedSeconds,
		Recordings:          make([]wireRecording, 0, len(sub.Recordings)),
		Unanswered:          sub.Unanswered,
		SubmittedAt:         sub.SubmittedAt,
	}
	for _, r := range sub.Recordings {
		w.Recordings = append(w.Recordings, wireRecording{
			QuestionID: r.QuestionID,
			MimeType:   r.MimeType,
			Bytes:      r.Bytes,
			Failed:     r.Failed,
		})
	}
	return w
}
