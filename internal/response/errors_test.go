package response

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/flow"
	"github.com/stemsi/exstem-speaking/internal/micgate"
	"github.com/stemsi/exstem-speaking/internal/playback"
	"github.com/stemsi/exstem-speaking/internal/service"
	"github.com/stemsi/exstem-speaking/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want ErrCode
	}{
		{err: fmt.Errorf("open microphone: %w", capture.ErrPermissionDenied), want: ErrPermissionDenied},
		{err: fmt.Errorf("open microphone: %w", capture.ErrDeviceUnavailable), want: ErrDeviceUnavailable},
		{err: fmt.Errorf("%w: q1", playback.ErrPlaybackDegraded), want: ErrPlaybackDegraded},
		{err: fmt.Errorf("%w: q1", capture.ErrEncodingFailed), want: ErrEncodingFailed},
		{err: fmt.Errorf("%w: %w", submission.ErrSubmissionFailed, submission.ErrRejected), want: ErrSubmissionFailed},
		{err: micgate.ErrGateClosed, want: ErrMicCheckRequired},
		{err: micgate.ErrEmptyTestRecording, want: ErrEmptyTestRecording},
		{err: service.ErrExamNotFound, want: ErrNotFound},
		{err: fmt.Errorf("%w: duplicate question id q1", service.ErrExamInvalid), want: ErrExamNotAvailable},
		{err: fmt.Errorf("%w: q1", flow.ErrDuplicateQuestion), want: ErrExamNotAvailable},
		{err: errors.New("boom"), want: ErrInternal},
		{err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrPermissionDenied, ErrDeviceUnavailable, ErrPlaybackDegraded,
		ErrEncodingFailed, ErrSubmissionFailed, ErrMicCheckRequired,
		ErrEmptyTestRecording, ErrSessionClosed, ErrInvalidAction,
	}
	fallback := GetMessage("UNKNOWN")
	for _, code := range codes {
		assert.NotEqual(t, fallback, GetMessage(code), code)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrTokenExpired))
	assert.Equal(t, http.StatusNotFound, StatusFor(ErrNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(ErrNoQuestions))
	assert.Equal(t, http.StatusConflict, StatusFor(ErrSessionActive))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(ErrRateLimitExceeded))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(ErrInternal))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Fail(c, http.StatusTeapot, ErrInternal) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "kept", header: "abc-123", keep: true},
		{name: "missing"},
		{name: "spaces", header: "a b"},
		{name: "too long", header: strings.Repeat("x", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			require.NotEmpty(t, got)
			if tt.keep {
				assert.Equal(t, tt.header, got)
			} else {
				assert.NotEqual(t, tt.header, got)
			}
			assert.Contains(t, w.Body.String(), `"request_id":"`+got+`"`)
		})
	}
}
