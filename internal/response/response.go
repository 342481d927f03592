package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response.
type ErrorBody struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// Fail sends an error response with an error code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, errorResponse(c, code))
}

// FailError maps a domain error to its code and HTTP status.
func FailError(c *gin.Context, err error) {
	code := CodeFor(err)
	c.JSON(StatusFor(code), errorResponse(c, code))
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, errorResponse(c, code))
}

// StatusFor returns the HTTP status an error code is served with.
func StatusFor(code ErrCode) int {
	switch code {
	case ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden, ErrCandidateAccessOnly:
		return http.StatusForbidden
	case ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrInvalidAction:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrExamNotAvailable, ErrNoQuestions:
		return http.StatusUnprocessableEntity
	case ErrSessionActive, ErrSessionClosed, ErrSessionNotDone, ErrMicCheckRequired:
		return http.StatusConflict
	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrSubmissionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c *gin.Context, code ErrCode) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code)},
		Metadata: buildMetadata(c),
	}
}

func buildMetadata(c *gin.Context) Metadata {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		id = uuid.NewString() // middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
