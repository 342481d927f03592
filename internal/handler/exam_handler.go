package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/middleware"
	"github.com/stemsi/exstem-speaking/internal/response"
)

// ExamHandler serves exam content to candidates.
type ExamHandler struct {
	exams DefinitionProvider
	log   zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams DefinitionProvider, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams: exams,
		log:   log.With().Str("component", "exam_handler").Logger(),
	}
}

// GetDefinition godoc
// GET /api/v1/candidate/exams/:exam_id/definition
// Returns the validated, ordered exam so the client can preload prompts.
func (h *ExamHandler) GetDefinition(c *gin.Context) {
	if middleware.GetClaims(c) == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.exams.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		if response.CodeFor(err) == response.ErrInternal {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Get exam definition failed")
		}
		response.FailError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exam":             exam,
		"question_count":   len(exam.Sequence()),
		"allotted_seconds": exam.AllottedSeconds(),
	})
}
