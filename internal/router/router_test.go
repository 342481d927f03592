package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/handler"
	"github.com/stemsi/exstem-speaking/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		GinMode:                gin.TestMode,
		JWTSecret:              "router-secret",
		SessionStartsPerMinute: 5,
	}
	return SetupRouter(service.NewAuthService(cfg), &Handlers{
		Exam:    &handler.ExamHandler{},
		Session: &handler.SessionHandler{},
		System:  &handler.SystemHandler{},
	}, cfg)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newRouter(t)
	for _, path := range []string{
		"/api/v1/candidate/exams/00000000-0000-0000-0000-000000000001/definition",
		"/ws/v1/candidate/exams/00000000-0000-0000-0000-000000000001/session",
	} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED")
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/candidate/exams/x/definition", nil)
	req.Header.Set("Origin", "https://exam.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
