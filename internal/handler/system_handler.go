package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/response"
)

const probeTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process and dependency health.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	Checks          map[string]string `json:"checks"`
	SubmissionQueue int64             `json:"submission_queue"`
	Goroutines      int               `json:"goroutines"`
	HeapAlloc       uint64            `json:"heap_alloc"`
	GoVersion       string            `json:"go_version"`
}

// Health godoc
// GET /health
// 200 when Postgres and Redis answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	st := healthStatus{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Checks:     map[string]string{"postgres": "ok", "redis": "ok"},
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAlloc = ms.HeapAlloc

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Postgres health check failed")
		st.Checks["postgres"] = "down"
		st.Status = "degraded"
	}

	pipe := h.rdb.Pipeline()
	pingCmd := pipe.Ping(ctx)
	queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	if _, err := pipe.Exec(ctx); err != nil || pingCmd.Err() != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		st.Checks["redis"] = "down"
		st.Status = "degraded"
	} else {
		st.SubmissionQueue = queueCmd.Val()
	}

	status := http.StatusOK
	if st.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, st)
}
