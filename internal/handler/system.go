package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"bloom/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// SystemHandler serves health and readiness probes.
type SystemHandler struct {
	db          *sqlx.DB
	redisClient *redis.Client
	logger      logger.Logger
	startTime   time.Time
}

func NewSystemHandler(db *sqlx.DB, redisClient *redis.Client, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		db:          db,
		redisClient: redisClient,
		logger:      log,
		startTime:   time.Now(),
	}
}

// Health reports liveness. If we can answer, we are alive.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Ready reports readiness: database and Redis must both answer.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "redis": "ok"}
	status := http.StatusOK

	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error("Database ping failed", map[string]interface{}{"error": err.Error()})
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	}
	if err := h.redisClient.Ping(r.Context()).Err(); err != nil {
		h.logger.Error("Redis ping failed", map[string]interface{}{"error": err.Error()})
		checks["redis"] = "down"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, map[string]interface{}{"checks": checks})
}

func (h *SystemHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
