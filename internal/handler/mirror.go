package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"bloom/internal/domain"
	"bloom/pkg/errors"
	"bloom/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// OutboxAdmin is the slice of the outbox repository the replay surface needs.
type OutboxAdmin interface {
	FindByStatus(ctx context.Context, status domain.MirrorJobStatus, limit, offset int) ([]*domain.MirrorJob, error)
	Requeue(ctx context.Context, id uuid.UUID) error
}

// MirrorHandler exposes parked mirror jobs for admin inspection and replay.
type MirrorHandler struct {
	outbox OutboxAdmin
	logger logger.Logger
}

func NewMirrorHandler(outbox OutboxAdmin, log logger.Logger) *MirrorHandler {
	return &MirrorHandler{outbox: outbox, logger: log}
}

// ListFailed returns jobs that spent their retry budget or were rejected.
func (h *MirrorHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.outbox.FindByStatus(r.Context(), domain.MirrorJobStatusFailed, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list parked mirror jobs", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Failed to list mirror jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// Requeue puts a parked job back on the pending queue with a fresh retry
// budget.
func (h *MirrorHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	if err := h.outbox.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, errors.ErrMirrorJobNotFound) {
			h.respondError(w, http.StatusNotFound, "No failed job with that ID")
			return
		}
		h.logger.Error("Failed to requeue mirror job", map[string]interface{}{
			"job_id": id.String(),
			"error":  err.Error(),
		})
		h.respondError(w, http.StatusInternalServerError, "Failed to requeue mirror job")
		return
	}

	h.logger.Info("Mirror job requeued", map[string]interface{}{"job_id": id.String()})
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (h *MirrorHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *MirrorHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
