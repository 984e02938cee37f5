// Package handler provides the HTTP surface of the token engine.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"bloom/internal/middleware"
	"bloom/internal/token"
	"bloom/pkg/cache"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
	"bloom/pkg/validator"

	"github.com/google/uuid"
)

const poolSummaryCacheKey = "pool:summary"
const poolSummaryCacheTTL = 10 * time.Second

// TokenHandler manages wallet, ledger history, pool and award endpoints.
type TokenHandler struct {
	service   *token.Service
	cache     *cache.RedisCache
	validator *validator.Validator
	logger    logger.Logger
}

func NewTokenHandler(service *token.Service, c *cache.RedisCache, val *validator.Validator, log logger.Logger) *TokenHandler {
	return &TokenHandler{
		service:   service,
		cache:     c,
		validator: val,
		logger:    log,
	}
}

// GetWallet returns the authenticated user's balance view.
func (h *TokenHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	wallet, err := h.service.Wallet(r.Context(), userID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			h.respondError(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("Failed to load wallet", map[string]interface{}{
			"error":   err.Error(),
			"user_id": userID.String(),
		})
		h.respondError(w, http.StatusInternalServerError, "Failed to load wallet")
		return
	}

	h.respondJSON(w, http.StatusOK, wallet)
}

// GetHistory returns the user's ledger entries newest first.
func (h *TokenHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, offset := paginationParams(r)
	entries, total, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			h.respondError(w, http.StatusNotFound, "User not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetPool is the public pool summary, cached briefly since it sits on the
// unauthenticated surface.
func (h *TokenHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		var cached token.PoolSummary
		if err := h.cache.Get(r.Context(), poolSummaryCacheKey, &cached); err == nil {
			h.respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	summary, err := h.service.PoolSummary(r.Context())
	if err != nil {
		h.logger.Error("Failed to load pool summary", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Failed to load pool")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(r.Context(), poolSummaryCacheKey, summary, poolSummaryCacheTTL); err != nil {
			h.logger.Warn("Failed to cache pool summary", map[string]interface{}{"error": err.Error()})
		}
	}
	h.respondJSON(w, http.StatusOK, summary)
}

// Award credits points to a user. Admin only.
func (h *TokenHandler) Award(w http.ResponseWriter, r *http.Request) {
	var req token.AwardRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.service.Award(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err, "Failed to award points")
		return
	}

	h.respondJSON(w, http.StatusCreated, entry)
}

// Deduct debits points from a user. Admin only.
func (h *TokenHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req token.DeductRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.service.Deduct(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err, "Failed to deduct points")
		return
	}

	h.respondJSON(w, http.StatusCreated, entry)
}

// GetAdminStats is the operator dashboard aggregate.
func (h *TokenHandler) GetAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminPoolStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load admin stats", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *TokenHandler) respondServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, errors.ErrUserNotFound):
		h.respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, errors.ErrInvalidAmount),
		errors.Is(err, errors.ErrInvalidSource),
		errors.Is(err, errors.ErrInvalidKind),
		errors.Is(err, errors.ErrAboveMaximumAward):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrInsufficientBalance):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(fallback, map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *TokenHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *TokenHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// paginationParams reads limit/offset query parameters; services clamp them.
func paginationParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// pathID parses a UUID route variable.
func pathID(vars map[string]string, key string) (uuid.UUID, error) {
	return uuid.Parse(vars[key])
}
