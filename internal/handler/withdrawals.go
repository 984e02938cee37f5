package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"bloom/internal/domain"
	"bloom/internal/middleware"
	"bloom/internal/withdrawal"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
	"bloom/pkg/validator"

	"github.com/gorilla/mux"
)

// WithdrawalHandler manages cash-out request and review endpoints.
type WithdrawalHandler struct {
	service   *withdrawal.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewWithdrawalHandler(service *withdrawal.Service, val *validator.Validator, log logger.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// withdrawalView masks the account number for user-facing responses.
type withdrawalView struct {
	*domain.WithdrawalRequest
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
}

func (h *WithdrawalHandler) view(w *domain.WithdrawalRequest) withdrawalView {
	return withdrawalView{
		WithdrawalRequest: w,
		AccountNumber:     w.MaskedAccountNumber(),
		Currency:          h.service.Currency(),
	}
}

// Create opens a cash-out request for the authenticated user.
func (h *WithdrawalHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req withdrawal.RequestInput

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

	req.UserID = userID
	req.BankName = validator.Sanitize(req.BankName)
	req.AccountName = validator.Sanitize(req.AccountName)

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wr, err := h.service.Request(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrInvalidAmount),
			errors.Is(err, errors.ErrBelowMinimumWithdrawal):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, errors.ErrInsufficientBalance),
			errors.Is(err, errors.ErrPendingWithdrawalExists):
			h.respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errors.ErrUserNotFound):
			h.respondError(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("Failed to create withdrawal", map[string]interface{}{
				"error":   err.Error(),
				"user_id": userID.String(),
			})
			h.respondError(w, http.StatusInternalServerError, "Failed to create withdrawal")
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, h.view(wr))
}

// List returns the authenticated user's withdrawal requests.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, offset := paginationParams(r)
	reqs, err := h.service.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load withdrawals")
		return
	}

	views := make([]withdrawalView, 0, len(reqs))
	for _, wr := range reqs {
		views = append(views, h.view(wr))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals": views,
		"count":       len(views),
	})
}

// ListPending returns the admin review queue, oldest first.
func (h *WithdrawalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	reqs, err := h.service.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load withdrawals")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals": reqs,
		"count":       len(reqs),
	})
}

// Approve deducts the points and reserves the payout. Admin only.
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid withdrawal ID")
		return
	}

	wr, err := h.service.Approve(r.Context(), id, reviewerID)
	if err != nil {
		h.respondReviewError(w, err, "Failed to approve withdrawal")
		return
	}

	h.respondJSON(w, http.StatusOK, wr)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Reject closes a pending request without deducting points. Admin only.
func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid withdrawal ID")
		return
	}

	var req rejectRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wr, err := h.service.Reject(r.Context(), id, reviewerID, validator.Sanitize(req.Reason))
	if err != nil {
		h.respondReviewError(w, err, "Failed to reject withdrawal")
		return
	}

	h.respondJSON(w, http.StatusOK, wr)
}

type markPaidRequest struct {
	PayoutReference string `json:"payout_reference" validate:"required,max=100"`
}

// MarkPaid records the completed bank transfer. Admin only.
func (h *WithdrawalHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid withdrawal ID")
		return
	}

	var req markPaidRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	wr, err := h.service.MarkPaid(r.Context(), id, req.PayoutReference)
	if err != nil {
		h.respondReviewError(w, err, "Failed to mark withdrawal paid")
		return
	}

	h.respondJSON(w, http.StatusOK, wr)
}

func (h *WithdrawalHandler) respondReviewError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, errors.ErrWithdrawalNotFound):
		h.respondError(w, http.StatusNotFound, "Withdrawal not found")
	case errors.Is(err, errors.ErrInvalidStatusTransition),
		errors.Is(err, errors.ErrInsufficientBalance),
		errors.Is(err, errors.ErrInsufficientReserve):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(fallback, map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *WithdrawalHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *WithdrawalHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
