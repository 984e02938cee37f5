package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"bloom/internal/donation"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
	"bloom/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// DonationHandler manages donation pledge, webhook and admin endpoints.
type DonationHandler struct {
	service   *donation.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewDonationHandler(service *donation.Service, val *validator.Validator, log logger.Logger) *DonationHandler {
	return &DonationHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Create records a donation pledge. Public endpoint.
func (h *DonationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req donation.CreateRequest

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

	req.DonorName = validator.Sanitize(req.DonorName)
	req.DonorPhone = validator.Sanitize(req.DonorPhone)

	if err := h.validator.Validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.service.Create(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrInvalidAmount):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, errors.ErrDuplicatePaymentReference):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("Failed to create donation", map[string]interface{}{"error": err.Error()})
			h.respondError(w, http.StatusInternalServerError, "Failed to create donation")
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, d)
}

type webhookPayload struct {
	Reference string          `json:"reference" validate:"required"`
	Status    string          `json:"status" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// Webhook handles payment processor callbacks. Redelivery of a confirmed
// reference is acknowledged without side effects.
func (h *DonationHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}
	if err := h.validator.Validate(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload.Status != "success" && payload.Status != "successful" {
		h.logger.Warn("Ignoring non-success webhook", map[string]interface{}{
			"reference": payload.Reference,
			"status":    payload.Status,
		})
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	d, confirmed, err := h.service.ConfirmByReference(r.Context(), payload.Reference)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrDonationNotFound):
			h.respondError(w, http.StatusNotFound, "Unknown payment reference")
		case errors.Is(err, errors.ErrDonationFailed):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("Webhook confirmation failed", map[string]interface{}{
				"error":     err.Error(),
				"reference": payload.Reference,
			})
			h.respondError(w, http.StatusInternalServerError, "Confirmation failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"donation_id":   d.ID,
		"was_confirmed": confirmed,
	})
}

// Confirm settles a pledge into the pool. Admin only; idempotent.
func (h *DonationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid donation ID")
		return
	}

	d, confirmed, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrDonationNotFound):
			h.respondError(w, http.StatusNotFound, "Donation not found")
		case errors.Is(err, errors.ErrDonationFailed):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("Failed to confirm donation", map[string]interface{}{
				"error":       err.Error(),
				"donation_id": id.String(),
			})
			h.respondError(w, http.StatusInternalServerError, "Failed to confirm donation")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"donation":      d,
		"was_confirmed": confirmed,
	})
}

// Fail marks a pledge as failed. Admin only.
func (h *DonationHandler) Fail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid donation ID")
		return
	}

	d, err := h.service.Fail(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrDonationNotFound):
			h.respondError(w, http.StatusNotFound, "Donation not found")
		case errors.Is(err, errors.ErrInvalidStatusTransition):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, "Failed to update donation")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, d)
}

// recentDonation is the public feed shape: anonymous donors masked, no
// contact details.
type recentDonation struct {
	DisplayName string          `json:"display_name"`
	AmountFiat  decimal.Decimal `json:"amount_fiat"`
	ConfirmedAt *time.Time      `json:"confirmed_at"`
}

// Recent lists the latest confirmed donations. Public endpoint.
func (h *DonationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := paginationParams(r)
	donations, err := h.service.Recent(r.Context(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load donations")
		return
	}

	feed := make([]recentDonation, 0, len(donations))
	for _, d := range donations {
		feed = append(feed, recentDonation{
			DisplayName: d.DisplayName(),
			AmountFiat:  d.AmountFiat,
			ConfirmedAt: d.ConfirmedAt,
		})
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"donations": feed,
		"count":     len(feed),
	})
}

// Pending lists pledges awaiting confirmation. Admin only.
func (h *DonationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	donations, err := h.service.Pending(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load donations")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"donations": donations,
		"count":     len(donations),
	})
}

func (h *DonationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *DonationHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
