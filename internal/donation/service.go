// Package donation manages fiat contributions into the shared pool.
package donation

import (
	"context"
	"encoding/json"
	"time"

	"bloom/internal/domain"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
	"bloom/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Repository interface {
	Create(ctx context.Context, d *domain.Donation) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Donation, error)
	FindByReferenceForUpdateTx(ctx context.Context, tx *sqlx.Tx, ref string) (*domain.Donation, error)
	UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, d *domain.Donation) error
	FindByStatus(ctx context.Context, status domain.DonationStatus, limit, offset int) ([]*domain.Donation, error)
	FindRecentConfirmed(ctx context.Context, limit int) ([]*domain.Donation, error)
}

type PoolRepository interface {
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx) (*domain.Pool, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, pool *domain.Pool) error
}

type OutboxRepository interface {
	EnqueueTx(ctx context.Context, tx *sqlx.Tx, job *domain.MirrorJob) error
}

type Service struct {
	db     *sqlx.DB
	repo   Repository
	pool   PoolRepository
	outbox OutboxRepository
	logger logger.Logger
}

func NewService(db *sqlx.DB, repo Repository, pool PoolRepository, outbox OutboxRepository, log logger.Logger) *Service {
	return &Service{db: db, repo: repo, pool: pool, outbox: outbox, logger: log}
}

type CreateRequest struct {
	DonorName        string          `json:"donor_name" validate:"omitempty,max=200"`
	DonorEmail       string          `json:"donor_email" validate:"omitempty,email"`
	DonorPhone       string          `json:"donor_phone" validate:"omitempty,max=20"`
	IsAnonymous      bool            `json:"is_anonymous"`
	AmountFiat       decimal.Decimal `json:"amount_fiat" validate:"required"`
	PaymentReference string          `json:"payment_reference" validate:"omitempty,max=100"`
	PaymentMethod    string          `json:"payment_method" validate:"omitempty,max=50"`
}

// Create records a pledged donation. Nothing touches the pool until the
// payment is confirmed.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.Donation, error) {
	if req.AmountFiat.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}

	method := req.PaymentMethod
	if method == "" {
		method = "bank_transfer"
	}

	d := &domain.Donation{
		ID:               uuid.New(),
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		DonorPhone:       req.DonorPhone,
		IsAnonymous:      req.IsAnonymous,
		AmountFiat:       req.AmountFiat,
		PaymentReference: req.PaymentReference,
		PaymentMethod:    method,
		Status:           domain.DonationStatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("Donation pledged", map[string]interface{}{
		"donation_id": d.ID.String(),
		"amount":      d.AmountFiat.String(),
	})
	return d, nil
}

// Confirm settles a pledged donation into the pool. Confirming an already
// confirmed donation is a no-op and returns the donation with false, so
// webhook retries and admin double-clicks cannot double-credit the reserve.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*domain.Donation, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	d, err := s.repo.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}

	confirmed, err := s.confirmTx(ctx, tx, d)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit confirmation")
	}

	if confirmed {
		metrics.DonationsConfirmed.Inc()
		s.logger.Info("Donation confirmed", map[string]interface{}{
			"donation_id": d.ID.String(),
			"amount":      d.AmountFiat.String(),
		})
	}
	return d, confirmed, nil
}

// ConfirmByReference is Confirm keyed by the processor's payment reference,
// for webhook delivery.
func (s *Service) ConfirmByReference(ctx context.Context, ref string) (*domain.Donation, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	d, err := s.repo.FindByReferenceForUpdateTx(ctx, tx, ref)
	if err != nil {
		return nil, false, err
	}

	confirmed, err := s.confirmTx(ctx, tx, d)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit confirmation")
	}

	if confirmed {
		metrics.DonationsConfirmed.Inc()
		s.logger.Info("Donation confirmed", map[string]interface{}{
			"donation_id": d.ID.String(),
			"reference":   ref,
		})
	}
	return d, confirmed, nil
}

// confirmTx mutates d in place under the caller's row lock. Returns false
// when the donation was already confirmed.
func (s *Service) confirmTx(ctx context.Context, tx *sqlx.Tx, d *domain.Donation) (bool, error) {
	switch d.Status {
	case domain.DonationStatusConfirmed:
		return false, nil
	case domain.DonationStatusFailed:
		return false, errors.ErrDonationFailed
	}

	pool, err := s.pool.GetForUpdateTx(ctx, tx)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	d.Status = domain.DonationStatusConfirmed
	d.ConfirmedAt = &now
	if err := s.repo.UpdateStatusTx(ctx, tx, d); err != nil {
		return false, err
	}

	pool.ReserveFiat = pool.ReserveFiat.Add(d.AmountFiat)
	if err := s.pool.UpdateTx(ctx, tx, pool); err != nil {
		return false, err
	}

	payload, err := json.Marshal(domain.DepositPayload{
		AmountFiat: d.AmountFiat.String(),
		Reference:  d.PaymentReference,
		DonorEmail: d.DonorEmail,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to encode deposit payload")
	}
	err = s.outbox.EnqueueTx(ctx, tx, &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionRecordDeposit,
		Payload:       payload,
		ReferenceID:   d.ID,
		ReferenceType: domain.MirrorRefDonation,
		Status:        domain.MirrorJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// Fail marks a pledged donation as failed. Confirmed donations cannot be
// failed; the money is already in the reserve.
func (s *Service) Fail(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	d, err := s.repo.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DonationStatusPending {
		return nil, errors.ErrInvalidStatusTransition
	}

	d.Status = domain.DonationStatusFailed
	if err := s.repo.UpdateStatusTx(ctx, tx, d); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit failure")
	}

	s.logger.Warn("Donation marked failed", map[string]interface{}{
		"donation_id": d.ID.String(),
	})
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	return s.repo.FindByID(ctx, id)
}

// Recent returns the latest confirmed donations for the public feed, with
// anonymous donors masked by the caller via DisplayName.
func (s *Service) Recent(ctx context.Context, limit int) ([]*domain.Donation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.FindRecentConfirmed(ctx, limit)
}

// Pending lists pledges awaiting confirmation for admin review.
func (s *Service) Pending(ctx context.Context, limit, offset int) ([]*domain.Donation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.FindByStatus(ctx, domain.DonationStatusPending, limit, offset)
}
