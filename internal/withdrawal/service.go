// Package withdrawal implements the cash-out workflow: request, review,
// payout.
package withdrawal

import (
	"context"
	"encoding/json"
	"time"

	"bloom/internal/domain"
	"bloom/internal/token"
	"bloom/pkg/errors"
	"bloom/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type Repository interface {
	Create(ctx context.Context, w *domain.WithdrawalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, w *domain.WithdrawalRequest) error
	HasActiveForUser(ctx context.Context, userID uuid.UUID) (bool, error)
	PendingAmountForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	FindByStatus(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WithdrawalRequest, error)
}

type PoolRepository interface {
	GetOrCreate(ctx context.Context) (*domain.Pool, error)
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx) (*domain.Pool, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, pool *domain.Pool) error
}

type LedgerReader interface {
	SumForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// TokenService is the slice of the token engine the workflow composes
// with: the in-transaction deduction.
type TokenService interface {
	DeductTx(ctx context.Context, tx *sqlx.Tx, req *token.DeductRequest) (*domain.LedgerEntry, error)
}

type OutboxRepository interface {
	EnqueueTx(ctx context.Context, tx *sqlx.Tx, job *domain.MirrorJob) error
}

type Service struct {
	db       *sqlx.DB
	repo     Repository
	pool     PoolRepository
	ledger   LedgerReader
	tokens   TokenService
	outbox   OutboxRepository
	logger   logger.Logger
	minimum  decimal.Decimal
	currency string
}

func NewService(
	db *sqlx.DB,
	repo Repository,
	pool PoolRepository,
	ledger LedgerReader,
	tokens TokenService,
	outbox OutboxRepository,
	log logger.Logger,
	minimum decimal.Decimal,
	currency string,
) *Service {
	return &Service{
		db:       db,
		repo:     repo,
		pool:     pool,
		ledger:   ledger,
		tokens:   tokens,
		outbox:   outbox,
		logger:   log,
		minimum:  minimum,
		currency: currency,
	}
}

type RequestInput struct {
	UserID        uuid.UUID       `json:"user_id" validate:"required"`
	TokenAmount   decimal.Decimal `json:"token_amount" validate:"required"`
	BankName      string          `json:"bank_name" validate:"required,max=100"`
	AccountNumber string          `json:"account_number" validate:"required,min=6,max=20"`
	AccountName   string          `json:"account_name" validate:"required,max=200"`
}

// Request opens a cash-out. The exchange rate is snapshotted now; approval
// and payout honor this figure even if the pool moves later. Points stay in
// the user's balance until approval.
func (s *Service) Request(ctx context.Context, req *RequestInput) (*domain.WithdrawalRequest, error) {
	if req.TokenAmount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.ErrInvalidAmount
	}
	if req.TokenAmount.LessThan(s.minimum) {
		return nil, errors.ErrBelowMinimumWithdrawal
	}

	active, err := s.repo.HasActiveForUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, errors.ErrPendingWithdrawalExists
	}

	balance, err := s.ledger.SumForUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(req.TokenAmount) {
		return nil, errors.ErrInsufficientBalance
	}

	pool, err := s.pool.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	pointValue := pool.PointValue()

	now := time.Now().UTC()
	w := &domain.WithdrawalRequest{
		ID:                  uuid.New(),
		UserID:              req.UserID,
		TokenAmount:         req.TokenAmount,
		FiatAmount:          req.TokenAmount.Mul(pointValue).Round(2),
		PointValueAtRequest: pointValue,
		BankName:            req.BankName,
		AccountNumber:       req.AccountNumber,
		AccountName:         req.AccountName,
		Status:              domain.WithdrawalStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("Withdrawal requested", map[string]interface{}{
		"withdrawal_id": w.ID.String(),
		"user_id":       w.UserID.String(),
		"token_amount":  w.TokenAmount.String(),
		"fiat_amount":   w.FiatAmount.String(),
	})
	return w, nil
}

// Approve deducts the points, debits the pool reserve by the snapshotted
// fiat amount and enqueues the burn, all in one transaction. The balance is
// re-checked under the pool lock; a user who spent points since requesting
// is rejected here.
func (s *Service) Approve(ctx context.Context, id, reviewerID uuid.UUID) (*domain.WithdrawalRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	w, err := s.repo.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusPending {
		return nil, errors.ErrInvalidStatusTransition
	}

	// DeductTx takes the pool lock, re-verifies the ledger balance and
	// appends the withdraw entry. The burn is enqueued here against the
	// withdrawal row instead.
	entry, err := s.tokens.DeductTx(ctx, tx, &token.DeductRequest{
		UserID:        w.UserID,
		Amount:        w.TokenAmount,
		Source:        domain.SourceWithdrawal,
		ReferenceID:   &w.ID,
		ReferenceType: "withdrawal_request",
		Description:   "Withdrawal approved",
		SkipMirror:    true,
	})
	if err != nil {
		return nil, err
	}

	pool, err := s.pool.GetForUpdateTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if pool.ReserveFiat.LessThan(w.FiatAmount) {
		return nil, errors.ErrInsufficientReserve
	}
	pool.ReserveFiat = pool.ReserveFiat.Sub(w.FiatAmount)
	if err := s.pool.UpdateTx(ctx, tx, pool); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w.Status = domain.WithdrawalStatusApproved
	w.ReviewedBy = &reviewerID
	w.ReviewedAt = &now
	if err := s.repo.UpdateTx(ctx, tx, w); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(domain.BurnPayload{
		UserID:       w.UserID,
		Amount:       w.TokenAmount.String(),
		WithdrawalID: &w.ID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode burn payload")
	}
	err = s.outbox.EnqueueTx(ctx, tx, &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionBurn,
		Payload:       payload,
		ReferenceID:   w.ID,
		ReferenceType: domain.MirrorRefWithdrawalBurn,
		Status:        domain.MirrorJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit approval")
	}

	s.logger.Info("Withdrawal approved", map[string]interface{}{
		"withdrawal_id": w.ID.String(),
		"user_id":       w.UserID.String(),
		"reviewer_id":   reviewerID.String(),
		"ledger_entry":  entry.ID.String(),
	})
	return w, nil
}

// Reject closes a pending request without touching any balance. The points
// were never deducted, so nothing is refunded.
func (s *Service) Reject(ctx context.Context, id, reviewerID uuid.UUID, reason string) (*domain.WithdrawalRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	w, err := s.repo.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusPending {
		return nil, errors.ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	w.Status = domain.WithdrawalStatusRejected
	w.ReviewedBy = &reviewerID
	w.ReviewedAt = &now
	w.RejectionReason = reason
	if err := s.repo.UpdateTx(ctx, tx, w); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit rejection")
	}

	s.logger.Info("Withdrawal rejected", map[string]interface{}{
		"withdrawal_id": w.ID.String(),
		"reviewer_id":   reviewerID.String(),
		"reason":        reason,
	})
	return w, nil
}

// MarkPaid records the completed bank transfer and enqueues the payout
// record for the mirror.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, payoutReference string) (*domain.WithdrawalRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	w, err := s.repo.FindByIDForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalStatusApproved && w.Status != domain.WithdrawalStatusProcessing {
		return nil, errors.ErrInvalidStatusTransition
	}

	now := time.Now().UTC()
	w.Status = domain.WithdrawalStatusCompleted
	w.PayoutReference = payoutReference
	w.PaidAt = &now
	if err := s.repo.UpdateTx(ctx, tx, w); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(domain.WithdrawalPayload{
		UserID:          w.UserID,
		TokenAmount:     w.TokenAmount.String(),
		FiatAmount:      w.FiatAmount.String(),
		WithdrawalID:    w.ID,
		PayoutReference: payoutReference,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode payout payload")
	}
	err = s.outbox.EnqueueTx(ctx, tx, &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionRecordWithdrawal,
		Payload:       payload,
		ReferenceID:   w.ID,
		ReferenceType: domain.MirrorRefWithdrawalPayout,
		Status:        domain.MirrorJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit payout")
	}

	s.logger.Info("Withdrawal paid", map[string]interface{}{
		"withdrawal_id":    w.ID.String(),
		"payout_reference": payoutReference,
	})
	return w, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return s.repo.FindByID(ctx, id)
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.FindByStatus(ctx, domain.WithdrawalStatusPending, limit, offset)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.FindByUserID(ctx, userID, limit, offset)
}

// PendingAmount is the token total reserved by the user's active requests.
func (s *Service) PendingAmount(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.PendingAmountForUser(ctx, userID)
}

// Minimum is the smallest token amount a request may cash out.
func (s *Service) Minimum() decimal.Decimal {
	return s.minimum
}

// Currency is the fiat currency payouts settle in.
func (s *Service) Currency() string {
	return s.currency
}
