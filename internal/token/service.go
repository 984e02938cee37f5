// Package token implements the point ledger: awarding, deducting, balances
// and the shared donation pool summary.
package token

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
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type PoolRepository interface {
	GetOrCreate(ctx context.Context) (*domain.Pool, error)
	GetForUpdateTx(ctx context.Context, tx *sqlx.Tx) (*domain.Pool, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, pool *domain.Pool) error
}

type LedgerRepository interface {
	InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error
	SumForUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error)
	SumForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ExistsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (bool, error)
	SetBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, balance, earnedDelta decimal.Decimal) error
}

type OutboxRepository interface {
	EnqueueTx(ctx context.Context, tx *sqlx.Tx, job *domain.MirrorJob) error
}

// WithdrawalReader exposes the reserved amount of a user's active cash-out
// requests for wallet views.
type WithdrawalReader interface {
	PendingAmountForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// DonationStatsReader supplies donation aggregates for the admin stats view.
type DonationStatsReader interface {
	ConfirmedTotals(ctx context.Context) (decimal.Decimal, int, error)
	CountByStatus(ctx context.Context, status domain.DonationStatus) (int, error)
}

type WithdrawalStatsReader interface {
	CompletedTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, int, error)
	CountByStatus(ctx context.Context, status domain.WithdrawalStatus) (int, error)
}

type OutboxStatsReader interface {
	CountByStatus(ctx context.Context, status domain.MirrorJobStatus) (int, error)
}

type Service struct {
	db          *sqlx.DB
	pool        PoolRepository
	ledger      LedgerRepository
	users       UserRepository
	outbox      OutboxRepository
	withdrawals WithdrawalReader
	stats       AdminStatsDeps
	logger      logger.Logger
	maxAward    decimal.Decimal
	minWithdraw decimal.Decimal
}

func NewService(
	db *sqlx.DB,
	pool PoolRepository,
	ledger LedgerRepository,
	users UserRepository,
	outbox OutboxRepository,
	withdrawals WithdrawalReader,
	stats AdminStatsDeps,
	log logger.Logger,
	maxAward decimal.Decimal,
	minWithdraw decimal.Decimal,
) *Service {
	return &Service{
		db:          db,
		pool:        pool,
		ledger:      ledger,
		users:       users,
		outbox:      outbox,
		withdrawals: withdrawals,
		stats:       stats,
		logger:      log,
		maxAward:    maxAward,
		minWithdraw: minWithdraw,
	}
}

type AwardRequest struct {
	UserID        uuid.UUID          `json:"user_id" validate:"required"`
	Amount        decimal.Decimal    `json:"amount" validate:"required"`
	Source        domain.EntrySource `json:"source" validate:"required"`
	Kind          domain.EntryKind   `json:"kind"`
	ReferenceID   *uuid.UUID         `json:"reference_id"`
	ReferenceType string             `json:"reference_type"`
	Description   string             `json:"description"`
}

type DeductRequest struct {
	UserID        uuid.UUID          `json:"user_id" validate:"required"`
	Amount        decimal.Decimal    `json:"amount" validate:"required"`
	Source        domain.EntrySource `json:"source" validate:"required"`
	ReferenceID   *uuid.UUID         `json:"reference_id"`
	ReferenceType string             `json:"reference_type"`
	Description   string             `json:"description"`

	// SkipMirror suppresses the burn job for callers that enqueue their own
	// mirror record against a different reference row.
	SkipMirror bool `json:"-"`
}

func (s *Service) validateAward(req *AwardRequest) error {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrInvalidAmount
	}
	if !req.Source.Valid() {
		return errors.ErrInvalidSource
	}
	// Awards are credits; debit kinds would break the kind/sign convention
	// the ledger maintains.
	if req.Kind != "" && req.Kind != domain.EntryKindEarn && req.Kind != domain.EntryKindBonus {
		return errors.ErrInvalidKind
	}
	if s.maxAward.GreaterThan(decimal.Zero) && req.Amount.GreaterThan(s.maxAward) {
		return errors.ErrAboveMaximumAward
	}
	return nil
}

func (s *Service) validateDeduct(req *DeductRequest) error {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.ErrInvalidAmount
	}
	if !req.Source.Valid() {
		return errors.ErrInvalidSource
	}
	return nil
}

// Award credits points to a user in a single transaction: pool lock, ledger
// append, cached counter rewrite, pool issuance bump and mint outbox job.
func (s *Service) Award(ctx context.Context, req *AwardRequest) (*domain.LedgerEntry, error) {
	if err := s.validateAward(req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	entry, err := s.AwardTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit award")
	}

	metrics.PointsIssued.WithLabelValues(string(entry.Source)).Add(amountFloat(entry.Amount))
	s.logger.Info("Points awarded", map[string]interface{}{
		"user_id": req.UserID.String(),
		"amount":  req.Amount.String(),
		"source":  string(req.Source),
	})
	return entry, nil
}

// AwardTx is Award running inside the caller's transaction.
func (s *Service) AwardTx(ctx context.Context, tx *sqlx.Tx, req *AwardRequest) (*domain.LedgerEntry, error) {
	if err := s.validateAward(req); err != nil {
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.EntryKindEarn
	}

	pool, err := s.pool.GetForUpdateTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrUserNotFound
	}

	balance, err := s.ledger.SumForUserTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	newBalance := balance.Add(req.Amount)

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Kind:          kind,
		Amount:        req.Amount,
		BalanceAfter:  newBalance,
		Source:        req.Source,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := s.users.SetBalanceTx(ctx, tx, req.UserID, newBalance, req.Amount); err != nil {
		return nil, err
	}

	pool.TotalIssued = pool.TotalIssued.Add(req.Amount)
	if err := s.pool.UpdateTx(ctx, tx, pool); err != nil {
		return nil, err
	}

	if err := s.enqueueMintTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Deduct debits points from a user. The ledger sum is re-read under the
// pool lock, so a stale cached counter can never let a balance go negative.
func (s *Service) Deduct(ctx context.Context, req *DeductRequest) (*domain.LedgerEntry, error) {
	if err := s.validateDeduct(req); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	entry, err := s.DeductTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit deduction")
	}

	metrics.PointsWithdrawn.Add(amountFloat(req.Amount))
	s.logger.Info("Points deducted", map[string]interface{}{
		"user_id": req.UserID.String(),
		"amount":  req.Amount.String(),
		"source":  string(req.Source),
	})
	return entry, nil
}

// DeductTx is Deduct running inside the caller's transaction. Withdrawal
// approval composes it with the reserve debit and status change so all
// three commit or none do.
func (s *Service) DeductTx(ctx context.Context, tx *sqlx.Tx, req *DeductRequest) (*domain.LedgerEntry, error) {
	if err := s.validateDeduct(req); err != nil {
		return nil, err
	}

	pool, err := s.pool.GetForUpdateTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ErrUserNotFound
	}

	balance, err := s.ledger.SumForUserTx(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(req.Amount) {
		return nil, errors.ErrInsufficientBalance
	}
	newBalance := balance.Sub(req.Amount)

	kind := domain.EntryKindDeduct
	if req.Source == domain.SourceWithdrawal {
		kind = domain.EntryKindWithdraw
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Kind:          kind,
		Amount:        req.Amount.Neg(),
		BalanceAfter:  newBalance,
		Source:        req.Source,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.InsertTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := s.users.SetBalanceTx(ctx, tx, req.UserID, newBalance, decimal.Zero); err != nil {
		return nil, err
	}

	pool.TotalWithdrawn = pool.TotalWithdrawn.Add(req.Amount)
	if err := s.pool.UpdateTx(ctx, tx, pool); err != nil {
		return nil, err
	}

	if !req.SkipMirror {
		if err := s.enqueueBurnTx(ctx, tx, entry, req.Amount); err != nil {
			return nil, err
		}
	}

	return entry, nil
}

func (s *Service) enqueueMintTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	actionID := entry.ID.String()
	if entry.ReferenceID != nil {
		actionID = entry.ReferenceID.String()
	}
	payload, err := json.Marshal(domain.MintPayload{
		UserID:     entry.UserID,
		Amount:     entry.Amount.String(),
		ActionType: string(entry.Source),
		ActionID:   actionID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode mint payload")
	}

	now := time.Now().UTC()
	return s.outbox.EnqueueTx(ctx, tx, &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionMint,
		Payload:       payload,
		ReferenceID:   entry.ID,
		ReferenceType: domain.MirrorRefLedgerEntry,
		Status:        domain.MirrorJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func (s *Service) enqueueBurnTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry, amount decimal.Decimal) error {
	payload, err := json.Marshal(domain.BurnPayload{
		UserID: entry.UserID,
		Amount: amount.String(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode burn payload")
	}

	now := time.Now().UTC()
	return s.outbox.EnqueueTx(ctx, tx, &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionBurn,
		Payload:       payload,
		ReferenceID:   entry.ID,
		ReferenceType: domain.MirrorRefLedgerEntry,
		Status:        domain.MirrorJobStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// BalanceOf returns the authoritative ledger-sum balance.
func (s *Service) BalanceOf(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	return s.ledger.SumForUser(ctx, userID)
}

type WalletResponse struct {
	UserID            uuid.UUID       `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	PendingWithdrawal decimal.Decimal `json:"pending_withdrawal"`
	Available         decimal.Decimal `json:"available"`
	TotalEarned       decimal.Decimal `json:"total_earned"`
	PointValue        decimal.Decimal `json:"point_value"`
	FiatValue         decimal.Decimal `json:"fiat_value"`
	MinimumWithdrawal decimal.Decimal `json:"minimum_withdrawal"`
	CanWithdraw       bool            `json:"can_withdraw"`
}

// Wallet assembles the user-facing balance view: ledger balance, the slice
// reserved by active withdrawals and the fiat value at the current rate.
func (s *Service) Wallet(ctx context.Context, userID uuid.UUID) (*WalletResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.SumForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	pending, err := s.withdrawals.PendingAmountForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	pool, err := s.pool.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	pointValue := pool.PointValue()
	available := balance.Sub(pending)
	return &WalletResponse{
		UserID:            userID,
		Balance:           balance,
		PendingWithdrawal: pending,
		Available:         available,
		TotalEarned:       user.TotalTokensEarned,
		PointValue:        pointValue,
		FiatValue:         balance.Mul(pointValue).Round(2),
		MinimumWithdrawal: s.minWithdraw,
		CanWithdraw:       pending.IsZero() && available.GreaterThanOrEqual(s.minWithdraw),
	}, nil
}

// History returns the user's ledger entries newest first, with the total
// count for pagination.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, int, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, 0, err
	}

	entries, err := s.ledger.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.ledger.CountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

type PoolSummary struct {
	ReserveFiat    decimal.Decimal `json:"reserve_fiat"`
	TotalIssued    decimal.Decimal `json:"total_issued"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	Circulating    decimal.Decimal `json:"circulating"`
	PointValue     decimal.Decimal `json:"point_value"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PoolSummary is the public view of the shared pool.
func (s *Service) PoolSummary(ctx context.Context) (*PoolSummary, error) {
	pool, err := s.pool.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	return &PoolSummary{
		ReserveFiat:    pool.ReserveFiat,
		TotalIssued:    pool.TotalIssued,
		TotalWithdrawn: pool.TotalWithdrawn,
		Circulating:    pool.Circulating(),
		PointValue:     pool.PointValue(),
		UpdatedAt:      pool.UpdatedAt,
	}, nil
}

type AdminStats struct {
	Pool                 *PoolSummary    `json:"pool"`
	DonationsTotal       decimal.Decimal `json:"donations_total"`
	DonationsCount       int             `json:"donations_count"`
	DonationsPending     int             `json:"donations_pending"`
	WithdrawnTokens      decimal.Decimal `json:"withdrawn_tokens"`
	WithdrawnFiat        decimal.Decimal `json:"withdrawn_fiat"`
	WithdrawalsCompleted int             `json:"withdrawals_completed"`
	WithdrawalsPending   int             `json:"withdrawals_pending"`
	MirrorPending        int             `json:"mirror_pending"`
	MirrorFailed         int             `json:"mirror_failed"`
}

// AdminStatsDeps are the extra read surfaces the stats view pulls from.
type AdminStatsDeps struct {
	Donations   DonationStatsReader
	Withdrawals WithdrawalStatsReader
	Outbox      OutboxStatsReader
}

// AdminPoolStats assembles the operator dashboard: pool state, lifetime
// donation and withdrawal volume, and mirror backlog.
func (s *Service) AdminPoolStats(ctx context.Context) (*AdminStats, error) {
	summary, err := s.PoolSummary(ctx)
	if err != nil {
		return nil, err
	}

	donTotal, donCount, err := s.stats.Donations.ConfirmedTotals(ctx)
	if err != nil {
		return nil, err
	}
	donPending, err := s.stats.Donations.CountByStatus(ctx, domain.DonationStatusPending)
	if err != nil {
		return nil, err
	}

	wTokens, wFiat, wCount, err := s.stats.Withdrawals.CompletedTotals(ctx)
	if err != nil {
		return nil, err
	}
	wPending, err := s.stats.Withdrawals.CountByStatus(ctx, domain.WithdrawalStatusPending)
	if err != nil {
		return nil, err
	}

	mirrorPending, err := s.stats.Outbox.CountByStatus(ctx, domain.MirrorJobStatusPending)
	if err != nil {
		return nil, err
	}
	mirrorFailed, err := s.stats.Outbox.CountByStatus(ctx, domain.MirrorJobStatusFailed)
	if err != nil {
		return nil, err
	}

	return &AdminStats{
		Pool:                 summary,
		DonationsTotal:       donTotal,
		DonationsCount:       donCount,
		DonationsPending:     donPending,
		WithdrawnTokens:      wTokens,
		WithdrawnFiat:        wFiat,
		WithdrawalsCompleted: wCount,
		WithdrawalsPending:   wPending,
		MirrorPending:        mirrorPending,
		MirrorFailed:         mirrorFailed,
	}, nil
}

func amountFloat(d decimal.Decimal) float64 {
	f, _ := d.Abs().Float64()
	return f
}
