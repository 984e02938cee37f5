package postgres

import (
	"context"
	"database/sql"

	"bloom/internal/domain"
	"bloom/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type WithdrawalRepository struct {
	db *sqlx.DB
}

func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

const withdrawalColumns = `
	id, user_id, token_amount, fiat_amount, point_value_at_request,
	bank_name, account_number, account_name, status,
	reviewed_by, reviewed_at, rejection_reason, payout_reference,
	burn_tx_ref, payout_tx_ref, paid_at, created_at, updated_at
`

func (r *WithdrawalRepository) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (
			id, user_id, token_amount, fiat_amount, point_value_at_request,
			bank_name, account_number, account_name, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.UserID, w.TokenAmount, w.FiatAmount, w.PointValueAtRequest,
		w.BankName, w.AccountNumber, w.AccountName, w.Status,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		// The partial unique index on (user_id) over active statuses closes
		// the race between two concurrent requests from the same user.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrPendingWithdrawalExists
		}
		return errors.Wrap(err, "failed to create withdrawal request")
	}
	return nil
}

func (r *WithdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	err := r.db.GetContext(ctx, &w, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find withdrawal request")
	}
	return &w, nil
}

// FindByIDForUpdateTx locks the request row so review decisions serialize.
func (r *WithdrawalRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`
	err := tx.GetContext(ctx, &w, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock withdrawal request")
	}
	return &w, nil
}

func (r *WithdrawalRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, w *domain.WithdrawalRequest) error {
	query := `
		UPDATE withdrawal_requests SET
			status = $1, reviewed_by = $2, reviewed_at = $3, rejection_reason = $4,
			payout_reference = $5, paid_at = $6, updated_at = NOW()
		WHERE id = $7
	`
	_, err := tx.ExecContext(ctx, query,
		w.Status, w.ReviewedBy, w.ReviewedAt, w.RejectionReason,
		w.PayoutReference, w.PaidAt, w.ID,
	)
	return errors.Wrap(err, "failed to update withdrawal request")
}

func (r *WithdrawalRepository) HasActiveForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE user_id = $1 AND status IN ('pending', 'approved', 'processing')
		)
	`
	err := r.db.GetContext(ctx, &exists, query, userID)
	if err != nil {
		return false, errors.Wrap(err, "failed to check active withdrawals")
	}
	return exists, nil
}

// PendingAmountForUser sums the token amounts reserved by the user's
// active requests.
func (r *WithdrawalRepository) PendingAmountForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `
		SELECT COALESCE(SUM(token_amount), 0)
		FROM withdrawal_requests
		WHERE user_id = $1 AND status IN ('pending', 'approved', 'processing')
	`
	err := r.db.GetContext(ctx, &total, query, userID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum pending withdrawals")
	}
	return total, nil
}

func (r *WithdrawalRepository) FindByStatus(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	var reqs []*domain.WithdrawalRequest
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &reqs, query, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list withdrawal requests")
	}
	return reqs, nil
}

func (r *WithdrawalRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	var reqs []*domain.WithdrawalRequest
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &reqs, query, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list withdrawal requests")
	}
	return reqs, nil
}

func (r *WithdrawalRepository) CountByStatus(ctx context.Context, status domain.WithdrawalStatus) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM withdrawal_requests WHERE status = $1`
	err := r.db.GetContext(ctx, &total, query, status)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count withdrawal requests")
	}
	return total, nil
}

func (r *WithdrawalRepository) AttachBurnTxRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `UPDATE withdrawal_requests SET burn_tx_ref = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, ref, id)
	return errors.Wrap(err, "failed to attach burn tx ref")
}

func (r *WithdrawalRepository) AttachPayoutTxRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `UPDATE withdrawal_requests SET payout_tx_ref = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, ref, id)
	return errors.Wrap(err, "failed to attach payout tx ref")
}

// CompletedTotals returns lifetime paid-out token and fiat volume.
func (r *WithdrawalRepository) CompletedTotals(ctx context.Context) (decimal.Decimal, decimal.Decimal, int, error) {
	var row struct {
		Tokens decimal.Decimal `db:"tokens"`
		Fiat   decimal.Decimal `db:"fiat"`
		Count  int             `db:"count"`
	}
	query := `
		SELECT COALESCE(SUM(token_amount), 0) AS tokens,
		       COALESCE(SUM(fiat_amount), 0) AS fiat,
		       COUNT(*) AS count
		FROM withdrawal_requests WHERE status = 'completed'
	`
	err := r.db.GetContext(ctx, &row, query)
	if err != nil {
		return decimal.Zero, decimal.Zero, 0, errors.Wrap(err, "failed to total withdrawals")
	}
	return row.Tokens, row.Fiat, row.Count, nil
}
