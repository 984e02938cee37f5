package postgres

import (
	"context"
	"database/sql"

	"bloom/internal/domain"
	"bloom/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT id, email, first_name, last_name, user_type,
		       token_balance, total_tokens_earned, created_at, updated_at
		FROM users WHERE id = $1
	`
	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return &user, nil
}

// SetBalanceTx rewrites the cached balance counters from the authoritative
// ledger sum. earnedDelta is added to the lifetime-earned counter and is
// zero for deductions.
func (r *UserRepository) SetBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, balance, earnedDelta decimal.Decimal) error {
	query := `
		UPDATE users SET
			token_balance = $1,
			total_tokens_earned = total_tokens_earned + $2,
			updated_at = NOW()
		WHERE id = $3
	`
	res, err := tx.ExecContext(ctx, query, balance, earnedDelta, userID)
	if err != nil {
		return errors.Wrap(err, "failed to update user balance")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check balance update")
	}
	if rows == 0 {
		return errors.ErrUserNotFound
	}
	return nil
}

// ExistsTx reports whether the user row exists, inside tx.
func (r *UserRepository) ExistsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
	if err != nil {
		return false, errors.Wrap(err, "failed to check user")
	}
	return exists, nil
}
