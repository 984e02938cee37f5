package postgres

import (
	"context"

	"bloom/internal/domain"
	"bloom/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type LedgerRepository struct {
	db *sqlx.DB
}

func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `
	id, user_id, kind, amount, balance_after, source,
	reference_id, reference_type, description, external_tx_ref, created_at
`

func (r *LedgerRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, user_id, kind, amount, balance_after, source,
			reference_id, reference_type, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Kind, entry.Amount, entry.BalanceAfter,
		entry.Source, entry.ReferenceID, entry.ReferenceType, entry.Description,
		entry.CreatedAt,
	)
	return errors.Wrap(err, "failed to insert ledger entry")
}

// SumForUserTx computes the authoritative balance as the signed sum of all
// entries, under the caller's transaction so a concurrent writer holding
// the pool lock cannot interleave.
func (r *LedgerRepository) SumForUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`
	err := tx.GetContext(ctx, &sum, query, userID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum ledger")
	}
	return sum, nil
}

func (r *LedgerRepository) SumForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1`
	err := r.db.GetContext(ctx, &sum, query, userID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum ledger")
	}
	return sum, nil
}

func (r *LedgerRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &entries, query, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list ledger entries")
	}
	return entries, nil
}

func (r *LedgerRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1`
	err := r.db.GetContext(ctx, &total, query, userID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count ledger entries")
	}
	return total, nil
}

// AttachExternalRef records the mirror transaction reference once the
// external ledger confirms the entry.
func (r *LedgerRepository) AttachExternalRef(ctx context.Context, entryID uuid.UUID, ref string) error {
	query := `UPDATE ledger_entries SET external_tx_ref = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, ref, entryID)
	return errors.Wrap(err, "failed to attach external ref")
}

// BalanceDrift is one user whose cached counter disagrees with the ledger.
type BalanceDrift struct {
	UserID      uuid.UUID       `db:"user_id"`
	CachedValue decimal.Decimal `db:"cached_value"`
	LedgerValue decimal.Decimal `db:"ledger_value"`
}

// FindDriftedBalances returns users whose users.token_balance no longer
// matches the signed ledger sum. Used by the reconciliation sweep.
func (r *LedgerRepository) FindDriftedBalances(ctx context.Context, limit int) ([]*BalanceDrift, error) {
	var drifts []*BalanceDrift
	query := `
		SELECT u.id AS user_id,
		       u.token_balance AS cached_value,
		       COALESCE(SUM(le.amount), 0) AS ledger_value
		FROM users u
		LEFT JOIN ledger_entries le ON le.user_id = u.id
		GROUP BY u.id, u.token_balance
		HAVING u.token_balance <> COALESCE(SUM(le.amount), 0)
		LIMIT $1
	`
	err := r.db.SelectContext(ctx, &drifts, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find drifted balances")
	}
	return drifts, nil
}
