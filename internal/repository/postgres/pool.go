package postgres

import (
	"context"

	"bloom/internal/domain"
	"bloom/pkg/errors"

	"github.com/jmoiron/sqlx"
)

type PoolRepository struct {
	db *sqlx.DB
}

func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

const poolColumns = `id, reserve_fiat, total_issued, total_withdrawn, updated_at`

// GetOrCreate returns the singleton pool row, inserting it with zero
// balances on first use.
func (r *PoolRepository) GetOrCreate(ctx context.Context) (*domain.Pool, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pool (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		domain.PoolID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure pool row")
	}

	var pool domain.Pool
	err = r.db.GetContext(ctx, &pool,
		`SELECT `+poolColumns+` FROM pool WHERE id = $1`, domain.PoolID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pool")
	}
	return &pool, nil
}

// GetForUpdateTx locks the pool row for the duration of tx. Every balance
// mutation goes through this lock so issued/withdrawn/reserve stay
// consistent under concurrency.
func (r *PoolRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx) (*domain.Pool, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pool (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		domain.PoolID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure pool row")
	}

	var pool domain.Pool
	err = tx.GetContext(ctx, &pool,
		`SELECT `+poolColumns+` FROM pool WHERE id = $1 FOR UPDATE`, domain.PoolID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock pool")
	}
	return &pool, nil
}

// UpdateTx writes the pool counters back inside the transaction that
// locked the row.
func (r *PoolRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, pool *domain.Pool) error {
	query := `
		UPDATE pool SET
			reserve_fiat = $1, total_issued = $2, total_withdrawn = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := tx.ExecContext(ctx, query,
		pool.ReserveFiat, pool.TotalIssued, pool.TotalWithdrawn, pool.ID)
	return errors.Wrap(err, "failed to update pool")
}
