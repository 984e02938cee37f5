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

type DonationRepository struct {
	db *sqlx.DB
}

func NewDonationRepository(db *sqlx.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

const donationColumns = `
	id, donor_name, donor_email, donor_phone, is_anonymous, amount_fiat,
	payment_reference, payment_method, status, external_tx_ref,
	confirmed_at, created_at
`

func (r *DonationRepository) Create(ctx context.Context, d *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, donor_name, donor_email, donor_phone, is_anonymous, amount_fiat,
			payment_reference, payment_method, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.DonorName, d.DonorEmail, d.DonorPhone, d.IsAnonymous,
		d.AmountFiat, d.PaymentReference, d.PaymentMethod, d.Status, d.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return errors.ErrDuplicatePaymentReference
		}
		return errors.Wrap(err, "failed to create donation")
	}
	return nil
}

func (r *DonationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	var d domain.Donation
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	err := r.db.GetContext(ctx, &d, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDonationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find donation")
	}
	return &d, nil
}

// FindByIDForUpdateTx locks the donation row so concurrent confirmations
// serialize on it.
func (r *DonationRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Donation, error) {
	var d domain.Donation
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1 FOR UPDATE`
	err := tx.GetContext(ctx, &d, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDonationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock donation")
	}
	return &d, nil
}

func (r *DonationRepository) FindByReferenceForUpdateTx(ctx context.Context, tx *sqlx.Tx, ref string) (*domain.Donation, error) {
	var d domain.Donation
	query := `SELECT ` + donationColumns + ` FROM donations WHERE payment_reference = $1 FOR UPDATE`
	err := tx.GetContext(ctx, &d, query, ref)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDonationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock donation")
	}
	return &d, nil
}

func (r *DonationRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, d *domain.Donation) error {
	query := `UPDATE donations SET status = $1, confirmed_at = $2 WHERE id = $3`
	_, err := tx.ExecContext(ctx, query, d.Status, d.ConfirmedAt, d.ID)
	return errors.Wrap(err, "failed to update donation status")
}

func (r *DonationRepository) AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	query := `UPDATE donations SET external_tx_ref = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, ref, id)
	return errors.Wrap(err, "failed to attach external ref")
}

func (r *DonationRepository) FindByStatus(ctx context.Context, status domain.DonationStatus, limit, offset int) ([]*domain.Donation, error) {
	var donations []*domain.Donation
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &donations, query, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list donations")
	}
	return donations, nil
}

func (r *DonationRepository) FindRecentConfirmed(ctx context.Context, limit int) ([]*domain.Donation, error) {
	var donations []*domain.Donation
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE status = 'confirmed'
		ORDER BY confirmed_at DESC
		LIMIT $1
	`
	err := r.db.SelectContext(ctx, &donations, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent donations")
	}
	return donations, nil
}

func (r *DonationRepository) CountByStatus(ctx context.Context, status domain.DonationStatus) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM donations WHERE status = $1`
	err := r.db.GetContext(ctx, &total, query, status)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count donations")
	}
	return total, nil
}

// ConfirmedTotals returns the lifetime confirmed donation volume and count.
func (r *DonationRepository) ConfirmedTotals(ctx context.Context) (decimal.Decimal, int, error) {
	var row struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"count"`
	}
	query := `
		SELECT COALESCE(SUM(amount_fiat), 0) AS total, COUNT(*) AS count
		FROM donations WHERE status = 'confirmed'
	`
	err := r.db.GetContext(ctx, &row, query)
	if err != nil {
		return decimal.Zero, 0, errors.Wrap(err, "failed to total donations")
	}
	return row.Total, row.Count, nil
}
