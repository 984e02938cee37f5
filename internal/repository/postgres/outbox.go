package postgres

import (
	"context"
	"time"

	"bloom/internal/domain"
	"bloom/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OutboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `
	id, action, payload, reference_id, reference_type, status,
	attempts, next_attempt_at, last_error, tx_ref, created_at, updated_at
`

// EnqueueTx inserts the job inside the same transaction as the mutation it
// shadows, so a committed change always has its mirror job and a rolled
// back change never does.
func (r *OutboxRepository) EnqueueTx(ctx context.Context, tx *sqlx.Tx, job *domain.MirrorJob) error {
	query := `
		INSERT INTO mirror_outbox (
			id, action, payload, reference_id, reference_type, status,
			attempts, next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.ExecContext(ctx, query,
		job.ID, job.Action, job.Payload, job.ReferenceID, job.ReferenceType,
		job.Status, job.Attempts, job.NextAttemptAt, job.CreatedAt, job.UpdatedAt,
	)
	return errors.Wrap(err, "failed to enqueue mirror job")
}

// ClaimDue picks up to limit due pending jobs and pushes their
// next_attempt_at forward by lease. SKIP LOCKED lets concurrent workers
// claim disjoint batches; the lease keeps a crashed worker's jobs from
// being stuck longer than one lease window.
func (r *OutboxRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*domain.MirrorJob, error) {
	var jobs []*domain.MirrorJob
	query := `
		UPDATE mirror_outbox SET
			next_attempt_at = NOW() + ($1 * INTERVAL '1 second'),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM mirror_outbox
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	err := r.db.SelectContext(ctx, &jobs, query, int(lease.Seconds()), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim mirror jobs")
	}
	return jobs, nil
}

func (r *OutboxRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, attempts int, txRef string) error {
	query := `
		UPDATE mirror_outbox SET
			status = 'succeeded', attempts = $1, tx_ref = $2,
			last_error = NULL, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, attempts, txRef, id)
	return errors.Wrap(err, "failed to mark mirror job succeeded")
}

// MarkRetry records a failed attempt and schedules the next one.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE mirror_outbox SET
			attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, attempts, nextAttemptAt, lastErr, id)
	return errors.Wrap(err, "failed to schedule mirror retry")
}

// MarkFailed parks the job after the attempt budget is spent. Parked jobs
// keep their payload and last error for manual replay.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	query := `
		UPDATE mirror_outbox SET
			status = 'failed', attempts = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, attempts, lastErr, id)
	return errors.Wrap(err, "failed to park mirror job")
}

// Requeue resets a parked job for another round of attempts.
func (r *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE mirror_outbox SET
			status = 'pending', attempts = 0, next_attempt_at = NOW(),
			last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "failed to requeue mirror job")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check requeue")
	}
	if rows == 0 {
		return errors.ErrMirrorJobNotFound
	}
	return nil
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status domain.MirrorJobStatus) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM mirror_outbox WHERE status = $1`
	err := r.db.GetContext(ctx, &total, query, status)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count mirror jobs")
	}
	return total, nil
}

func (r *OutboxRepository) FindByStatus(ctx context.Context, status domain.MirrorJobStatus, limit, offset int) ([]*domain.MirrorJob, error) {
	var jobs []*domain.MirrorJob
	query := `
		SELECT ` + outboxColumns + `
		FROM mirror_outbox
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &jobs, query, status, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list mirror jobs")
	}
	return jobs, nil
}
