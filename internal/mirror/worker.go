package mirror

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"bloom/internal/domain"
	"bloom/pkg/config"
	"bloom/pkg/errors"
	"bloom/pkg/logger"
	"bloom/pkg/metrics"

	"github.com/google/uuid"
)

type OutboxStore interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*domain.MirrorJob, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, attempts int, txRef string) error
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	CountByStatus(ctx context.Context, status domain.MirrorJobStatus) (int, error)
}

type LedgerRefStore interface {
	AttachExternalRef(ctx context.Context, entryID uuid.UUID, ref string) error
}

type DonationRefStore interface {
	AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error
}

type WithdrawalRefStore interface {
	AttachBurnTxRef(ctx context.Context, id uuid.UUID, ref string) error
	AttachPayoutTxRef(ctx context.Context, id uuid.UUID, ref string) error
}

// Worker drains the outbox on a fixed interval. Delivery is at-least-once:
// a job whose call succeeded but whose bookkeeping write was lost is
// retried, and the mirror is expected to dedupe on the payload references.
type Worker struct {
	outbox      OutboxStore
	client      Client
	ledgers     LedgerRefStore
	donations   DonationRefStore
	withdrawals WithdrawalRefStore
	logger      logger.Logger
	cfg         config.MirrorConfig
}

func NewWorker(
	outbox OutboxStore,
	client Client,
	ledgers LedgerRefStore,
	donations DonationRefStore,
	withdrawals WithdrawalRefStore,
	log logger.Logger,
	cfg config.MirrorConfig,
) *Worker {
	return &Worker{
		outbox:      outbox,
		client:      client,
		ledgers:     ledgers,
		donations:   donations,
		withdrawals: withdrawals,
		logger:      log,
		cfg:         cfg,
	}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("Mirror worker started", map[string]interface{}{
		"poll_interval": w.cfg.PollInterval.String(),
		"batch_size":    w.cfg.BatchSize,
	})

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Mirror worker stopped", nil)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce claims one batch and works through it sequentially. The claim
// lease covers the whole batch at the per-call timeout.
func (w *Worker) runOnce(ctx context.Context) {
	lease := time.Duration(w.cfg.BatchSize) * w.cfg.CallTimeout
	jobs, err := w.outbox.ClaimDue(ctx, w.cfg.BatchSize, lease)
	if err != nil {
		w.logger.Error("Failed to claim mirror jobs", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, job := range jobs {
		w.process(ctx, job)
	}

	if pending, err := w.outbox.CountByStatus(ctx, domain.MirrorJobStatusPending); err == nil {
		metrics.OutboxDepth.Set(float64(pending))
	}
}

func (w *Worker) process(ctx context.Context, job *domain.MirrorJob) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	txRef, err := w.dispatch(callCtx, job)
	cancel()

	attempts := job.Attempts + 1

	if err == nil {
		metrics.MirrorAttempts.WithLabelValues(string(job.Action), "success").Inc()
		if err := w.outbox.MarkSucceeded(ctx, job.ID, attempts, txRef); err != nil {
			w.logger.Error("Failed to record mirror success", map[string]interface{}{
				"job_id": job.ID.String(), "error": err.Error(),
			})
			return
		}
		w.attachRef(ctx, job, txRef)
		return
	}

	// Permanent rejections and spent budgets park the job for manual replay.
	if errors.Is(err, errors.ErrMirrorRejected) || attempts >= w.cfg.MaxAttempts {
		metrics.MirrorAttempts.WithLabelValues(string(job.Action), "failed").Inc()
		w.logger.Error("Mirror job parked", map[string]interface{}{
			"job_id":   job.ID.String(),
			"action":   string(job.Action),
			"attempts": attempts,
			"error":    err.Error(),
		})
		if err := w.outbox.MarkFailed(ctx, job.ID, attempts, err.Error()); err != nil {
			w.logger.Error("Failed to park mirror job", map[string]interface{}{
				"job_id": job.ID.String(), "error": err.Error(),
			})
		}
		return
	}

	metrics.MirrorAttempts.WithLabelValues(string(job.Action), "retry").Inc()
	next := time.Now().UTC().Add(w.backoff(attempts))
	w.logger.Warn("Mirror call failed, scheduling retry", map[string]interface{}{
		"job_id":   job.ID.String(),
		"action":   string(job.Action),
		"attempts": attempts,
		"next_at":  next.Format(time.RFC3339),
		"error":    err.Error(),
	})
	if err := w.outbox.MarkRetry(ctx, job.ID, attempts, next, err.Error()); err != nil {
		w.logger.Error("Failed to schedule mirror retry", map[string]interface{}{
			"job_id": job.ID.String(), "error": err.Error(),
		})
	}
}

func (w *Worker) dispatch(ctx context.Context, job *domain.MirrorJob) (string, error) {
	switch job.Action {
	case domain.MirrorActionMint:
		var p domain.MintPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return "", errors.Wrap(errors.ErrMirrorRejected, "malformed mint payload")
		}
		return w.client.Mint(ctx, p)
	case domain.MirrorActionBurn:
		var p domain.BurnPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return "", errors.Wrap(errors.ErrMirrorRejected, "malformed burn payload")
		}
		return w.client.Burn(ctx, p)
	case domain.MirrorActionRecordDeposit:
		var p domain.DepositPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return "", errors.Wrap(errors.ErrMirrorRejected, "malformed deposit payload")
		}
		return w.client.RecordDeposit(ctx, p)
	case domain.MirrorActionRecordWithdrawal:
		var p domain.WithdrawalPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return "", errors.Wrap(errors.ErrMirrorRejected, "malformed withdrawal payload")
		}
		return w.client.RecordWithdrawal(ctx, p)
	default:
		return "", errors.Wrap(errors.ErrMirrorRejected, "unknown mirror action")
	}
}

// attachRef writes the mirror's tx reference back onto the row the job
// shadows. Failures here are logged only; the job already succeeded.
func (w *Worker) attachRef(ctx context.Context, job *domain.MirrorJob, txRef string) {
	var err error
	switch job.ReferenceType {
	case domain.MirrorRefLedgerEntry:
		err = w.ledgers.AttachExternalRef(ctx, job.ReferenceID, txRef)
	case domain.MirrorRefDonation:
		err = w.donations.AttachExternalRef(ctx, job.ReferenceID, txRef)
	case domain.MirrorRefWithdrawalBurn:
		err = w.withdrawals.AttachBurnTxRef(ctx, job.ReferenceID, txRef)
	case domain.MirrorRefWithdrawalPayout:
		err = w.withdrawals.AttachPayoutTxRef(ctx, job.ReferenceID, txRef)
	default:
		w.logger.Warn("Mirror job with unknown reference type", map[string]interface{}{
			"job_id": job.ID.String(), "reference_type": job.ReferenceType,
		})
		return
	}
	if err != nil {
		w.logger.Error("Failed to attach mirror tx ref", map[string]interface{}{
			"job_id": job.ID.String(), "error": err.Error(),
		})
	}
}

// backoff doubles per attempt from the configured base.
func (w *Worker) backoff(attempts int) time.Duration {
	d := time.Duration(float64(w.cfg.BackoffBase) * math.Pow(2, float64(attempts-1)))
	if max := 1 * time.Hour; d > max {
		d = max
	}
	return d
}
