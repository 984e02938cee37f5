package mirror

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bloom/internal/domain"
	"bloom/pkg/config"
	"bloom/pkg/errors"
	"bloom/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockOutboxStore struct {
	mock.Mock
}

func (m *MockOutboxStore) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*domain.MirrorJob, error) {
	args := m.Called(ctx, limit, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MirrorJob), args.Error(1)
}

func (m *MockOutboxStore) MarkSucceeded(ctx context.Context, id uuid.UUID, attempts int, txRef string) error {
	args := m.Called(ctx, id, attempts, txRef)
	return args.Error(0)
}

func (m *MockOutboxStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	args := m.Called(ctx, id, attempts, nextAttemptAt, lastErr)
	return args.Error(0)
}

func (m *MockOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	args := m.Called(ctx, id, attempts, lastErr)
	return args.Error(0)
}

func (m *MockOutboxStore) CountByStatus(ctx context.Context, status domain.MirrorJobStatus) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Mint(ctx context.Context, p domain.MintPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockClient) Burn(ctx context.Context, p domain.BurnPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockClient) RecordDeposit(ctx context.Context, p domain.DepositPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockClient) RecordWithdrawal(ctx context.Context, p domain.WithdrawalPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

type MockLedgerRefStore struct {
	mock.Mock
}

func (m *MockLedgerRefStore) AttachExternalRef(ctx context.Context, entryID uuid.UUID, ref string) error {
	args := m.Called(ctx, entryID, ref)
	return args.Error(0)
}

type MockDonationRefStore struct {
	mock.Mock
}

func (m *MockDonationRefStore) AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

type MockWithdrawalRefStore struct {
	mock.Mock
}

func (m *MockWithdrawalRefStore) AttachBurnTxRef(ctx context.Context, id uuid.UUID, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

func (m *MockWithdrawalRefStore) AttachPayoutTxRef(ctx context.Context, id uuid.UUID, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

type workerFixture struct {
	outbox      *MockOutboxStore
	client      *MockClient
	ledgers     *MockLedgerRefStore
	donations   *MockDonationRefStore
	withdrawals *MockWithdrawalRefStore
	worker      *Worker
}

func newWorkerFixture() *workerFixture {
	f := &workerFixture{
		outbox:      &MockOutboxStore{},
		client:      &MockClient{},
		ledgers:     &MockLedgerRefStore{},
		donations:   &MockDonationRefStore{},
		withdrawals: &MockWithdrawalRefStore{},
	}
	f.worker = NewWorker(f.outbox, f.client, f.ledgers, f.donations, f.withdrawals, logger.NewNop(), config.MirrorConfig{
		CallTimeout: 5 * time.Second,
		BatchSize:   10,
		MaxAttempts: 3,
		BackoffBase: 30 * time.Second,
	})
	return f
}

func mintJob(t *testing.T) *domain.MirrorJob {
	t.Helper()
	payload, err := json.Marshal(domain.MintPayload{
		UserID:     uuid.New(),
		Amount:     "50",
		ActionType: "lesson_completed",
		ActionID:   uuid.New().String(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionMint,
		Payload:       payload,
		ReferenceID:   uuid.New(),
		ReferenceType: domain.MirrorRefLedgerEntry,
		Status:        domain.MirrorJobStatusPending,
	}
}

func TestProcess_SuccessAttachesLedgerRef(t *testing.T) {
	f := newWorkerFixture()
	job := mintJob(t)

	f.client.On("Mint", mock.Anything, mock.Anything).Return("0xabc123", nil)
	f.outbox.On("MarkSucceeded", mock.Anything, job.ID, 1, "0xabc123").Return(nil)
	f.ledgers.On("AttachExternalRef", mock.Anything, job.ReferenceID, "0xabc123").Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
	f.ledgers.AssertExpectations(t)
}

func TestProcess_SuccessAttachesWithdrawalBurnRef(t *testing.T) {
	f := newWorkerFixture()
	withdrawalID := uuid.New()
	payload, _ := json.Marshal(domain.BurnPayload{
		UserID:       uuid.New(),
		Amount:       "300",
		WithdrawalID: &withdrawalID,
	})
	job := &domain.MirrorJob{
		ID:            uuid.New(),
		Action:        domain.MirrorActionBurn,
		Payload:       payload,
		ReferenceID:   withdrawalID,
		ReferenceType: domain.MirrorRefWithdrawalBurn,
	}

	f.client.On("Burn", mock.Anything, mock.Anything).Return("0xburn", nil)
	f.outbox.On("MarkSucceeded", mock.Anything, job.ID, 1, "0xburn").Return(nil)
	f.withdrawals.On("AttachBurnTxRef", mock.Anything, withdrawalID, "0xburn").Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
	f.withdrawals.AssertExpectations(t)
}

func TestProcess_RetryableSchedulesRetry(t *testing.T) {
	f := newWorkerFixture()
	job := mintJob(t)

	f.client.On("Mint", mock.Anything, mock.Anything).Return("", errors.ErrMirrorUnavailable)
	f.outbox.On("MarkRetry", mock.Anything, job.ID, 1, mock.Anything, mock.Anything).Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
	f.outbox.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_RejectionParksImmediately(t *testing.T) {
	f := newWorkerFixture()
	job := mintJob(t)

	f.client.On("Mint", mock.Anything, mock.Anything).Return("", errors.ErrMirrorRejected)
	f.outbox.On("MarkFailed", mock.Anything, job.ID, 1, mock.Anything).Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
	f.outbox.AssertNotCalled(t, "MarkRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_SpentBudgetParks(t *testing.T) {
	f := newWorkerFixture()
	job := mintJob(t)
	job.Attempts = 2 // next failure is attempt 3 of 3

	f.client.On("Mint", mock.Anything, mock.Anything).Return("", errors.ErrMirrorUnavailable)
	f.outbox.On("MarkFailed", mock.Anything, job.ID, 3, mock.Anything).Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
}

func TestProcess_MalformedPayloadParks(t *testing.T) {
	f := newWorkerFixture()
	job := mintJob(t)
	job.Payload = []byte("{not json")

	f.outbox.On("MarkFailed", mock.Anything, job.ID, 1, mock.Anything).Return(nil)

	f.worker.process(context.Background(), job)

	f.outbox.AssertExpectations(t)
	f.client.AssertNotCalled(t, "Mint", mock.Anything, mock.Anything)
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	f := newWorkerFixture()

	assert.Equal(t, 30*time.Second, f.worker.backoff(1))
	assert.Equal(t, 60*time.Second, f.worker.backoff(2))
	assert.Equal(t, 120*time.Second, f.worker.backoff(3))
	assert.Equal(t, 1*time.Hour, f.worker.backoff(20))
}
