package withdrawal

import (
	"context"
	"testing"

	"bloom/internal/domain"
	"bloom/pkg/errors"
	"bloom/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, w *domain.WithdrawalRequest) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WithdrawalRequest), args.Error(1)
}

func (m *MockRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WithdrawalRequest), args.Error(1)
}

func (m *MockRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, w *domain.WithdrawalRequest) error {
	args := m.Called(ctx, tx, w)
	return args.Error(0)
}

func (m *MockRepository) HasActiveForUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) PendingAmountForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockRepository) FindByStatus(ctx context.Context, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WithdrawalRequest), args.Error(1)
}

func (m *MockRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.WithdrawalRequest), args.Error(1)
}

type MockPoolRepository struct {
	mock.Mock
}

func (m *MockPoolRepository) GetOrCreate(ctx context.Context) (*domain.Pool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pool), args.Error(1)
}

func (m *MockPoolRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx) (*domain.Pool, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Pool), args.Error(1)
}

func (m *MockPoolRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, pool *domain.Pool) error {
	args := m.Called(ctx, tx, pool)
	return args.Error(0)
}

type MockLedgerReader struct {
	mock.Mock
}

func (m *MockLedgerReader) SumForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func newTestService(repo *MockRepository, pool *MockPoolRepository, ledger *MockLedgerReader) *Service {
	return NewService(nil, repo, pool, ledger, nil, nil, logger.NewNop(), decimal.NewFromInt(200), "NGN")
}

func validInput(userID uuid.UUID, amount int64) *RequestInput {
	return &RequestInput{
		UserID:        userID,
		TokenAmount:   decimal.NewFromInt(amount),
		BankName:      "First Bank",
		AccountNumber: "0123456789",
		AccountName:   "Ada Obi",
	}
}

func TestRequest_BelowMinimum(t *testing.T) {
	s := newTestService(&MockRepository{}, &MockPoolRepository{}, &MockLedgerReader{})

	_, err := s.Request(context.Background(), validInput(uuid.New(), 150))
	assert.ErrorIs(t, err, errors.ErrBelowMinimumWithdrawal)

	_, err = s.Request(context.Background(), validInput(uuid.New(), 0))
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestRequest_ActiveRequestExists(t *testing.T) {
	repo := &MockRepository{}
	s := newTestService(repo, &MockPoolRepository{}, &MockLedgerReader{})

	userID := uuid.New()
	repo.On("HasActiveForUser", mock.Anything, userID).Return(true, nil)

	_, err := s.Request(context.Background(), validInput(userID, 500))
	assert.ErrorIs(t, err, errors.ErrPendingWithdrawalExists)
}

func TestRequest_InsufficientBalance(t *testing.T) {
	repo := &MockRepository{}
	ledger := &MockLedgerReader{}
	s := newTestService(repo, &MockPoolRepository{}, ledger)

	userID := uuid.New()
	repo.On("HasActiveForUser", mock.Anything, userID).Return(false, nil)
	ledger.On("SumForUser", mock.Anything, userID).Return(decimal.NewFromInt(300), nil)

	_, err := s.Request(context.Background(), validInput(userID, 500))
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
}

func TestRequest_SnapshotsRate(t *testing.T) {
	repo := &MockRepository{}
	pool := &MockPoolRepository{}
	ledger := &MockLedgerReader{}
	s := newTestService(repo, pool, ledger)

	userID := uuid.New()
	repo.On("HasActiveForUser", mock.Anything, userID).Return(false, nil)
	ledger.On("SumForUser", mock.Anything, userID).Return(decimal.NewFromInt(1000), nil)
	// point value 100/3 circulating = 33.33333333
	pool.On("GetOrCreate", mock.Anything).Return(&domain.Pool{
		ReserveFiat: decimal.NewFromInt(100),
		TotalIssued: decimal.NewFromInt(3),
	}, nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	w, err := s.Request(context.Background(), validInput(userID, 300))
	require.NoError(t, err)

	expectedRate, _ := decimal.NewFromString("33.33333333")
	assert.True(t, w.PointValueAtRequest.Equal(expectedRate))
	// 300 * 33.33333333 = 9999.999999, rounded to 2 places
	assert.Equal(t, "10000.00", w.FiatAmount.StringFixed(2))
	assert.Equal(t, domain.WithdrawalStatusPending, w.Status)
	repo.AssertExpectations(t)
}

func TestMinimumAndCurrency(t *testing.T) {
	s := newTestService(&MockRepository{}, &MockPoolRepository{}, &MockLedgerReader{})
	assert.True(t, s.Minimum().Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "NGN", s.Currency())
}
