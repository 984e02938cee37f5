package token

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

// --- Mocks ---

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

type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) SumForUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) SumForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedgerRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) ExistsTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) SetBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, balance, earnedDelta decimal.Decimal) error {
	args := m.Called(ctx, tx, userID, balance, earnedDelta)
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) EnqueueTx(ctx context.Context, tx *sqlx.Tx, job *domain.MirrorJob) error {
	args := m.Called(ctx, tx, job)
	return args.Error(0)
}

type MockWithdrawalReader struct {
	mock.Mock
}

func (m *MockWithdrawalReader) PendingAmountForUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func newTestService(pool *MockPoolRepository, ledger *MockLedgerRepository, users *MockUserRepository, withdrawals *MockWithdrawalReader) *Service {
	return NewService(
		nil, pool, ledger, users, &MockOutboxRepository{}, withdrawals,
		AdminStatsDeps{}, logger.NewNop(), decimal.NewFromInt(10000), decimal.NewFromInt(200),
	)
}

// --- Tests ---

func TestAward_InvalidAmount(t *testing.T) {
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	_, err := s.Award(context.Background(), &AwardRequest{
		UserID: uuid.New(),
		Amount: decimal.Zero,
		Source: domain.SourceLesson,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = s.Award(context.Background(), &AwardRequest{
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(-5),
		Source: domain.SourceLesson,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestAward_UnknownSource(t *testing.T) {
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	_, err := s.Award(context.Background(), &AwardRequest{
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(10),
		Source: domain.EntrySource("gambling"),
	})
	assert.ErrorIs(t, err, errors.ErrInvalidSource)
}

func TestAward_RejectsDebitKinds(t *testing.T) {
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	// A credit entry must never carry a debit kind.
	for _, kind := range []domain.EntryKind{domain.EntryKindWithdraw, domain.EntryKindDeduct} {
		_, err := s.Award(context.Background(), &AwardRequest{
			UserID: uuid.New(),
			Amount: decimal.NewFromInt(50),
			Source: domain.SourceLesson,
			Kind:   kind,
		})
		assert.ErrorIs(t, err, errors.ErrInvalidKind, "kind %s", kind)
	}

	// Bonus and the blank default stay valid.
	for _, kind := range []domain.EntryKind{"", domain.EntryKindEarn, domain.EntryKindBonus} {
		err := s.validateAward(&AwardRequest{
			UserID: uuid.New(),
			Amount: decimal.NewFromInt(50),
			Source: domain.SourceLesson,
			Kind:   kind,
		})
		assert.NoError(t, err, "kind %q", kind)
	}
}

func TestAward_AboveMaximum(t *testing.T) {
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	_, err := s.Award(context.Background(), &AwardRequest{
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(10001),
		Source: domain.SourceAdmin,
	})
	assert.ErrorIs(t, err, errors.ErrAboveMaximumAward)
}

func TestDeduct_InvalidAmount(t *testing.T) {
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	_, err := s.Deduct(context.Background(), &DeductRequest{
		UserID: uuid.New(),
		Amount: decimal.Zero,
		Source: domain.SourceAdmin,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestBalanceOf(t *testing.T) {
	ledger := &MockLedgerRepository{}
	users := &MockUserRepository{}
	s := newTestService(&MockPoolRepository{}, ledger, users, &MockWithdrawalReader{})

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	ledger.On("SumForUser", mock.Anything, userID).Return(decimal.NewFromInt(350), nil)

	balance, err := s.BalanceOf(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(350)))
}

func TestBalanceOf_UnknownUser(t *testing.T) {
	users := &MockUserRepository{}
	s := newTestService(&MockPoolRepository{}, &MockLedgerRepository{}, users, &MockWithdrawalReader{})

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(nil, errors.ErrUserNotFound)

	_, err := s.BalanceOf(context.Background(), userID)
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestWallet(t *testing.T) {
	pool := &MockPoolRepository{}
	ledger := &MockLedgerRepository{}
	users := &MockUserRepository{}
	withdrawals := &MockWithdrawalReader{}
	s := newTestService(pool, ledger, users, withdrawals)

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(&domain.User{
		ID:                userID,
		TotalTokensEarned: decimal.NewFromInt(500),
	}, nil)
	ledger.On("SumForUser", mock.Anything, userID).Return(decimal.NewFromInt(300), nil)
	withdrawals.On("PendingAmountForUser", mock.Anything, userID).Return(decimal.NewFromInt(200), nil)
	pool.On("GetOrCreate", mock.Anything).Return(&domain.Pool{
		ReserveFiat: decimal.NewFromInt(1000),
		TotalIssued: decimal.NewFromInt(2000),
	}, nil)

	wallet, err := s.Wallet(context.Background(), userID)
	require.NoError(t, err)

	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(300)))
	assert.True(t, wallet.PendingWithdrawal.Equal(decimal.NewFromInt(200)))
	assert.True(t, wallet.Available.Equal(decimal.NewFromInt(100)))
	assert.True(t, wallet.TotalEarned.Equal(decimal.NewFromInt(500)))
	// point value 0.5, fiat value 300*0.5 = 150.00
	assert.True(t, wallet.PointValue.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, wallet.FiatValue.Equal(decimal.NewFromInt(150)))
	// an active withdrawal blocks a new one
	assert.False(t, wallet.CanWithdraw)
	assert.True(t, wallet.MinimumWithdrawal.Equal(decimal.NewFromInt(200)))
}

func TestWallet_CanWithdraw(t *testing.T) {
	pool := &MockPoolRepository{}
	ledger := &MockLedgerRepository{}
	users := &MockUserRepository{}
	withdrawals := &MockWithdrawalReader{}
	s := newTestService(pool, ledger, users, withdrawals)

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	ledger.On("SumForUser", mock.Anything, userID).Return(decimal.NewFromInt(250), nil)
	withdrawals.On("PendingAmountForUser", mock.Anything, userID).Return(decimal.Zero, nil)
	pool.On("GetOrCreate", mock.Anything).Return(&domain.Pool{}, nil)

	wallet, err := s.Wallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.CanWithdraw)
}

func TestHistory_ClampsPagination(t *testing.T) {
	ledger := &MockLedgerRepository{}
	users := &MockUserRepository{}
	s := newTestService(&MockPoolRepository{}, ledger, users, &MockWithdrawalReader{})

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(&domain.User{ID: userID}, nil)
	ledger.On("FindByUserID", mock.Anything, userID, defaultHistoryLimit, 0).
		Return([]*domain.LedgerEntry{}, nil)
	ledger.On("CountByUserID", mock.Anything, userID).Return(0, nil)

	_, _, err := s.History(context.Background(), userID, 0, -10)
	require.NoError(t, err)
	ledger.AssertExpectations(t)

	ledger.On("FindByUserID", mock.Anything, userID, maxHistoryLimit, 0).
		Return([]*domain.LedgerEntry{}, nil)
	_, _, err = s.History(context.Background(), userID, 9999, 0)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestPoolSummary(t *testing.T) {
	pool := &MockPoolRepository{}
	s := newTestService(pool, &MockLedgerRepository{}, &MockUserRepository{}, &MockWithdrawalReader{})

	pool.On("GetOrCreate", mock.Anything).Return(&domain.Pool{
		ReserveFiat:    decimal.NewFromInt(900),
		TotalIssued:    decimal.NewFromInt(3000),
		TotalWithdrawn: decimal.NewFromInt(1200),
	}, nil)

	summary, err := s.PoolSummary(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Circulating.Equal(decimal.NewFromInt(1800)))
	assert.True(t, summary.PointValue.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, summary.ReserveFiat.Equal(decimal.NewFromInt(900)))
}
