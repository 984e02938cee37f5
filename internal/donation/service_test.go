package donation

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

func (m *MockRepository) Create(ctx context.Context, d *domain.Donation) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Donation), args.Error(1)
}

func (m *MockRepository) FindByIDForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Donation, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Donation), args.Error(1)
}

func (m *MockRepository) FindByReferenceForUpdateTx(ctx context.Context, tx *sqlx.Tx, ref string) (*domain.Donation, error) {
	args := m.Called(ctx, tx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Donation), args.Error(1)
}

func (m *MockRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, d *domain.Donation) error {
	args := m.Called(ctx, tx, d)
	return args.Error(0)
}

func (m *MockRepository) FindByStatus(ctx context.Context, status domain.DonationStatus, limit, offset int) ([]*domain.Donation, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Donation), args.Error(1)
}

func (m *MockRepository) FindRecentConfirmed(ctx context.Context, limit int) ([]*domain.Donation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Donation), args.Error(1)
}

func newTestService(repo *MockRepository) *Service {
	return NewService(nil, repo, nil, nil, logger.NewNop())
}

func TestCreate_InvalidAmount(t *testing.T) {
	s := newTestService(&MockRepository{})

	_, err := s.Create(context.Background(), &CreateRequest{
		DonorName:  "Ada Obi",
		AmountFiat: decimal.Zero,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)

	_, err = s.Create(context.Background(), &CreateRequest{
		AmountFiat: decimal.NewFromInt(-100),
	})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestCreate_PledgesPending(t *testing.T) {
	repo := &MockRepository{}
	s := newTestService(repo)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Donation) bool {
		return d.Status == domain.DonationStatusPending && d.PaymentMethod == "bank_transfer"
	})).Return(nil)

	d, err := s.Create(context.Background(), &CreateRequest{
		DonorName:  "Ada Obi",
		AmountFiat: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.DonationStatusPending, d.Status)
	assert.Equal(t, "bank_transfer", d.PaymentMethod)
	assert.Nil(t, d.ConfirmedAt)
	repo.AssertExpectations(t)
}

func TestCreate_KeepsExplicitPaymentMethod(t *testing.T) {
	repo := &MockRepository{}
	s := newTestService(repo)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	d, err := s.Create(context.Background(), &CreateRequest{
		AmountFiat:    decimal.NewFromInt(100),
		PaymentMethod: "card",
		IsAnonymous:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "card", d.PaymentMethod)
	assert.True(t, d.IsAnonymous)
}

func TestRecent_ClampsLimit(t *testing.T) {
	repo := &MockRepository{}
	s := newTestService(repo)

	repo.On("FindRecentConfirmed", mock.Anything, defaultListLimit).
		Return([]*domain.Donation{}, nil)
	_, err := s.Recent(context.Background(), 0)
	require.NoError(t, err)

	repo.On("FindRecentConfirmed", mock.Anything, maxListLimit).
		Return([]*domain.Donation{}, nil)
	_, err = s.Recent(context.Background(), 5000)
	require.NoError(t, err)

	repo.AssertExpectations(t)
}
