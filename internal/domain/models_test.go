package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPool_PointValue(t *testing.T) {
	pool := &Pool{
		ReserveFiat:    decimal.NewFromInt(1000),
		TotalIssued:    decimal.NewFromInt(4000),
		TotalWithdrawn: decimal.NewFromInt(2000),
	}

	assert.True(t, pool.Circulating().Equal(decimal.NewFromInt(2000)))
	assert.True(t, pool.PointValue().Equal(decimal.NewFromFloat(0.5)))
}

func TestPool_PointValue_EmptyPool(t *testing.T) {
	pool := &Pool{}
	assert.True(t, pool.PointValue().IsZero())

	// Reserve without circulation still values a point at zero.
	pool.ReserveFiat = decimal.NewFromInt(500)
	assert.True(t, pool.PointValue().IsZero())
}

func TestPool_PointValue_Rounding(t *testing.T) {
	pool := &Pool{
		ReserveFiat: decimal.NewFromInt(100),
		TotalIssued: decimal.NewFromInt(3),
	}

	// 100/3 at 8 decimal places.
	expected, _ := decimal.NewFromString("33.33333333")
	assert.True(t, pool.PointValue().Equal(expected), "got %s", pool.PointValue())
}

func TestEntrySource_Valid(t *testing.T) {
	assert.True(t, SourceLesson.Valid())
	assert.True(t, SourceWithdrawal.Valid())
	assert.False(t, EntrySource("bribery").Valid())
	assert.False(t, EntrySource("").Valid())
}

func TestDonation_DisplayName(t *testing.T) {
	d := &Donation{DonorName: "Ada Obi"}
	assert.Equal(t, "Ada Obi", d.DisplayName())

	d.IsAnonymous = true
	assert.Equal(t, "Anonymous", d.DisplayName())

	empty := &Donation{}
	assert.Equal(t, "Anonymous", empty.DisplayName())
}

func TestWithdrawalRequest_MaskedAccountNumber(t *testing.T) {
	w := &WithdrawalRequest{AccountNumber: "0123456789"}
	assert.Equal(t, "******6789", w.MaskedAccountNumber())

	short := &WithdrawalRequest{AccountNumber: "123"}
	assert.Equal(t, "123", short.MaskedAccountNumber())
}

func TestWithdrawalStatus_Active(t *testing.T) {
	assert.True(t, WithdrawalStatusPending.Active())
	assert.True(t, WithdrawalStatusApproved.Active())
	assert.True(t, WithdrawalStatusProcessing.Active())
	assert.False(t, WithdrawalStatusCompleted.Active())
	assert.False(t, WithdrawalStatusRejected.Active())
}
