// Package domain holds the core types of the token ledger and donation pool.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolID is the fixed primary key of the singleton pool row.
var PoolID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// pointValuePrecision is the scale used for the derived exchange rate.
const pointValuePrecision = 8

// Pool is the single shared record backing all outstanding points with fiat.
type Pool struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ReserveFiat    decimal.Decimal `json:"reserve_fiat" db:"reserve_fiat"`
	TotalIssued    decimal.Decimal `json:"total_issued" db:"total_issued"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Circulating returns issued minus withdrawn points.
func (p *Pool) Circulating() decimal.Decimal {
	return p.TotalIssued.Sub(p.TotalWithdrawn)
}

// PointValue returns the fiat value of one point, zero when nothing
// circulates. Never divides by zero.
func (p *Pool) PointValue() decimal.Decimal {
	circulating := p.Circulating()
	if circulating.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p.ReserveFiat.DivRound(circulating, pointValuePrecision)
}

// EntryKind classifies a ledger movement.
type EntryKind string

const (
	EntryKindEarn     EntryKind = "earn"
	EntryKindWithdraw EntryKind = "withdraw"
	EntryKindBonus    EntryKind = "bonus"
	EntryKindDeduct   EntryKind = "deduct"
)

// EntrySource names the action that caused a ledger movement.
type EntrySource string

const (
	SourceSignup     EntrySource = "signup"
	SourceOnboarding EntrySource = "onboarding"
	SourceLesson     EntrySource = "lesson"
	SourceCheckin    EntrySource = "checkin"
	SourceTask       EntrySource = "task"
	SourceQuiz       EntrySource = "quiz"
	SourceStreak     EntrySource = "streak"
	SourceHealth     EntrySource = "health"
	SourceReferral   EntrySource = "referral"
	SourceWithdrawal EntrySource = "withdrawal"
	SourceAdmin      EntrySource = "admin"
	SourceRefund     EntrySource = "refund"
)

var validSources = map[EntrySource]struct{}{
	SourceSignup: {}, SourceOnboarding: {}, SourceLesson: {},
	SourceCheckin: {}, SourceTask: {}, SourceQuiz: {}, SourceStreak: {},
	SourceHealth: {}, SourceReferral: {}, SourceWithdrawal: {},
	SourceAdmin: {}, SourceRefund: {},
}

// Valid reports whether s is one of the closed set of sources.
func (s EntrySource) Valid() bool {
	_, ok := validSources[s]
	return ok
}

// LedgerEntry is one immutable signed movement of points for one user.
// Only ExternalTxRef may be set after creation, once the mirror confirms.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	Kind          EntryKind       `json:"kind" db:"kind"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Source        EntrySource     `json:"source" db:"source"`
	ReferenceID   *uuid.UUID      `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType string          `json:"reference_type" db:"reference_type"`
	Description   string          `json:"description" db:"description"`
	ExternalTxRef *string         `json:"external_tx_ref,omitempty" db:"external_tx_ref"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusConfirmed DonationStatus = "confirmed"
	DonationStatusFailed    DonationStatus = "failed"
)

// Donation is a fiat contribution into the pool.
type Donation struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	DonorName        string          `json:"donor_name" db:"donor_name"`
	DonorEmail       string          `json:"donor_email" db:"donor_email"`
	DonorPhone       string          `json:"donor_phone" db:"donor_phone"`
	IsAnonymous      bool            `json:"is_anonymous" db:"is_anonymous"`
	AmountFiat       decimal.Decimal `json:"amount_fiat" db:"amount_fiat"`
	PaymentReference string          `json:"payment_reference" db:"payment_reference"`
	PaymentMethod    string          `json:"payment_method" db:"payment_method"`
	Status           DonationStatus  `json:"status" db:"status"`
	ExternalTxRef    *string         `json:"external_tx_ref,omitempty" db:"external_tx_ref"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// DisplayName masks anonymous donors in public feeds.
func (d *Donation) DisplayName() string {
	if d.IsAnonymous || d.DonorName == "" {
		return "Anonymous"
	}
	return d.DonorName
}

type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

// Active reports whether the status still reserves the user's withdrawal
// slot. A user may hold at most one active request.
func (s WithdrawalStatus) Active() bool {
	switch s {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusProcessing:
		return true
	}
	return false
}

// WithdrawalRequest is a user's cash-out of points at a snapshotted rate.
// FiatAmount and PointValueAtRequest are fixed at creation and never
// recalculated.
type WithdrawalRequest struct {
	ID                  uuid.UUID        `json:"id" db:"id"`
	UserID              uuid.UUID        `json:"user_id" db:"user_id"`
	TokenAmount         decimal.Decimal  `json:"token_amount" db:"token_amount"`
	FiatAmount          decimal.Decimal  `json:"fiat_amount" db:"fiat_amount"`
	PointValueAtRequest decimal.Decimal  `json:"point_value_at_request" db:"point_value_at_request"`
	BankName            string           `json:"bank_name" db:"bank_name"`
	AccountNumber       string           `json:"account_number" db:"account_number"`
	AccountName         string           `json:"account_name" db:"account_name"`
	Status              WithdrawalStatus `json:"status" db:"status"`
	ReviewedBy          *uuid.UUID       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt          *time.Time       `json:"reviewed_at,omitempty" db:"reviewed_at"`
	RejectionReason     string           `json:"rejection_reason" db:"rejection_reason"`
	PayoutReference     string           `json:"payout_reference" db:"payout_reference"`
	BurnTxRef           *string          `json:"burn_tx_ref,omitempty" db:"burn_tx_ref"`
	PayoutTxRef         *string          `json:"payout_tx_ref,omitempty" db:"payout_tx_ref"`
	PaidAt              *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

// MaskedAccountNumber hides all but the last four digits for user-facing
// listings.
func (w *WithdrawalRequest) MaskedAccountNumber() string {
	n := len(w.AccountNumber)
	if n <= 4 {
		return w.AccountNumber
	}
	masked := make([]byte, n)
	for i := 0; i < n-4; i++ {
		masked[i] = '*'
	}
	copy(masked[n-4:], w.AccountNumber[n-4:])
	return string(masked)
}

// User is the slice of the user record this service owns: the cached
// balance counters. The ledger sum stays authoritative; these columns are
// rewritten on every mutation and only read by display surfaces.
type User struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	Email             string          `json:"email" db:"email"`
	FirstName         string          `json:"first_name" db:"first_name"`
	LastName          string          `json:"last_name" db:"last_name"`
	UserType          string          `json:"user_type" db:"user_type"`
	TokenBalance      decimal.Decimal `json:"token_balance" db:"token_balance"`
	TotalTokensEarned decimal.Decimal `json:"total_tokens_earned" db:"total_tokens_earned"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}
