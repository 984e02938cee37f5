package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MirrorAction is the external ledger operation a local change maps to.
type MirrorAction string

const (
	MirrorActionMint             MirrorAction = "mint"
	MirrorActionBurn             MirrorAction = "burn"
	MirrorActionRecordDeposit    MirrorAction = "record_deposit"
	MirrorActionRecordWithdrawal MirrorAction = "record_withdrawal"
)

type MirrorJobStatus string

const (
	MirrorJobStatusPending   MirrorJobStatus = "pending"
	MirrorJobStatusSucceeded MirrorJobStatus = "succeeded"
	MirrorJobStatusFailed    MirrorJobStatus = "failed"
)

// Reference types linking a mirror job back to the row it shadows.
const (
	MirrorRefLedgerEntry      = "ledger_entry"
	MirrorRefDonation         = "donation"
	MirrorRefWithdrawalBurn   = "withdrawal_burn"
	MirrorRefWithdrawalPayout = "withdrawal_payout"
)

// MirrorJob is one outbox row: a confirmed local mutation waiting to be
// replayed onto the external ledger. Jobs are enqueued in the same database
// transaction as the mutation they shadow.
type MirrorJob struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Action        MirrorAction    `json:"action" db:"action"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	ReferenceID   uuid.UUID       `json:"reference_id" db:"reference_id"`
	ReferenceType string          `json:"reference_type" db:"reference_type"`
	Status        MirrorJobStatus `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	TxRef         *string         `json:"tx_ref,omitempty" db:"tx_ref"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// MintPayload mirrors an award onto the external ledger.
type MintPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	Amount     string    `json:"amount"`
	ActionType string    `json:"action_type"`
	ActionID   string    `json:"action_id"`
}

// BurnPayload mirrors a deduction. WithdrawalID is set when the burn
// belongs to an approved cash-out.
type BurnPayload struct {
	UserID       uuid.UUID  `json:"user_id"`
	Amount       string     `json:"amount"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
}

// DepositPayload mirrors a confirmed donation.
type DepositPayload struct {
	AmountFiat string `json:"amount_fiat"`
	Reference  string `json:"reference"`
	DonorEmail string `json:"donor_email"`
}

// WithdrawalPayload mirrors a completed payout.
type WithdrawalPayload struct {
	UserID          uuid.UUID `json:"user_id"`
	TokenAmount     string    `json:"token_amount"`
	FiatAmount      string    `json:"fiat_amount"`
	WithdrawalID    uuid.UUID `json:"withdrawal_id"`
	PayoutReference string    `json:"payment_reference"`
}
