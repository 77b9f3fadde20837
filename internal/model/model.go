// Package model defines the core domain types shared across the wallet engine.
// Balances and amounts are int64 minor units (whole currency units, no
// fractional component). Never float64 for money.
package model

import "time"

// Transaction statuses. A transaction is created as PROCESSING inside the
// commit unit of work and flipped to COMPLETED in the same transaction.
// FAILED exists in the enum but is never written by the current commit path:
// a failed commit rolls the entry back entirely instead of persisting it.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Payment methods. WALLET is the internal wallet-to-wallet rail; the WEBPAY
// and KHIPU methods are external gateway rails. ADJUSTMENT marks single-sided
// ledger corrections made through Credit/Debit.
const (
	MethodWallet       = "WALLET"
	MethodWebpayCredit = "WEBPAY_CREDIT"
	MethodWebpayDebit  = "WEBPAY_DEBIT"
	MethodKhipu        = "KHIPU"
	MethodAdjustment   = "ADJUSTMENT"
)

// KYC verification tiers, most restrictive first.
const (
	TierBasic        = "BASIC"
	TierIntermediate = "INTERMEDIATE"
	TierFull         = "FULL"
)

// Risk engine decisions.
const (
	ActionApprove = "approve"
	ActionReview  = "review"
	ActionBlock   = "block"
)

// Account is one wallet balance row per user. The balance never goes
// negative; it is mutated only through the store's locked operations.
type Account struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Currency  string    `json:"currency" db:"currency"`
	KYCTier   string    `json:"kyc_tier" db:"kyc_tier"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transaction is one immutable-once-completed record of money movement.
// SenderID == ReceiverID for self-directed entries (top-ups, adjustments).
// Reference is globally unique and doubles as the idempotency key for
// gateway-sourced entries.
type Transaction struct {
	ID          string     `json:"id" db:"id"`
	SenderID    string     `json:"sender_id" db:"sender_id"`
	ReceiverID  string     `json:"receiver_id" db:"receiver_id"`
	Amount      int64      `json:"amount" db:"amount"`
	Fee         int64      `json:"fee" db:"fee"`
	Status      string     `json:"status" db:"status"`
	Method      string     `json:"method" db:"method"`
	Reference   string     `json:"reference" db:"reference"`
	Description string     `json:"description,omitempty" db:"description"`
	FraudScore  float64    `json:"fraud_score" db:"fraud_score"`
	Metadata    string     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// SpendingStats summarizes a sender's completed outbound payments over a
// trailing window. Consumed by the risk engine's amount-anomaly signal.
type SpendingStats struct {
	Count   int   `json:"count"`
	Average int64 `json:"average"`
	Max     int64 `json:"max"`
}

// TransactionStats aggregates a user's completed activity for profile
// rendering.
type TransactionStats struct {
	SentCount     int   `json:"sent_count"`
	SentTotal     int64 `json:"sent_total"`
	ReceivedCount int   `json:"received_count"`
	ReceivedTotal int64 `json:"received_total"`
	FeesPaid      int64 `json:"fees_paid"`
}
