// Package store defines the persistence interface for the wallet engine.
// Implementations include PostgreSQL (system of record, row-level locking)
// and in-memory (for testing and development).
//
// The store is the only component allowed to mutate balances. Every
// read-then-write of a balance happens under an exclusive per-account lock,
// and every multi-row mutation happens inside one atomic unit of work.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/walletpay/wallet-engine/internal/model"
)

var (
	// ErrAccountNotFound is returned when the referenced account does not exist.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrSelfTransfer is returned when a transfer names the same account on
	// both sides. Self-directed entries go through TopUp instead.
	ErrSelfTransfer = errors.New("store: sender and receiver are the same account")

	// ErrInvalidAmount is returned for non-positive mutation amounts.
	ErrInvalidAmount = errors.New("store: amount must be positive")
)

// InsufficientFundsError is a terminal business outcome, not a retryable
// failure. It carries the balance observed under lock and the requested
// amount so callers can render a precise message.
type InsufficientFundsError struct {
	UserID    string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s has %d, requested %d",
		e.UserID, e.Balance, e.Requested)
}

// Store is the persistence interface. PostgreSQL is the system of record;
// the in-memory implementation mirrors its locking semantics for tests.
type Store interface {
	// --- Accounts ---

	// CreateAccount creates an account with a zero balance.
	CreateAccount(ctx context.Context, userID, currency, tier string) (*model.Account, error)

	// GetAccount retrieves an account, including its KYC tier.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// GetBalance returns the current balance.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// UpdateKYCTier sets the account's verification tier. Called by the
	// external tier-upgrade flow, never by the payment path.
	UpdateKYCTier(ctx context.Context, userID, tier string) error

	// --- Balance mutation ---

	// Credit unconditionally increments a balance and records an adjustment
	// entry. Returns the new balance.
	Credit(ctx context.Context, userID string, amount int64, description string) (int64, error)

	// Debit decrements a balance under an exclusive row lock, failing closed
	// with *InsufficientFundsError when the balance is short. Returns the
	// new balance.
	Debit(ctx context.Context, userID string, amount int64, description string) (int64, error)

	// Transfer executes the atomic commit of a prepared payment entry:
	// insert as PROCESSING, lock and debit the sender (amount + fee), credit
	// the receiver, flip the entry to COMPLETED. Either everything applies
	// or nothing does. Returns the post-transfer sender and receiver
	// balances.
	Transfer(ctx context.Context, entry *model.Transaction) (senderBalance, receiverBalance int64, err error)

	// TopUp credits a balance from an already-settled external payment,
	// idempotent on entry.Reference: a redelivered confirmation is a no-op
	// that returns the current balance with credited=false.
	TopUp(ctx context.Context, entry *model.Transaction) (balance int64, credited bool, err error)

	// --- Read projections ---

	// ListTransactions returns the newest COMPLETED entries involving the
	// user, most recent first.
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// TransactionStats aggregates the user's COMPLETED activity.
	TransactionStats(ctx context.Context, userID string) (*model.TransactionStats, error)

	// MonthlyOutflow sums the user's COMPLETED outbound payments for the
	// calendar month containing at.
	MonthlyOutflow(ctx context.Context, userID string, at time.Time) (int64, error)

	// SpendingStats summarizes the user's COMPLETED outbound payments since
	// the given instant.
	SpendingStats(ctx context.Context, userID string, since time.Time) (*model.SpendingStats, error)

	// HasPaidBefore reports whether sender has ever completed a payment to
	// receiver.
	HasPaidBefore(ctx context.Context, senderID, receiverID string) (bool, error)

	// DailyCount returns the number of COMPLETED outbound payments the user
	// made on the calendar day containing day.
	DailyCount(ctx context.Context, userID string, day time.Time) (int, error)
}
