package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinimumAmount is the smallest accepted payment, in minor units.
const MinimumAmount = 100

var (
	// ErrSelfPayment rejects payments where sender and receiver are the
	// same account.
	ErrSelfPayment = errors.New("payment: cannot pay yourself")

	// ErrAmountBelowMinimum rejects payments under MinimumAmount.
	ErrAmountBelowMinimum = fmt.Errorf("payment: amount is below the minimum of %d", MinimumAmount)

	// ErrUnknownMethod rejects payment methods outside the supported set.
	ErrUnknownMethod = errors.New("payment: unknown payment method")

	// ErrMissingReference rejects top-ups without an external settlement
	// reference.
	ErrMissingReference = errors.New("payment: external reference is required")
)

// FraudBlockedError is a rejection by the risk gate. It is distinguishable
// from ordinary business-rule rejections so callers can present a different
// message and support path. No ledger mutation happened.
type FraudBlockedError struct {
	Score   decimal.Decimal
	Reasons []string
}

func (e *FraudBlockedError) Error() string {
	return fmt.Sprintf("payment blocked by risk check (score %s)", e.Score)
}
