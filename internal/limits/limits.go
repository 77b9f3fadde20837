// Package limits enforces tiered spending caps keyed by KYC verification
// level. The table is constructed once at process start and treated as
// immutable.
package limits

import (
	"fmt"

	"github.com/walletpay/wallet-engine/internal/model"
)

// Caps is the (per-transaction, monthly) pair for one KYC tier.
type Caps struct {
	PerTransaction int64
	Monthly        int64
}

// Table maps KYC tiers to their caps. Unrecognized tier values fall back to
// BASIC, the most restrictive tier, rather than erroring.
type Table struct {
	tiers map[string]Caps
}

// DefaultTable returns the production spending caps per tier.
func DefaultTable() *Table {
	return &Table{tiers: map[string]Caps{
		model.TierBasic:        {PerTransaction: 50_000, Monthly: 200_000},
		model.TierIntermediate: {PerTransaction: 500_000, Monthly: 2_000_000},
		model.TierFull:         {PerTransaction: 5_000_000, Monthly: 20_000_000},
	}}
}

// ExceededError reports which cap a payment would break.
type ExceededError struct {
	Tier  string
	Scope string // "per-transaction" or "monthly"
	Cap   int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: %s %s cap is %d", e.Tier, e.Scope, e.Cap)
}

// CapsFor returns the caps for a tier, falling back to BASIC for unknown
// values.
func (t *Table) CapsFor(tier string) Caps {
	if caps, ok := t.tiers[tier]; ok {
		return caps
	}
	return t.tiers[model.TierBasic]
}

// Check validates a proposed payment against the tier's caps given the
// sender's completed outflow for the current month. Landing exactly on a cap
// is allowed; exceeding it is not.
func (t *Table) Check(tier string, amount, monthlyTotal int64) error {
	caps := t.CapsFor(tier)
	name := tier
	if _, ok := t.tiers[tier]; !ok {
		name = model.TierBasic
	}

	if amount > caps.PerTransaction {
		return &ExceededError{Tier: name, Scope: "per-transaction", Cap: caps.PerTransaction}
	}
	if monthlyTotal+amount > caps.Monthly {
		return &ExceededError{Tier: name, Scope: "monthly", Cap: caps.Monthly}
	}
	return nil
}
