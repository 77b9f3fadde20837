// Package fees computes the charge applied to a payment based on its rail.
// Peer-to-peer wallet-to-wallet transfers are free; every other method pays
// percentage × amount + fixed, rounded to the nearest whole currency unit.
//
// Rates use shopspring/decimal so the schedule is exact. Never float64 for
// money.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/walletpay/wallet-engine/internal/model"
)

// Rate is one row of the fee schedule.
type Rate struct {
	// Percent is the proportional component, e.g. 0.028 for 2.8%.
	Percent decimal.Decimal

	// Fixed is the flat component in minor units.
	Fixed int64
}

// Schedule maps payment methods to their rates. Construct once at process
// start and treat as immutable.
type Schedule struct {
	rates map[string]Rate
}

// DefaultSchedule returns the production fee schedule:
//
//	WALLET (merchant)  1.5% + 0
//	WEBPAY_CREDIT      2.8% + 50
//	WEBPAY_DEBIT       1.8% + 50
//	KHIPU              1.0% + 0
func DefaultSchedule() *Schedule {
	pct := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return &Schedule{rates: map[string]Rate{
		model.MethodWallet:       {Percent: pct("0.015"), Fixed: 0},
		model.MethodWebpayCredit: {Percent: pct("0.028"), Fixed: 50},
		model.MethodWebpayDebit:  {Percent: pct("0.018"), Fixed: 50},
		model.MethodKhipu:        {Percent: pct("0.010"), Fixed: 0},
	}}
}

// Compute returns the fee for a payment of the given amount over the given
// method. Wallet-to-wallet peer-to-peer payments are always free. Unknown
// methods charge nothing.
func (s *Schedule) Compute(method string, amount int64, isP2P bool) int64 {
	if isP2P && method == model.MethodWallet {
		return 0
	}
	rate, ok := s.rates[method]
	if !ok {
		return 0
	}
	proportional := rate.Percent.Mul(decimal.NewFromInt(amount)).Round(0).IntPart()
	return proportional + rate.Fixed
}
