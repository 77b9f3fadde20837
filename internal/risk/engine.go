// Package risk scores a proposed payment before any money moves. Scoring is
// deterministic and explainable: each rule contributes a fixed amount, the
// sum is clamped to [0, 1], and every triggered rule is reported as a
// reason. The engine never mutates a balance.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletpay/wallet-engine/internal/model"
)

// History is the read-only slice of the ledger the engine consumes.
// Satisfied by store.Store.
type History interface {
	SpendingStats(ctx context.Context, userID string, since time.Time) (*model.SpendingStats, error)
	HasPaidBefore(ctx context.Context, senderID, receiverID string) (bool, error)
	DailyCount(ctx context.Context, userID string, day time.Time) (int, error)
}

// Config holds the engine's thresholds. Construct once at process start and
// treat as immutable.
type Config struct {
	// VelocityWindow is the rolling window behind the velocity counter.
	VelocityWindow time.Duration

	// VelocityLimit is the transaction count within the window that earns
	// the full velocity contribution; half the limit earns a partial one.
	VelocityLimit int64

	// BlockThreshold and ReviewThreshold partition the score range:
	// score >= block → block, score >= review → review, else approve.
	BlockThreshold  decimal.Decimal
	ReviewThreshold decimal.Decimal
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		VelocityWindow:  5 * time.Minute,
		VelocityLimit:   10,
		BlockThreshold:  decimal.RequireFromString("0.7"),
		ReviewThreshold: decimal.RequireFromString("0.3"),
	}
}

// CheckRequest describes the proposed payment.
type CheckRequest struct {
	SenderID   string
	ReceiverID string
	Amount     int64

	// IP and Channel identify the request origin; recorded in reasons
	// metadata but not scored by the current rule set.
	IP      string
	Channel string
}

// Assessment is the engine's decision for one proposed payment.
type Assessment struct {
	Score   decimal.Decimal `json:"score"`
	Action  string          `json:"action"`
	Reasons []string        `json:"reasons"`
}

// Engine computes the composite fraud score.
type Engine struct {
	history History
	counter Counter
	cfg     Config

	// Now is overridable for tests exercising the unusual-hour rule.
	Now func() time.Time
}

// NewEngine creates a risk engine over the given history reader and counter
// store.
func NewEngine(history History, counter Counter, cfg Config) *Engine {
	return &Engine{
		history: history,
		counter: counter,
		cfg:     cfg,
		Now:     time.Now,
	}
}

// Rule contributions. Declared as exact decimal strings so threshold
// comparisons never suffer float drift.
var (
	weightVelocityHigh = decimal.RequireFromString("0.5")
	weightVelocityWarm = decimal.RequireFromString("0.2")
	weightAnomalyAvg3x = decimal.RequireFromString("0.3")
	weightAnomalyMax2x = decimal.RequireFromString("0.25")
	weightAnomalyAvg2x = decimal.RequireFromString("0.1")
	weightNewReceiver  = decimal.RequireFromString("0.1")
	weightUnusualHour  = decimal.RequireFromString("0.15")
	weightDailyHeavy   = decimal.RequireFromString("0.4")
	weightDailyWarm    = decimal.RequireFromString("0.1")
)

// thinHistoryFlagAmount is the absolute amount above which a sender with
// fewer than 3 completed payments in the trailing 30 days is flagged.
const thinHistoryFlagAmount = 100_000

// Check scores the proposed payment and returns an admission decision.
// Regardless of the decision, the sender's velocity counter is incremented
// afterwards so a blocked attempt still counts toward future scoring. A
// counter store failure contributes no velocity signal (fail-open); history
// store failures propagate as errors.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*Assessment, error) {
	now := e.Now().UTC()
	score := decimal.Zero
	var reasons []string

	// Velocity: rolling-window transaction count.
	velocityKey := fmt.Sprintf("velocity:%s", req.SenderID)
	count, err := e.counter.Get(ctx, velocityKey)
	if err != nil {
		slog.Warn("velocity counter unavailable, continuing without signal",
			"sender", req.SenderID, "err", err)
	} else {
		switch {
		case count >= e.cfg.VelocityLimit:
			score = score.Add(weightVelocityHigh)
			reasons = append(reasons, fmt.Sprintf("high velocity: %d transactions in window", count))
		case count >= e.cfg.VelocityLimit/2:
			score = score.Add(weightVelocityWarm)
			reasons = append(reasons, fmt.Sprintf("elevated velocity: %d transactions in window", count))
		}
	}

	// Amount anomaly against the trailing 30-day distribution.
	stats, err := e.history.SpendingStats(ctx, req.SenderID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("risk: spending stats: %w", err)
	}
	if stats.Count < 3 {
		if req.Amount > thinHistoryFlagAmount {
			score = score.Add(weightAnomalyAvg3x)
			reasons = append(reasons, "large amount with thin history")
		}
	} else {
		switch {
		case req.Amount > 3*stats.Average:
			score = score.Add(weightAnomalyAvg3x)
			reasons = append(reasons, fmt.Sprintf("amount %d exceeds 3x trailing average %d", req.Amount, stats.Average))
		case req.Amount > 2*stats.Max:
			score = score.Add(weightAnomalyMax2x)
			reasons = append(reasons, fmt.Sprintf("amount %d exceeds 2x trailing max %d", req.Amount, stats.Max))
		case req.Amount > 2*stats.Average:
			score = score.Add(weightAnomalyAvg2x)
			reasons = append(reasons, fmt.Sprintf("amount %d exceeds 2x trailing average %d", req.Amount, stats.Average))
		}
	}

	// New receiver.
	paidBefore, err := e.history.HasPaidBefore(ctx, req.SenderID, req.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("risk: receiver history: %w", err)
	}
	if !paidBefore {
		score = score.Add(weightNewReceiver)
		reasons = append(reasons, "first payment to this receiver")
	}

	// Unusual hour.
	if h := now.Hour(); h >= 1 && h <= 5 {
		score = score.Add(weightUnusualHour)
		reasons = append(reasons, fmt.Sprintf("unusual hour: %02d:00", h))
	}

	// Same-day volume.
	daily, err := e.history.DailyCount(ctx, req.SenderID, now)
	if err != nil {
		return nil, fmt.Errorf("risk: daily count: %w", err)
	}
	switch {
	case daily >= 50:
		score = score.Add(weightDailyHeavy)
		reasons = append(reasons, fmt.Sprintf("heavy same-day volume: %d transactions", daily))
	case daily >= 25:
		score = score.Add(weightDailyWarm)
		reasons = append(reasons, fmt.Sprintf("elevated same-day volume: %d transactions", daily))
	}

	score = clamp(score)

	action := model.ActionApprove
	switch {
	case score.GreaterThanOrEqual(e.cfg.BlockThreshold):
		action = model.ActionBlock
	case score.GreaterThanOrEqual(e.cfg.ReviewThreshold):
		action = model.ActionReview
	}

	// Count this attempt toward future velocity scoring, blocked or not.
	if err := e.counter.Increment(ctx, velocityKey, e.cfg.VelocityWindow); err != nil {
		slog.Warn("velocity counter increment failed",
			"sender", req.SenderID, "err", err)
	}

	return &Assessment{Score: score, Action: action, Reasons: reasons}, nil
}

func clamp(score decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if score.GreaterThan(one) {
		return one
	}
	if score.IsNegative() {
		return decimal.Zero
	}
	return score
}
