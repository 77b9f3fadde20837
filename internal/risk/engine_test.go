package risk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletpay/wallet-engine/internal/model"
	"github.com/walletpay/wallet-engine/internal/risk"
)

// stubHistory returns canned durable-history signals.
type stubHistory struct {
	stats      model.SpendingStats
	paidBefore bool
	daily      int
}

func (s *stubHistory) SpendingStats(context.Context, string, time.Time) (*model.SpendingStats, error) {
	st := s.stats
	return &st, nil
}

func (s *stubHistory) HasPaidBefore(context.Context, string, string) (bool, error) {
	return s.paidBefore, nil
}

func (s *stubHistory) DailyCount(context.Context, string, time.Time) (int, error) {
	return s.daily, nil
}

// failingCounter simulates an unreachable counter store.
type failingCounter struct{}

func (failingCounter) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (failingCounter) Increment(context.Context, string, time.Duration) error {
	return errors.New("connection refused")
}

// quietHistory is a sender with established, unremarkable behavior: nothing
// should trigger.
func quietHistory() *stubHistory {
	return &stubHistory{
		stats:      model.SpendingStats{Count: 20, Average: 50_000, Max: 120_000},
		paidBefore: true,
		daily:      3,
	}
}

func newTestEngine(t *testing.T, h risk.History, c risk.Counter) *risk.Engine {
	t.Helper()
	e := risk.NewEngine(h, c, risk.DefaultConfig())
	// Pin the clock to midday so the unusual-hour rule stays quiet unless a
	// test moves it.
	e.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return e
}

func check(t *testing.T, e *risk.Engine, amount int64) *risk.Assessment {
	t.Helper()
	a, err := e.Check(context.Background(), risk.CheckRequest{
		SenderID:   "sender",
		ReceiverID: "receiver",
		Amount:     amount,
	})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	return a
}

func TestCheck_QuietSenderApproves(t *testing.T) {
	e := newTestEngine(t, quietHistory(), risk.NewMemoryCounter())

	a := check(t, e, 60_000)
	if !a.Score.IsZero() {
		t.Errorf("expected score 0, got %s (reasons %v)", a.Score, a.Reasons)
	}
	if a.Action != model.ActionApprove {
		t.Errorf("expected approve, got %s", a.Action)
	}
}

func TestCheck_NewReceiver(t *testing.T) {
	h := quietHistory()
	h.paidBefore = false
	e := newTestEngine(t, h, risk.NewMemoryCounter())

	a := check(t, e, 60_000)
	if !a.Score.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("expected score 0.1, got %s", a.Score)
	}
	if a.Action != model.ActionApprove {
		t.Errorf("expected approve, got %s", a.Action)
	}
	if len(a.Reasons) != 1 {
		t.Errorf("expected one reason, got %v", a.Reasons)
	}
}

func TestCheck_AmountAnomalyTiers(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		want   string
	}{
		{"over 3x average", 151_000, "0.3"},
		{"over 2x max", 250_000, "0.3"},      // 250k also > 3×avg, higher rule wins
		{"over 2x average only", 101_000, "0.1"},
		{"within profile", 90_000, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, quietHistory(), risk.NewMemoryCounter())
			a := check(t, e, tt.amount)
			if !a.Score.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("amount %d: expected score %s, got %s (reasons %v)",
					tt.amount, tt.want, a.Score, a.Reasons)
			}
		})
	}
}

func TestCheck_AmountAnomaly_TwoTimesMax(t *testing.T) {
	// avg kept high so only the 2x-max rule can trigger.
	h := &stubHistory{
		stats:      model.SpendingStats{Count: 5, Average: 100_000, Max: 110_000},
		paidBefore: true,
	}
	e := newTestEngine(t, h, risk.NewMemoryCounter())

	a := check(t, e, 230_000) // < 3×avg (300k), > 2×max (220k)
	if !a.Score.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("expected score 0.25, got %s (reasons %v)", a.Score, a.Reasons)
	}
}

func TestCheck_ThinHistory(t *testing.T) {
	h := &stubHistory{stats: model.SpendingStats{Count: 1}, paidBefore: true}
	e := newTestEngine(t, h, risk.NewMemoryCounter())

	// Small amounts with thin history are not flagged.
	if a := check(t, e, 50_000); !a.Score.IsZero() {
		t.Errorf("expected score 0, got %s", a.Score)
	}

	// Large amounts are.
	if a := check(t, e, 150_000); !a.Score.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("expected score 0.3, got %s", a.Score)
	}
}

func TestCheck_UnusualHour(t *testing.T) {
	e := newTestEngine(t, quietHistory(), risk.NewMemoryCounter())
	e.Now = func() time.Time { return time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC) }

	a := check(t, e, 60_000)
	if !a.Score.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("expected score 0.15, got %s", a.Score)
	}
}

func TestCheck_SameDayVolume(t *testing.T) {
	h := quietHistory()
	h.daily = 25
	e := newTestEngine(t, h, risk.NewMemoryCounter())
	if a := check(t, e, 60_000); !a.Score.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("daily 25: expected score 0.1, got %s", a.Score)
	}

	h.daily = 50
	if a := check(t, e, 60_000); !a.Score.Equal(decimal.RequireFromString("0.4")) {
		t.Errorf("daily 50: expected score 0.4, got %s", a.Score)
	}
}

func TestCheck_Velocity(t *testing.T) {
	counter := risk.NewMemoryCounter()
	cfg := risk.DefaultConfig()
	ctx := context.Background()

	// Warm: half the limit.
	for i := int64(0); i < cfg.VelocityLimit/2; i++ {
		counter.Increment(ctx, "velocity:sender", cfg.VelocityWindow)
	}
	e := newTestEngine(t, quietHistory(), counter)
	if a := check(t, e, 60_000); !a.Score.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("warm velocity: expected score 0.2, got %s", a.Score)
	}

	// Check itself incremented; push to the full limit.
	for i := cfg.VelocityLimit/2 + 1; i < cfg.VelocityLimit; i++ {
		counter.Increment(ctx, "velocity:sender", cfg.VelocityWindow)
	}
	if a := check(t, e, 60_000); !a.Score.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("full velocity: expected score 0.5, got %s", a.Score)
	}
}

func TestCheck_BlockThresholdExact(t *testing.T) {
	// 0.4 (heavy daily volume) + 0.3 (3x average) lands exactly on 0.7.
	h := quietHistory()
	h.daily = 50
	e := newTestEngine(t, h, risk.NewMemoryCounter())

	a := check(t, e, 151_000)
	if !a.Score.Equal(decimal.RequireFromString("0.7")) {
		t.Fatalf("expected score 0.7, got %s (reasons %v)", a.Score, a.Reasons)
	}
	if a.Action != model.ActionBlock {
		t.Errorf("score 0.7 must block, got %s", a.Action)
	}
}

func TestCheck_ReviewBand(t *testing.T) {
	// 0.3 (3x average) alone: review, still admitted by the orchestrator.
	e := newTestEngine(t, quietHistory(), risk.NewMemoryCounter())

	a := check(t, e, 151_000)
	if !a.Score.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("expected score 0.3, got %s", a.Score)
	}
	if a.Action != model.ActionReview {
		t.Errorf("score 0.3 must review, got %s", a.Action)
	}
}

func TestCheck_AllSignalsClampToOne(t *testing.T) {
	counter := risk.NewMemoryCounter()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		counter.Increment(ctx, "velocity:sender", time.Minute)
	}
	h := &stubHistory{
		stats:      model.SpendingStats{Count: 10, Average: 10_000, Max: 20_000},
		paidBefore: false,
		daily:      60,
	}
	e := newTestEngine(t, h, counter)
	e.Now = func() time.Time { return time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC) }

	// Raw sum: 0.5 + 0.3 + 0.1 + 0.15 + 0.4 = 1.45 → clamped.
	a := check(t, e, 100_000)
	if !a.Score.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected clamped score 1, got %s", a.Score)
	}
	if a.Action != model.ActionBlock {
		t.Errorf("expected block, got %s", a.Action)
	}
	if len(a.Reasons) != 5 {
		t.Errorf("expected 5 reasons, got %v", a.Reasons)
	}
}

func TestCheck_CounterFailureIsFailOpen(t *testing.T) {
	e := newTestEngine(t, quietHistory(), failingCounter{})

	a, err := e.Check(context.Background(), risk.CheckRequest{
		SenderID:   "sender",
		ReceiverID: "receiver",
		Amount:     60_000,
	})
	if err != nil {
		t.Fatalf("counter failure must not abort the check: %v", err)
	}
	if !a.Score.IsZero() {
		t.Errorf("expected score 0 without velocity signal, got %s", a.Score)
	}
	if a.Action != model.ActionApprove {
		t.Errorf("expected approve, got %s", a.Action)
	}
}

func TestCheck_VelocityCountsBlockedAttempts(t *testing.T) {
	counter := risk.NewMemoryCounter()
	h := quietHistory()
	h.daily = 50
	e := newTestEngine(t, h, counter)

	a := check(t, e, 151_000) // 0.7 → block
	if a.Action != model.ActionBlock {
		t.Fatalf("expected block, got %s", a.Action)
	}

	// The blocked attempt still bumped the velocity counter.
	n, err := counter.Get(context.Background(), "velocity:sender")
	if err != nil {
		t.Fatalf("counter read: %v", err)
	}
	if n != 1 {
		t.Errorf("expected counter 1 after blocked attempt, got %d", n)
	}
}
