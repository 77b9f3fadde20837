// Package payment is the single entry point for moving money: it composes
// limit checks, fee computation, risk gating, and the store's atomic
// transfer into one payment attempt, and exposes the HTTP surface consumed
// by the conversational layer and the gateway adapters.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/walletpay/wallet-engine/internal/fees"
	"github.com/walletpay/wallet-engine/internal/limits"
	"github.com/walletpay/wallet-engine/internal/metrics"
	"github.com/walletpay/wallet-engine/internal/model"
	"github.com/walletpay/wallet-engine/internal/risk"
	"github.com/walletpay/wallet-engine/internal/store"
)

// Service orchestrates payment attempts. All rejection classes are returned
// as typed errors before any ledger mutation; only the atomic commit inside
// store.Transfer touches balances.
type Service struct {
	store  store.Store
	engine *risk.Engine
	fees   *fees.Schedule
	limits *limits.Table
	hub    *EventHub // optional, nil disables event broadcasting
}

// NewService creates a payment service. Pass nil for hub if event
// broadcasting is not needed.
func NewService(st store.Store, engine *risk.Engine, schedule *fees.Schedule, table *limits.Table, hub *EventHub) *Service {
	return &Service{
		store:  st,
		engine: engine,
		fees:   schedule,
		limits: table,
		hub:    hub,
	}
}

// Request describes one peer-to-peer payment attempt.
type Request struct {
	SenderID    string `json:"sender_id"`
	ReceiverID  string `json:"receiver_id"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`

	// IP and Channel identify the request origin for risk metadata.
	IP      string `json:"-"`
	Channel string `json:"channel,omitempty"`
}

// Result is the success payload of a payment attempt.
type Result struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Fee           int64  `json:"fee"`
	SenderBalance int64  `json:"sender_balance"`
	RiskAction    string `json:"risk_action"`
}

// TopUpRequest is a gateway adapter's confirmation of an already-settled
// external payment. ExternalReference must be stable across redeliveries of
// the same settlement event.
type TopUpRequest struct {
	UserID            string `json:"user_id"`
	Amount            int64  `json:"amount"`
	Method            string `json:"method"`
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description,omitempty"`
}

// TopUpResult reports the balance after a top-up. Credited is false when the
// confirmation was a redelivery and nothing moved.
type TopUpResult struct {
	Reference string `json:"reference"`
	Balance   int64  `json:"balance"`
	Credited  bool   `json:"credited"`
}

var validMethods = map[string]bool{
	model.MethodWallet:       true,
	model.MethodWebpayCredit: true,
	model.MethodWebpayDebit:  true,
	model.MethodKhipu:        true,
}

// Process runs one peer-to-peer payment attempt through the full state
// machine: validation → limit checks → risk gate → fee → atomic commit.
// Every rejection is a typed error and guarantees no balance changed.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	method := req.Method
	if method == "" {
		method = model.MethodWallet
	}

	// Validation: rejected before any lookup.
	if req.SenderID == req.ReceiverID {
		return nil, ErrSelfPayment
	}
	if req.Amount < MinimumAmount {
		return nil, ErrAmountBelowMinimum
	}
	if !validMethods[method] {
		return nil, ErrUnknownMethod
	}

	// Tier and limit checks. Unknown tier values fall back to BASIC inside
	// the table.
	sender, err := s.store.GetAccount(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	monthly, err := s.store.MonthlyOutflow(ctx, req.SenderID, started.UTC())
	if err != nil {
		return nil, fmt.Errorf("monthly outflow lookup: %w", err)
	}
	if err := s.limits.Check(sender.KYCTier, req.Amount, monthly); err != nil {
		return nil, err
	}

	// Risk gate. A block performs no ledger mutation, but the engine's own
	// velocity bookkeeping has already recorded the attempt.
	assessment, err := s.engine.Check(ctx, risk.CheckRequest{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		IP:         req.IP,
		Channel:    req.Channel,
	})
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	metrics.FraudDecisions.WithLabelValues(assessment.Action).Inc()
	metrics.FraudScores.Observe(assessment.Score.InexactFloat64())
	if assessment.Action == model.ActionBlock {
		return nil, &FraudBlockedError{Score: assessment.Score, Reasons: assessment.Reasons}
	}

	fee := s.fees.Compute(method, req.Amount, true)

	entry := &model.Transaction{
		ID:          uuid.New().String(),
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		Amount:      req.Amount,
		Fee:         fee,
		Method:      method,
		Reference:   newReference(started),
		Description: req.Description,
		FraudScore:  assessment.Score.InexactFloat64(),
		Metadata:    riskMetadata(assessment, req),
		CreatedAt:   started.UTC(),
	}

	// Atomic commit: entry insert, locked debit, credit, and completion flip
	// all happen in one unit of work inside the store.
	senderBalance, _, err := s.store.Transfer(ctx, entry)
	if err != nil {
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(method, "completed").Inc()
	metrics.PaymentLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
	slog.Info("payment completed",
		"reference", entry.Reference,
		"sender", req.SenderID,
		"receiver", req.ReceiverID,
		"amount", req.Amount,
		"fee", fee,
		"risk_action", assessment.Action,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:       "payment_completed",
			Reference:  entry.Reference,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Amount:     req.Amount,
			Fee:        fee,
		})
	}

	return &Result{
		TransactionID: entry.ID,
		Reference:     entry.Reference,
		Fee:           fee,
		SenderBalance: senderBalance,
		RiskAction:    assessment.Action,
	}, nil
}

// TopUp ingests a gateway's settlement confirmation. Safe to call any number
// of times with the same external reference: redeliveries credit nothing and
// return the current balance.
func (s *Service) TopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	if req.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if req.ExternalReference == "" {
		return nil, ErrMissingReference
	}
	method := req.Method
	if method == "" || !validMethods[method] {
		return nil, ErrUnknownMethod
	}

	entry := &model.Transaction{
		ID:          uuid.New().String(),
		SenderID:    req.UserID,
		ReceiverID:  req.UserID,
		Amount:      req.Amount,
		Method:      method,
		Reference:   req.ExternalReference,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}

	balance, credited, err := s.store.TopUp(ctx, entry)
	if err != nil {
		return nil, err
	}

	result := "credited"
	if !credited {
		result = "duplicate"
	}
	metrics.TopUpsTotal.WithLabelValues(method, result).Inc()
	slog.Info("top-up processed",
		"reference", req.ExternalReference,
		"user", req.UserID,
		"amount", req.Amount,
		"credited", credited,
	)

	if s.hub != nil && credited {
		s.hub.Broadcast(Event{
			Type:       "topup_completed",
			Reference:  req.ExternalReference,
			ReceiverID: req.UserID,
			Amount:     req.Amount,
		})
	}

	return &TopUpResult{Reference: req.ExternalReference, Balance: balance, Credited: credited}, nil
}

// newReference generates a globally unique human-readable payment reference
// of the form #WP-<year>-<8 hex chars>.
func newReference(at time.Time) string {
	return fmt.Sprintf("#WP-%d-%s", at.UTC().Year(),
		strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8]))
}

// riskMetadata serializes the risk decision for the entry's metadata column.
func riskMetadata(a *risk.Assessment, req Request) string {
	meta := map[string]any{
		"risk_action":  a.Action,
		"risk_reasons": a.Reasons,
	}
	if req.IP != "" {
		meta["ip"] = req.IP
	}
	if req.Channel != "" {
		meta["channel"] = req.Channel
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}
