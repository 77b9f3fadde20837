package payment

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/walletpay/wallet-engine/internal/limits"
	"github.com/walletpay/wallet-engine/internal/metrics"
	"github.com/walletpay/wallet-engine/internal/model"
	"github.com/walletpay/wallet-engine/internal/store"
)

// PaymentResponse is the JSON body returned for payment and top-up attempts.
// A non-success response always means no balance changed.
type PaymentResponse struct {
	Success       bool   `json:"success"`
	Reference     string `json:"reference,omitempty"`
	Fee           *int64 `json:"fee,omitempty"`
	SenderBalance *int64 `json:"sender_balance,omitempty"`
	Balance       *int64 `json:"balance,omitempty"`
	Credited      *bool  `json:"credited,omitempty"`
	RiskAction    string `json:"risk_action,omitempty"`
	Error         string `json:"error,omitempty"`
	FraudBlocked  bool   `json:"fraud_blocked,omitempty"`
}

// CreatePayment handles POST /api/v1/payments.
func (s *Service) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.IP = r.RemoteAddr

	result, err := s.Process(r.Context(), req)
	if err != nil {
		s.writeRejection(w, req.Method, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{
		Success:       true,
		Reference:     result.Reference,
		Fee:           &result.Fee,
		SenderBalance: &result.SenderBalance,
		RiskAction:    result.RiskAction,
	})
}

// CreateTopUp handles POST /api/v1/topups, called by gateway adapters after
// an external payment is confirmed settled.
func (s *Service) CreateTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.TopUp(r.Context(), req)
	if err != nil {
		s.writeRejection(w, req.Method, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{
		Success:   true,
		Reference: result.Reference,
		Balance:   &result.Balance,
		Credited:  &result.Credited,
	})
}

// CreateAccountRequest is the JSON body for account creation.
type CreateAccountRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	KYCTier  string `json:"kyc_tier,omitempty"`
}

// CreateAccount handles POST /api/v1/accounts.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "CLP"
	}

	account, err := s.store.CreateAccount(r.Context(), req.UserID, req.Currency, req.KYCTier)
	if err != nil {
		writeError(w, "failed to create account", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// UpdateTier handles PUT /api/v1/accounts/{userID}/tier, the boundary for
// the external tier-upgrade flow.
func (s *Service) UpdateTier(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Tier {
	case model.TierBasic, model.TierIntermediate, model.TierFull:
	default:
		writeError(w, "unknown tier", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateKYCTier(r.Context(), userID, req.Tier); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to update tier", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "tier": req.Tier})
}

// GetBalance handles GET /api/v1/accounts/{userID}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.store.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to get balance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

// GetTransactions handles GET /api/v1/accounts/{userID}/transactions.
// Returns only COMPLETED entries, most recent first.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := s.store.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetStats handles GET /api/v1/accounts/{userID}/stats.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stats, err := s.store.TransactionStats(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeRejection maps the error taxonomy to HTTP semantics:
// validation → 400, unknown account → 404, limit → 422, fraud → 403 with a
// fraud_blocked discriminator, insufficient funds → 409, anything else →
// generic 500 with nothing charged.
func (s *Service) writeRejection(w http.ResponseWriter, method string, err error) {
	if method == "" {
		method = model.MethodWallet
	}

	var limitErr *limits.ExceededError
	var fraudErr *FraudBlockedError
	var fundsErr *store.InsufficientFundsError

	switch {
	case errors.Is(err, ErrSelfPayment),
		errors.Is(err, ErrAmountBelowMinimum),
		errors.Is(err, ErrUnknownMethod),
		errors.Is(err, ErrMissingReference),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, store.ErrSelfTransfer):
		metrics.PaymentsTotal.WithLabelValues(method, "validation_rejected").Inc()
		writeJSON(w, http.StatusBadRequest, PaymentResponse{Error: err.Error()})

	case errors.Is(err, store.ErrAccountNotFound):
		metrics.PaymentsTotal.WithLabelValues(method, "validation_rejected").Inc()
		writeJSON(w, http.StatusNotFound, PaymentResponse{Error: "account not found"})

	case errors.As(err, &limitErr):
		metrics.PaymentsTotal.WithLabelValues(method, "limit_rejected").Inc()
		writeJSON(w, http.StatusUnprocessableEntity, PaymentResponse{Error: limitErr.Error()})

	case errors.As(err, &fraudErr):
		metrics.PaymentsTotal.WithLabelValues(method, "fraud_blocked").Inc()
		writeJSON(w, http.StatusForbidden, PaymentResponse{
			Error:        "payment blocked for your security",
			FraudBlocked: true,
		})

	case errors.As(err, &fundsErr):
		metrics.PaymentsTotal.WithLabelValues(method, "insufficient_funds").Inc()
		writeJSON(w, http.StatusConflict, PaymentResponse{Error: fundsErr.Error()})

	default:
		metrics.PaymentsTotal.WithLabelValues(method, "error").Inc()
		slog.Error("payment processing failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, PaymentResponse{
			Error: "payment could not be processed, nothing was charged",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
