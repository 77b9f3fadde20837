package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/walletpay/wallet-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps guarded by one mutex,
// which gives the same serialization guarantees as the row locks in
// PostgresStore. Used for testing and development. Not suitable for
// production (no persistence).
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	ledger   []model.Transaction
	byRef    map[string]int // reference → ledger index
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		byRef:    make(map[string]int),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, userID, currency, tier string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tier == "" {
		tier = model.TierBasic
	}
	a := &model.Account{
		UserID:    userID,
		Currency:  currency,
		KYCTier:   tier,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[userID] = a
	out := *a
	return &out, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return a.Balance, nil
}

func (s *MemoryStore) UpdateKYCTier(_ context.Context, userID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return ErrAccountNotFound
	}
	a.KYCTier = tier
	return nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	a.Balance += amount
	s.append(adjustmentEntry(userID, amount, description))
	return a.Balance, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if a.Balance < amount {
		return 0, &InsufficientFundsError{UserID: userID, Balance: a.Balance, Requested: amount}
	}
	a.Balance -= amount
	s.append(adjustmentEntry(userID, -amount, description))
	return a.Balance, nil
}

func (s *MemoryStore) Transfer(_ context.Context, entry *model.Transaction) (int64, int64, error) {
	if entry.SenderID == entry.ReceiverID {
		return 0, 0, ErrSelfTransfer
	}
	if entry.Amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.accounts[entry.SenderID]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}
	receiver, ok := s.accounts[entry.ReceiverID]
	if !ok {
		return 0, 0, ErrAccountNotFound
	}

	total := entry.Amount + entry.Fee
	if sender.Balance < total {
		// No entry is recorded: the whole unit of work rolls back.
		return 0, 0, &InsufficientFundsError{
			UserID:    entry.SenderID,
			Balance:   sender.Balance,
			Requested: total,
		}
	}

	sender.Balance -= total
	receiver.Balance += entry.Amount

	completedAt := time.Now().UTC()
	entry.Status = model.StatusCompleted
	entry.CompletedAt = &completedAt
	s.append(*entry)

	return sender.Balance, receiver.Balance, nil
}

func (s *MemoryStore) TopUp(_ context.Context, entry *model.Transaction) (int64, bool, error) {
	if entry.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[entry.ReceiverID]
	if !ok {
		return 0, false, ErrAccountNotFound
	}

	// Redelivered confirmation: the reference already exists, nothing is
	// credited again.
	if _, dup := s.byRef[entry.Reference]; dup {
		return a.Balance, false, nil
	}

	a.Balance += entry.Amount
	completedAt := time.Now().UTC()
	entry.Status = model.StatusCompleted
	entry.CompletedAt = &completedAt
	s.append(*entry)

	return a.Balance, true, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Transaction
	for _, e := range s.ledger {
		if e.Status != model.StatusCompleted {
			continue
		}
		if e.SenderID == userID || e.ReceiverID == userID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt.After(*result[j].CompletedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) TransactionStats(_ context.Context, userID string) (*model.TransactionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st model.TransactionStats
	for _, e := range s.ledger {
		if e.Status != model.StatusCompleted {
			continue
		}
		if e.SenderID == userID && e.SenderID != e.ReceiverID {
			st.SentCount++
			st.SentTotal += e.Amount
		}
		if e.ReceiverID == userID && e.SenderID != e.ReceiverID {
			st.ReceivedCount++
			st.ReceivedTotal += e.Amount
		}
		if e.SenderID == userID {
			st.FeesPaid += e.Fee
		}
	}
	return &st, nil
}

func (s *MemoryStore) MonthlyOutflow(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.outbound(userID) {
		if e.CompletedAt.Year() == at.Year() && e.CompletedAt.Month() == at.Month() {
			total += e.Amount
		}
	}
	return total, nil
}

func (s *MemoryStore) SpendingStats(_ context.Context, userID string, since time.Time) (*model.SpendingStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st model.SpendingStats
	var sum int64
	for _, e := range s.outbound(userID) {
		if e.CompletedAt.Before(since) {
			continue
		}
		st.Count++
		sum += e.Amount
		if e.Amount > st.Max {
			st.Max = e.Amount
		}
	}
	if st.Count > 0 {
		st.Average = sum / int64(st.Count)
	}
	return &st, nil
}

func (s *MemoryStore) HasPaidBefore(_ context.Context, senderID, receiverID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.ledger {
		if e.Status == model.StatusCompleted && e.SenderID == senderID && e.ReceiverID == receiverID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DailyCount(_ context.Context, userID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	y, m, d := day.Date()
	for _, e := range s.outbound(userID) {
		ey, em, ed := e.CompletedAt.Date()
		if ey == y && em == m && ed == d {
			count++
		}
	}
	return count, nil
}

// append records an entry. Callers must hold s.mu.
func (s *MemoryStore) append(e model.Transaction) {
	s.byRef[e.Reference] = len(s.ledger)
	s.ledger = append(s.ledger, e)
}

// adjustmentEntry builds the single-sided entry backing a Credit or Debit.
func adjustmentEntry(userID string, signed int64, description string) model.Transaction {
	amount := signed
	direction := `{"direction":"credit"}`
	if amount < 0 {
		amount = -amount
		direction = `{"direction":"debit"}`
	}
	now := time.Now().UTC()
	return model.Transaction{
		ID:          uuid.New().String(),
		SenderID:    userID,
		ReceiverID:  userID,
		Amount:      amount,
		Status:      model.StatusCompleted,
		Method:      model.MethodAdjustment,
		Reference:   "#ADJ-" + uuid.New().String()[:8],
		Description: description,
		Metadata:    direction,
		CreatedAt:   now,
		CompletedAt: &now,
	}
}

// outbound returns the user's completed outbound payments. Callers must hold
// s.mu.
func (s *MemoryStore) outbound(userID string) []model.Transaction {
	var result []model.Transaction
	for _, e := range s.ledger {
		if e.Status == model.StatusCompleted && e.SenderID == userID && e.SenderID != e.ReceiverID {
			result = append(result, e)
		}
	}
	return result
}
