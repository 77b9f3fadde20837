package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/walletpay/wallet-engine/internal/model"
	"github.com/walletpay/wallet-engine/internal/store"
)

func newAccount(t *testing.T, s *store.MemoryStore, userID string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateAccount(ctx, userID, "CLP", model.TierBasic); err != nil {
		t.Fatalf("create account %s: %v", userID, err)
	}
	if balance > 0 {
		if _, err := s.Credit(ctx, userID, balance, "seed"); err != nil {
			t.Fatalf("seed balance %s: %v", userID, err)
		}
	}
}

func paymentEntry(senderID, receiverID string, amount, fee int64) *model.Transaction {
	return &model.Transaction{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amount,
		Fee:        fee,
		Method:     model.MethodWallet,
		Reference:  "#WP-2025-" + uuid.New().String()[:8],
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDebit_InsufficientFundsFailsClosed(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 500)

	_, err := s.Debit(context.Background(), "alice", 501, "too much")
	var funds *store.InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if funds.Balance != 500 || funds.Requested != 501 {
		t.Errorf("error should carry balance 500 / requested 501, got %d / %d",
			funds.Balance, funds.Requested)
	}

	// Balance untouched.
	balance, _ := s.GetBalance(context.Background(), "alice")
	if balance != 500 {
		t.Errorf("balance changed on failed debit: %d", balance)
	}
}

func TestDebit_NonPositiveAmountRejected(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 500)

	for _, amount := range []int64{0, -100} {
		if _, err := s.Debit(context.Background(), "alice", amount, "bad"); !errors.Is(err, store.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := s.Credit(context.Background(), "alice", amount, "bad"); !errors.Is(err, store.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestTransfer_MovesAmountAndFee(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 10_000)
	newAccount(t, s, "bob", 0)

	entry := paymentEntry("alice", "bob", 5_000, 150)
	senderBal, receiverBal, err := s.Transfer(context.Background(), entry)
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if senderBal != 4_850 {
		t.Errorf("sender balance = %d, want 4850", senderBal)
	}
	if receiverBal != 5_000 {
		t.Errorf("receiver balance = %d, want 5000", receiverBal)
	}
	if entry.Status != model.StatusCompleted {
		t.Errorf("entry status = %s, want COMPLETED", entry.Status)
	}
	if entry.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestTransfer_SelfTransferRejected(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 10_000)

	_, _, err := s.Transfer(context.Background(), paymentEntry("alice", "alice", 1_000, 0))
	if !errors.Is(err, store.ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestTransfer_InsufficientFundsLeavesNoEntry(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 1_000)
	newAccount(t, s, "bob", 0)

	_, _, err := s.Transfer(context.Background(), paymentEntry("alice", "bob", 900, 200))
	var funds *store.InsufficientFundsError
	if !errors.As(err, &funds) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if funds.Requested != 1_100 {
		t.Errorf("requested should include the fee: got %d, want 1100", funds.Requested)
	}

	// The whole unit of work rolled back: no entry, balances unchanged.
	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		entries, _ := s.ListTransactions(ctx, user, 50)
		for _, e := range entries {
			if e.Method == model.MethodWallet {
				t.Errorf("found payment entry after failed transfer: %+v", e)
			}
		}
	}
	aliceBal, _ := s.GetBalance(ctx, "alice")
	bobBal, _ := s.GetBalance(ctx, "bob")
	if aliceBal != 1_000 || bobBal != 0 {
		t.Errorf("balances changed after failed transfer: alice=%d bob=%d", aliceBal, bobBal)
	}
}

func TestTransfer_NoDoubleSpendUnderConcurrency(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 1_000)
	newAccount(t, s, "bob", 0)

	// 10 concurrent transfers of 300 against a balance of 1000: exactly
	// floor(1000/300) = 3 can succeed.
	const attempts = 10
	const amount = 300

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Transfer(context.Background(), paymentEntry("alice", "bob", amount, 0))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("expected exactly 3 successful transfers, got %d", succeeded)
	}

	aliceBal, _ := s.GetBalance(context.Background(), "alice")
	bobBal, _ := s.GetBalance(context.Background(), "bob")
	if aliceBal != 100 {
		t.Errorf("sender balance = %d, want 100", aliceBal)
	}
	if aliceBal < 0 {
		t.Error("balance went negative")
	}
	if bobBal != 900 {
		t.Errorf("receiver balance = %d, want 900", bobBal)
	}
}

func TestTopUp_CreditsOnce(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 0)
	ctx := context.Background()

	entry := &model.Transaction{
		ID:         uuid.New().String(),
		SenderID:   "alice",
		ReceiverID: "alice",
		Amount:     20_000,
		Method:     model.MethodWebpayCredit,
		Reference:  "WEBPAY-SETTLE-001",
		CreatedAt:  time.Now().UTC(),
	}
	balance, credited, err := s.TopUp(ctx, entry)
	if err != nil {
		t.Fatalf("top-up failed: %v", err)
	}
	if !credited || balance != 20_000 {
		t.Fatalf("first delivery: credited=%v balance=%d", credited, balance)
	}

	// Redelivery of the same settlement event: no-op at the current balance.
	redelivery := &model.Transaction{
		ID:         uuid.New().String(),
		SenderID:   "alice",
		ReceiverID: "alice",
		Amount:     20_000,
		Method:     model.MethodWebpayCredit,
		Reference:  "WEBPAY-SETTLE-001",
		CreatedAt:  time.Now().UTC(),
	}
	balance, credited, err = s.TopUp(ctx, redelivery)
	if err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}
	if credited {
		t.Error("redelivery must not credit again")
	}
	if balance != 20_000 {
		t.Errorf("redelivery balance = %d, want 20000", balance)
	}

	// Exactly one ledger entry exists for the reference.
	entries, _ := s.ListTransactions(ctx, "alice", 50)
	count := 0
	for _, e := range entries {
		if e.Reference == "WEBPAY-SETTLE-001" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected 1 entry for the reference, got %d", count)
	}
}

func TestMonthlyOutflow_ExcludesInboundAndSelf(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 100_000)
	newAccount(t, s, "bob", 100_000)
	ctx := context.Background()

	// Outbound payment: counts.
	if _, _, err := s.Transfer(ctx, paymentEntry("alice", "bob", 10_000, 0)); err != nil {
		t.Fatal(err)
	}
	// Inbound payment: does not count.
	if _, _, err := s.Transfer(ctx, paymentEntry("bob", "alice", 7_000, 0)); err != nil {
		t.Fatal(err)
	}
	// Self top-up: does not count.
	topup := &model.Transaction{
		ID:         uuid.New().String(),
		SenderID:   "alice",
		ReceiverID: "alice",
		Amount:     5_000,
		Method:     model.MethodKhipu,
		Reference:  "KHIPU-SETTLE-001",
		CreatedAt:  time.Now().UTC(),
	}
	if _, _, err := s.TopUp(ctx, topup); err != nil {
		t.Fatal(err)
	}

	total, err := s.MonthlyOutflow(ctx, "alice", time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if total != 10_000 {
		t.Errorf("monthly outflow = %d, want 10000", total)
	}
}

func TestHasPaidBefore(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 50_000)
	newAccount(t, s, "bob", 0)
	newAccount(t, s, "carol", 0)
	ctx := context.Background()

	if _, _, err := s.Transfer(ctx, paymentEntry("alice", "bob", 5_000, 0)); err != nil {
		t.Fatal(err)
	}

	if paid, _ := s.HasPaidBefore(ctx, "alice", "bob"); !paid {
		t.Error("alice has paid bob")
	}
	if paid, _ := s.HasPaidBefore(ctx, "alice", "carol"); paid {
		t.Error("alice has never paid carol")
	}
	if paid, _ := s.HasPaidBefore(ctx, "bob", "alice"); paid {
		t.Error("direction matters: bob has not paid alice")
	}
}

func TestTransactionStats(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 100_000)
	newAccount(t, s, "bob", 50_000)
	ctx := context.Background()

	if _, _, err := s.Transfer(ctx, paymentEntry("alice", "bob", 10_000, 150)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Transfer(ctx, paymentEntry("bob", "alice", 4_000, 0)); err != nil {
		t.Fatal(err)
	}

	stats, err := s.TransactionStats(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if stats.SentCount != 1 || stats.SentTotal != 10_000 {
		t.Errorf("sent = %d/%d, want 1/10000", stats.SentCount, stats.SentTotal)
	}
	if stats.ReceivedCount != 1 || stats.ReceivedTotal != 4_000 {
		t.Errorf("received = %d/%d, want 1/4000", stats.ReceivedCount, stats.ReceivedTotal)
	}
	if stats.FeesPaid != 150 {
		t.Errorf("fees paid = %d, want 150", stats.FeesPaid)
	}
}

func TestListTransactions_CompletedOnlyNewestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	newAccount(t, s, "alice", 100_000)
	newAccount(t, s, "bob", 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := s.Transfer(ctx, paymentEntry("alice", "bob", 1_000, 0)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	entries, err := s.ListTransactions(ctx, "bob", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2 entries, got %d", len(entries))
	}
	if entries[0].CompletedAt.Before(*entries[1].CompletedAt) {
		t.Error("entries should be newest first")
	}
	for _, e := range entries {
		if e.Status != model.StatusCompleted {
			t.Errorf("non-COMPLETED entry in history: %s", e.Status)
		}
	}
}
