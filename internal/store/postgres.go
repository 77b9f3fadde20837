package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/walletpay/wallet-engine/internal/model"
)

// uniqueViolation is the PostgreSQL error code raised when the unique index
// on transactions.reference rejects a duplicate. TopUp treats it as a
// redelivered gateway confirmation.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the system of record.
// Balances are BIGINT minor units; serialization of concurrent mutations on
// the same account relies on SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, userID, currency, tier string) (*model.Account, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, currency, kyc_tier, is_active, created_at)
		 VALUES ($1, 0, $2, $3, TRUE, $4)`,
		a.UserID, a.Currency, a.KYCTier, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", userID, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance, currency, kyc_tier, is_active, created_at
		 FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.Balance, &a.Currency, &a.KYCTier, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	return &a, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("get balance %s: %w", userID, err)
	}
	return balance, nil
}

func (s *PostgresStore) UpdateKYCTier(ctx context.Context, userID, tier string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET kyc_tier = $2 WHERE user_id = $1`, userID, tier)
	if err != nil {
		return fmt.Errorf("update tier %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockBalance(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE user_id = $1 RETURNING balance`,
			userID, amount).Scan(&balance); err != nil {
			return fmt.Errorf("credit %s: %w", userID, err)
		}
		return insertAdjustment(ctx, tx, userID, amount, description)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		current, err := lockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current < amount {
			return &InsufficientFundsError{UserID: userID, Balance: current, Requested: amount}
		}
		if err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance - $2 WHERE user_id = $1 RETURNING balance`,
			userID, amount).Scan(&balance); err != nil {
			return fmt.Errorf("debit %s: %w", userID, err)
		}
		return insertAdjustment(ctx, tx, userID, -amount, description)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Transfer commits a prepared payment entry atomically: insert as
// PROCESSING, lock both accounts in deterministic order, verify the sender
// covers amount+fee, move the money, flip the entry to COMPLETED. Any error
// rolls the whole unit back, including the entry insert.
func (s *PostgresStore) Transfer(ctx context.Context, entry *model.Transaction) (int64, int64, error) {
	if entry.SenderID == entry.ReceiverID {
		return 0, 0, ErrSelfTransfer
	}
	if entry.Amount <= 0 {
		return 0, 0, ErrInvalidAmount
	}

	var senderBalance, receiverBalance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entry.Status = model.StatusProcessing
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		// Lock accounts in ID order to prevent deadlocks between opposing
		// concurrent transfers.
		first, second := entry.SenderID, entry.ReceiverID
		if first > second {
			first, second = second, first
		}
		balances := make(map[string]int64, 2)
		for _, id := range []string{first, second} {
			b, err := lockBalance(ctx, tx, id)
			if err != nil {
				return err
			}
			balances[id] = b
		}

		total := entry.Amount + entry.Fee
		if balances[entry.SenderID] < total {
			return &InsufficientFundsError{
				UserID:    entry.SenderID,
				Balance:   balances[entry.SenderID],
				Requested: total,
			}
		}

		if err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance - $2 WHERE user_id = $1 RETURNING balance`,
			entry.SenderID, total).Scan(&senderBalance); err != nil {
			return fmt.Errorf("debit sender %s: %w", entry.SenderID, err)
		}
		if err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE user_id = $1 RETURNING balance`,
			entry.ReceiverID, entry.Amount).Scan(&receiverBalance); err != nil {
			return fmt.Errorf("credit receiver %s: %w", entry.ReceiverID, err)
		}

		completedAt := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = $2, completed_at = $3 WHERE id = $1`,
			entry.ID, model.StatusCompleted, completedAt); err != nil {
			return fmt.Errorf("complete entry %s: %w", entry.ID, err)
		}
		entry.Status = model.StatusCompleted
		entry.CompletedAt = &completedAt
		return nil
	})
	if err != nil {
		entry.Status = ""
		entry.CompletedAt = nil
		return 0, 0, err
	}
	return senderBalance, receiverBalance, nil
}

// TopUp inserts a COMPLETED self-credit keyed by the gateway's settlement
// reference and credits the balance in the same unit of work. A duplicate
// reference means the gateway redelivered its confirmation: the insert fails
// uniqueness, nothing is credited, and the current balance is returned.
func (s *PostgresStore) TopUp(ctx context.Context, entry *model.Transaction) (int64, bool, error) {
	if entry.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}

	var balance int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		completedAt := time.Now().UTC()
		entry.Status = model.StatusCompleted
		entry.CompletedAt = &completedAt
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE user_id = $1 RETURNING balance`,
			entry.ReceiverID, entry.Amount).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("credit top-up %s: %w", entry.ReceiverID, err)
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			current, gerr := s.GetBalance(ctx, entry.ReceiverID)
			if gerr != nil {
				return 0, false, gerr
			}
			return current, false, nil
		}
		return 0, false, err
	}
	return balance, true, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, amount, fee, status, method, reference,
		        description, fraud_score, metadata, created_at, completed_at
		 FROM transactions
		 WHERE (sender_id = $1 OR receiver_id = $1) AND status = $2
		 ORDER BY completed_at DESC
		 LIMIT $3`, userID, model.StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []model.Transaction
	for rows.Next() {
		var e model.Transaction
		if err := rows.Scan(&e.ID, &e.SenderID, &e.ReceiverID, &e.Amount, &e.Fee,
			&e.Status, &e.Method, &e.Reference, &e.Description, &e.FraudScore,
			&e.Metadata, &e.CreatedAt, &e.CompletedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) TransactionStats(ctx context.Context, userID string) (*model.TransactionStats, error) {
	var st model.TransactionStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE sender_id = $1 AND sender_id <> receiver_id),
			COALESCE(SUM(amount) FILTER (WHERE sender_id = $1 AND sender_id <> receiver_id), 0),
			COUNT(*) FILTER (WHERE receiver_id = $1 AND sender_id <> receiver_id),
			COALESCE(SUM(amount) FILTER (WHERE receiver_id = $1 AND sender_id <> receiver_id), 0),
			COALESCE(SUM(fee) FILTER (WHERE sender_id = $1), 0)
		 FROM transactions WHERE status = $2 AND (sender_id = $1 OR receiver_id = $1)`,
		userID, model.StatusCompleted).
		Scan(&st.SentCount, &st.SentTotal, &st.ReceivedCount, &st.ReceivedTotal, &st.FeesPaid)
	if err != nil {
		return nil, fmt.Errorf("transaction stats %s: %w", userID, err)
	}
	return &st, nil
}

// MonthlyOutflow reads COMPLETED entries only: a payment still PROCESSING in
// a concurrent request is invisible here.
func (s *PostgresStore) MonthlyOutflow(ctx context.Context, userID string, at time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE sender_id = $1 AND sender_id <> receiver_id AND status = $2
		   AND date_trunc('month', completed_at) = date_trunc('month', $3::timestamptz)`,
		userID, model.StatusCompleted, at).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("monthly outflow %s: %w", userID, err)
	}
	return total, nil
}

func (s *PostgresStore) SpendingStats(ctx context.Context, userID string, since time.Time) (*model.SpendingStats, error) {
	var st model.SpendingStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(amount), 0)::BIGINT,
		        COALESCE(MAX(amount), 0)
		 FROM transactions
		 WHERE sender_id = $1 AND sender_id <> receiver_id AND status = $2
		   AND completed_at >= $3`,
		userID, model.StatusCompleted, since).Scan(&st.Count, &st.Average, &st.Max)
	if err != nil {
		return nil, fmt.Errorf("spending stats %s: %w", userID, err)
	}
	return &st, nil
}

func (s *PostgresStore) HasPaidBefore(ctx context.Context, senderID, receiverID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE sender_id = $1 AND receiver_id = $2 AND status = $3)`,
		senderID, receiverID, model.StatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has paid before %s->%s: %w", senderID, receiverID, err)
	}
	return exists, nil
}

func (s *PostgresStore) DailyCount(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM transactions
		 WHERE sender_id = $1 AND sender_id <> receiver_id AND status = $2
		   AND completed_at::date = $3::date`,
		userID, model.StatusCompleted, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("daily count %s: %w", userID, err)
	}
	return count, nil
}

// --- Transaction helpers ---

// inTx runs fn inside a single pgx transaction, rolling back on any error.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockBalance acquires the exclusive row lock for an account and returns the
// balance observed under that lock.
func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("lock account %s: %w", userID, err)
	}
	return balance, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *model.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, fee, status, method,
		                           reference, description, fraud_score, metadata, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.SenderID, e.ReceiverID, e.Amount, e.Fee, e.Status, e.Method,
		e.Reference, e.Description, e.FraudScore, e.Metadata, e.CreatedAt, e.CompletedAt)
	return err
}

// insertAdjustment records the single-sided entry backing a Credit or Debit.
// Negative signed amounts mark debits.
func insertAdjustment(ctx context.Context, tx pgx.Tx, userID string, signed int64, description string) error {
	amount := signed
	if amount < 0 {
		amount = -amount
	}
	now := time.Now().UTC()
	e := &model.Transaction{
		ID:          uuid.New().String(),
		SenderID:    userID,
		ReceiverID:  userID,
		Amount:      amount,
		Status:      model.StatusCompleted,
		Method:      model.MethodAdjustment,
		Reference:   fmt.Sprintf("#ADJ-%s", uuid.New().String()[:8]),
		Description: description,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if signed < 0 {
		e.Metadata = `{"direction":"debit"}`
	} else {
		e.Metadata = `{"direction":"credit"}`
	}
	return insertEntry(ctx, tx, e)
}
