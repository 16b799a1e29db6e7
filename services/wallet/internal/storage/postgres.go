package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "AOA"

	PoolBalance    = "balance"
	PoolFloat      = "float"
	PoolCommission = "commission"

	treasuryPhone        = "system.treasury"
	treasuryReferralCode = "TREASURY"

	txMaxAttempts = 3
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrDuplicateAccount     = errors.New("account already exists")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientFloat    = errors.New("insufficient float balance")
	ErrRequestNotFound      = errors.New("request not found")
	ErrInvalidStatus        = errors.New("status does not allow transition")
	ErrNotRequestActor      = errors.New("caller is not the actor for this request")
	ErrIntentNotFound       = errors.New("payment intent not found")
	ErrIntentClosed         = errors.New("payment intent is not payable")
	ErrAPIKeyNotFound       = errors.New("api key not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// errRetryableConflict marks a write conflict that a fresh snapshot
// resolves, so withTx restarts the transaction instead of failing.
var errRetryableConflict = errors.New("retryable write conflict")

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// withTx runs fn inside a REPEATABLE READ transaction and retries the
// whole read-validate-write sequence on serialization failures and
// deadlocks, up to txMaxAttempts. Business failures abort immediately.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
		if err != nil {
			return err
		}
		committed := false
		err = func() error {
			defer func() {
				if !committed {
					_ = tx.Rollback(ctx)
				}
			}()
			if err := fn(tx); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return err
			}
			committed = true
			return nil
		}()
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) && !errors.Is(err, errRetryableConflict) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(attempt) * 25 * time.Millisecond)
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

// entry is one signed balance delta against one pool of one account,
// paired with the transaction record that documents it.
type entry struct {
	AccountID   uuid.UUID
	Pool        string
	Type        string
	Amount      decimal.Decimal
	Related     uuid.UUID
	Description string
}

// applyMovement locks every involved wallet in ascending account-id
// order, applies the signed deltas as relative increments, verifies no
// pool goes negative, and appends one transaction record per entry.
// All of it happens on the caller's transaction.
func (s *Store) applyMovement(ctx context.Context, tx pgx.Tx, currency string, operationID uuid.UUID, entries []entry) (*MovementResult, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no movement entries")
	}
	currency = normalizeCurrency(currency)

	wallets, err := s.lockWallets(ctx, tx, currency, accountIDs(entries))
	if err != nil {
		return nil, err
	}

	deltas := make(map[uuid.UUID]map[string]decimal.Decimal, len(wallets))
	for _, e := range entries {
		w := wallets[e.AccountID]
		if err := applyDelta(w, e.Pool, e.Amount); err != nil {
			return nil, err
		}
		if deltas[e.AccountID] == nil {
			deltas[e.AccountID] = make(map[string]decimal.Decimal, 3)
		}
		deltas[e.AccountID][e.Pool] = deltas[e.AccountID][e.Pool].Add(e.Amount)
	}

	now := time.Now().UTC()
	for accountID, poolDeltas := range deltas {
		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET balance = balance + $1,
			    float_balance = float_balance + $2,
			    commission_balance = commission_balance + $3,
			    updated_at = $4
			WHERE account_id = $5 AND currency = $6
		`, poolDeltas[PoolBalance].String(), poolDeltas[PoolFloat].String(), poolDeltas[PoolCommission].String(), now, accountID, currency); err != nil {
			return nil, err
		}
	}

	result := &MovementResult{OperationID: operationID}
	for _, e := range entries {
		rec := TransactionRecord{
			ID:             uuid.New(),
			AccountID:      e.AccountID,
			Type:           e.Type,
			Pool:           e.Pool,
			Amount:         e.Amount,
			Currency:       currency,
			Status:         "completed",
			RelatedAccount: e.Related,
			OperationID:    operationID,
			Description:    e.Description,
			CreatedAt:      now,
		}
		if err := insertRecord(ctx, tx, rec); err != nil {
			return nil, err
		}
		result.Records = append(result.Records, rec)
	}

	for _, w := range wallets {
		w.UpdatedAt = now
		result.Wallets = append(result.Wallets, *w)
	}
	return result, nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec TransactionRecord) error {
	var related any
	if rec.RelatedAccount != uuid.Nil {
		related = rec.RelatedAccount
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transaction_records (id, account_id, type, pool, amount, currency, status, related_account, operation_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.AccountID, rec.Type, rec.Pool, rec.Amount.String(), rec.Currency, rec.Status, related, rec.OperationID, nullIfEmpty(rec.Description), rec.CreatedAt)
	return err
}

// lockWallets acquires row locks for all listed accounts in ascending
// id order so concurrent operations touching the same pair cannot
// deadlock, creating zero-value wallets where missing.
func (s *Store) lockWallets(ctx context.Context, tx pgx.Tx, currency string, ids []uuid.UUID) (map[uuid.UUID]*Wallet, error) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	wallets := make(map[uuid.UUID]*Wallet, len(ids))
	for _, id := range ids {
		w, err := s.getOrCreateWalletForUpdate(ctx, tx, id, currency)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}
	return wallets, nil
}

func (s *Store) getOrCreateWalletForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currency string) (*Wallet, error) {
	w, err := getWalletForUpdate(ctx, tx, accountID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (account_id, currency, balance, float_balance, commission_balance)
		VALUES ($1, $2, 0, 0, 0)
		ON CONFLICT (account_id, currency) DO NOTHING
	`, accountID, currency); err != nil {
		return nil, err
	}
	return getWalletForUpdate(ctx, tx, accountID, currency)
}

func getWalletForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, currency string) (*Wallet, error) {
	var w Wallet
	var balanceStr, floatStr, commissionStr string
	row := tx.QueryRow(ctx, `
		SELECT account_id, currency, balance::text, float_balance::text, commission_balance::text, updated_at
		FROM wallets
		WHERE account_id = $1 AND currency = $2
		FOR UPDATE
	`, accountID, currency)
	if err := row.Scan(&w.AccountID, &w.Currency, &balanceStr, &floatStr, &commissionStr, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := parseWalletBalances(&w, balanceStr, floatStr, commissionStr); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *Store) GetWallet(ctx context.Context, accountID uuid.UUID, currency string) (Wallet, error) {
	currency = normalizeCurrency(currency)
	var w Wallet
	var balanceStr, floatStr, commissionStr string
	row := s.pool.QueryRow(ctx, `
		SELECT account_id, currency, balance::text, float_balance::text, commission_balance::text, updated_at
		FROM wallets
		WHERE account_id = $1 AND currency = $2
	`, accountID, currency)
	if err := row.Scan(&w.AccountID, &w.Currency, &balanceStr, &floatStr, &commissionStr, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{
				AccountID:         accountID,
				Currency:          currency,
				Balance:           decimal.Zero,
				FloatBalance:      decimal.Zero,
				CommissionBalance: decimal.Zero,
			}, nil
		}
		return Wallet{}, err
	}
	if err := parseWalletBalances(&w, balanceStr, floatStr, commissionStr); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func parseWalletBalances(w *Wallet, balance, float, commission string) error {
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}
	if w.FloatBalance, err = decimal.NewFromString(float); err != nil {
		return fmt.Errorf("parse float balance: %w", err)
	}
	if w.CommissionBalance, err = decimal.NewFromString(commission); err != nil {
		return fmt.Errorf("parse commission balance: %w", err)
	}
	return nil
}

func applyDelta(w *Wallet, pool string, delta decimal.Decimal) error {
	switch pool {
	case PoolBalance:
		w.Balance = w.Balance.Add(delta)
		if w.Balance.IsNegative() {
			return ErrInsufficientBalance
		}
	case PoolFloat:
		w.FloatBalance = w.FloatBalance.Add(delta)
		if w.FloatBalance.IsNegative() {
			return ErrInsufficientFloat
		}
	case PoolCommission:
		w.CommissionBalance = w.CommissionBalance.Add(delta)
		if w.CommissionBalance.IsNegative() {
			return ErrInsufficientBalance
		}
	default:
		return fmt.Errorf("invalid balance pool %q", pool)
	}
	return nil
}

// getOrCreateTreasuryAccount returns the system account that accrues
// platform fees, creating it on first use. The advisory lock prevents
// two concurrent fee-bearing operations from both inserting it.
func (s *Store) getOrCreateTreasuryAccount(ctx context.Context, tx pgx.Tx) (uuid.UUID, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(737373)); err != nil {
		return uuid.Nil, err
	}

	var accountID uuid.UUID
	row := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE phone = $1`, treasuryPhone)
	if err := row.Scan(&accountID); err == nil {
		return accountID, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO accounts (id, phone, display_name, role, status, personal_referral_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, uuid.New(), treasuryPhone, "Treasury", "admin", "system", treasuryReferralCode).Scan(&accountID); err != nil {
		// A concurrent creator can commit after our snapshot was taken;
		// the advisory lock serializes us behind it but the SELECT above
		// cannot see its row. A retry on a fresh snapshot finds it.
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: treasury account exists concurrently", errRetryableConflict)
		}
		return uuid.Nil, err
	}
	return accountID, nil
}

func accountIDs(entries []entry) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(entries))
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.AccountID]; ok {
			continue
		}
		seen[e.AccountID] = struct{}{}
		ids = append(ids, e.AccountID)
	}
	return ids
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

func decimalFromDB(raw, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", what, err)
	}
	return d, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
