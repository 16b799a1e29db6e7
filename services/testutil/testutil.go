package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "aferconpay"),
		getEnv("POSTGRES_PASSWORD", "aferconpay"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "aferconpay"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// CleanupTestData removes everything except the treasury system account
// and the seeded fee schedule.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		"DELETE FROM processed_events",
		"DELETE FROM notifications",
		"DELETE FROM api_keys",
		"DELETE FROM credit_requests",
		"DELETE FROM withdrawal_requests",
		"DELETE FROM exchange_requests",
		"DELETE FROM qr_intents",
		"DELETE FROM transaction_records",
		"DELETE FROM wallets WHERE account_id NOT IN (SELECT id FROM accounts WHERE phone = 'system.treasury')",
		"DELETE FROM accounts WHERE phone <> 'system.treasury'",
		"UPDATE wallets SET balance = 0, float_balance = 0, commission_balance = 0",
	}

	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("cleanup %q: %w", q, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
