package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aferconlda/aferconpay1/libs/apikey"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	merchantKeyPrefix = "lojademo"
	merchantKeySecret = "lojasecret0001"
)

var (
	treasuryID = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")
	adminID    = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	cashier1ID = uuid.MustParse("00000000-0000-0000-0000-000000000011")
	cashier2ID = uuid.MustParse("00000000-0000-0000-0000-000000000012")
	merchantID = uuid.MustParse("00000000-0000-0000-0000-000000000021")
	client1ID  = uuid.MustParse("00000000-0000-0000-0000-000000000031")
	client2ID  = uuid.MustParse("00000000-0000-0000-0000-000000000032")
	client3ID  = uuid.MustParse("00000000-0000-0000-0000-000000000033")
)

func main() {
	env := getEnv("APAY_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: APAY_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "aferconpay")
	user := getEnv("POSTGRES_USER", "aferconpay")
	password := getEnv("POSTGRES_PASSWORD", "aferconpay")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedAccounts(ctx, pool); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("✓ Accounts seeded")

	if err := seedWallets(ctx, pool); err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	fmt.Println("✓ Wallets seeded")

	if err := seedFeeSchedule(ctx, pool); err != nil {
		log.Fatalf("seed fee schedule: %v", err)
	}
	fmt.Println("✓ Fee schedule seeded")

	merchantKey, err := seedAPIKey(ctx, pool, env)
	if err != nil {
		log.Fatalf("seed api key: %v", err)
	}
	fmt.Println("✓ Merchant API key seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Accounts:")
	fmt.Println("  Admin:    +244900000001")
	fmt.Println("  Cashier:  +244900000011 / +244900000012")
	fmt.Println("  Merchant: +244900000021")
	fmt.Println("  Clients:  +244900000031 / +244900000032 / +244900000033")

	if env == "dev" {
		fmt.Println("\nMerchant API Key (DEV ONLY):")
		fmt.Printf("  %s\n", merchantKey)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	accounts := []struct {
		id           uuid.UUID
		phone        string
		name         string
		role         string
		status       string
		referralCode string
	}{
		{treasuryID, "system.treasury", "Treasury", "admin", "system", "TREASURY"},
		{adminID, "+244900000001", "Administrador", "admin", "active", "ADM1N001"},
		{cashier1ID, "+244900000011", "Caixa Viana", "cashier", "active", "CX240011"},
		{cashier2ID, "+244900000012", "Caixa Talatona", "cashier", "active", "CX240012"},
		{merchantID, "+244900000021", "Loja Demo", "merchant", "active", "LJ240021"},
		{client1ID, "+244900000031", "Ana Sousa", "customer", "active", "CL240031"},
		{client2ID, "+244900000032", "Bruno Campos", "customer", "active", "CL240032"},
		{client3ID, "+244900000033", "Dina Manuel", "customer", "active", "CL240033"},
	}

	now := time.Now().UTC()
	for _, a := range accounts {
		_, err := pool.Exec(ctx, `
			INSERT INTO accounts (id, phone, display_name, role, status, personal_referral_code, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (phone) DO UPDATE
			SET display_name = EXCLUDED.display_name,
			    role = EXCLUDED.role,
			    status = EXCLUDED.status,
			    updated_at = EXCLUDED.updated_at
		`, a.id, a.phone, a.name, a.role, a.status, a.referralCode, now)
		if err != nil {
			return fmt.Errorf("account %s: %w", a.phone, err)
		}
	}

	// Client 2 joined through client 1's referral.
	_, err := pool.Exec(ctx, `UPDATE accounts SET referred_by = $1 WHERE id = $2`, client1ID, client2ID)
	return err
}

func seedWallets(ctx context.Context, pool *pgxpool.Pool) error {
	wallets := []struct {
		accountID  uuid.UUID
		balance    string
		float      string
		commission string
	}{
		{treasuryID, "0", "0", "0"},
		{adminID, "0", "0", "0"},
		{cashier1ID, "25000", "500000", "1750"},
		{cashier2ID, "10000", "250000", "0"},
		{merchantID, "120000", "0", "0"},
		{client1ID, "75000.50", "0", "0"},
		{client2ID, "12500", "0", "0"},
		{client3ID, "800", "0", "0"},
	}

	now := time.Now().UTC()
	for _, w := range wallets {
		_, err := pool.Exec(ctx, `
			INSERT INTO wallets (account_id, currency, balance, float_balance, commission_balance, updated_at)
			VALUES ($1, 'AOA', $2, $3, $4, $5)
			ON CONFLICT (account_id, currency) DO UPDATE
			SET balance = EXCLUDED.balance,
			    float_balance = EXCLUDED.float_balance,
			    commission_balance = EXCLUDED.commission_balance,
			    updated_at = EXCLUDED.updated_at
		`, w.accountID, w.balance, w.float, w.commission, now)
		if err != nil {
			return fmt.Errorf("wallet %s: %w", w.accountID, err)
		}
	}
	return nil
}

func seedFeeSchedule(ctx context.Context, pool *pgxpool.Pool) error {
	rules := []struct {
		name string
		rate string
		flat string
	}{
		{"exchange_platform", "0.015", "0"},
		{"exchange_cashier", "0.035", "0"},
		{"cash_commission", "0.01", "0"},
		{"credit_personal", "0", "500"},
		{"credit_business", "0", "1000"},
	}

	for _, r := range rules {
		_, err := pool.Exec(ctx, `
			INSERT INTO fee_schedule (name, rate, flat_amount, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (name) DO UPDATE
			SET rate = EXCLUDED.rate,
			    flat_amount = EXCLUDED.flat_amount,
			    updated_at = EXCLUDED.updated_at
		`, r.name, r.rate, r.flat)
		if err != nil {
			return fmt.Errorf("fee rule %s: %w", r.name, err)
		}
	}
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, env string) (string, error) {
	keyID := uuid.MustParse("00000000-0000-0000-0000-000000000201")
	fullKey := fmt.Sprintf("apk_%s_%s.%s", env, merchantKeyPrefix, merchantKeySecret)
	hash := apikey.Hash(merchantKeyPrefix, merchantKeySecret)

	_, err := pool.Exec(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, label, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (key_hash) DO UPDATE
		SET account_id = EXCLUDED.account_id,
		    label = EXCLUDED.label,
		    revoked_at = NULL
	`, keyID, merchantID, hash, "loja demo pos")
	if err != nil {
		return "", err
	}
	return fullKey, nil
}
