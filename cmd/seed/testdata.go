package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedTestData adds in-flight requests in assorted states so the admin
// and cashier screens have something to show.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	now := time.Now().UTC()

	exchanges := []struct {
		id          uuid.UUID
		userID      uuid.UUID
		amount      string
		platformFee string
		cashierFee  string
		total       string
		status      string
		processedBy *uuid.UUID
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000301"), client1ID, "50000", "750", "1750", "52500", "pending", nil},
		{uuid.MustParse("00000000-0000-0000-0000-000000000302"), client2ID, "10000", "150", "350", "10500", "processing", &cashier1ID},
		{uuid.MustParse("00000000-0000-0000-0000-000000000303"), merchantID, "100000", "1500", "3500", "105000", "completed", &cashier1ID},
	}

	for _, e := range exchanges {
		var acceptedAt, completedAt *time.Time
		if e.status != "pending" {
			t := now.Add(-2 * time.Hour)
			acceptedAt = &t
		}
		if e.status == "completed" {
			t := now.Add(-1 * time.Hour)
			completedAt = &t
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO exchange_requests (id, user_id, amount, target_currency, platform_fee, cashier_fee,
				total_amount, payment_details, currency, status, processed_by, created_at, accepted_at, completed_at, updated_at)
			VALUES ($1, $2, $3, 'USD', $4, $5, $6, 'IBAN AO06 0000 0000 0000 0000 0000 0', 'AOA', $7, $8, $9, $10, $11, $9)
			ON CONFLICT (id) DO NOTHING
		`, e.id, e.userID, e.amount, e.platformFee, e.cashierFee, e.total, e.status, e.processedBy,
			now.Add(-3*time.Hour), acceptedAt, completedAt)
		if err != nil {
			return fmt.Errorf("exchange %s: %w", e.id, err)
		}
	}

	withdrawals := []struct {
		id     uuid.UUID
		userID uuid.UUID
		amount string
		status string
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000401"), client1ID, "15000", "pending"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000402"), client2ID, "5000", "pending"},
	}

	for _, w := range withdrawals {
		_, err := pool.Exec(ctx, `
			INSERT INTO withdrawal_requests (id, user_id, amount, currency, destination, status, created_at)
			VALUES ($1, $2, $3, 'AOA', 'BAI conta 12345678', $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, w.id, w.userID, w.amount, w.status, now.Add(-30*time.Minute))
		if err != nil {
			return fmt.Errorf("withdrawal %s: %w", w.id, err)
		}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO credit_requests (id, user_id, credit_type, requested_amount, analysis_fee, currency, status, created_at)
		VALUES ($1, $2, 'personal', '200000', '500', 'AOA', 'pending_analysis', $3)
		ON CONFLICT (id) DO NOTHING
	`, uuid.MustParse("00000000-0000-0000-0000-000000000501"), client1ID, now.Add(-15*time.Minute))
	if err != nil {
		return fmt.Errorf("credit request: %w", err)
	}

	return nil
}
