package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aferconlda/aferconpay1/services/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool, context.Context) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(ctx, pool)
		pool.Close()
	})
	return New(pool, nil), pool, ctx
}

func insertAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, fcmToken string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var token any
	if fcmToken != "" {
		token = fcmToken
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (id, phone, display_name, role, status, fcm_token, personal_referral_code, created_at, updated_at)
		VALUES ($1, $2, 'Notifier Test', 'customer', 'active', $3, $4, $5, $5)
	`, id, "+2449"+id.String()[:8], token, id.String()[:8], time.Now().UTC())
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return id
}

func TestStoreNotificationDeduplicates(t *testing.T) {
	store, pool, ctx := setupStore(t)
	accountID := insertAccount(t, ctx, pool, "")

	eventID := uuid.NewString()
	n := Notification{AccountID: accountID, Title: "Transferência Recebida", Body: "Recebeu 100.00 Kz.", Type: "transfer_in"}

	inserted, err := store.StoreNotification(ctx, eventID, n)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !inserted {
		t.Fatalf("first delivery must insert")
	}

	inserted, err = store.StoreNotification(ctx, eventID, n)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if inserted {
		t.Fatalf("redelivery must be a no-op")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE account_id = $1`, accountID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 notification row, got %d", count)
	}
}

func TestGetFCMToken(t *testing.T) {
	store, pool, ctx := setupStore(t)

	withToken := insertAccount(t, ctx, pool, "device-token-1")
	withoutToken := insertAccount(t, ctx, pool, "")

	token, err := store.GetFCMToken(ctx, withToken)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token != "device-token-1" {
		t.Fatalf("unexpected token %q", token)
	}

	token, err = store.GetFCMToken(ctx, withoutToken)
	if err != nil {
		t.Fatalf("get empty token: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token, got %q", token)
	}

	if _, err := store.GetFCMToken(ctx, uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
