package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"log/slog"
)

const notifierEventPrefix = "notifier:"

var ErrAccountNotFound = errors.New("account not found")

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

type Notification struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Title     string
	Body      string
	Type      string
	CreatedAt time.Time
}

// StoreNotification inserts the notification row and marks the event
// processed in the same transaction. It reports whether the event was
// new; duplicates are a no-op.
func (s *Store) StoreNotification(ctx context.Context, eventID string, n Notification) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	processed, err := isEventProcessed(ctx, tx, eventID)
	if err != nil {
		return false, err
	}
	if processed {
		committed = true
		return false, tx.Commit(ctx)
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO notifications (id, account_id, title, body, type, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`, n.ID, n.AccountID, n.Title, n.Body, n.Type, n.CreatedAt); err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, notifierEventKey(eventID)); err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// GetFCMToken returns the account's push token, empty when unset.
func (s *Store) GetFCMToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	var token *string
	row := s.pool.QueryRow(ctx, `SELECT fcm_token FROM accounts WHERE id = $1`, accountID)
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("get fcm token: %w", err)
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}

func isEventProcessed(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	key := notifierEventKey(eventID)
	if key == "" {
		return false, nil
	}
	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, key)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func notifierEventKey(eventID string) string {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, notifierEventPrefix) {
		return trimmed
	}
	return notifierEventPrefix + trimmed
}
