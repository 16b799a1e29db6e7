package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RejectReasonInsufficientBalance is set when an approval finds the
// requester's balance has dropped below the requested amount since the
// request was filed.
const RejectReasonInsufficientBalance = "insufficient balance"

// CreateWithdrawalRequest files a pending withdrawal. No funds move at
// request time; settlement happens at approval.
func (s *Store) CreateWithdrawalRequest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, destination string) (*WithdrawalRequest, error) {
	now := time.Now().UTC()
	req := &WithdrawalRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Currency:    normalizeCurrency(currency),
		Destination: destination,
		Status:      "pending",
		CreatedAt:   now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, amount, currency, destination, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, req.ID, req.UserID, req.Amount.String(), req.Currency, req.Destination, req.Status, req.CreatedAt)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveWithdrawalRequest settles a pending request. The requester's
// balance is re-checked under lock at approval time: if it has since
// dropped below the amount, the request is auto-rejected instead and
// nothing is debited. The returned request's Status tells the caller
// which way it went.
func (s *Store) ApproveWithdrawalRequest(ctx context.Context, requestID, adminID uuid.UUID) (*WithdrawalRequest, *MovementResult, error) {
	var req *WithdrawalRequest
	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" {
			return ErrInvalidStatus
		}

		wallet, err := s.getOrCreateWalletForUpdate(ctx, tx, req.UserID, req.Currency)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if wallet.Balance.LessThan(req.Amount) {
			if _, err := tx.Exec(ctx, `
				UPDATE withdrawal_requests
				SET status = 'rejected', reviewed_by = $1, reject_reason = $2, reviewed_at = $3
				WHERE id = $4
			`, adminID, RejectReasonInsufficientBalance, now, requestID); err != nil {
				return err
			}
			req.Status = "rejected"
			req.ReviewedBy = adminID
			req.RejectReason = RejectReasonInsufficientBalance
			req.ReviewedAt = &now
			return nil
		}

		result, err = s.applyMovement(ctx, tx, req.Currency, req.ID, []entry{
			{AccountID: req.UserID, Pool: PoolBalance, Type: "expense", Amount: req.Amount.Neg(), Description: "withdrawal to " + req.Destination},
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE withdrawal_requests SET status = 'approved', reviewed_by = $1, reviewed_at = $2 WHERE id = $3
		`, adminID, now, requestID); err != nil {
			return err
		}
		req.Status = "approved"
		req.ReviewedBy = adminID
		req.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

func (s *Store) RejectWithdrawalRequest(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*WithdrawalRequest, error) {
	var req *WithdrawalRequest
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getWithdrawalForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" {
			return ErrInvalidStatus
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = 'rejected', reviewed_by = $1, reject_reason = $2, reviewed_at = $3
			WHERE id = $4
		`, adminID, nullIfEmpty(reason), now, requestID); err != nil {
			return err
		}
		req.Status = "rejected"
		req.ReviewedBy = adminID
		req.RejectReason = reason
		req.ReviewedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context) ([]WithdrawalRequest, error) {
	rows, err := s.pool.Query(ctx, withdrawalSelect+` WHERE status = 'pending' ORDER BY created_at ASC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

const withdrawalSelect = `
	SELECT id, user_id, amount::text, currency, destination, status, reviewed_by, reject_reason, created_at, reviewed_at
	FROM withdrawal_requests`

func getWithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*WithdrawalRequest, error) {
	return scanWithdrawal(tx.QueryRow(ctx, withdrawalSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func scanWithdrawal(row pgx.Row) (*WithdrawalRequest, error) {
	var req WithdrawalRequest
	var amountStr string
	var reviewedBy *uuid.UUID
	var rejectReason *string
	if err := row.Scan(&req.ID, &req.UserID, &amountStr, &req.Currency, &req.Destination, &req.Status, &reviewedBy, &rejectReason, &req.CreatedAt, &req.ReviewedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	amount, err := decimalFromDB(amountStr, "withdrawal amount")
	if err != nil {
		return nil, err
	}
	req.Amount = amount
	if reviewedBy != nil {
		req.ReviewedBy = *reviewedBy
	}
	if rejectReason != nil {
		req.RejectReason = *rejectReason
	}
	return &req, nil
}

// CreateCreditRequest collects the flat analysis fee and files the
// credit request in one transaction. The fee lands on the treasury.
func (s *Store) CreateCreditRequest(ctx context.Context, userID uuid.UUID, creditType string, requestedAmount, fee decimal.Decimal, currency string) (*CreditRequest, *MovementResult, error) {
	now := time.Now().UTC()
	req := &CreditRequest{
		ID:              uuid.New(),
		UserID:          userID,
		CreditType:      creditType,
		RequestedAmount: requestedAmount,
		AnalysisFee:     fee,
		Currency:        normalizeCurrency(currency),
		Status:          "pending_analysis",
		CreatedAt:       now,
	}

	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		treasuryID, err := s.getOrCreateTreasuryAccount(ctx, tx)
		if err != nil {
			return err
		}
		result, err = s.applyMovement(ctx, tx, req.Currency, req.ID, []entry{
			{AccountID: userID, Pool: PoolBalance, Type: "fee", Amount: fee.Neg(), Description: "credit analysis fee"},
			{AccountID: treasuryID, Pool: PoolBalance, Type: "revenue", Amount: fee, Related: userID, Description: "credit analysis fee"},
		})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_requests (id, user_id, credit_type, requested_amount, analysis_fee, currency, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, req.ID, req.UserID, req.CreditType, req.RequestedAmount.String(), req.AnalysisFee.String(), req.Currency, req.Status, req.CreatedAt)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

func (s *Store) InsertAPIKey(ctx context.Context, key APIKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, account_id, key_hash, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, key.ID, key.AccountID, key.KeyHash, key.Label, key.CreatedAt)
	return err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	var key APIKey
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, key_hash, label, created_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1
	`, hash)
	if err := row.Scan(&key.ID, &key.AccountID, &key.KeyHash, &key.Label, &key.CreatedAt, &key.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, key_hash, label, created_at, revoked_at
		FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.AccountID, &key.KeyHash, &key.Label, &key.CreatedAt, &key.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, accountID, keyID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND account_id = $3 AND revoked_at IS NULL
	`, time.Now().UTC(), keyID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, accountID uuid.UUID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, title, body, type, read, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Title, &n.Body, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, accountID, notificationID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1 AND account_id = $2
	`, notificationID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
