package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateExchangeRequest escrows totalAmount = principal + fees out of
// the requester's main balance atomically with inserting the pending
// request and its hold record.
func (s *Store) CreateExchangeRequest(ctx context.Context, params CreateExchangeParams) (*ExchangeRequest, *MovementResult, error) {
	total := params.Amount.Add(params.PlatformFee).Add(params.CashierFee)
	now := time.Now().UTC()
	req := &ExchangeRequest{
		ID:             uuid.New(),
		UserID:         params.UserID,
		Amount:         params.Amount,
		TargetCurrency: params.TargetCurrency,
		PlatformFee:    params.PlatformFee,
		CashierFee:     params.CashierFee,
		TotalAmount:    total,
		PaymentDetails: params.PaymentDetails,
		Currency:       normalizeCurrency(params.Currency),
		Status:         "pending",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.applyMovement(ctx, tx, req.Currency, req.ID, []entry{
			{AccountID: req.UserID, Pool: PoolBalance, Type: "hold", Amount: total.Neg(), Description: "exchange escrow"},
		})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO exchange_requests (id, user_id, amount, target_currency, platform_fee, cashier_fee, total_amount, payment_details, currency, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`, req.ID, req.UserID, req.Amount.String(), req.TargetCurrency, req.PlatformFee.String(), req.CashierFee.String(), req.TotalAmount.String(), nullIfEmpty(req.PaymentDetails), req.Currency, req.Status, now)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

// AcceptExchangeRequest moves a pending request to processing on
// behalf of a cashier. The row lock plus the status re-check mean only
// one of two racing cashiers wins.
func (s *Store) AcceptExchangeRequest(ctx context.Context, requestID, cashierID uuid.UUID) (*ExchangeRequest, error) {
	var req *ExchangeRequest
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getExchangeForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" {
			return ErrInvalidStatus
		}
		if req.UserID == cashierID {
			return ErrNotRequestActor
		}
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE exchange_requests
			SET status = 'processing', processed_by = $1, accepted_at = $2, updated_at = $2
			WHERE id = $3 AND status = 'pending'
		`, cashierID, now, requestID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidStatus
		}
		req.Status = "processing"
		req.ProcessedBy = cashierID
		req.AcceptedAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// MarkExchangeFundsSent records that the accepting cashier completed
// the off-system foreign-currency leg. No balances move.
func (s *Store) MarkExchangeFundsSent(ctx context.Context, requestID, cashierID uuid.UUID) (*ExchangeRequest, error) {
	var req *ExchangeRequest
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getExchangeForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "processing" {
			return ErrInvalidStatus
		}
		if req.ProcessedBy != cashierID {
			return ErrNotRequestActor
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE exchange_requests SET status = 'funds_sent', funds_sent_at = $1, updated_at = $1 WHERE id = $2
		`, now, requestID); err != nil {
			return err
		}
		req.Status = "funds_sent"
		req.FundsSentAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CompleteExchangeRequest is the only point where escrowed funds leave
// toward the cashier: the requester confirms receipt, the principal
// lands on the cashier's balance, the cashier fee on their commission
// pool and the platform fee on the treasury. The credits sum to the
// original hold; zero fee legs get no record.
func (s *Store) CompleteExchangeRequest(ctx context.Context, requestID, userID uuid.UUID) (*ExchangeRequest, *MovementResult, error) {
	var req *ExchangeRequest
	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getExchangeForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "funds_sent" {
			return ErrInvalidStatus
		}
		if req.UserID != userID {
			return ErrNotRequestActor
		}

		treasuryID, err := s.getOrCreateTreasuryAccount(ctx, tx)
		if err != nil {
			return err
		}

		entries := []entry{
			{AccountID: req.ProcessedBy, Pool: PoolBalance, Type: "revenue", Amount: req.Amount, Related: req.UserID, Description: "exchange reimbursement"},
		}
		if req.CashierFee.IsPositive() {
			entries = append(entries, entry{AccountID: req.ProcessedBy, Pool: PoolCommission, Type: "revenue", Amount: req.CashierFee, Related: req.UserID, Description: "exchange commission"})
		}
		if req.PlatformFee.IsPositive() {
			entries = append(entries, entry{AccountID: treasuryID, Pool: PoolBalance, Type: "revenue", Amount: req.PlatformFee, Related: req.UserID, Description: "exchange platform fee"})
		}
		result, err = s.applyMovement(ctx, tx, req.Currency, req.ID, entries)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE exchange_requests SET status = 'completed', completed_at = $1, updated_at = $1 WHERE id = $2
		`, now, requestID); err != nil {
			return err
		}
		req.Status = "completed"
		req.CompletedAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

// CancelExchangeRequest refunds the full held amount to the requester.
// Owners can cancel while the request is still pending; admins can
// additionally pull back a request a cashier has accepted but not yet
// settled.
func (s *Store) CancelExchangeRequest(ctx context.Context, requestID, callerID uuid.UUID, isAdmin bool) (*ExchangeRequest, *MovementResult, error) {
	var req *ExchangeRequest
	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = getExchangeForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		switch req.Status {
		case "pending":
		case "processing":
			if !isAdmin {
				return ErrInvalidStatus
			}
		default:
			return ErrInvalidStatus
		}
		if !isAdmin && req.UserID != callerID {
			return ErrNotRequestActor
		}

		result, err = s.applyMovement(ctx, tx, req.Currency, req.ID, []entry{
			{AccountID: req.UserID, Pool: PoolBalance, Type: "refund", Amount: req.TotalAmount, Description: "exchange cancelled"},
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE exchange_requests SET status = 'cancelled', cancelled_at = $1, updated_at = $1 WHERE id = $2
		`, now, requestID); err != nil {
			return err
		}
		req.Status = "cancelled"
		req.CancelledAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return req, result, nil
}

func (s *Store) GetExchangeRequest(ctx context.Context, id uuid.UUID) (*ExchangeRequest, error) {
	return scanExchange(s.pool.QueryRow(ctx, exchangeSelect+` WHERE id = $1`, id))
}

func (s *Store) ListExchangeRequests(ctx context.Context, userID uuid.UUID) ([]ExchangeRequest, error) {
	return s.listExchanges(ctx, exchangeSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT 100`, userID)
}

// ListPendingExchangeRequests feeds the cashier work queue.
func (s *Store) ListPendingExchangeRequests(ctx context.Context) ([]ExchangeRequest, error) {
	return s.listExchanges(ctx, exchangeSelect+` WHERE status = 'pending' ORDER BY created_at ASC LIMIT 100`)
}

const exchangeSelect = `
	SELECT id, user_id, amount::text, target_currency, platform_fee::text, cashier_fee::text, total_amount::text,
	       payment_details, currency, status, processed_by, created_at, accepted_at, funds_sent_at, completed_at, cancelled_at, updated_at
	FROM exchange_requests`

func (s *Store) listExchanges(ctx context.Context, query string, args ...any) ([]ExchangeRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []ExchangeRequest
	for rows.Next() {
		req, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func getExchangeForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*ExchangeRequest, error) {
	return scanExchange(tx.QueryRow(ctx, exchangeSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func scanExchange(row pgx.Row) (*ExchangeRequest, error) {
	var req ExchangeRequest
	var amountStr, platformFeeStr, cashierFeeStr, totalStr string
	var paymentDetails *string
	var processedBy *uuid.UUID
	if err := row.Scan(&req.ID, &req.UserID, &amountStr, &req.TargetCurrency, &platformFeeStr, &cashierFeeStr, &totalStr,
		&paymentDetails, &req.Currency, &req.Status, &processedBy, &req.CreatedAt, &req.AcceptedAt, &req.FundsSentAt, &req.CompletedAt, &req.CancelledAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	var err error
	if req.Amount, err = decimalFromDB(amountStr, "exchange amount"); err != nil {
		return nil, err
	}
	if req.PlatformFee, err = decimalFromDB(platformFeeStr, "platform fee"); err != nil {
		return nil, err
	}
	if req.CashierFee, err = decimalFromDB(cashierFeeStr, "cashier fee"); err != nil {
		return nil, err
	}
	if req.TotalAmount, err = decimalFromDB(totalStr, "total amount"); err != nil {
		return nil, err
	}
	if paymentDetails != nil {
		req.PaymentDetails = *paymentDetails
	}
	if processedBy != nil {
		req.ProcessedBy = *processedBy
	}
	return &req, nil
}
