package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Transfer moves amount from the sender's main balance to the
// recipient's. The two mirrored records share an operation id and sum
// to zero.
func (s *Store) Transfer(ctx context.Context, params TransferParams) (*MovementResult, error) {
	return s.runMovement(ctx, params.Currency, []entry{
		{AccountID: params.SenderID, Pool: PoolBalance, Type: "transfer_out", Amount: params.Amount.Neg(), Related: params.RecipientID, Description: params.Description},
		{AccountID: params.RecipientID, Pool: PoolBalance, Type: "transfer_in", Amount: params.Amount, Related: params.SenderID, Description: params.Description},
	})
}

// CreateQRIntent registers a merchant payment intent. The intent id
// doubles as the QR token.
func (s *Store) CreateQRIntent(ctx context.Context, merchantID uuid.UUID, amount decimal.Decimal, currency, reference string, ttl time.Duration) (*QRIntent, error) {
	now := time.Now().UTC()
	intent := &QRIntent{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Amount:     amount,
		Currency:   normalizeCurrency(currency),
		Reference:  reference,
		Status:     "pending",
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qr_intents (id, merchant_id, amount, currency, reference, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, intent.ID, intent.MerchantID, intent.Amount.String(), intent.Currency, nullIfEmpty(intent.Reference), intent.Status, intent.ExpiresAt, intent.CreatedAt)
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// PayQRIntent settles a pending intent: debit the payer, credit the
// merchant, and mark the intent paid, all in one transaction. The row
// lock on the intent means only one payer can win it.
func (s *Store) PayQRIntent(ctx context.Context, intentID, payerID uuid.UUID) (*QRIntent, *MovementResult, error) {
	var intent *QRIntent
	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		intent, err = getQRIntentForUpdate(ctx, tx, intentID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if intent.Status != "pending" || now.After(intent.ExpiresAt) {
			return ErrIntentClosed
		}
		if intent.MerchantID == payerID {
			return fmt.Errorf("merchant cannot pay own intent: %w", ErrIntentClosed)
		}

		result, err = s.applyMovement(ctx, tx, intent.Currency, uuid.New(), []entry{
			{AccountID: payerID, Pool: PoolBalance, Type: "qr_payment_out", Amount: intent.Amount.Neg(), Related: intent.MerchantID, Description: intent.Reference},
			{AccountID: intent.MerchantID, Pool: PoolBalance, Type: "qr_payment_in", Amount: intent.Amount, Related: payerID, Description: intent.Reference},
		})
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE qr_intents SET status = 'paid', paid_by = $1, paid_at = $2 WHERE id = $3
		`, payerID, now, intent.ID); err != nil {
			return err
		}
		intent.Status = "paid"
		intent.PaidBy = payerID
		intent.PaidAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return intent, result, nil
}

func getQRIntentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*QRIntent, error) {
	var intent QRIntent
	var amountStr string
	var reference *string
	var paidBy *uuid.UUID
	row := tx.QueryRow(ctx, `
		SELECT id, merchant_id, amount::text, currency, reference, status, paid_by, paid_at, expires_at, created_at
		FROM qr_intents
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err := row.Scan(&intent.ID, &intent.MerchantID, &amountStr, &intent.Currency, &reference, &intent.Status, &paidBy, &intent.PaidAt, &intent.ExpiresAt, &intent.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	amount, err := decimalFromDB(amountStr, "intent amount")
	if err != nil {
		return nil, err
	}
	intent.Amount = amount
	if reference != nil {
		intent.Reference = *reference
	}
	if paidBy != nil {
		intent.PaidBy = *paidBy
	}
	return &intent, nil
}

// MoveFloat shifts funds between a cashier's main balance and their
// operating float. toFloat true funds the float from the balance.
func (s *Store) MoveFloat(ctx context.Context, cashierID uuid.UUID, amount decimal.Decimal, currency string, toFloat bool) (*MovementResult, error) {
	moveType := "float_add"
	entries := []entry{
		{AccountID: cashierID, Pool: PoolBalance, Type: moveType, Amount: amount.Neg()},
		{AccountID: cashierID, Pool: PoolFloat, Type: moveType, Amount: amount},
	}
	if !toFloat {
		moveType = "float_withdraw"
		entries = []entry{
			{AccountID: cashierID, Pool: PoolFloat, Type: moveType, Amount: amount.Neg()},
			{AccountID: cashierID, Pool: PoolBalance, Type: moveType, Amount: amount},
		}
	}
	return s.runMovement(ctx, currency, entries)
}

// CashDeposit credits a client digitally for physical cash handed to
// the cashier: the amount leaves the cashier's float and lands on the
// client's balance. Commission, when charged, is taken from the client
// and accrued on the cashier's commission pool as separate lines.
func (s *Store) CashDeposit(ctx context.Context, params CashMovementParams) (*MovementResult, error) {
	entries := []entry{
		{AccountID: params.CashierID, Pool: PoolFloat, Type: "cash_deposit", Amount: params.Amount.Neg(), Related: params.ClientID},
		{AccountID: params.ClientID, Pool: PoolBalance, Type: "cash_deposit", Amount: params.Amount, Related: params.CashierID},
	}
	entries = append(entries, commissionEntries(params, "cash_deposit_commission")...)
	return s.runMovement(ctx, params.Currency, entries)
}

// CashWithdrawal is the inverse: the client's balance funds the
// cashier's float, the cashier pays out physical cash.
func (s *Store) CashWithdrawal(ctx context.Context, params CashMovementParams) (*MovementResult, error) {
	entries := []entry{
		{AccountID: params.ClientID, Pool: PoolBalance, Type: "cash_withdrawal", Amount: params.Amount.Neg(), Related: params.CashierID},
		{AccountID: params.CashierID, Pool: PoolFloat, Type: "cash_withdrawal", Amount: params.Amount, Related: params.ClientID},
	}
	entries = append(entries, commissionEntries(params, "cash_withdrawal_commission")...)
	return s.runMovement(ctx, params.Currency, entries)
}

func commissionEntries(params CashMovementParams, description string) []entry {
	if params.Commission.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return []entry{
		{AccountID: params.ClientID, Pool: PoolBalance, Type: "fee", Amount: params.Commission.Neg(), Related: params.CashierID, Description: description},
		{AccountID: params.CashierID, Pool: PoolCommission, Type: "revenue", Amount: params.Commission, Related: params.ClientID, Description: description},
	}
}

func (s *Store) runMovement(ctx context.Context, currency string, entries []entry) (*MovementResult, error) {
	var result *MovementResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.applyMovement(ctx, tx, currency, uuid.New(), entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
