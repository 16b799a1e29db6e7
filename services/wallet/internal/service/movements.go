package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type TransferInput struct {
	Caller         Caller
	RecipientID    string
	RecipientPhone string
	Amount         string
	Currency       string
	Description    string
}

type TransferResult struct {
	OperationID uuid.UUID
	Sender      storage.Wallet
	Records     []storage.TransactionRecord
}

// Transfer moves funds between two customer main balances. The
// recipient is resolved by id or, failing that, by unique phone
// number.
func (s *WalletService) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}

	recipient, err := s.resolveRecipient(ctx, input.RecipientID, input.RecipientPhone)
	if err != nil {
		return nil, err
	}
	if recipient.ID == input.Caller.ID {
		return nil, status.Error(codes.InvalidArgument, "self transfer is not allowed")
	}

	result, err := s.store.Transfer(ctx, storage.TransferParams{
		SenderID:    input.Caller.ID,
		RecipientID: recipient.ID,
		Amount:      amount,
		Currency:    input.Currency,
		Description: strings.TrimSpace(input.Description),
	})
	if err != nil {
		s.observeOperation("transfer", "error", start)
		return nil, s.mapStoreErr("transfer", err)
	}
	s.observeOperation("transfer", "success", start)

	sender, _ := s.store.GetAccount(ctx, input.Caller.ID)
	s.notify(ctx, recipient.ID, "Transferência Recebida", displayName(sender)+" enviou-lhe "+formatKz(amount)+".", "transfer_in")
	s.notify(ctx, input.Caller.ID, "Transferência Enviada", "Enviou "+formatKz(amount)+" para "+displayName(recipient)+".", "transfer_out")
	s.publishRecords(ctx, result)

	return &TransferResult{
		OperationID: result.OperationID,
		Sender:      walletOf(result, input.Caller.ID),
		Records:     result.Records,
	}, nil
}

// resolveRecipient resolves by account id when given, otherwise by
// phone. A phone that matches nothing is NotFound; blank input on both
// fields is InvalidArgument.
func (s *WalletService) resolveRecipient(ctx context.Context, id, phone string) (*storage.Account, error) {
	if strings.TrimSpace(id) != "" {
		accountID, err := parseUUID(id, "recipient_id")
		if err != nil {
			return nil, err
		}
		acct, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, s.mapStoreErr("recipient lookup", err)
		}
		return acct, nil
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, status.Error(codes.InvalidArgument, "recipient_id or recipient_phone is required")
	}
	acct, err := s.store.GetAccountByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, status.Error(codes.NotFound, "recipient not found")
		}
		return nil, s.mapStoreErr("recipient lookup", err)
	}
	return acct, nil
}

type CreateQRIntentInput struct {
	MerchantID uuid.UUID
	Amount     string
	Currency   string
	Reference  string
}

// CreateQRIntent registers a merchant payment intent; the merchant is
// authenticated upstream by API key.
func (s *WalletService) CreateQRIntent(ctx context.Context, input CreateQRIntentInput) (*storage.QRIntent, error) {
	if input.MerchantID == uuid.Nil {
		return nil, status.Error(codes.Unauthenticated, "merchant identity required")
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}
	intent, err := s.store.CreateQRIntent(ctx, input.MerchantID, amount, input.Currency, strings.TrimSpace(input.Reference), qrIntentTTL)
	if err != nil {
		return nil, s.mapStoreErr("create qr intent", err)
	}
	return intent, nil
}

type PayQRInput struct {
	Caller   Caller
	IntentID string
}

type PayQRResult struct {
	Intent      *storage.QRIntent
	OperationID uuid.UUID
	Payer       storage.Wallet
}

// PayQR settles a scanned QR intent from the caller's main balance.
func (s *WalletService) PayQR(ctx context.Context, input PayQRInput) (*PayQRResult, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	intentID, err := parseUUID(input.IntentID, "intent_id")
	if err != nil {
		return nil, err
	}

	intent, result, err := s.store.PayQRIntent(ctx, intentID, input.Caller.ID)
	if err != nil {
		s.observeOperation("qr_payment", "error", start)
		return nil, s.mapStoreErr("qr payment", err)
	}
	s.observeOperation("qr_payment", "success", start)

	payer, _ := s.store.GetAccount(ctx, input.Caller.ID)
	s.notify(ctx, intent.MerchantID, "Pagamento Recebido", displayName(payer)+" pagou "+formatKz(intent.Amount)+".", "qr_payment_in")
	s.notify(ctx, input.Caller.ID, "Pagamento Efetuado", "Pagou "+formatKz(intent.Amount)+".", "qr_payment_out")
	s.publishRecords(ctx, result)

	return &PayQRResult{
		Intent:      intent,
		OperationID: result.OperationID,
		Payer:       walletOf(result, input.Caller.ID),
	}, nil
}

type FloatMoveInput struct {
	Caller   Caller
	Amount   string
	Currency string
}

// MoveFloat funds (or defunds) the cashier's own operating float from
// their main balance. Cashier-only.
func (s *WalletService) MoveFloat(ctx context.Context, input FloatMoveInput, toFloat bool) (*storage.MovementResult, error) {
	start := time.Now()
	if err := s.requireRole(input.Caller, RoleCashier); err != nil {
		return nil, err
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}
	op := "float_add"
	if !toFloat {
		op = "float_withdraw"
	}
	result, err := s.store.MoveFloat(ctx, input.Caller.ID, amount, input.Currency, toFloat)
	if err != nil {
		s.observeOperation(op, "error", start)
		return nil, s.mapStoreErr(op, err)
	}
	s.observeOperation(op, "success", start)
	s.publishRecords(ctx, result)
	return result, nil
}

type CashMovementInput struct {
	Caller      Caller
	ClientID    string
	ClientPhone string
	Amount      string
	Currency    string
}

// CashDeposit lets a cashier credit a client digitally for cash
// received in person. Commission, when configured, is charged on top.
func (s *WalletService) CashDeposit(ctx context.Context, input CashMovementInput) (*storage.MovementResult, error) {
	return s.cashMovement(ctx, input, true)
}

// CashWithdrawal pays out physical cash against the client's balance.
func (s *WalletService) CashWithdrawal(ctx context.Context, input CashMovementInput) (*storage.MovementResult, error) {
	return s.cashMovement(ctx, input, false)
}

func (s *WalletService) cashMovement(ctx context.Context, input CashMovementInput, deposit bool) (*storage.MovementResult, error) {
	op := "cash_withdrawal"
	if deposit {
		op = "cash_deposit"
	}
	start := time.Now()
	if err := s.requireRole(input.Caller, RoleCashier); err != nil {
		return nil, err
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}
	client, err := s.resolveRecipient(ctx, input.ClientID, input.ClientPhone)
	if err != nil {
		return nil, err
	}
	if client.ID == input.Caller.ID {
		return nil, status.Error(codes.InvalidArgument, "cashier cannot be the client")
	}

	commission, err := s.cashCommission(ctx, amount)
	if err != nil {
		return nil, err
	}

	params := storage.CashMovementParams{
		CashierID:  input.Caller.ID,
		ClientID:   client.ID,
		Amount:     amount,
		Commission: commission,
		Currency:   input.Currency,
	}
	var result *storage.MovementResult
	if deposit {
		result, err = s.store.CashDeposit(ctx, params)
	} else {
		result, err = s.store.CashWithdrawal(ctx, params)
	}
	if err != nil {
		s.observeOperation(op, "error", start)
		return nil, s.mapStoreErr(op, err)
	}
	s.observeOperation(op, "success", start)

	if deposit {
		s.notify(ctx, client.ID, "Depósito Recebido", "Depósito em numerário de "+formatKz(amount)+" creditado na sua conta.", "cash_deposit")
	} else {
		s.notify(ctx, client.ID, "Levantamento em Numerário", "Levantou "+formatKz(amount)+" em numerário.", "cash_withdrawal")
	}
	s.publishRecords(ctx, result)
	return result, nil
}

// cashCommission reads the configured cash commission rate and rounds
// the charge to two places. A zero rate disables the charge.
func (s *WalletService) cashCommission(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if s.fees == nil {
		return decimal.Zero, nil
	}
	rule, err := s.fees.Rule(ctx, "cash_commission")
	if err != nil {
		if errors.Is(err, storage.ErrFeeRuleNotFound) {
			return decimal.Zero, nil
		}
		s.logger.Error("cash commission lookup failed", "error", err)
		return decimal.Zero, status.Error(codes.Internal, "fee lookup failed")
	}
	if rule.FlatAmount.IsPositive() {
		return rule.FlatAmount, nil
	}
	if rule.Rate.IsPositive() {
		return amount.Mul(rule.Rate).Round(2), nil
	}
	return decimal.Zero, nil
}

func walletOf(result *storage.MovementResult, accountID uuid.UUID) storage.Wallet {
	for _, w := range result.Wallets {
		if w.AccountID == accountID {
			return w
		}
	}
	return storage.Wallet{}
}

func (s *WalletService) observeOperation(op, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
