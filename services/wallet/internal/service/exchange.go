package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type CreateExchangeInput struct {
	Caller         Caller
	Amount         string
	TargetCurrency string
	PaymentDetails string
	Currency       string
}

// CreateExchange opens a currency exchange request. The full amount
// plus both fees is held out of the user's balance until a cashier
// settles or the request is cancelled.
func (s *WalletService) CreateExchange(ctx context.Context, input CreateExchangeInput) (*storage.ExchangeRequest, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}
	target := strings.ToUpper(strings.TrimSpace(input.TargetCurrency))
	if target == "" {
		return nil, status.Error(codes.InvalidArgument, "target_currency is required")
	}
	details := strings.TrimSpace(input.PaymentDetails)
	if details == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_details is required")
	}

	platformFee, err := s.rateFee(ctx, "exchange_platform", amount)
	if err != nil {
		return nil, err
	}
	cashierFee, err := s.rateFee(ctx, "exchange_cashier", amount)
	if err != nil {
		return nil, err
	}

	req, result, err := s.store.CreateExchangeRequest(ctx, storage.CreateExchangeParams{
		UserID:         input.Caller.ID,
		Amount:         amount,
		TargetCurrency: target,
		PlatformFee:    platformFee,
		CashierFee:     cashierFee,
		PaymentDetails: details,
		Currency:       input.Currency,
	})
	if err != nil {
		s.observeOperation("exchange_create", "error", start)
		return nil, s.mapStoreErr("create exchange request", err)
	}
	s.observeOperation("exchange_create", "success", start)
	s.metrics.IncEscrowTransition("pending")

	s.notify(ctx, input.Caller.ID, "Pedido de Câmbio Criado",
		"O seu pedido de câmbio de "+formatKz(req.TotalAmount)+" foi criado e aguarda um operador.", "exchange_created")
	s.publishRecords(ctx, result)
	return req, nil
}

// rateFee computes a percentage fee from the schedule, rounded to two
// places.
func (s *WalletService) rateFee(ctx context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error) {
	if s.fees == nil {
		return decimal.Zero, status.Error(codes.Internal, "fee schedule unavailable")
	}
	rule, err := s.fees.Rule(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrFeeRuleNotFound) {
			s.logger.Error("fee rule missing", "rule", name)
			return decimal.Zero, status.Error(codes.Internal, "fee schedule unavailable")
		}
		s.logger.Error("fee lookup failed", "rule", name, "error", err)
		return decimal.Zero, status.Error(codes.Internal, "fee lookup failed")
	}
	return amount.Mul(rule.Rate).Round(2), nil
}

type ExchangeActionInput struct {
	Caller    Caller
	RequestID string
}

// AcceptExchange assigns a pending request to the calling cashier.
// Cashiers cannot accept their own requests.
func (s *WalletService) AcceptExchange(ctx context.Context, input ExchangeActionInput) (*storage.ExchangeRequest, error) {
	if err := s.requireRole(input.Caller, RoleCashier); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, err := s.store.AcceptExchangeRequest(ctx, requestID, input.Caller.ID)
	if err != nil {
		return nil, s.mapStoreErr("accept exchange request", err)
	}
	s.metrics.IncEscrowTransition("processing")
	s.notify(ctx, req.UserID, "Câmbio em Processamento",
		"O seu pedido de câmbio de "+formatKz(req.TotalAmount)+" foi aceite por um operador.", "exchange_accepted")
	return req, nil
}

// MarkFundsSent records that the assigned cashier delivered the target
// currency outside the platform.
func (s *WalletService) MarkFundsSent(ctx context.Context, input ExchangeActionInput) (*storage.ExchangeRequest, error) {
	if err := s.requireRole(input.Caller, RoleCashier); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, err := s.store.MarkExchangeFundsSent(ctx, requestID, input.Caller.ID)
	if err != nil {
		return nil, s.mapStoreErr("mark exchange funds sent", err)
	}
	s.metrics.IncEscrowTransition("funds_sent")
	s.notify(ctx, req.UserID, "Fundos Enviados",
		"O operador marcou os fundos do seu câmbio como enviados. Confirme a receção para concluir.", "exchange_funds_sent")
	return req, nil
}

// ConfirmExchange is the owner's receipt confirmation. It settles the
// escrow: the cashier is reimbursed the principal plus commission and
// the platform fee accrues to the treasury.
func (s *WalletService) ConfirmExchange(ctx context.Context, input ExchangeActionInput) (*storage.ExchangeRequest, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, result, err := s.store.CompleteExchangeRequest(ctx, requestID, input.Caller.ID)
	if err != nil {
		s.observeOperation("exchange_complete", "error", start)
		return nil, s.mapStoreErr("complete exchange request", err)
	}
	s.observeOperation("exchange_complete", "success", start)
	s.metrics.IncEscrowTransition("completed")

	s.notify(ctx, req.ProcessedBy, "Câmbio Concluído",
		"O câmbio de "+formatKz(req.Amount)+" foi concluído. Recebeu "+formatKz(req.CashierFee)+" de comissão.", "exchange_completed")
	s.notify(ctx, req.UserID, "Câmbio Concluído",
		"O seu pedido de câmbio de "+formatKz(req.Amount)+" foi concluído.", "exchange_completed")
	s.publishRecords(ctx, result)
	return req, nil
}

// CancelExchange refunds the held total back to the owner. Owners can
// cancel while the request is still pending; admins can also cancel a
// request already in processing.
func (s *WalletService) CancelExchange(ctx context.Context, input ExchangeActionInput) (*storage.ExchangeRequest, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, result, err := s.store.CancelExchangeRequest(ctx, requestID, input.Caller.ID, input.Caller.HasRole(RoleAdmin))
	if err != nil {
		s.observeOperation("exchange_cancel", "error", start)
		return nil, s.mapStoreErr("cancel exchange request", err)
	}
	s.observeOperation("exchange_cancel", "success", start)
	s.metrics.IncEscrowTransition("cancelled")

	s.notify(ctx, req.UserID, "Câmbio Cancelado",
		"O seu pedido de câmbio foi cancelado e "+formatKz(req.TotalAmount)+" foram devolvidos à sua conta.", "exchange_cancelled")
	s.publishRecords(ctx, result)
	return req, nil
}

// GetExchange returns one request. Owners and the assigned cashier can
// read it; admins can read any.
func (s *WalletService) GetExchange(ctx context.Context, caller Caller, requestID string) (*storage.ExchangeRequest, error) {
	if err := s.requireCaller(caller); err != nil {
		return nil, err
	}
	id, err := parseUUID(requestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, err := s.store.GetExchangeRequest(ctx, id)
	if err != nil {
		return nil, s.mapStoreErr("get exchange request", err)
	}
	if req.UserID != caller.ID && req.ProcessedBy != caller.ID && !caller.HasRole(RoleAdmin) {
		return nil, status.Error(codes.PermissionDenied, "not a participant in this request")
	}
	return req, nil
}

// ListExchanges returns the caller's own requests.
func (s *WalletService) ListExchanges(ctx context.Context, caller Caller) ([]storage.ExchangeRequest, error) {
	if err := s.requireCaller(caller); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListExchangeRequests(ctx, caller.ID)
	if err != nil {
		return nil, s.mapStoreErr("list exchange requests", err)
	}
	return reqs, nil
}

// ListPendingExchanges is the cashier work queue, oldest first.
func (s *WalletService) ListPendingExchanges(ctx context.Context, caller Caller) ([]storage.ExchangeRequest, error) {
	if err := s.requireRole(caller, RoleCashier); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListPendingExchangeRequests(ctx)
	if err != nil {
		return nil, s.mapStoreErr("list pending exchange requests", err)
	}
	return reqs, nil
}

