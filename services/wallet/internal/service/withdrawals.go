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

type CreateWithdrawalInput struct {
	Caller      Caller
	Amount      string
	Currency    string
	Destination string
}

// RequestWithdrawal files a withdrawal for admin review. No funds are
// held; the balance is checked again at approval time.
func (s *WalletService) RequestWithdrawal(ctx context.Context, input CreateWithdrawalInput) (*storage.WithdrawalRequest, error) {
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	amount, err := parseAmount(input.Amount, "amount")
	if err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(input.Destination)
	if destination == "" {
		return nil, status.Error(codes.InvalidArgument, "destination is required")
	}
	req, err := s.store.CreateWithdrawalRequest(ctx, input.Caller.ID, amount, input.Currency, destination)
	if err != nil {
		return nil, s.mapStoreErr("create withdrawal request", err)
	}
	return req, nil
}

type ReviewWithdrawalInput struct {
	Caller    Caller
	RequestID string
	Reason    string
}

// ApproveWithdrawal executes a pending withdrawal. The balance is
// re-checked inside the transaction; if it no longer covers the
// amount the request is auto-rejected instead of failing.
func (s *WalletService) ApproveWithdrawal(ctx context.Context, input ReviewWithdrawalInput) (*storage.WithdrawalRequest, error) {
	start := time.Now()
	if err := s.requireRole(input.Caller, RoleAdmin); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	req, result, err := s.store.ApproveWithdrawalRequest(ctx, requestID, input.Caller.ID)
	if err != nil {
		s.observeOperation("withdrawal_approve", "error", start)
		return nil, s.mapStoreErr("approve withdrawal request", err)
	}

	if req.Status == "rejected" {
		s.observeOperation("withdrawal_approve", "auto_rejected", start)
		s.notify(ctx, req.UserID, "Levantamento Rejeitado",
			"O seu pedido de levantamento de "+formatKz(req.Amount)+" foi rejeitado porque o seu saldo era insuficiente.", "withdrawal_rejected")
		return req, nil
	}

	s.observeOperation("withdrawal_approve", "success", start)
	s.notify(ctx, req.UserID, "Levantamento Aprovado",
		"O seu pedido de levantamento de "+formatKz(req.Amount)+" foi aprovado e processado.", "withdrawal_approved")
	s.publishRecords(ctx, result)
	return req, nil
}

// RejectWithdrawal declines a pending withdrawal without moving funds.
func (s *WalletService) RejectWithdrawal(ctx context.Context, input ReviewWithdrawalInput) (*storage.WithdrawalRequest, error) {
	if err := s.requireRole(input.Caller, RoleAdmin); err != nil {
		return nil, err
	}
	requestID, err := parseUUID(input.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "rejected by administrator"
	}
	req, err := s.store.RejectWithdrawalRequest(ctx, requestID, input.Caller.ID, reason)
	if err != nil {
		return nil, s.mapStoreErr("reject withdrawal request", err)
	}
	s.notify(ctx, req.UserID, "Levantamento Rejeitado",
		"O seu pedido de levantamento de "+formatKz(req.Amount)+" foi rejeitado pelo administrador.", "withdrawal_rejected")
	return req, nil
}

// ListPendingWithdrawals is the admin review queue.
func (s *WalletService) ListPendingWithdrawals(ctx context.Context, caller Caller) ([]storage.WithdrawalRequest, error) {
	if err := s.requireRole(caller, RoleAdmin); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListPendingWithdrawals(ctx)
	if err != nil {
		return nil, s.mapStoreErr("list pending withdrawals", err)
	}
	return reqs, nil
}

type CreditRequestInput struct {
	Caller          Caller
	CreditType      string
	RequestedAmount string
	Currency        string
}

// RequestCredit files a credit application and charges the flat
// analysis fee up front. The fee is non-refundable and accrues to the
// treasury.
func (s *WalletService) RequestCredit(ctx context.Context, input CreditRequestInput) (*storage.CreditRequest, error) {
	start := time.Now()
	if err := s.requireCaller(input.Caller); err != nil {
		return nil, err
	}
	creditType := strings.ToLower(strings.TrimSpace(input.CreditType))
	if creditType != "personal" && creditType != "business" {
		return nil, status.Error(codes.InvalidArgument, "credit_type must be personal or business")
	}
	amount, err := parseAmount(input.RequestedAmount, "requested_amount")
	if err != nil {
		return nil, err
	}
	fee, err := s.creditAnalysisFee(ctx, creditType)
	if err != nil {
		return nil, err
	}

	req, result, err := s.store.CreateCreditRequest(ctx, input.Caller.ID, creditType, amount, fee, input.Currency)
	if err != nil {
		s.observeOperation("credit_request", "error", start)
		return nil, s.mapStoreErr("create credit request", err)
	}
	s.observeOperation("credit_request", "success", start)

	s.notify(ctx, input.Caller.ID, "Pedido de Crédito Recebido",
		"O seu pedido de crédito foi recebido. A taxa de análise de "+formatKz(fee)+" foi debitada.", "credit_requested")
	s.publishRecords(ctx, result)
	return req, nil
}

func (s *WalletService) creditAnalysisFee(ctx context.Context, creditType string) (decimal.Decimal, error) {
	if s.fees == nil {
		return decimal.Zero, status.Error(codes.Internal, "fee schedule unavailable")
	}
	rule, err := s.fees.Rule(ctx, "credit_"+creditType)
	if err != nil {
		if errors.Is(err, storage.ErrFeeRuleNotFound) {
			s.logger.Error("fee rule missing", "rule", "credit_"+creditType)
			return decimal.Zero, status.Error(codes.Internal, "fee schedule unavailable")
		}
		s.logger.Error("fee lookup failed", "rule", "credit_"+creditType, "error", err)
		return decimal.Zero, status.Error(codes.Internal, "fee lookup failed")
	}
	return rule.FlatAmount, nil
}
