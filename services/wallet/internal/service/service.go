package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/aferconlda/aferconpay1/libs/kafka"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	RoleCustomer = "customer"
	RoleCashier  = "cashier"
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"

	qrIntentTTL = 15 * time.Minute
)

// Store is the ledger store surface the engine needs. The concrete
// implementation lives in internal/storage.
type Store interface {
	CreateAccount(ctx context.Context, params storage.CreateAccountParams) (*storage.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*storage.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (*storage.Account, error)
	GetAccountByReferralCode(ctx context.Context, code string) (*storage.Account, error)
	UpdateFCMToken(ctx context.Context, accountID uuid.UUID, token string) error
	GetWallet(ctx context.Context, accountID uuid.UUID, currency string) (storage.Wallet, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]storage.TransactionRecord, error)

	Transfer(ctx context.Context, params storage.TransferParams) (*storage.MovementResult, error)
	CreateQRIntent(ctx context.Context, merchantID uuid.UUID, amount decimal.Decimal, currency, reference string, ttl time.Duration) (*storage.QRIntent, error)
	PayQRIntent(ctx context.Context, intentID, payerID uuid.UUID) (*storage.QRIntent, *storage.MovementResult, error)
	MoveFloat(ctx context.Context, cashierID uuid.UUID, amount decimal.Decimal, currency string, toFloat bool) (*storage.MovementResult, error)
	CashDeposit(ctx context.Context, params storage.CashMovementParams) (*storage.MovementResult, error)
	CashWithdrawal(ctx context.Context, params storage.CashMovementParams) (*storage.MovementResult, error)

	CreateExchangeRequest(ctx context.Context, params storage.CreateExchangeParams) (*storage.ExchangeRequest, *storage.MovementResult, error)
	AcceptExchangeRequest(ctx context.Context, requestID, cashierID uuid.UUID) (*storage.ExchangeRequest, error)
	MarkExchangeFundsSent(ctx context.Context, requestID, cashierID uuid.UUID) (*storage.ExchangeRequest, error)
	CompleteExchangeRequest(ctx context.Context, requestID, userID uuid.UUID) (*storage.ExchangeRequest, *storage.MovementResult, error)
	CancelExchangeRequest(ctx context.Context, requestID, callerID uuid.UUID, isAdmin bool) (*storage.ExchangeRequest, *storage.MovementResult, error)
	GetExchangeRequest(ctx context.Context, id uuid.UUID) (*storage.ExchangeRequest, error)
	ListExchangeRequests(ctx context.Context, userID uuid.UUID) ([]storage.ExchangeRequest, error)
	ListPendingExchangeRequests(ctx context.Context) ([]storage.ExchangeRequest, error)

	CreateWithdrawalRequest(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, currency, destination string) (*storage.WithdrawalRequest, error)
	ApproveWithdrawalRequest(ctx context.Context, requestID, adminID uuid.UUID) (*storage.WithdrawalRequest, *storage.MovementResult, error)
	RejectWithdrawalRequest(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*storage.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context) ([]storage.WithdrawalRequest, error)
	CreateCreditRequest(ctx context.Context, userID uuid.UUID, creditType string, requestedAmount, fee decimal.Decimal, currency string) (*storage.CreditRequest, *storage.MovementResult, error)

	InsertAPIKey(ctx context.Context, key storage.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error)
	ListAPIKeys(ctx context.Context, accountID uuid.UUID) ([]storage.APIKey, error)
	RevokeAPIKey(ctx context.Context, accountID, keyID uuid.UUID) error

	ListNotifications(ctx context.Context, accountID uuid.UUID, limit int) ([]storage.Notification, error)
	MarkNotificationRead(ctx context.Context, accountID, notificationID uuid.UUID) error
}

// FeeSource resolves named fee rules. internal/fees provides a
// redis-cached implementation over the fee_schedule table.
type FeeSource interface {
	Rule(ctx context.Context, name string) (storage.FeeRule, error)
}

type Topics struct {
	Notifications string
	Transactions  string
}

// Caller is the authenticated identity attached to a request by the
// auth middleware. The engine trusts the identity provider's claims.
type Caller struct {
	ID    uuid.UUID
	Roles []string
}

func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type WalletService struct {
	store    Store
	fees     FeeSource
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
	env      string
}

func NewWalletService(store Store, fees FeeSource, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, env string) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	if env == "" {
		env = "dev"
	}
	return &WalletService{
		store:    store,
		fees:     fees,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
		env:      env,
	}
}

func (s *WalletService) requireCaller(caller Caller) error {
	if caller.ID == uuid.Nil {
		return status.Error(codes.Unauthenticated, "caller identity required")
	}
	return nil
}

func (s *WalletService) requireRole(caller Caller, role string) error {
	if err := s.requireCaller(caller); err != nil {
		return err
	}
	if !caller.HasRole(role) {
		return status.Errorf(codes.PermissionDenied, "%s role required", role)
	}
	return nil
}

// mapStoreErr translates storage sentinels into the stable error
// taxonomy. Anything unrecognized is logged and surfaced as Internal
// so implementation detail does not leak.
func (s *WalletService) mapStoreErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, "insufficient balance")
	case errors.Is(err, storage.ErrInsufficientFloat):
		return status.Error(codes.FailedPrecondition, "insufficient float balance")
	case errors.Is(err, storage.ErrInvalidStatus):
		return status.Error(codes.FailedPrecondition, "request status does not allow this operation")
	case errors.Is(err, storage.ErrNotRequestActor):
		return status.Error(codes.PermissionDenied, "caller is not the actor for this request")
	case errors.Is(err, storage.ErrAccountNotFound):
		return status.Error(codes.NotFound, "account not found")
	case errors.Is(err, storage.ErrRequestNotFound):
		return status.Error(codes.NotFound, "request not found")
	case errors.Is(err, storage.ErrIntentNotFound):
		return status.Error(codes.NotFound, "payment intent not found")
	case errors.Is(err, storage.ErrIntentClosed):
		return status.Error(codes.FailedPrecondition, "payment intent is not payable")
	case errors.Is(err, storage.ErrAPIKeyNotFound):
		return status.Error(codes.NotFound, "api key not found")
	case errors.Is(err, storage.ErrNotificationNotFound):
		return status.Error(codes.NotFound, "notification not found")
	case errors.Is(err, storage.ErrDuplicateAccount):
		return status.Error(codes.InvalidArgument, "account already exists")
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	s.logger.Error(op+" failed", "error", err)
	return status.Error(codes.Internal, op+" failed")
}

// parseAmount validates a money amount: positive, finite, at most two
// decimal places.
func parseAmount(value, field string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal", field)
	}
	if dec.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be positive", field)
	}
	if !dec.Equal(dec.Round(2)) {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must have at most two decimal places", field)
	}
	return dec, nil
}

func parseUUID(value, field string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s", field)
	}
	return parsed, nil
}

func formatKz(amount decimal.Decimal) string {
	return amount.StringFixed(2) + " Kz"
}

// NotificationEvent is the post-commit payload consumed by the
// notifier service.
type NotificationEvent struct {
	kafka.Envelope
	AccountID string `json:"account_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
}

// TransactionPostedEvent mirrors the committed records for downstream
// consumers (statements, analytics).
type TransactionPostedEvent struct {
	kafka.Envelope
	OperationID string             `json:"operation_id"`
	Records     []TransactionView `json:"records"`
}

type TransactionView struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Type           string `json:"type"`
	Pool           string `json:"pool"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	RelatedAccount string `json:"related_account,omitempty"`
	OperationID    string `json:"operation_id"`
	Description    string `json:"description,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// notify publishes one notification event. It runs strictly after
// commit; failures are logged and swallowed, never propagated back to
// the financial mutation.
func (s *WalletService) notify(ctx context.Context, accountID uuid.UUID, title, body, notifType string) {
	if s.producer == nil || accountID == uuid.Nil {
		return
	}
	eventID := kafka.DeterministicEventID(kafka.EventNotification, accountID.String(), notifType, uuid.NewString())
	env, err := kafka.NewEnvelopeWithID(eventID, kafka.EventNotification, 1, "")
	if err != nil {
		s.logger.Error("build notification envelope failed", "error", err)
		return
	}
	payload := NotificationEvent{
		Envelope:  env,
		AccountID: accountID.String(),
		Title:     title,
		Body:      body,
		Type:      notifType,
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.Notifications, accountID.String(), payload); err != nil {
		s.logger.Error("publish notification failed", "account_id", accountID.String(), "type", notifType, "error", err)
		if s.metrics != nil {
			s.metrics.NotificationsPublished.WithLabelValues("error").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.NotificationsPublished.WithLabelValues("success").Inc()
	}
}

// publishRecords emits the transaction.posted event for a committed
// movement. Best-effort, like notify.
func (s *WalletService) publishRecords(ctx context.Context, result *storage.MovementResult) {
	if s.producer == nil || result == nil || len(result.Records) == 0 {
		return
	}
	eventID := kafka.DeterministicEventID(kafka.EventTransactionPosted, result.OperationID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, kafka.EventTransactionPosted, 1, "")
	if err != nil {
		s.logger.Error("build transaction event envelope failed", "error", err)
		return
	}
	payload := TransactionPostedEvent{
		Envelope:    env,
		OperationID: result.OperationID.String(),
		Records:     make([]TransactionView, 0, len(result.Records)),
	}
	for _, rec := range result.Records {
		payload.Records = append(payload.Records, toTransactionView(rec))
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.Transactions, result.OperationID.String(), payload); err != nil {
		s.logger.Error("publish transaction event failed", "operation_id", result.OperationID.String(), "error", err)
	}
}

func toTransactionView(rec storage.TransactionRecord) TransactionView {
	view := TransactionView{
		ID:          rec.ID.String(),
		AccountID:   rec.AccountID.String(),
		Type:        rec.Type,
		Pool:        rec.Pool,
		Amount:      rec.Amount.String(),
		Currency:    rec.Currency,
		Status:      rec.Status,
		OperationID: rec.OperationID.String(),
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.RelatedAccount != uuid.Nil {
		view.RelatedAccount = rec.RelatedAccount.String()
	}
	return view
}

func displayName(acct *storage.Account) string {
	if acct == nil {
		return ""
	}
	if acct.DisplayName != "" {
		return acct.DisplayName
	}
	return acct.Phone
}

