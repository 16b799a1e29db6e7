package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"log/slog"
)

type fakeStore struct {
	accounts map[uuid.UUID]storage.Account
	byPhone  map[string]storage.Account
	byCode   map[string]storage.Account

	wallet    storage.Wallet
	walletErr error

	createAccountErr error
	created          *storage.CreateAccountParams

	movement     *storage.MovementResult
	movementErr  error
	lastTransfer storage.TransferParams
	lastCash     storage.CashMovementParams

	intent    *storage.QRIntent
	intentErr error

	exchange     *storage.ExchangeRequest
	exchangeErr  error
	lastExchange storage.CreateExchangeParams

	withdrawal    *storage.WithdrawalRequest
	withdrawalErr error

	credit    *storage.CreditRequest
	creditErr error

	apiKey      *storage.APIKey
	insertedKey *storage.APIKey

	fcmToken string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[uuid.UUID]storage.Account{},
		byPhone:  map[string]storage.Account{},
		byCode:   map[string]storage.Account{},
	}
}

func (f *fakeStore) addAccount(acct storage.Account) {
	f.accounts[acct.ID] = acct
	if acct.Phone != "" {
		f.byPhone[acct.Phone] = acct
	}
	if acct.ReferralCode != "" {
		f.byCode[acct.ReferralCode] = acct
	}
}

func (f *fakeStore) CreateAccount(_ context.Context, params storage.CreateAccountParams) (*storage.Account, error) {
	if f.createAccountErr != nil {
		return nil, f.createAccountErr
	}
	f.created = &params
	return &storage.Account{
		ID:           uuid.New(),
		Phone:        params.Phone,
		DisplayName:  params.DisplayName,
		Role:         params.Role,
		Status:       "active",
		ReferralCode: params.ReferralCode,
		ReferredBy:   params.ReferredBy,
	}, nil
}

func (f *fakeStore) GetAccount(_ context.Context, id uuid.UUID) (*storage.Account, error) {
	acct, ok := f.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return &acct, nil
}

func (f *fakeStore) GetAccountByPhone(_ context.Context, phone string) (*storage.Account, error) {
	acct, ok := f.byPhone[phone]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return &acct, nil
}

func (f *fakeStore) GetAccountByReferralCode(_ context.Context, code string) (*storage.Account, error) {
	acct, ok := f.byCode[code]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return &acct, nil
}

func (f *fakeStore) UpdateFCMToken(_ context.Context, _ uuid.UUID, token string) error {
	f.fcmToken = token
	return nil
}

func (f *fakeStore) GetWallet(_ context.Context, _ uuid.UUID, _ string) (storage.Wallet, error) {
	return f.wallet, f.walletErr
}

func (f *fakeStore) ListTransactions(_ context.Context, _ uuid.UUID, _ int) ([]storage.TransactionRecord, error) {
	return nil, nil
}

func (f *fakeStore) Transfer(_ context.Context, params storage.TransferParams) (*storage.MovementResult, error) {
	f.lastTransfer = params
	return f.movement, f.movementErr
}

func (f *fakeStore) CreateQRIntent(_ context.Context, merchantID uuid.UUID, amount decimal.Decimal, currency, reference string, _ time.Duration) (*storage.QRIntent, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	if f.intent != nil {
		return f.intent, nil
	}
	return &storage.QRIntent{ID: uuid.New(), MerchantID: merchantID, Amount: amount, Currency: currency, Reference: reference, Status: "pending"}, nil
}

func (f *fakeStore) PayQRIntent(_ context.Context, _, payerID uuid.UUID) (*storage.QRIntent, *storage.MovementResult, error) {
	if f.intentErr != nil {
		return nil, nil, f.intentErr
	}
	intent := f.intent
	if intent == nil {
		intent = &storage.QRIntent{ID: uuid.New(), MerchantID: uuid.New(), Amount: decimal.NewFromInt(100), Status: "paid", PaidBy: payerID}
	}
	return intent, f.movement, f.movementErr
}

func (f *fakeStore) MoveFloat(_ context.Context, _ uuid.UUID, _ decimal.Decimal, _ string, _ bool) (*storage.MovementResult, error) {
	return f.movement, f.movementErr
}

func (f *fakeStore) CashDeposit(_ context.Context, params storage.CashMovementParams) (*storage.MovementResult, error) {
	f.lastCash = params
	return f.movement, f.movementErr
}

func (f *fakeStore) CashWithdrawal(_ context.Context, params storage.CashMovementParams) (*storage.MovementResult, error) {
	f.lastCash = params
	return f.movement, f.movementErr
}

func (f *fakeStore) CreateExchangeRequest(_ context.Context, params storage.CreateExchangeParams) (*storage.ExchangeRequest, *storage.MovementResult, error) {
	f.lastExchange = params
	if f.exchangeErr != nil {
		return nil, nil, f.exchangeErr
	}
	if f.exchange != nil {
		return f.exchange, f.movement, nil
	}
	total := params.Amount.Add(params.PlatformFee).Add(params.CashierFee)
	return &storage.ExchangeRequest{
		ID:             uuid.New(),
		UserID:         params.UserID,
		Amount:         params.Amount,
		TargetCurrency: params.TargetCurrency,
		PlatformFee:    params.PlatformFee,
		CashierFee:     params.CashierFee,
		TotalAmount:    total,
		Status:         "pending",
	}, f.movement, nil
}

func (f *fakeStore) AcceptExchangeRequest(_ context.Context, _, _ uuid.UUID) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeStore) MarkExchangeFundsSent(_ context.Context, _, _ uuid.UUID) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeStore) CompleteExchangeRequest(_ context.Context, _, _ uuid.UUID) (*storage.ExchangeRequest, *storage.MovementResult, error) {
	return f.exchange, f.movement, f.exchangeErr
}

func (f *fakeStore) CancelExchangeRequest(_ context.Context, _, _ uuid.UUID, _ bool) (*storage.ExchangeRequest, *storage.MovementResult, error) {
	return f.exchange, f.movement, f.exchangeErr
}

func (f *fakeStore) GetExchangeRequest(_ context.Context, _ uuid.UUID) (*storage.ExchangeRequest, error) {
	if f.exchange == nil {
		return nil, storage.ErrRequestNotFound
	}
	return f.exchange, f.exchangeErr
}

func (f *fakeStore) ListExchangeRequests(_ context.Context, _ uuid.UUID) ([]storage.ExchangeRequest, error) {
	return nil, nil
}

func (f *fakeStore) ListPendingExchangeRequests(_ context.Context) ([]storage.ExchangeRequest, error) {
	return nil, nil
}

func (f *fakeStore) CreateWithdrawalRequest(_ context.Context, userID uuid.UUID, amount decimal.Decimal, currency, destination string) (*storage.WithdrawalRequest, error) {
	if f.withdrawalErr != nil {
		return nil, f.withdrawalErr
	}
	if f.withdrawal != nil {
		return f.withdrawal, nil
	}
	return &storage.WithdrawalRequest{ID: uuid.New(), UserID: userID, Amount: amount, Currency: currency, Destination: destination, Status: "pending"}, nil
}

func (f *fakeStore) ApproveWithdrawalRequest(_ context.Context, _, _ uuid.UUID) (*storage.WithdrawalRequest, *storage.MovementResult, error) {
	return f.withdrawal, f.movement, f.withdrawalErr
}

func (f *fakeStore) RejectWithdrawalRequest(_ context.Context, _, _ uuid.UUID, reason string) (*storage.WithdrawalRequest, error) {
	if f.withdrawalErr != nil {
		return nil, f.withdrawalErr
	}
	req := *f.withdrawal
	req.Status = "rejected"
	req.RejectReason = reason
	return &req, nil
}

func (f *fakeStore) ListPendingWithdrawals(_ context.Context) ([]storage.WithdrawalRequest, error) {
	return nil, nil
}

func (f *fakeStore) CreateCreditRequest(_ context.Context, userID uuid.UUID, creditType string, requestedAmount, fee decimal.Decimal, _ string) (*storage.CreditRequest, *storage.MovementResult, error) {
	if f.creditErr != nil {
		return nil, nil, f.creditErr
	}
	if f.credit != nil {
		return f.credit, f.movement, nil
	}
	return &storage.CreditRequest{
		ID:              uuid.New(),
		UserID:          userID,
		CreditType:      creditType,
		RequestedAmount: requestedAmount,
		AnalysisFee:     fee,
		Status:          "pending_analysis",
	}, f.movement, nil
}

func (f *fakeStore) InsertAPIKey(_ context.Context, key storage.APIKey) error {
	f.insertedKey = &key
	return nil
}

func (f *fakeStore) GetAPIKeyByHash(_ context.Context, hash string) (*storage.APIKey, error) {
	if f.apiKey != nil && f.apiKey.KeyHash == hash {
		return f.apiKey, nil
	}
	return nil, storage.ErrAPIKeyNotFound
}

func (f *fakeStore) ListAPIKeys(_ context.Context, _ uuid.UUID) ([]storage.APIKey, error) {
	return nil, nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, _, _ uuid.UUID) error { return nil }

func (f *fakeStore) ListNotifications(_ context.Context, _ uuid.UUID, _ int) ([]storage.Notification, error) {
	return nil, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, _, _ uuid.UUID) error { return nil }

type publishedEvent struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{topic: topic, key: key, value: value})
	return 0, 0, f.err
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) byTopic(topic string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, ev := range f.events {
		if ev.topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

type fakeFees struct {
	rules map[string]storage.FeeRule
}

func (f *fakeFees) Rule(_ context.Context, name string) (storage.FeeRule, error) {
	rule, ok := f.rules[name]
	if !ok {
		return storage.FeeRule{}, storage.ErrFeeRuleNotFound
	}
	return rule, nil
}

func defaultFees() *fakeFees {
	return &fakeFees{rules: map[string]storage.FeeRule{
		"exchange_platform": {Name: "exchange_platform", Rate: decimal.RequireFromString("0.015")},
		"exchange_cashier":  {Name: "exchange_cashier", Rate: decimal.RequireFromString("0.035")},
		"cash_commission":   {Name: "cash_commission", Rate: decimal.RequireFromString("0.01")},
		"credit_personal":   {Name: "credit_personal", FlatAmount: decimal.NewFromInt(500)},
		"credit_business":   {Name: "credit_business", FlatAmount: decimal.NewFromInt(1000)},
	}}
}

var testTopics = Topics{Notifications: "wallet.notifications", Transactions: "wallet.transactions"}

func newTestService(store Store, fees FeeSource, producer *fakePublisher) *WalletService {
	return NewWalletService(store, fees, producer, slog.Default(), nil, testTopics, "test")
}

func movementFor(accountIDs ...uuid.UUID) *storage.MovementResult {
	result := &storage.MovementResult{OperationID: uuid.New()}
	for _, id := range accountIDs {
		result.Records = append(result.Records, storage.TransactionRecord{
			ID:          uuid.New(),
			AccountID:   id,
			Type:        "transfer_out",
			Pool:        storage.PoolBalance,
			Amount:      decimal.NewFromInt(-100),
			Currency:    storage.DefaultCurrency,
			Status:      "completed",
			OperationID: result.OperationID,
		})
		result.Wallets = append(result.Wallets, storage.Wallet{AccountID: id, Currency: storage.DefaultCurrency})
	}
	return result
}

func TestTransferRequiresCaller(t *testing.T) {
	svc := newTestService(newFakeStore(), defaultFees(), &fakePublisher{})
	_, err := svc.Transfer(context.Background(), TransferInput{Amount: "100"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestTransferRejectsBadAmounts(t *testing.T) {
	store := newFakeStore()
	recipient := storage.Account{ID: uuid.New(), Phone: "+244900000001"}
	store.addAccount(recipient)
	svc := newTestService(store, defaultFees(), &fakePublisher{})
	caller := Caller{ID: uuid.New()}

	for _, amount := range []string{"", "abc", "0", "-5", "10.123"} {
		_, err := svc.Transfer(context.Background(), TransferInput{
			Caller:      caller,
			RecipientID: recipient.ID.String(),
			Amount:      amount,
		})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("amount %q: expected invalid argument, got %v", amount, err)
		}
	}
}

func TestTransferRejectsSelf(t *testing.T) {
	store := newFakeStore()
	caller := Caller{ID: uuid.New()}
	store.addAccount(storage.Account{ID: caller.ID, Phone: "+244900000002"})
	svc := newTestService(store, defaultFees(), &fakePublisher{})

	_, err := svc.Transfer(context.Background(), TransferInput{
		Caller:      caller,
		RecipientID: caller.ID.String(),
		Amount:      "100",
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestTransferRecipientByPhoneNotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), defaultFees(), &fakePublisher{})
	_, err := svc.Transfer(context.Background(), TransferInput{
		Caller:         Caller{ID: uuid.New()},
		RecipientPhone: "+244999999999",
		Amount:         "100",
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	store := newFakeStore()
	recipient := storage.Account{ID: uuid.New(), Phone: "+244900000003"}
	store.addAccount(recipient)
	store.movementErr = storage.ErrInsufficientBalance
	svc := newTestService(store, defaultFees(), &fakePublisher{})

	_, err := svc.Transfer(context.Background(), TransferInput{
		Caller:         Caller{ID: uuid.New()},
		RecipientPhone: recipient.Phone,
		Amount:         "100",
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestTransferSuccessNotifiesBothParties(t *testing.T) {
	store := newFakeStore()
	sender := storage.Account{ID: uuid.New(), Phone: "+244900000004", DisplayName: "Ana"}
	recipient := storage.Account{ID: uuid.New(), Phone: "+244900000005", DisplayName: "Bruno"}
	store.addAccount(sender)
	store.addAccount(recipient)
	store.movement = movementFor(sender.ID, recipient.ID)

	producer := &fakePublisher{}
	svc := newTestService(store, defaultFees(), producer)

	result, err := svc.Transfer(context.Background(), TransferInput{
		Caller:      Caller{ID: sender.ID},
		RecipientID: recipient.ID.String(),
		Amount:      "250.50",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.OperationID != store.movement.OperationID {
		t.Fatalf("expected operation id %s, got %s", store.movement.OperationID, result.OperationID)
	}
	if !store.lastTransfer.Amount.Equal(decimal.RequireFromString("250.50")) {
		t.Fatalf("unexpected transfer amount %s", store.lastTransfer.Amount)
	}

	notifs := producer.byTopic(testTopics.Notifications)
	if len(notifs) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifs))
	}
	in, ok := notifs[0].value.(NotificationEvent)
	if !ok {
		t.Fatalf("expected NotificationEvent, got %T", notifs[0].value)
	}
	if in.Title != "Transferência Recebida" {
		t.Fatalf("unexpected recipient title %q", in.Title)
	}
	if in.Body != "Ana enviou-lhe 250.50 Kz." {
		t.Fatalf("unexpected recipient body %q", in.Body)
	}
	out := notifs[1].value.(NotificationEvent)
	if out.Title != "Transferência Enviada" {
		t.Fatalf("unexpected sender title %q", out.Title)
	}
	if out.Body != "Enviou 250.50 Kz para Bruno." {
		t.Fatalf("unexpected sender body %q", out.Body)
	}

	posted := producer.byTopic(testTopics.Transactions)
	if len(posted) != 1 {
		t.Fatalf("expected 1 transaction event, got %d", len(posted))
	}
}

func TestTransferPublishFailureDoesNotFail(t *testing.T) {
	store := newFakeStore()
	recipient := storage.Account{ID: uuid.New(), Phone: "+244900000006"}
	store.addAccount(recipient)
	store.movement = movementFor(recipient.ID)

	producer := &fakePublisher{err: context.DeadlineExceeded}
	svc := newTestService(store, defaultFees(), producer)

	_, err := svc.Transfer(context.Background(), TransferInput{
		Caller:         Caller{ID: uuid.New()},
		RecipientPhone: recipient.Phone,
		Amount:         "10",
	})
	if err != nil {
		t.Fatalf("publish failure must not fail the transfer: %v", err)
	}
}

func TestMoveFloatRequiresCashierRole(t *testing.T) {
	svc := newTestService(newFakeStore(), defaultFees(), &fakePublisher{})
	_, err := svc.MoveFloat(context.Background(), FloatMoveInput{
		Caller: Caller{ID: uuid.New(), Roles: []string{RoleCustomer}},
		Amount: "100",
	}, true)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestMoveFloatInsufficientFloat(t *testing.T) {
	store := newFakeStore()
	store.movementErr = storage.ErrInsufficientFloat
	svc := newTestService(store, defaultFees(), &fakePublisher{})
	_, err := svc.MoveFloat(context.Background(), FloatMoveInput{
		Caller: Caller{ID: uuid.New(), Roles: []string{RoleCashier}},
		Amount: "100",
	}, false)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestCashDepositComputesCommission(t *testing.T) {
	store := newFakeStore()
	cashier := Caller{ID: uuid.New(), Roles: []string{RoleCashier}}
	client := storage.Account{ID: uuid.New(), Phone: "+244900000007"}
	store.addAccount(client)
	store.movement = movementFor(cashier.ID, client.ID)

	svc := newTestService(store, defaultFees(), &fakePublisher{})
	_, err := svc.CashDeposit(context.Background(), CashMovementInput{
		Caller:      cashier,
		ClientPhone: client.Phone,
		Amount:      "1000.33",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	// 1% of 1000.33 rounded to two places
	if !store.lastCash.Commission.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("expected commission 10.00, got %s", store.lastCash.Commission)
	}
}

func TestCashDepositRejectsCashierAsClient(t *testing.T) {
	store := newFakeStore()
	cashier := Caller{ID: uuid.New(), Roles: []string{RoleCashier}}
	store.addAccount(storage.Account{ID: cashier.ID, Phone: "+244900000008"})
	svc := newTestService(store, defaultFees(), &fakePublisher{})

	_, err := svc.CashDeposit(context.Background(), CashMovementInput{
		Caller:   cashier,
		ClientID: cashier.ID.String(),
		Amount:   "100",
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCashCommissionZeroWhenRuleMissing(t *testing.T) {
	store := newFakeStore()
	client := storage.Account{ID: uuid.New(), Phone: "+244900000009"}
	store.addAccount(client)
	store.movement = movementFor(client.ID)

	fees := &fakeFees{rules: map[string]storage.FeeRule{}}
	svc := newTestService(store, fees, &fakePublisher{})
	_, err := svc.CashWithdrawal(context.Background(), CashMovementInput{
		Caller:      Caller{ID: uuid.New(), Roles: []string{RoleCashier}},
		ClientPhone: client.Phone,
		Amount:      "500",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !store.lastCash.Commission.IsZero() {
		t.Fatalf("expected zero commission, got %s", store.lastCash.Commission)
	}
}

func TestPayQRClosedIntent(t *testing.T) {
	store := newFakeStore()
	store.intentErr = storage.ErrIntentClosed
	svc := newTestService(store, defaultFees(), &fakePublisher{})
	_, err := svc.PayQR(context.Background(), PayQRInput{
		Caller:   Caller{ID: uuid.New()},
		IntentID: uuid.NewString(),
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %v", err)
	}
}

func TestCreateQRIntentRequiresMerchant(t *testing.T) {
	svc := newTestService(newFakeStore(), defaultFees(), &fakePublisher{})
	_, err := svc.CreateQRIntent(context.Background(), CreateQRIntentInput{Amount: "50"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}
