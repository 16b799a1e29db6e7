package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aferconlda/aferconpay1/services/testutil"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeService struct {
	account      *storage.Account
	accountErr   error
	lastRegister *service.RegisterInput

	profile *service.Profile
	wallet  storage.Wallet

	transfer     *service.TransferResult
	transferErr  error
	lastTransfer *service.TransferInput

	intent    *storage.QRIntent
	intentErr error
	payResult *service.PayQRResult

	merchant    *storage.Account
	merchantErr error
	presented   string

	movement    *storage.MovementResult
	movementErr error

	exchange    *storage.ExchangeRequest
	exchangeErr error

	withdrawal    *storage.WithdrawalRequest
	withdrawalErr error

	credit    *storage.CreditRequest
	creditErr error

	referrerName string
	referralErr  error

	createdKey *service.CreatedAPIKey
}

func (f *fakeService) Register(_ context.Context, input service.RegisterInput) (*storage.Account, error) {
	f.lastRegister = &input
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account != nil {
		return f.account, nil
	}
	return &storage.Account{ID: uuid.New(), Phone: input.Phone, Role: "customer", Status: "active", ReferralCode: "AB23CD45"}, nil
}

func (f *fakeService) GetProfile(_ context.Context, _ service.Caller) (*service.Profile, error) {
	return f.profile, nil
}

func (f *fakeService) GetBalance(_ context.Context, _ service.Caller, _ string) (storage.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeService) UpdateFCMToken(_ context.Context, _ service.Caller, _ string) error {
	return nil
}

func (f *fakeService) ValidateReferral(_ context.Context, _ string) (string, error) {
	return f.referrerName, f.referralErr
}

func (f *fakeService) ListTransactions(_ context.Context, _ service.Caller, _ int) ([]storage.TransactionRecord, error) {
	return nil, nil
}

func (f *fakeService) ListNotifications(_ context.Context, _ service.Caller, _ int) ([]storage.Notification, error) {
	return nil, nil
}

func (f *fakeService) MarkNotificationRead(_ context.Context, _ service.Caller, _ string) error {
	return nil
}

func (f *fakeService) Transfer(_ context.Context, input service.TransferInput) (*service.TransferResult, error) {
	f.lastTransfer = &input
	return f.transfer, f.transferErr
}

func (f *fakeService) CreateQRIntent(_ context.Context, _ service.CreateQRIntentInput) (*storage.QRIntent, error) {
	return f.intent, f.intentErr
}

func (f *fakeService) PayQR(_ context.Context, _ service.PayQRInput) (*service.PayQRResult, error) {
	return f.payResult, f.intentErr
}

func (f *fakeService) MoveFloat(_ context.Context, _ service.FloatMoveInput, _ bool) (*storage.MovementResult, error) {
	return f.movement, f.movementErr
}

func (f *fakeService) CashDeposit(_ context.Context, _ service.CashMovementInput) (*storage.MovementResult, error) {
	return f.movement, f.movementErr
}

func (f *fakeService) CashWithdrawal(_ context.Context, _ service.CashMovementInput) (*storage.MovementResult, error) {
	return f.movement, f.movementErr
}

func (f *fakeService) CreateExchange(_ context.Context, _ service.CreateExchangeInput) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) AcceptExchange(_ context.Context, _ service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) MarkFundsSent(_ context.Context, _ service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) ConfirmExchange(_ context.Context, _ service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) CancelExchange(_ context.Context, _ service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) GetExchange(_ context.Context, _ service.Caller, _ string) (*storage.ExchangeRequest, error) {
	return f.exchange, f.exchangeErr
}

func (f *fakeService) ListExchanges(_ context.Context, _ service.Caller) ([]storage.ExchangeRequest, error) {
	return nil, nil
}

func (f *fakeService) ListPendingExchanges(_ context.Context, _ service.Caller) ([]storage.ExchangeRequest, error) {
	return nil, nil
}

func (f *fakeService) RequestWithdrawal(_ context.Context, _ service.CreateWithdrawalInput) (*storage.WithdrawalRequest, error) {
	return f.withdrawal, f.withdrawalErr
}

func (f *fakeService) ApproveWithdrawal(_ context.Context, _ service.ReviewWithdrawalInput) (*storage.WithdrawalRequest, error) {
	return f.withdrawal, f.withdrawalErr
}

func (f *fakeService) RejectWithdrawal(_ context.Context, _ service.ReviewWithdrawalInput) (*storage.WithdrawalRequest, error) {
	return f.withdrawal, f.withdrawalErr
}

func (f *fakeService) ListPendingWithdrawals(_ context.Context, _ service.Caller) ([]storage.WithdrawalRequest, error) {
	return nil, nil
}

func (f *fakeService) RequestCredit(_ context.Context, _ service.CreditRequestInput) (*storage.CreditRequest, error) {
	return f.credit, f.creditErr
}

func (f *fakeService) CreateAPIKey(_ context.Context, _ service.Caller, _ string) (*service.CreatedAPIKey, error) {
	return f.createdKey, nil
}

func (f *fakeService) ListAPIKeys(_ context.Context, _ service.Caller) ([]storage.APIKey, error) {
	return nil, nil
}

func (f *fakeService) RevokeAPIKey(_ context.Context, _ service.Caller, _ string) error {
	return nil
}

func (f *fakeService) AuthenticateAPIKey(_ context.Context, presented string) (*storage.Account, error) {
	f.presented = presented
	return f.merchant, f.merchantErr
}

type denyLimiter struct {
	retryAfter time.Duration
}

func (d *denyLimiter) Allow(_ context.Context, _ string, _ time.Time) (bool, time.Duration, error) {
	return false, d.retryAfter, nil
}

type brokenLimiter struct{}

func (b *brokenLimiter) Allow(_ context.Context, _ string, _ time.Time) (bool, time.Duration, error) {
	return false, 0, context.DeadlineExceeded
}

const testSecret = "secret"

func setupRouter(svc WalletService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(svc, nil, nil)
	h.Register(router, []byte(testSecret))
	return router
}

func customerJWT(t *testing.T, id uuid.UUID, roles ...string) string {
	t.Helper()
	token, err := testutil.GenerateJWT(id, roles, []byte(testSecret), time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return token
}

func TestTransferUnauthorized(t *testing.T) {
	router := setupRouter(&fakeService{})
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/transfers", map[string]string{"amount": "100"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestTransferSuccess(t *testing.T) {
	callerID := uuid.New()
	svc := &fakeService{transfer: &service.TransferResult{
		OperationID: uuid.New(),
		Sender: storage.Wallet{
			AccountID: callerID,
			Currency:  storage.DefaultCurrency,
			Balance:   decimal.RequireFromString("899.50"),
		},
	}}
	router := setupRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/transfers", map[string]string{
		"recipient_phone": "+244900000001",
		"amount":          "100.50",
	}, customerJWT(t, callerID))

	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var body struct {
		Status      string `json:"status"`
		OperationID string `json:"operation_id"`
		Wallet      struct {
			Balance string `json:"balance"`
		} `json:"wallet"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" {
		t.Fatalf("expected success, got %q", body.Status)
	}
	if body.OperationID != svc.transfer.OperationID.String() {
		t.Fatalf("unexpected operation id %q", body.OperationID)
	}
	if body.Wallet.Balance != "899.50" {
		t.Fatalf("unexpected balance %q", body.Wallet.Balance)
	}
	if svc.lastTransfer.Caller.ID != callerID {
		t.Fatalf("caller not forwarded")
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	svc := &fakeService{transferErr: status.Error(codes.FailedPrecondition, "insufficient balance")}
	router := setupRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/transfers", map[string]string{
		"recipient_phone": "+244900000001",
		"amount":          "100",
	}, customerJWT(t, uuid.New()))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInsufficientBalance)
}

func TestTransferForbiddenMapsTo403(t *testing.T) {
	svc := &fakeService{transferErr: status.Error(codes.PermissionDenied, "cashier role required")}
	router := setupRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/transfers", map[string]string{
		"amount": "100",
	}, customerJWT(t, uuid.New()))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
}

func TestRegisterAccountCreated(t *testing.T) {
	router := setupRouter(&fakeService{})
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/accounts", map[string]string{
		"phone":        "+244911111111",
		"display_name": "Carla",
	})
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
}

func TestRegisterAccountInvalid(t *testing.T) {
	svc := &fakeService{accountErr: status.Error(codes.InvalidArgument, "phone is required")}
	router := setupRouter(svc)
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/accounts", map[string]string{})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestRegisterAccountAdminTokenReachesService(t *testing.T) {
	svc := &fakeService{}
	router := setupRouter(svc)
	adminID := uuid.New()
	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/accounts", map[string]string{
		"phone":        "+244922222222",
		"display_name": "Caixa Nova",
		"role":         "cashier",
	}, customerJWT(t, adminID, "admin"))
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if svc.lastRegister == nil {
		t.Fatalf("service not called")
	}
	if svc.lastRegister.Caller.ID != adminID {
		t.Fatalf("expected caller %s, got %s", adminID, svc.lastRegister.Caller.ID)
	}
	if !svc.lastRegister.Caller.HasRole("admin") {
		t.Fatalf("admin role not forwarded: %v", svc.lastRegister.Caller.Roles)
	}
	if svc.lastRegister.Role != "cashier" {
		t.Fatalf("expected role cashier, got %q", svc.lastRegister.Role)
	}
}

func TestRegisterAccountAnonymousHasNoCaller(t *testing.T) {
	svc := &fakeService{}
	router := setupRouter(svc)
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/accounts", map[string]string{
		"phone": "+244933333333",
	})
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if svc.lastRegister == nil {
		t.Fatalf("service not called")
	}
	if svc.lastRegister.Caller.ID != uuid.Nil {
		t.Fatalf("expected zero caller, got %s", svc.lastRegister.Caller.ID)
	}
}

func TestRegisterAccountRejectsBadToken(t *testing.T) {
	svc := &fakeService{}
	router := setupRouter(svc)
	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/accounts", map[string]string{
		"phone": "+244944444444",
	}, "garbage")
	testutil.AssertHTTPStatus(t, resp, http.StatusUnauthorized)
	if svc.lastRegister != nil {
		t.Fatalf("service should not be called with an invalid token")
	}
}

func TestValidateReferral(t *testing.T) {
	router := setupRouter(&fakeService{referrerName: "Dino"})
	resp := testutil.MakeAPIRequest(router, http.MethodGet, "/v1/referrals/AB23CD45", nil)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var body struct {
		ReferrerName string `json:"referrer_name"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ReferrerName != "Dino" {
		t.Fatalf("unexpected referrer %q", body.ReferrerName)
	}
}

func TestValidateReferralNotFound(t *testing.T) {
	svc := &fakeService{referralErr: status.Error(codes.NotFound, "referral code not found")}
	router := setupRouter(svc)
	resp := testutil.MakeAPIRequest(router, http.MethodGet, "/v1/referrals/MISSING1", nil)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotFound)
}

func TestCreateQRIntentRequiresAPIKey(t *testing.T) {
	router := setupRouter(&fakeService{})
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v1/qr/intents", map[string]string{"amount": "50"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestCreateQRIntentWithAPIKey(t *testing.T) {
	merchantID := uuid.New()
	svc := &fakeService{
		merchant: &storage.Account{ID: merchantID, Role: "merchant"},
		intent: &storage.QRIntent{
			ID:        uuid.New(),
			Amount:    decimal.RequireFromString("50"),
			Currency:  storage.DefaultCurrency,
			Reference: "table-7",
			ExpiresAt: time.Now().Add(15 * time.Minute),
		},
	}
	router := setupRouter(svc)

	resp := testutil.MakeAPIKeyRequest(router, http.MethodPost, "/v1/qr/intents", map[string]string{
		"amount":    "50",
		"reference": "table-7",
	}, "apk_test_abc123.secret")

	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if svc.presented != "apk_test_abc123.secret" {
		t.Fatalf("api key not forwarded, got %q", svc.presented)
	}
	var body struct {
		IntentID string `json:"intent_id"`
		Amount   string `json:"amount"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.IntentID != svc.intent.ID.String() {
		t.Fatalf("unexpected intent id %q", body.IntentID)
	}
	if body.Amount != "50.00" {
		t.Fatalf("unexpected amount %q", body.Amount)
	}
}

func TestCreateQRIntentInvalidKey(t *testing.T) {
	svc := &fakeService{merchantErr: status.Error(codes.Unauthenticated, "invalid api key")}
	router := setupRouter(svc)
	resp := testutil.MakeAPIKeyRequest(router, http.MethodPost, "/v1/qr/intents", map[string]string{"amount": "50"}, "bogus")
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestApproveWithdrawalAutoRejectSurfaces(t *testing.T) {
	svc := &fakeService{withdrawal: &storage.WithdrawalRequest{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Amount:       decimal.NewFromInt(20000),
		Status:       "rejected",
		RejectReason: storage.RejectReasonInsufficientBalance,
	}}
	router := setupRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodPost,
		"/v1/withdrawals/"+svc.withdrawal.ID.String()+"/approve", nil,
		customerJWT(t, uuid.New(), "admin"))

	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var body struct {
		Withdrawal struct {
			Status       string `json:"status"`
			RejectReason string `json:"reject_reason"`
		} `json:"withdrawal"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Withdrawal.Status != "rejected" {
		t.Fatalf("expected rejected, got %q", body.Withdrawal.Status)
	}
	if body.Withdrawal.RejectReason != storage.RejectReasonInsufficientBalance {
		t.Fatalf("unexpected reason %q", body.Withdrawal.RejectReason)
	}
}

func TestRateLimiterRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(&fakeService{}, &denyLimiter{retryAfter: 30 * time.Second}, nil)
	h.Register(router, []byte(testSecret))

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/transfers", map[string]string{
		"amount": "100",
	}, customerJWT(t, uuid.New()))

	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeRateLimited)
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	callerID := uuid.New()
	svc := &fakeService{transfer: &service.TransferResult{
		OperationID: uuid.New(),
		Sender:      storage.Wallet{AccountID: callerID, Currency: storage.DefaultCurrency},
	}}
	h := New(svc, &brokenLimiter{}, nil)
	h.Register(router, []byte(testSecret))

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/v1/transfers", map[string]string{
		"recipient_phone": "+244900000001",
		"amount":          "100",
	}, customerJWT(t, callerID))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}

func TestRateLimiterSkipsReadEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	callerID := uuid.New()
	svc := &fakeService{profile: &service.Profile{
		Account: storage.Account{ID: callerID, Phone: "+244900000001", Role: "customer"},
		Wallet:  storage.Wallet{AccountID: callerID, Currency: storage.DefaultCurrency},
	}}
	h := New(svc, &denyLimiter{}, nil)
	h.Register(router, []byte(testSecret))

	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/v1/accounts/me", nil, customerJWT(t, callerID))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
}
