package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/aferconlda/aferconpay1/libs/auth"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/rate"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// WalletService is the service surface the HTTP layer depends on.
type WalletService interface {
	Register(ctx context.Context, input service.RegisterInput) (*storage.Account, error)
	GetProfile(ctx context.Context, caller service.Caller) (*service.Profile, error)
	GetBalance(ctx context.Context, caller service.Caller, currency string) (storage.Wallet, error)
	UpdateFCMToken(ctx context.Context, caller service.Caller, token string) error
	ValidateReferral(ctx context.Context, code string) (string, error)
	ListTransactions(ctx context.Context, caller service.Caller, limit int) ([]storage.TransactionRecord, error)
	ListNotifications(ctx context.Context, caller service.Caller, limit int) ([]storage.Notification, error)
	MarkNotificationRead(ctx context.Context, caller service.Caller, notificationID string) error

	Transfer(ctx context.Context, input service.TransferInput) (*service.TransferResult, error)
	CreateQRIntent(ctx context.Context, input service.CreateQRIntentInput) (*storage.QRIntent, error)
	PayQR(ctx context.Context, input service.PayQRInput) (*service.PayQRResult, error)
	MoveFloat(ctx context.Context, input service.FloatMoveInput, toFloat bool) (*storage.MovementResult, error)
	CashDeposit(ctx context.Context, input service.CashMovementInput) (*storage.MovementResult, error)
	CashWithdrawal(ctx context.Context, input service.CashMovementInput) (*storage.MovementResult, error)

	CreateExchange(ctx context.Context, input service.CreateExchangeInput) (*storage.ExchangeRequest, error)
	AcceptExchange(ctx context.Context, input service.ExchangeActionInput) (*storage.ExchangeRequest, error)
	MarkFundsSent(ctx context.Context, input service.ExchangeActionInput) (*storage.ExchangeRequest, error)
	ConfirmExchange(ctx context.Context, input service.ExchangeActionInput) (*storage.ExchangeRequest, error)
	CancelExchange(ctx context.Context, input service.ExchangeActionInput) (*storage.ExchangeRequest, error)
	GetExchange(ctx context.Context, caller service.Caller, requestID string) (*storage.ExchangeRequest, error)
	ListExchanges(ctx context.Context, caller service.Caller) ([]storage.ExchangeRequest, error)
	ListPendingExchanges(ctx context.Context, caller service.Caller) ([]storage.ExchangeRequest, error)

	RequestWithdrawal(ctx context.Context, input service.CreateWithdrawalInput) (*storage.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, input service.ReviewWithdrawalInput) (*storage.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, input service.ReviewWithdrawalInput) (*storage.WithdrawalRequest, error)
	ListPendingWithdrawals(ctx context.Context, caller service.Caller) ([]storage.WithdrawalRequest, error)
	RequestCredit(ctx context.Context, input service.CreditRequestInput) (*storage.CreditRequest, error)

	CreateAPIKey(ctx context.Context, caller service.Caller, label string) (*service.CreatedAPIKey, error)
	ListAPIKeys(ctx context.Context, caller service.Caller) ([]storage.APIKey, error)
	RevokeAPIKey(ctx context.Context, caller service.Caller, keyID string) error
	AuthenticateAPIKey(ctx context.Context, presented string) (*storage.Account, error)
}

type Handler struct {
	Service WalletService
	Limiter rate.Limiter
	Logger  *slog.Logger
}

func New(svc WalletService, limiter rate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Limiter: limiter, Logger: logger}
}

// Register mounts the HTTP surface. Money movement goes through the
// rate limiter; merchant intent creation authenticates by API key.
func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	v1 := r.Group("/v1")
	v1.POST("/accounts", auth.OptionalMiddleware(jwtSecret), h.RegisterAccount)
	v1.GET("/referrals/:code", h.ValidateReferral)
	v1.POST("/qr/intents", h.CreateQRIntent)

	authed := v1.Group("/", auth.Middleware(jwtSecret))
	authed.GET("/accounts/me", h.GetProfile)
	authed.PUT("/accounts/me/fcm-token", h.UpdateFCMToken)
	authed.GET("/transactions", h.ListTransactions)
	authed.GET("/notifications", h.ListNotifications)
	authed.POST("/notifications/:id/read", h.MarkNotificationRead)
	authed.GET("/exchanges", h.ListExchanges)
	authed.GET("/exchanges/pending", h.ListPendingExchanges)
	authed.GET("/exchanges/:id", h.GetExchange)
	authed.GET("/withdrawals/pending", h.ListPendingWithdrawals)
	authed.POST("/apikeys", h.CreateAPIKey)
	authed.GET("/apikeys", h.ListAPIKeys)
	authed.DELETE("/apikeys/:id", h.RevokeAPIKey)

	money := authed.Group("/", h.rateLimit())
	money.POST("/transfers", h.Transfer)
	money.POST("/qr/pay", h.PayQR)
	money.POST("/float/add", h.FloatAdd)
	money.POST("/float/withdraw", h.FloatWithdraw)
	money.POST("/cash/deposits", h.CashDeposit)
	money.POST("/cash/withdrawals", h.CashWithdrawal)
	money.POST("/exchanges", h.CreateExchange)
	money.POST("/exchanges/:id/accept", h.AcceptExchange)
	money.POST("/exchanges/:id/funds-sent", h.MarkFundsSent)
	money.POST("/exchanges/:id/confirm-receipt", h.ConfirmExchange)
	money.POST("/exchanges/:id/cancel", h.CancelExchange)
	money.POST("/withdrawals", h.RequestWithdrawal)
	money.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
	money.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
	money.POST("/credits", h.RequestCredit)
}

func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}
		key := c.ClientIP()
		if caller, ok := callerFromContext(c); ok {
			key = caller.ID.String()
		}
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), key, time.Now())
		if err != nil {
			// fail open, the limiter is protection not policy
			h.Logger.Error("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			if retryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+1)))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Code:    "RATE_LIMITED",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, httpStatus int, code, message string) {
	c.JSON(httpStatus, errorResponse{Code: code, Message: message})
}

// writeStatusError maps the service error taxonomy onto HTTP statuses
// and stable string codes.
func (h *Handler) writeStatusError(c *gin.Context, op string, err error) {
	st, ok := status.FromError(err)
	if !ok {
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	switch st.Code() {
	case codes.Unauthenticated:
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", st.Message())
	case codes.PermissionDenied:
		writeError(c, http.StatusForbidden, "FORBIDDEN", st.Message())
	case codes.InvalidArgument:
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", st.Message())
	case codes.NotFound:
		writeError(c, http.StatusNotFound, "NOT_FOUND", st.Message())
	case codes.FailedPrecondition:
		code := "PRECONDITION_FAILED"
		if strings.Contains(st.Message(), "insufficient") {
			code = "INSUFFICIENT_BALANCE"
		}
		writeError(c, http.StatusUnprocessableEntity, code, st.Message())
	default:
		h.Logger.Error(op+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func callerFromContext(c *gin.Context) (service.Caller, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return service.Caller{}, false
	}
	raw, ok := val.(string)
	if !ok {
		return service.Caller{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return service.Caller{}, false
	}
	return service.Caller{ID: id, Roles: auth.RolesFromContext(c)}, true
}

func (h *Handler) caller(c *gin.Context) (service.Caller, bool) {
	caller, ok := callerFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return service.Caller{}, false
	}
	return caller, true
}

func queryLimit(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
