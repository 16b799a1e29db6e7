package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
)

type transferRequest struct {
	RecipientID    string `json:"recipient_id"`
	RecipientPhone string `json:"recipient_phone"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description"`
}

func (h *Handler) Transfer(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	result, err := h.Service.Transfer(c.Request.Context(), service.TransferInput{
		Caller:         caller,
		RecipientID:    req.RecipientID,
		RecipientPhone: req.RecipientPhone,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
	})
	if err != nil {
		h.writeStatusError(c, "transfer", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"operation_id": result.OperationID.String(),
		"wallet":       toWalletView(result.Sender),
	})
}

type createQRIntentRequest struct {
	APIKey    string `json:"-"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

// CreateQRIntent authenticates the merchant by API key from the
// X-Api-Key header.
func (h *Handler) CreateQRIntent(c *gin.Context) {
	presented := strings.TrimSpace(c.GetHeader("X-Api-Key"))
	if presented == "" {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing api key")
		return
	}
	merchant, err := h.Service.AuthenticateAPIKey(c.Request.Context(), presented)
	if err != nil {
		h.writeStatusError(c, "api key auth", err)
		return
	}

	var req createQRIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	intent, err := h.Service.CreateQRIntent(c.Request.Context(), service.CreateQRIntentInput{
		MerchantID: merchant.ID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reference:  req.Reference,
	})
	if err != nil {
		h.writeStatusError(c, "create qr intent", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":     "success",
		"intent_id":  intent.ID.String(),
		"amount":     intent.Amount.StringFixed(2),
		"currency":   intent.Currency,
		"reference":  intent.Reference,
		"expires_at": intent.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type payQRRequest struct {
	IntentID string `json:"intent_id"`
}

func (h *Handler) PayQR(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req payQRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	result, err := h.Service.PayQR(c.Request.Context(), service.PayQRInput{Caller: caller, IntentID: req.IntentID})
	if err != nil {
		h.writeStatusError(c, "qr payment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"operation_id": result.OperationID.String(),
		"amount":       result.Intent.Amount.StringFixed(2),
		"wallet":       toWalletView(result.Payer),
	})
}

type amountRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (h *Handler) FloatAdd(c *gin.Context) {
	h.moveFloat(c, true)
}

func (h *Handler) FloatWithdraw(c *gin.Context) {
	h.moveFloat(c, false)
}

func (h *Handler) moveFloat(c *gin.Context, toFloat bool) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	result, err := h.Service.MoveFloat(c.Request.Context(), service.FloatMoveInput{
		Caller:   caller,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, toFloat)
	if err != nil {
		h.writeStatusError(c, "move float", err)
		return
	}
	c.JSON(http.StatusOK, movementResponse(caller, result))
}

type cashRequest struct {
	ClientID    string `json:"client_id"`
	ClientPhone string `json:"client_phone"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

func (h *Handler) CashDeposit(c *gin.Context) {
	h.cashMovement(c, true)
}

func (h *Handler) CashWithdrawal(c *gin.Context) {
	h.cashMovement(c, false)
}

func (h *Handler) cashMovement(c *gin.Context, deposit bool) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req cashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	input := service.CashMovementInput{
		Caller:      caller,
		ClientID:    req.ClientID,
		ClientPhone: req.ClientPhone,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}
	var (
		result *storage.MovementResult
		err    error
	)
	if deposit {
		result, err = h.Service.CashDeposit(c.Request.Context(), input)
	} else {
		result, err = h.Service.CashWithdrawal(c.Request.Context(), input)
	}
	if err != nil {
		h.writeStatusError(c, "cash movement", err)
		return
	}
	c.JSON(http.StatusOK, movementResponse(caller, result))
}

func movementResponse(caller service.Caller, result *storage.MovementResult) gin.H {
	resp := gin.H{
		"status":       "success",
		"operation_id": result.OperationID.String(),
	}
	for _, w := range result.Wallets {
		if w.AccountID == caller.ID {
			resp["wallet"] = toWalletView(w)
			break
		}
	}
	return resp
}
