package handlers

import (
	"net/http"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
)

type createExchangeRequest struct {
	Amount         string `json:"amount"`
	TargetCurrency string `json:"target_currency"`
	PaymentDetails string `json:"payment_details"`
	Currency       string `json:"currency"`
}

type exchangeView struct {
	ID             string `json:"id"`
	Amount         string `json:"amount"`
	TargetCurrency string `json:"target_currency"`
	PlatformFee    string `json:"platform_fee"`
	CashierFee     string `json:"cashier_fee"`
	TotalAmount    string `json:"total_amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func toExchangeView(req storage.ExchangeRequest) exchangeView {
	return exchangeView{
		ID:             req.ID.String(),
		Amount:         req.Amount.StringFixed(2),
		TargetCurrency: req.TargetCurrency,
		PlatformFee:    req.PlatformFee.StringFixed(2),
		CashierFee:     req.CashierFee.StringFixed(2),
		TotalAmount:    req.TotalAmount.StringFixed(2),
		Currency:       req.Currency,
		Status:         req.Status,
		CreatedAt:      req.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) CreateExchange(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req createExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	created, err := h.Service.CreateExchange(c.Request.Context(), service.CreateExchangeInput{
		Caller:         caller,
		Amount:         req.Amount,
		TargetCurrency: req.TargetCurrency,
		PaymentDetails: req.PaymentDetails,
		Currency:       req.Currency,
	})
	if err != nil {
		h.writeStatusError(c, "create exchange", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "exchange": toExchangeView(*created)})
}

func (h *Handler) exchangeAction(c *gin.Context, op string, action func(service.ExchangeActionInput) (*storage.ExchangeRequest, error)) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	req, err := action(service.ExchangeActionInput{Caller: caller, RequestID: c.Param("id")})
	if err != nil {
		h.writeStatusError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "exchange": toExchangeView(*req)})
}

func (h *Handler) AcceptExchange(c *gin.Context) {
	h.exchangeAction(c, "accept exchange", func(input service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
		return h.Service.AcceptExchange(c.Request.Context(), input)
	})
}

func (h *Handler) MarkFundsSent(c *gin.Context) {
	h.exchangeAction(c, "mark funds sent", func(input service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
		return h.Service.MarkFundsSent(c.Request.Context(), input)
	})
}

func (h *Handler) ConfirmExchange(c *gin.Context) {
	h.exchangeAction(c, "confirm exchange", func(input service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
		return h.Service.ConfirmExchange(c.Request.Context(), input)
	})
}

func (h *Handler) CancelExchange(c *gin.Context) {
	h.exchangeAction(c, "cancel exchange", func(input service.ExchangeActionInput) (*storage.ExchangeRequest, error) {
		return h.Service.CancelExchange(c.Request.Context(), input)
	})
}

func (h *Handler) GetExchange(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	req, err := h.Service.GetExchange(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		h.writeStatusError(c, "get exchange", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "exchange": toExchangeView(*req)})
}

func (h *Handler) ListExchanges(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	reqs, err := h.Service.ListExchanges(c.Request.Context(), caller)
	if err != nil {
		h.writeStatusError(c, "list exchanges", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "exchanges": exchangeViews(reqs)})
}

func (h *Handler) ListPendingExchanges(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	reqs, err := h.Service.ListPendingExchanges(c.Request.Context(), caller)
	if err != nil {
		h.writeStatusError(c, "list pending exchanges", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "exchanges": exchangeViews(reqs)})
}

func exchangeViews(reqs []storage.ExchangeRequest) []exchangeView {
	views := make([]exchangeView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toExchangeView(req))
	}
	return views
}

type createWithdrawalRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

type withdrawalView struct {
	ID           string `json:"id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Destination  string `json:"destination"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toWithdrawalView(req storage.WithdrawalRequest) withdrawalView {
	return withdrawalView{
		ID:           req.ID.String(),
		Amount:       req.Amount.StringFixed(2),
		Currency:     req.Currency,
		Destination:  req.Destination,
		Status:       req.Status,
		RejectReason: req.RejectReason,
		CreatedAt:    req.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	created, err := h.Service.RequestWithdrawal(c.Request.Context(), service.CreateWithdrawalInput{
		Caller:      caller,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Destination: req.Destination,
	})
	if err != nil {
		h.writeStatusError(c, "request withdrawal", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "withdrawal": toWithdrawalView(*created)})
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	req, err := h.Service.ApproveWithdrawal(c.Request.Context(), service.ReviewWithdrawalInput{
		Caller:    caller,
		RequestID: c.Param("id"),
	})
	if err != nil {
		h.writeStatusError(c, "approve withdrawal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "withdrawal": toWithdrawalView(*req)})
}

type rejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectWithdrawal(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req rejectWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	rejected, err := h.Service.RejectWithdrawal(c.Request.Context(), service.ReviewWithdrawalInput{
		Caller:    caller,
		RequestID: c.Param("id"),
		Reason:    req.Reason,
	})
	if err != nil {
		h.writeStatusError(c, "reject withdrawal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "withdrawal": toWithdrawalView(*rejected)})
}

func (h *Handler) ListPendingWithdrawals(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	reqs, err := h.Service.ListPendingWithdrawals(c.Request.Context(), caller)
	if err != nil {
		h.writeStatusError(c, "list pending withdrawals", err)
		return
	}
	views := make([]withdrawalView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toWithdrawalView(req))
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "withdrawals": views})
}

type creditRequestBody struct {
	CreditType      string `json:"credit_type"`
	RequestedAmount string `json:"requested_amount"`
	Currency        string `json:"currency"`
}

func (h *Handler) RequestCredit(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req creditRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	created, err := h.Service.RequestCredit(c.Request.Context(), service.CreditRequestInput{
		Caller:          caller,
		CreditType:      req.CreditType,
		RequestedAmount: req.RequestedAmount,
		Currency:        req.Currency,
	})
	if err != nil {
		h.writeStatusError(c, "request credit", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"credit": gin.H{
			"id":               created.ID.String(),
			"credit_type":      created.CreditType,
			"requested_amount": created.RequestedAmount.StringFixed(2),
			"analysis_fee":     created.AnalysisFee.StringFixed(2),
			"status":           created.Status,
			"created_at":       created.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}
