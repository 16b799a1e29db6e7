package handlers

import (
	"net/http"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/service"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type registerRequest struct {
	Phone        string `json:"phone"`
	DisplayName  string `json:"display_name"`
	Role         string `json:"role"`
	ReferralCode string `json:"referral_code"`
	FCMToken     string `json:"fcm_token"`
}

type accountView struct {
	ID           string `json:"id"`
	Phone        string `json:"phone"`
	DisplayName  string `json:"display_name,omitempty"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	ReferralCode string `json:"referral_code"`
	CreatedAt    string `json:"created_at"`
}

type walletView struct {
	Currency          string `json:"currency"`
	Balance           string `json:"balance"`
	FloatBalance      string `json:"float_balance"`
	CommissionBalance string `json:"commission_balance"`
}

func toAccountView(acct storage.Account) accountView {
	return accountView{
		ID:           acct.ID.String(),
		Phone:        acct.Phone,
		DisplayName:  acct.DisplayName,
		Role:         acct.Role,
		Status:       acct.Status,
		ReferralCode: acct.ReferralCode,
		CreatedAt:    acct.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toWalletView(w storage.Wallet) walletView {
	return walletView{
		Currency:          w.Currency,
		Balance:           w.Balance.StringFixed(2),
		FloatBalance:      w.FloatBalance.StringFixed(2),
		CommissionBalance: w.CommissionBalance.StringFixed(2),
	}
}

// RegisterAccount is unauthenticated for customer self-registration.
// A bearer token, when present, lets an admin create cashier and
// merchant accounts.
func (h *Handler) RegisterAccount(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	caller, _ := callerFromContext(c)
	acct, err := h.Service.Register(c.Request.Context(), service.RegisterInput{
		Caller:       caller,
		Phone:        req.Phone,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		ReferralCode: req.ReferralCode,
		FCMToken:     req.FCMToken,
	})
	if err != nil {
		h.writeStatusError(c, "register account", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "account": toAccountView(*acct)})
}

func (h *Handler) GetProfile(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	profile, err := h.Service.GetProfile(c.Request.Context(), caller)
	if err != nil {
		h.writeStatusError(c, "get profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"account": toAccountView(profile.Account),
		"wallet":  toWalletView(profile.Wallet),
	})
}

type fcmTokenRequest struct {
	FCMToken string `json:"fcm_token"`
}

func (h *Handler) UpdateFCMToken(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req fcmTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	if err := h.Service.UpdateFCMToken(c.Request.Context(), caller, req.FCMToken); err != nil {
		h.writeStatusError(c, "update fcm token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ValidateReferral(c *gin.Context) {
	name, err := h.Service.ValidateReferral(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeStatusError(c, "validate referral", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "referrer_name": name})
}

type transactionItem struct {
	ID             string `json:"id"`
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

func toTransactionItem(rec storage.TransactionRecord) transactionItem {
	item := transactionItem{
		ID:          rec.ID.String(),
		Type:        rec.Type,
		Pool:        rec.Pool,
		Amount:      rec.Amount.StringFixed(2),
		Currency:    rec.Currency,
		Status:      rec.Status,
		OperationID: rec.OperationID.String(),
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.RelatedAccount != uuid.Nil {
		item.RelatedAccount = rec.RelatedAccount.String()
	}
	return item
}

func (h *Handler) ListTransactions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	records, err := h.Service.ListTransactions(c.Request.Context(), caller, queryLimit(c))
	if err != nil {
		h.writeStatusError(c, "list transactions", err)
		return
	}
	items := make([]transactionItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toTransactionItem(rec))
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "transactions": items})
}

type notificationItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) ListNotifications(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	notifs, err := h.Service.ListNotifications(c.Request.Context(), caller, queryLimit(c))
	if err != nil {
		h.writeStatusError(c, "list notifications", err)
		return
	}
	items := make([]notificationItem, 0, len(notifs))
	for _, n := range notifs {
		items = append(items, notificationItem{
			ID:        n.ID.String(),
			Title:     n.Title,
			Body:      n.Body,
			Type:      n.Type,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "notifications": items})
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.Service.MarkNotificationRead(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.writeStatusError(c, "mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type createAPIKeyRequest struct {
	Label string `json:"label"`
}

func (h *Handler) CreateAPIKey(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	created, err := h.Service.CreateAPIKey(c.Request.Context(), caller, req.Label)
	if err != nil {
		h.writeStatusError(c, "create api key", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"id":     created.Record.ID.String(),
		"label":  created.Record.Label,
		"key":    created.Key,
	})
}

func (h *Handler) ListAPIKeys(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	keys, err := h.Service.ListAPIKeys(c.Request.Context(), caller)
	if err != nil {
		h.writeStatusError(c, "list api keys", err)
		return
	}
	items := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		item := gin.H{
			"id":         key.ID.String(),
			"label":      key.Label,
			"created_at": key.CreatedAt.UTC().Format(time.RFC3339),
		}
		if key.RevokedAt != nil {
			item["revoked_at"] = key.RevokedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "keys": items})
}

func (h *Handler) RevokeAPIKey(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.Service.RevokeAPIKey(c.Request.Context(), caller, c.Param("id")); err != nil {
		h.writeStatusError(c, "revoke api key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
