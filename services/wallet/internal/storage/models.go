package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID           uuid.UUID
	Phone        string
	DisplayName  string
	Role         string
	Status       string
	FCMToken     string
	ReferralCode string
	ReferredBy   uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Wallet struct {
	AccountID         uuid.UUID
	Currency          string
	Balance           decimal.Decimal
	FloatBalance      decimal.Decimal
	CommissionBalance decimal.Decimal
	UpdatedAt         time.Time
}

type TransactionRecord struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Type           string
	Pool           string
	Amount         decimal.Decimal
	Currency       string
	Status         string
	RelatedAccount uuid.UUID
	OperationID    uuid.UUID
	Description    string
	CreatedAt      time.Time
}

type QRIntent struct {
	ID         uuid.UUID
	MerchantID uuid.UUID
	Amount     decimal.Decimal
	Currency   string
	Reference  string
	Status     string
	PaidBy     uuid.UUID
	PaidAt     *time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

type ExchangeRequest struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Amount         decimal.Decimal
	TargetCurrency string
	PlatformFee    decimal.Decimal
	CashierFee     decimal.Decimal
	TotalAmount    decimal.Decimal
	PaymentDetails string
	Currency       string
	Status         string
	ProcessedBy    uuid.UUID
	CreatedAt      time.Time
	AcceptedAt     *time.Time
	FundsSentAt    *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	UpdatedAt      time.Time
}

type WithdrawalRequest struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Destination  string
	Status       string
	ReviewedBy   uuid.UUID
	RejectReason string
	CreatedAt    time.Time
	ReviewedAt   *time.Time
}

type CreditRequest struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CreditType      string
	RequestedAmount decimal.Decimal
	AnalysisFee     decimal.Decimal
	Currency        string
	Status          string
	CreatedAt       time.Time
}

type APIKey struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	KeyHash   string
	Label     string
	CreatedAt time.Time
	RevokedAt *time.Time
}

type Notification struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Title     string
	Body      string
	Type      string
	Read      bool
	CreatedAt time.Time
}

// MovementResult reports the committed effect of one money-movement
// operation: the records appended and the wallets as of commit.
type MovementResult struct {
	OperationID uuid.UUID
	Records     []TransactionRecord
	Wallets     []Wallet
}

type TransferParams struct {
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type CashMovementParams struct {
	CashierID  uuid.UUID
	ClientID   uuid.UUID
	Amount     decimal.Decimal
	Commission decimal.Decimal
	Currency   string
}

type CreateExchangeParams struct {
	UserID         uuid.UUID
	Amount         decimal.Decimal
	TargetCurrency string
	PlatformFee    decimal.Decimal
	CashierFee     decimal.Decimal
	PaymentDetails string
	Currency       string
}

type CreateAccountParams struct {
	Phone        string
	DisplayName  string
	Role         string
	ReferralCode string
	ReferredBy   uuid.UUID
	FCMToken     string
}
