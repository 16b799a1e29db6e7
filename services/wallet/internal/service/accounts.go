package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/aferconlda/aferconpay1/libs/apikey"
	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const referralCodeLength = 8

const referralAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type RegisterInput struct {
	Caller       Caller
	Phone        string
	DisplayName  string
	Role         string
	ReferralCode string
	FCMToken     string
}

// Register creates an account with a zeroed default wallet. New
// accounts are customers; only an admin can create cashiers and
// merchants. When a referral code is supplied it must resolve to an
// existing account.
func (s *WalletService) Register(ctx context.Context, input RegisterInput) (*storage.Account, error) {
	phone := strings.TrimSpace(input.Phone)
	if phone == "" {
		return nil, status.Error(codes.InvalidArgument, "phone is required")
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = RoleCustomer
	}
	switch role {
	case RoleCustomer:
	case RoleCashier, RoleMerchant:
		if !input.Caller.HasRole(RoleAdmin) {
			return nil, status.Errorf(codes.PermissionDenied, "only an admin can create %s accounts", role)
		}
	default:
		return nil, status.Error(codes.InvalidArgument, "role must be customer, cashier or merchant")
	}

	var referredBy uuid.UUID
	if code := strings.ToUpper(strings.TrimSpace(input.ReferralCode)); code != "" {
		referrer, err := s.store.GetAccountByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, storage.ErrAccountNotFound) {
				return nil, status.Error(codes.InvalidArgument, "referral code not recognized")
			}
			return nil, s.mapStoreErr("referral lookup", err)
		}
		referredBy = referrer.ID
	}

	acct, err := s.store.CreateAccount(ctx, storage.CreateAccountParams{
		Phone:        phone,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
		ReferralCode: newReferralCode(),
		ReferredBy:   referredBy,
		FCMToken:     strings.TrimSpace(input.FCMToken),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateAccount) {
			return nil, status.Error(codes.InvalidArgument, "phone already registered")
		}
		return nil, s.mapStoreErr("register account", err)
	}
	return acct, nil
}

func newReferralCode() string {
	buf := make([]byte, referralCodeLength)
	max := big.NewInt(int64(len(referralAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			buf[i] = referralAlphabet[int(time.Now().UnixNano())%len(referralAlphabet)]
			continue
		}
		buf[i] = referralAlphabet[n.Int64()]
	}
	return string(buf)
}

type Profile struct {
	Account storage.Account
	Wallet  storage.Wallet
}

// GetProfile returns the caller's account and default wallet.
func (s *WalletService) GetProfile(ctx context.Context, caller Caller) (*Profile, error) {
	if err := s.requireCaller(caller); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, caller.ID)
	if err != nil {
		return nil, s.mapStoreErr("get account", err)
	}
	wallet, err := s.store.GetWallet(ctx, caller.ID, storage.DefaultCurrency)
	if err != nil {
		return nil, s.mapStoreErr("get wallet", err)
	}
	return &Profile{Account: *acct, Wallet: wallet}, nil
}

// GetBalance returns the caller's wallet in the given currency,
// defaulting to AOA.
func (s *WalletService) GetBalance(ctx context.Context, caller Caller, currency string) (storage.Wallet, error) {
	if err := s.requireCaller(caller); err != nil {
		return storage.Wallet{}, err
	}
	wallet, err := s.store.GetWallet(ctx, caller.ID, currency)
	if err != nil {
		return storage.Wallet{}, s.mapStoreErr("get wallet", err)
	}
	return wallet, nil
}

// ValidateReferral checks a referral code and returns the referrer's
// public name.
func (s *WalletService) ValidateReferral(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", status.Error(codes.InvalidArgument, "referral_code is required")
	}
	acct, err := s.store.GetAccountByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return "", status.Error(codes.NotFound, "referral code not found")
		}
		return "", s.mapStoreErr("referral lookup", err)
	}
	return displayName(acct), nil
}

// UpdateFCMToken stores the device push token used by the notifier.
func (s *WalletService) UpdateFCMToken(ctx context.Context, caller Caller, token string) error {
	if err := s.requireCaller(caller); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return status.Error(codes.InvalidArgument, "fcm_token is required")
	}
	if err := s.store.UpdateFCMToken(ctx, caller.ID, token); err != nil {
		return s.mapStoreErr("update fcm token", err)
	}
	return nil
}

// ListTransactions returns the caller's most recent ledger records.
func (s *WalletService) ListTransactions(ctx context.Context, caller Caller, limit int) ([]storage.TransactionRecord, error) {
	if err := s.requireCaller(caller); err != nil {
		return nil, err
	}
	records, err := s.store.ListTransactions(ctx, caller.ID, limit)
	if err != nil {
		return nil, s.mapStoreErr("list transactions", err)
	}
	return records, nil
}

// ListNotifications returns the caller's stored notifications.
func (s *WalletService) ListNotifications(ctx context.Context, caller Caller, limit int) ([]storage.Notification, error) {
	if err := s.requireCaller(caller); err != nil {
		return nil, err
	}
	notifs, err := s.store.ListNotifications(ctx, caller.ID, limit)
	if err != nil {
		return nil, s.mapStoreErr("list notifications", err)
	}
	return notifs, nil
}

// MarkNotificationRead marks one of the caller's notifications read.
func (s *WalletService) MarkNotificationRead(ctx context.Context, caller Caller, notificationID string) error {
	if err := s.requireCaller(caller); err != nil {
		return err
	}
	id, err := parseUUID(notificationID, "notification_id")
	if err != nil {
		return err
	}
	if err := s.store.MarkNotificationRead(ctx, caller.ID, id); err != nil {
		return s.mapStoreErr("mark notification read", err)
	}
	return nil
}

type CreatedAPIKey struct {
	Record storage.APIKey
	// Key is the plaintext, shown exactly once at creation.
	Key string
}

// CreateAPIKey issues a merchant API key. Only the hash is stored.
func (s *WalletService) CreateAPIKey(ctx context.Context, caller Caller, label string) (*CreatedAPIKey, error) {
	if err := s.requireRole(caller, RoleMerchant); err != nil {
		return nil, err
	}
	plaintext, _, hash, err := apikey.Generate(s.env)
	if err != nil {
		s.logger.Error("api key generation failed", "error", err)
		return nil, status.Error(codes.Internal, "api key generation failed")
	}
	record := storage.APIKey{
		ID:        uuid.New(),
		AccountID: caller.ID,
		KeyHash:   hash,
		Label:     strings.TrimSpace(label),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertAPIKey(ctx, record); err != nil {
		return nil, s.mapStoreErr("create api key", err)
	}
	return &CreatedAPIKey{Record: record, Key: plaintext}, nil
}

// ListAPIKeys returns the caller's keys, hashes included, plaintext
// never.
func (s *WalletService) ListAPIKeys(ctx context.Context, caller Caller) ([]storage.APIKey, error) {
	if err := s.requireRole(caller, RoleMerchant); err != nil {
		return nil, err
	}
	keys, err := s.store.ListAPIKeys(ctx, caller.ID)
	if err != nil {
		return nil, s.mapStoreErr("list api keys", err)
	}
	return keys, nil
}

// RevokeAPIKey revokes one of the caller's keys.
func (s *WalletService) RevokeAPIKey(ctx context.Context, caller Caller, keyID string) error {
	if err := s.requireRole(caller, RoleMerchant); err != nil {
		return err
	}
	id, err := parseUUID(keyID, "key_id")
	if err != nil {
		return err
	}
	if err := s.store.RevokeAPIKey(ctx, caller.ID, id); err != nil {
		return s.mapStoreErr("revoke api key", err)
	}
	return nil
}

// AuthenticateAPIKey resolves a presented key to its merchant account.
func (s *WalletService) AuthenticateAPIKey(ctx context.Context, presented string) (*storage.Account, error) {
	_, prefix, secret, err := apikey.Parse(presented)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
	record, err := s.store.GetAPIKeyByHash(ctx, apikey.Hash(prefix, secret))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return nil, s.mapStoreErr("api key lookup", err)
	}
	if record.RevokedAt != nil {
		return nil, status.Error(codes.Unauthenticated, "api key revoked")
	}
	acct, err := s.store.GetAccount(ctx, record.AccountID)
	if err != nil {
		return nil, s.mapStoreErr("api key account lookup", err)
	}
	return acct, nil
}
