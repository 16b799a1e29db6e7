package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateAccount(ctx context.Context, params CreateAccountParams) (*Account, error) {
	now := time.Now().UTC()
	acct := &Account{
		ID:           uuid.New(),
		Phone:        params.Phone,
		DisplayName:  params.DisplayName,
		Role:         params.Role,
		Status:       "active",
		FCMToken:     params.FCMToken,
		ReferralCode: params.ReferralCode,
		ReferredBy:   params.ReferredBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var referredBy any
		if acct.ReferredBy != uuid.Nil {
			referredBy = acct.ReferredBy
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, phone, display_name, role, status, fcm_token, personal_referral_code, referred_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		`, acct.ID, acct.Phone, acct.DisplayName, acct.Role, acct.Status, nullIfEmpty(acct.FCMToken), acct.ReferralCode, referredBy, now); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateAccount
			}
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO wallets (account_id, currency, balance, float_balance, commission_balance)
			VALUES ($1, $2, 0, 0, 0)
		`, acct.ID, DefaultCurrency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.getAccount(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*Account, error) {
	return s.getAccount(ctx, `WHERE phone = $1`, phone)
}

func (s *Store) GetAccountByReferralCode(ctx context.Context, code string) (*Account, error) {
	return s.getAccount(ctx, `WHERE personal_referral_code = $1`, code)
}

func (s *Store) getAccount(ctx context.Context, where string, arg any) (*Account, error) {
	var acct Account
	var fcmToken *string
	var referredBy *uuid.UUID
	row := s.pool.QueryRow(ctx, `
		SELECT id, phone, display_name, role, status, fcm_token, personal_referral_code, referred_by, created_at, updated_at
		FROM accounts `+where, arg)
	if err := row.Scan(&acct.ID, &acct.Phone, &acct.DisplayName, &acct.Role, &acct.Status, &fcmToken, &acct.ReferralCode, &referredBy, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if fcmToken != nil {
		acct.FCMToken = *fcmToken
	}
	if referredBy != nil {
		acct.ReferredBy = *referredBy
	}
	return &acct, nil
}

func (s *Store) UpdateFCMToken(ctx context.Context, accountID uuid.UUID, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET fcm_token = $1, updated_at = $2 WHERE id = $3
	`, nullIfEmpty(token), time.Now().UTC(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]TransactionRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, type, pool, amount::text, currency, status, related_account, operation_id, description, created_at
		FROM transaction_records
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(rows pgx.Rows) (TransactionRecord, error) {
	var rec TransactionRecord
	var amountStr string
	var related *uuid.UUID
	var description *string
	if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Type, &rec.Pool, &amountStr, &rec.Currency, &rec.Status, &related, &rec.OperationID, &description, &rec.CreatedAt); err != nil {
		return TransactionRecord{}, err
	}
	amount, err := decimalFromDB(amountStr, "record amount")
	if err != nil {
		return TransactionRecord{}, err
	}
	rec.Amount = amount
	if related != nil {
		rec.RelatedAccount = *related
	}
	if description != nil {
		rec.Description = *description
	}
	return rec, nil
}
