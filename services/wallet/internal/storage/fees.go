package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var ErrFeeRuleNotFound = errors.New("fee rule not found")

type FeeRule struct {
	Name       string
	Rate       decimal.Decimal
	FlatAmount decimal.Decimal
	UpdatedAt  time.Time
}

func (s *Store) GetFeeRule(ctx context.Context, name string) (FeeRule, error) {
	var rule FeeRule
	var rateStr, flatStr string
	row := s.pool.QueryRow(ctx, `
		SELECT name, rate::text, flat_amount::text, updated_at
		FROM fee_schedule
		WHERE name = $1
	`, name)
	if err := row.Scan(&rule.Name, &rateStr, &flatStr, &rule.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FeeRule{}, ErrFeeRuleNotFound
		}
		return FeeRule{}, err
	}
	var err error
	if rule.Rate, err = decimalFromDB(rateStr, "fee rate"); err != nil {
		return FeeRule{}, err
	}
	if rule.FlatAmount, err = decimalFromDB(flatStr, "fee flat amount"); err != nil {
		return FeeRule{}, err
	}
	return rule, nil
}

func (s *Store) ListFeeRules(ctx context.Context) ([]FeeRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, rate::text, flat_amount::text, updated_at
		FROM fee_schedule
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []FeeRule
	for rows.Next() {
		var rule FeeRule
		var rateStr, flatStr string
		if err := rows.Scan(&rule.Name, &rateStr, &flatStr, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		if rule.Rate, err = decimalFromDB(rateStr, "fee rate"); err != nil {
			return nil, err
		}
		if rule.FlatAmount, err = decimalFromDB(flatStr, "fee flat amount"); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
