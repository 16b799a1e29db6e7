package fees

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aferconlda/aferconpay1/services/wallet/internal/storage"
)

// RuleStore is the slice of the wallet store the cache reads from.
type RuleStore interface {
	ListFeeRules(ctx context.Context) ([]storage.FeeRule, error)
}

type RefreshMetrics interface {
	ObserveRefresh(duration time.Duration)
	SetCacheSize(size int)
	IncRefreshError()
}

// Cache holds the fee schedule in memory and refreshes it in the
// background so fee lookups never touch the database on the money
// path.
type Cache struct {
	mu          sync.RWMutex
	rules       map[string]storage.FeeRule
	lastRefresh time.Time
}

func NewCache() *Cache {
	return &Cache{
		rules: make(map[string]storage.FeeRule),
	}
}

func (c *Cache) Load(ctx context.Context, store RuleStore) error {
	rules, err := store.ListFeeRules(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make(map[string]storage.FeeRule, len(rules))
	for _, rule := range rules {
		c.rules[rule.Name] = rule
	}
	c.lastRefresh = time.Now()
	return nil
}

func (c *Cache) Refresh(ctx context.Context, store RuleStore) error {
	return c.Load(ctx, store)
}

// Rule implements the service's FeeSource.
func (c *Cache) Rule(_ context.Context, name string) (storage.FeeRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.rules[name]
	if !ok {
		return storage.FeeRule{}, storage.ErrFeeRuleNotFound
	}
	return rule, nil
}

func (c *Cache) Set(rule storage.FeeRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rules == nil {
		c.rules = make(map[string]storage.FeeRule)
	}
	c.rules[rule.Name] = rule
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func (c *Cache) StartAutoRefresh(ctx context.Context, store RuleStore, interval time.Duration, metrics RefreshMetrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("fee schedule refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				start := time.Now()
				err := c.Refresh(refreshCtx, store)
				cancel()
				if err != nil {
					logger.Error("fee schedule refresh failed", "error", err)
					if metrics != nil {
						metrics.IncRefreshError()
					}
					continue
				}
				if metrics != nil {
					metrics.ObserveRefresh(time.Since(start))
					metrics.SetCacheSize(c.Size())
				}
				logger.Info("fee schedule refreshed", "rules", c.Size())
			}
		}
	}()
}
