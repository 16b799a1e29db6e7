package rate

import (
	"context"
	"time"
)

// Limiter gates money-movement endpoints per caller. Allow reports
// whether the request may proceed and, when denied, how long the
// caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
