package funds

import (
	"time"

	"github.com/simaogato/fundledger-backend/internal/domain"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often an operation is re-run after storage contention
type RetryPolicy struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Attempt n waits n*BaseDelay before running again
}

// DefaultRetryPolicy is used when no policy is configured
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for batch and ledger timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCache sets the balance snapshot cache invalidated after each commit
func WithCache(cache domain.BalanceCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithRetryPolicy sets the contention retry policy
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		if policy.MaxAttempts < 1 {
			policy.MaxAttempts = 1
		}
		e.retry = policy
	}
}
