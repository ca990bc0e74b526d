package services

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/utils"
)

// RetryPolicy bounds how often a transaction is re-run after a transient store error.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when no configuration is supplied.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// RetryPolicyFromConfig reads the reaction.* settings.
func RetryPolicyFromConfig(cfg config.AppConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.ReactionMaxAttempts,
		BaseDelay:   time.Duration(cfg.ReactionBackoffBaseMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.ReactionBackoffMaxMs) * time.Millisecond,
	}
}

// backoff returns the wait before the attempt following the given one:
// exponential growth capped at MaxDelay, jittered into [d/2, d].
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)+1))
}

// transact runs fn in one transaction and re-runs it, with backoff, while it fails with a transient store error.
// Any other error, including AppErrors raised by fn, is returned after the first attempt.
func transact(ctx context.Context, db *gorm.DB, policy RetryPolicy, op string, fn func(tx *gorm.DB) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !isTransientStoreError(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := policy.backoff(attempt)
		utils.StoreRetries.WithLabelValues(op).Inc()
		utils.L().Warn("transaction retry",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if werr := wait(ctx, delay); werr != nil {
			return werr
		}
	}

	utils.StoreRetriesExhausted.WithLabelValues(op).Inc()
	return NewTransientError(op, err)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// forUpdate takes row locks on the selected rows. SQLite ignores the clause; its writers are serialized anyway.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// forShare takes shared row locks so the rows cannot be deleted until commit.
func forShare(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare})
}
