package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/photoledger/internal/config"
)

const (
	keySettleUser  = "settle:user:%s"
	keySettleOrder = "settle:lock:%s"
)

// SettleGuard throttles direct settlement calls per user and keeps two
// processes from querying the gateway for the same order at once. A nil or
// disabled guard allows everything.
type SettleGuard struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewSettleGuard(cfg config.Config, bucket *TokenBucket, locker *Locker) *SettleGuard {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || bucket == nil || !locker.Enabled() {
		return nil
	}
	if limitCfg.SettleRate <= 0 || limitCfg.SettleBurst <= 0 {
		return nil
	}
	lockTTL := limitCfg.SettleLockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &SettleGuard{
		enabled: true,
		bucket:  bucket,
		locker:  locker,
		rate:    limitCfg.SettleRate,
		burst:   limitCfg.SettleBurst,
		lockTTL: lockTTL,
	}
}

func (g *SettleGuard) Enabled() bool {
	return g != nil && g.enabled
}

func (g *SettleGuard) AllowUser(ctx context.Context, userID string) (*RateLimitResult, error) {
	if !g.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keySettleUser, strings.TrimSpace(userID)), g.rate, g.burst)
}

// LockOrder returns ok=true with an empty token when the guard is disabled.
func (g *SettleGuard) LockOrder(ctx context.Context, orderID string) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keySettleOrder, strings.TrimSpace(orderID)), g.lockTTL)
}

func (g *SettleGuard) ReleaseOrder(ctx context.Context, orderID, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keySettleOrder, strings.TrimSpace(orderID)), token)
}
