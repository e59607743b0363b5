package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/ratelimit"
)

const keyEvent = "payment:event:%s:%s"

// Claim is a held processed-event marker.
type Claim struct {
	key   string
	token string
}

// Marker keeps concurrent deliveries of one gateway event from being applied
// in parallel. A nil Marker claims everything; the event archive and the
// order state machine still hold the line.
type Marker struct {
	locker *ratelimit.Locker
	ttl    time.Duration
}

func NewMarker(cfg config.Config, locker *ratelimit.Locker) *Marker {
	if !locker.Enabled() {
		return nil
	}
	ttl := cfg.RateLimit.EventMarkerTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Marker{locker: locker, ttl: ttl}
}

// Claim sets the marker. ok is false when another delivery holds it.
func (m *Marker) Claim(ctx context.Context, provider, eventID string) (Claim, bool, error) {
	if m == nil {
		return Claim{}, true, nil
	}
	key := fmt.Sprintf(keyEvent, provider, eventID)
	token, ok, err := m.locker.TryLock(ctx, key, m.ttl)
	if err != nil {
		return Claim{}, true, err
	}
	return Claim{key: key, token: token}, ok, nil
}

// Forget drops a marker so a redelivery is processed again.
func (m *Marker) Forget(ctx context.Context, claim Claim) error {
	if m == nil || claim.token == "" {
		return nil
	}
	return m.locker.Release(ctx, claim.key, claim.token)
}
