package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mistic96/payment-broker/internal/cache"
)

const unhealthyTTL = 2 * time.Minute

// HealthTracker keeps per-gateway health flags. Provider failures mark a
// gateway unhealthy for a cooldown window; routing skips it until the flag
// expires. The flag lives in the shared cache so all processes see it, with
// an in-process fallback when the cache is down. Unknown means healthy.
type HealthTracker struct {
	cache  *cache.Cache
	logger *slog.Logger

	mu    sync.RWMutex
	local map[int64]time.Time
}

func NewHealthTracker(c *cache.Cache, logger *slog.Logger) *HealthTracker {
	return &HealthTracker{
		cache:  c,
		logger: logger,
		local:  make(map[int64]time.Time),
	}
}

func (t *HealthTracker) IsHealthy(ctx context.Context, gatewayID int64) bool {
	if t.cache != nil {
		var flag string
		err := t.cache.Get(ctx, cache.GatewayHealthKey(gatewayID), &flag)
		if err == nil {
			return flag != "unhealthy"
		}
		if err != cache.ErrMiss {
			t.logger.Warn("health tracker: cache read failed, using local state",
				"gateway_id", gatewayID, "error", err)
		} else {
			return true
		}
	}

	t.mu.RLock()
	until, found := t.local[gatewayID]
	t.mu.RUnlock()
	return !found || time.Now().After(until)
}

func (t *HealthTracker) MarkUnhealthy(ctx context.Context, gatewayID int64) {
	t.logger.Warn("gateway marked unhealthy", "gateway_id", gatewayID, "cooldown", unhealthyTTL)

	t.mu.Lock()
	t.local[gatewayID] = time.Now().Add(unhealthyTTL)
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.Set(ctx, cache.GatewayHealthKey(gatewayID), "unhealthy", unhealthyTTL); err != nil {
			t.logger.Warn("health tracker: cache write failed", "gateway_id", gatewayID, "error", err)
		}
	}
}

func (t *HealthTracker) MarkHealthy(ctx context.Context, gatewayID int64) {
	t.mu.Lock()
	delete(t.local, gatewayID)
	t.mu.Unlock()

	if t.cache != nil {
		if err := t.cache.Remove(ctx, cache.GatewayHealthKey(gatewayID)); err != nil {
			t.logger.Warn("health tracker: cache invalidate failed", "gateway_id", gatewayID, "error", err)
		}
	}
}
