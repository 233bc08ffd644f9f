package alerting

import (
	"sync"
	"time"
)

// Cooldown 限制同一个池子在冷却期内只告警一次。
type Cooldown struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
}

// NewCooldown builds a per-pool gate; a non-positive period never suppresses.
func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{period: period, last: make(map[string]time.Time)}
}

// Ready reports whether pool may alert at now. It does not record anything.
func (c *Cooldown) Ready(pool string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.last[pool]
	return !ok || c.period <= 0 || now.Sub(prev) >= c.period
}

// Mark starts pool's cooldown at now; call it once the alert was delivered.
func (c *Cooldown) Mark(pool string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[pool] = now
}
