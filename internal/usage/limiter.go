// Package usage owns the per-provider rate budget accounting: up to nine
// fixed-window counters per provider (requests / tokens / cost crossed with
// minute / hour / day), checked before dispatch and consumed after.
package usage

import (
	"math"
	"sync"
	"time"

	"modelgate/internal/config"
)

// LimitType identifies one of the nine budget dimensions.
type LimitType string

const (
	RequestsPerMinute LimitType = "requestsPerMinute"
	RequestsPerHour   LimitType = "requestsPerHour"
	RequestsPerDay    LimitType = "requestsPerDay"
	TokensPerMinute   LimitType = "tokensPerMinute"
	TokensPerHour     LimitType = "tokensPerHour"
	TokensPerDay      LimitType = "tokensPerDay"
	CostPerMinute     LimitType = "costPerMinute"
	CostPerHour       LimitType = "costPerHour"
	CostPerDay        LimitType = "costPerDay"
)

// IsCost reports whether the limit meters spend rather than traffic.
// Cost limiters are excluded from pre-flight admission: per-call cost is
// unknown until the response arrives, so they throttle post-hoc only.
func (t LimitType) IsCost() bool {
	switch t {
	case CostPerMinute, CostPerHour, CostPerDay:
		return true
	}
	return false
}

// Window returns the fixed-window duration for the limit type.
func (t LimitType) Window() time.Duration {
	switch t {
	case RequestsPerMinute, TokensPerMinute, CostPerMinute:
		return time.Minute
	case RequestsPerHour, TokensPerHour, CostPerHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// CostPointsPerUSD converts USD to integer limiter points, preserving four
// decimal places: 1 USD = 10 000 points.
const CostPointsPerUSD = 10_000

// CostPoints converts a USD amount to limiter points.
func CostPoints(usd float64) int64 {
	return int64(math.Round(usd * CostPointsPerUSD))
}

// limiter is a single fixed-window counter. The window is "sliding-window
// fixed": it advances when the first operation after expiry arrives.
type limiter struct {
	mu          sync.Mutex
	points      int64 // capacity
	duration    time.Duration
	consumed    int64
	windowStart time.Time
}

func newLimiter(points int64, duration time.Duration, now time.Time) *limiter {
	return &limiter{points: points, duration: duration, windowStart: now}
}

// advance resets the window if it has elapsed. Callers hold l.mu.
func (l *limiter) advance(now time.Time) {
	if now.Sub(l.windowStart) >= l.duration {
		l.consumed = 0
		l.windowStart = now
	}
}

// underLimit reports whether at least one point remains in the window.
func (l *limiter) underLimit(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(now)
	return l.consumed < l.points
}

// consume adds n points unconditionally and reports whether the counter is
// now over capacity. The call has already hit the provider by the time this
// runs; refusing to count would corrupt the budget.
func (l *limiter) consume(now time.Time, n int64) (consumed int64, over bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advance(now)
	l.consumed += n
	return l.consumed, l.consumed > l.points
}

// restore overwrites the counter state, used when rehydrating persisted
// snapshots at boot. Stale windows are dropped by advance on the next op.
func (l *limiter) restore(consumed int64, windowStart time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed = consumed
	l.windowStart = windowStart
}

// limitsByType flattens a config.Limits record into capacities per type.
// Absent limits produce no limiter at all.
func limitsByType(l *config.Limits) map[LimitType]int64 {
	if l == nil {
		return nil
	}
	out := make(map[LimitType]int64, 9)
	put := func(t LimitType, v *float64) {
		if v == nil {
			return
		}
		if t.IsCost() {
			out[t] = CostPoints(*v)
			return
		}
		out[t] = int64(math.Round(*v))
	}
	put(RequestsPerMinute, l.RequestsPerMinute)
	put(RequestsPerHour, l.RequestsPerHour)
	put(RequestsPerDay, l.RequestsPerDay)
	put(TokensPerMinute, l.TokensPerMinute)
	put(TokensPerHour, l.TokensPerHour)
	put(TokensPerDay, l.TokensPerDay)
	put(CostPerMinute, l.CostPerMinute)
	put(CostPerHour, l.CostPerHour)
	put(CostPerDay, l.CostPerDay)
	return out
}
