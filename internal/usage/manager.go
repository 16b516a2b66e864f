package usage

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"modelgate/internal/config"
	"modelgate/internal/logging"
)

// limiterKey identifies one counter: a provider crossed with a limit type.
type limiterKey struct {
	ProviderID string
	Type       LimitType
}

// Manager owns all configured limiters. Operations on different limiters are
// independent; there is no cross-limiter transaction. An IsUnderLimit=true
// followed by Consume may overshoot by at most the number of requests
// admitted in the race window, which is accepted.
type Manager struct {
	mu       sync.RWMutex
	limiters map[limiterKey]*limiter

	now func() time.Time
	log *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wallclock source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds limiters for every configured provider limit.
// Providers without a Limits record get no limiters and are never throttled.
func NewManager(providers []config.Provider, opts ...Option) *Manager {
	m := &Manager{
		limiters: make(map[limiterKey]*limiter),
		now:      time.Now,
		log:      logging.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.now()
	for _, p := range providers {
		for t, points := range limitsByType(p.Limits) {
			m.limiters[limiterKey{p.ID, t}] = newLimiter(points, t.Window(), now)
		}
	}
	return m
}

// IsUnderLimit is the pre-flight admission check for a provider. It returns
// false if any request- or token-based counter is at capacity. Cost-based
// counters are not consulted: per-call cost is unknown before the response,
// so cost budgets are enforced on consumption only.
//
// The model name is accepted for interface stability; per-model limits are
// deliberately not enforced (provider-wide limits only).
func (m *Manager) IsUnderLimit(providerID, modelName string) bool {
	_ = modelName
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, l := range m.limiters {
		if key.ProviderID != providerID || key.Type.IsCost() {
			continue
		}
		if !l.underLimit(now) {
			return false
		}
	}
	return true
}

// Consume records one completed call against every configured counter for
// the provider: 1 point for request limits, prompt+completion tokens for
// token limits, and round(costUSD × 10 000) points for cost limits.
//
// Counting never fails. If a counter overshoots its capacity the overshoot
// is logged and the counts are kept; the upstream call already happened.
func (m *Manager) Consume(providerID, modelName string, promptTokens, completionTokens int, costUSD float64) {
	now := m.now()
	totalTokens := int64(promptTokens + completionTokens)
	costPoints := CostPoints(costUSD)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, l := range m.limiters {
		if key.ProviderID != providerID {
			continue
		}
		var n int64
		switch {
		case key.Type.IsCost():
			n = costPoints
		case key.Type == TokensPerMinute || key.Type == TokensPerHour || key.Type == TokensPerDay:
			n = totalTokens
		default:
			n = 1
		}
		if n == 0 {
			continue
		}
		if consumed, over := l.consume(now, n); over {
			m.log.Warn("rate budget exceeded post-hoc",
				zap.String("provider", providerID),
				zap.String("model", modelName),
				zap.String("limit", string(key.Type)),
				zap.Int64("consumed", consumed),
				zap.Int64("capacity", l.points))
		}
	}
}

// CounterSnapshot is a read-only view of one limiter's state.
type CounterSnapshot struct {
	ProviderID  string    `json:"providerId"`
	Type        LimitType `json:"limitType"`
	Points      int64     `json:"points"`
	Consumed    int64     `json:"consumed"`
	WindowStart time.Time `json:"windowStart"`
}

// Snapshot returns the current state of all counters, for observability and
// best-effort persistence.
func (m *Manager) Snapshot() []CounterSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CounterSnapshot, 0, len(m.limiters))
	for key, l := range m.limiters {
		l.mu.Lock()
		out = append(out, CounterSnapshot{
			ProviderID:  key.ProviderID,
			Type:        key.Type,
			Points:      l.points,
			Consumed:    l.consumed,
			WindowStart: l.windowStart,
		})
		l.mu.Unlock()
	}
	return out
}

// Restore rehydrates counters from a persisted snapshot. A counter is only
// restored when its key and capacity still match the live configuration and
// its window has not yet elapsed; everything else is ignored.
func (m *Manager) Restore(snaps []CounterSnapshot) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range snaps {
		l, ok := m.limiters[limiterKey{s.ProviderID, s.Type}]
		if !ok || l.points != s.Points {
			continue
		}
		if now.Sub(s.WindowStart) >= l.duration {
			continue
		}
		l.restore(s.Consumed, s.WindowStart)
	}
}

// Reconcile aligns the limiter set with a reloaded provider list: limiters
// for vanished providers are discarded, new ones are created, and limiters
// whose (points, duration) are unchanged keep their counters so a reload
// does not reset live budgets.
func (m *Manager) Reconcile(providers []config.Provider) {
	now := m.now()

	desired := make(map[limiterKey]int64)
	for _, p := range providers {
		for t, points := range limitsByType(p.Limits) {
			desired[limiterKey{p.ID, t}] = points
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.limiters {
		if _, ok := desired[key]; !ok {
			delete(m.limiters, key)
		}
	}
	for key, points := range desired {
		if existing, ok := m.limiters[key]; ok && existing.points == points {
			continue // unchanged identity, preserve the live counter
		}
		m.limiters[key] = newLimiter(points, key.Type.Window(), now)
	}
}
