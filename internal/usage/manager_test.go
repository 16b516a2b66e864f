package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/config"
)

func f(v float64) *float64 { return &v }

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func provider(id string, limits *config.Limits) config.Provider {
	return config.Provider{
		ID:     id,
		Type:   config.TypeOpenAICompatible,
		Models: []config.Model{{Name: "m1"}},
		Limits: limits,
	}
}

func TestCostPoints(t *testing.T) {
	assert.Equal(t, int64(10_000), CostPoints(1))
	assert.Equal(t, int64(25), CostPoints(0.0025))
	assert.Equal(t, int64(0), CostPoints(0))
	// Sub-point costs round to the nearest point.
	assert.Equal(t, int64(1), CostPoints(0.00009))
}

func TestRequestLimitExhaustsAndResets(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(2)}),
	}, WithClock(clock.Now))

	assert.True(t, m.IsUnderLimit("p1", "m1"))
	m.Consume("p1", "m1", 0, 0, 0)
	assert.True(t, m.IsUnderLimit("p1", "m1"))
	m.Consume("p1", "m1", 0, 0, 0)
	assert.False(t, m.IsUnderLimit("p1", "m1"))

	// The window only advances when the next operation arrives after expiry.
	clock.Advance(59 * time.Second)
	assert.False(t, m.IsUnderLimit("p1", "m1"))
	clock.Advance(2 * time.Second)
	assert.True(t, m.IsUnderLimit("p1", "m1"))
}

func TestTokenLimitCountsTotalTokens(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]config.Provider{
		provider("p1", &config.Limits{TokensPerHour: f(100)}),
	}, WithClock(clock.Now))

	m.Consume("p1", "m1", 60, 39, 0)
	assert.True(t, m.IsUnderLimit("p1", "m1"))
	m.Consume("p1", "m1", 1, 0, 0)
	assert.False(t, m.IsUnderLimit("p1", "m1"))
}

func TestCostLimitExcludedFromAdmission(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]config.Provider{
		provider("p1", &config.Limits{CostPerDay: f(0.01)}),
	}, WithClock(clock.Now))

	// Blow the cost budget by 100x; admission must still pass because
	// pre-flight cost is unknown.
	m.Consume("p1", "m1", 10, 10, 1.0)
	assert.True(t, m.IsUnderLimit("p1", "m1"))

	snaps := m.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, CostPerDay, snaps[0].Type)
	assert.Equal(t, int64(10_000), snaps[0].Consumed)
}

func TestConsumeOvershootIsKept(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(1)}),
	}, WithClock(clock.Now))

	// Two in-flight requests both admitted before either consumed.
	m.Consume("p1", "m1", 0, 0, 0)
	m.Consume("p1", "m1", 0, 0, 0)

	snaps := m.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(2), snaps[0].Consumed)
}

func TestUnlimitedProviderNeverThrottled(t *testing.T) {
	m := NewManager([]config.Provider{provider("p1", nil)})
	for i := 0; i < 1000; i++ {
		m.Consume("p1", "m1", 1000, 1000, 100)
	}
	assert.True(t, m.IsUnderLimit("p1", "m1"))
	assert.Empty(t, m.Snapshot())
}

func TestConsumeUnknownProviderIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.Consume("ghost", "m1", 10, 10, 1)
	assert.True(t, m.IsUnderLimit("ghost", "m1"))
}

func TestReconcilePreservesUnchangedCounters(t *testing.T) {
	clock := newFakeClock()
	m := NewManager([]config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(10), TokensPerMinute: f(100)}),
		provider("p2", &config.Limits{RequestsPerMinute: f(5)}),
	}, WithClock(clock.Now))

	m.Consume("p1", "m1", 20, 0, 0)

	// p1 keeps its request limit, changes the token limit; p2 vanishes and
	// p3 appears.
	m.Reconcile([]config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(10), TokensPerMinute: f(200)}),
		provider("p3", &config.Limits{RequestsPerDay: f(100)}),
	})

	byKey := make(map[string]CounterSnapshot)
	for _, s := range m.Snapshot() {
		byKey[s.ProviderID+"/"+string(s.Type)] = s
	}
	require.Len(t, byKey, 3)

	// Unchanged (points, duration) identity keeps the live counter.
	assert.Equal(t, int64(1), byKey["p1/requestsPerMinute"].Consumed)
	// Changed capacity resets the counter.
	assert.Equal(t, int64(0), byKey["p1/tokensPerMinute"].Consumed)
	assert.Equal(t, int64(200), byKey["p1/tokensPerMinute"].Points)
	// Orphans dropped, new providers picked up.
	assert.NotContains(t, byKey, "p2/requestsPerMinute")
	assert.Contains(t, byKey, "p3/requestsPerDay")
}

func TestRestoreRejectsStaleAndMismatched(t *testing.T) {
	clock := newFakeClock()
	providers := []config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(10), RequestsPerHour: f(50)}),
	}

	m1 := NewManager(providers, WithClock(clock.Now))
	m1.Consume("p1", "m1", 0, 0, 0)
	m1.Consume("p1", "m1", 0, 0, 0)
	snaps := m1.Snapshot()

	// Same config: both counters restore.
	m2 := NewManager(providers, WithClock(clock.Now))
	m2.Restore(snaps)
	for _, s := range m2.Snapshot() {
		assert.Equal(t, int64(2), s.Consumed, string(s.Type))
	}

	// Capacity changed: snapshot ignored.
	m3 := NewManager([]config.Provider{
		provider("p1", &config.Limits{RequestsPerMinute: f(99), RequestsPerHour: f(50)}),
	}, WithClock(clock.Now))
	m3.Restore(snaps)
	for _, s := range m3.Snapshot() {
		if s.Type == RequestsPerMinute {
			assert.Equal(t, int64(0), s.Consumed)
		} else {
			assert.Equal(t, int64(2), s.Consumed)
		}
	}

	// Window expired between save and restore: snapshot ignored.
	clock.Advance(2 * time.Minute)
	m4 := NewManager(providers, WithClock(clock.Now))
	m4.Restore(snaps)
	for _, s := range m4.Snapshot() {
		if s.Type == RequestsPerMinute {
			assert.Equal(t, int64(0), s.Consumed)
		} else {
			assert.Equal(t, int64(2), s.Consumed, "hour window is still live")
		}
	}
}

func TestLimitTypeWindow(t *testing.T) {
	assert.Equal(t, time.Minute, RequestsPerMinute.Window())
	assert.Equal(t, time.Hour, TokensPerHour.Window())
	assert.Equal(t, 24*time.Hour, CostPerDay.Window())
	assert.True(t, CostPerMinute.IsCost())
	assert.False(t, TokensPerDay.IsCost())
}
