package grant

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper/gatekeeper/internal/aggregate"
	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/feature"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
	"github.com/gatekeeper/gatekeeper/internal/rule"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

type recordingNotifier struct {
	events []event.Event
}

func (r *recordingNotifier) Notify(ev event.Event) { r.events = append(r.events, ev) }

func mkFeature(t *testing.T, name string) *feature.Feature {
	t.Helper()
	a, err := aggregate.New(aggregate.Config{Name: name + "_agg", EventName: "e", Type: aggregate.Count})
	require.NoError(t, err)
	r, err := rule.New(rule.Config{Name: name + "_rule", Operation: rule.Value, Aggregate1: name + "_agg", Value: 2, Condition: rule.LessThan}, a, nil)
	require.NoError(t, err)
	f, err := feature.New(name, []*rule.Rule{r})
	require.NoError(t, err)
	return f
}

func TestGrantNoopEmitsNoNotification(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	s.Grant("user_A", "message")
	require.Empty(t, n.events, "default grant is already true; grant is a no-op")
}

func TestRevokeThenGrantNotifies(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	s.Revoke("user_A", "message")
	require.Len(t, n.events, 1)
	require.Equal(t, "access_revoked", n.events[0].Name)
	require.False(t, s.HasGrant("user_A", "message"))

	s.Grant("user_A", "message")
	require.Len(t, n.events, 2)
	require.Equal(t, "access_granted", n.events[1].Name)
	require.True(t, s.HasGrant("user_A", "message"))
}

func TestRevokeNoopWhenAlreadyFalse(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	s.Revoke("user_A", "message")
	require.Len(t, n.events, 1)
	s.Revoke("user_A", "message")
	require.Len(t, n.events, 1, "second revoke is a no-op")
}

func TestHasGrantIgnoresGrantWhenCircuitOpen(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	s.Revoke("user_A", "message")
	s.mu.Lock()
	s.circuits["message"] = false
	s.mu.Unlock()

	require.True(t, s.HasGrant("user_A", "message"), "open circuit force-allows regardless of grant")
}

func TestUntouchedUserDefaultsTrue(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	require.True(t, s.HasGrant("never_seen", "message"))
	s.mu.Lock()
	_, materialized := s.grants["never_seen"]
	s.mu.Unlock()
	require.False(t, materialized, "read-only HasGrant must not materialize per-user state")
}

func TestSlidingWindowPruning(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	clock := quartz.NewMock(t)
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger(), WithClock(clock))

	s.HasGrant("user_A", "message")
	clock.Advance(11 * time.Minute)
	s.HasGrant("user_B", "message")

	s.mu.Lock()
	_, stillPresent := s.usersInWindow["message"]["user_A"]
	s.mu.Unlock()
	require.False(t, stillPresent, "entries older than the window must be pruned")
}

func TestCircuitBreakerOpensAboveThreshold(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	clock := quartz.NewMock(t)
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger(), WithClock(clock), WithThreshold(0.05))

	for i := 0; i < 94; i++ {
		s.HasGrant(userID(i), "message")
	}
	for i := 94; i < 100; i++ {
		s.Revoke(userID(i), "message")
		s.HasGrant(userID(i), "message")
	}

	s.EvaluateCircuitBreakersOnce()

	require.True(t, s.HasGrant(userID(94), "message"), "6% denial rate exceeds 5% threshold; circuit opens")
}

func TestCircuitBreakerSkipsFeatureWithNoWindowUsers(t *testing.T) {
	f := mkFeature(t, "message")
	n := &recordingNotifier{}
	s := NewService([]*feature.Feature{f}, n, testMetrics(), testLogger())

	s.EvaluateCircuitBreakersOnce()
	require.True(t, s.HasGrant("user_A", "message"), "circuit state preserved (closed) when no users observed")
}

func userID(i int) string {
	return "user_" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
