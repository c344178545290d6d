// Package grant implements the user-feature grant service of spec.md
// §3/§4.4: per-(user, feature) grant state, a sliding-window access log,
// and a periodic circuit-breaker evaluator. Grounded directly on
// _examples/original_source/services/user_feature.py's UserFeatureService,
// including its single-lock concurrency model and its presence-only
// windowed-set eviction behavior (spec.md §4.4/§9, preserved rather than
// fixed per SPEC_FULL.md's OPEN QUESTION DECISIONS).
package grant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/feature"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
)

// Notifier is the subset of internal/notifier.Notifier the service needs.
// It is a narrow interface so tests can substitute a recorder without
// standing up an HTTP server.
type Notifier interface {
	Notify(ev event.Event)
}

const (
	// DefaultWindow is the sliding access-log window (spec.md §4.4).
	DefaultWindow = 10 * time.Minute
	// DefaultPeriod is the circuit-breaker evaluation cadence (spec.md §4.4).
	DefaultPeriod = 15 * time.Second
	// DefaultThreshold is the denial rate above which a circuit opens (spec.md §4.4).
	DefaultThreshold = 0.05
)

type logEntry struct {
	at      time.Time
	userID  string
	success bool
}

// Service is the user-feature grant service. One coarse mutex guards
// grants, circuits, the access log, and the window sets; it is acquired
// for the duration of each public operation (spec.md §5), which
// serializes the breaker scan against grant/revoke/has_grant.
type Service struct {
	clock     quartz.Clock
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	window    time.Duration
	period    time.Duration
	threshold float64

	mu sync.Mutex

	// features known at construction time; spec.md §9: "the default
	// grants map is materialized from the registry's feature list at
	// service construction... the source treats the registry as frozen
	// after startup."
	features []*feature.Feature

	grants   map[string]map[string]bool // user_id -> feature -> bool
	circuits map[string]bool            // feature -> closed(true)/open(false)

	accessLog      map[string][]logEntry          // feature -> append-only sequence, pruned head
	usersInWindow  map[string]map[string]struct{} // feature -> distinct user_ids
	deniedInWindow map[string]map[string]struct{} // feature -> distinct denied user_ids
}

// Option configures non-default tunables.
type Option func(*Service)

// WithWindow overrides the sliding access-log window.
func WithWindow(d time.Duration) Option { return func(s *Service) { s.window = d } }

// WithPeriod overrides the circuit-breaker evaluation cadence.
func WithPeriod(d time.Duration) Option { return func(s *Service) { s.period = d } }

// WithThreshold overrides the denial-rate threshold.
func WithThreshold(t float64) Option { return func(s *Service) { s.threshold = t } }

// WithClock overrides the clock, for deterministic tests.
func WithClock(c quartz.Clock) Option { return func(s *Service) { s.clock = c } }

// NewService constructs a Service. features is the registry's feature
// list at startup; it is frozen for the service's lifetime.
func NewService(features []*feature.Feature, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		clock:          quartz.NewReal(),
		notifier:       notifier,
		metrics:        m,
		logger:         logger,
		window:         DefaultWindow,
		period:         DefaultPeriod,
		threshold:      DefaultThreshold,
		features:       features,
		grants:         make(map[string]map[string]bool),
		circuits:       make(map[string]bool, len(features)),
		accessLog:      make(map[string][]logEntry, len(features)),
		usersInWindow:  make(map[string]map[string]struct{}, len(features)),
		deniedInWindow: make(map[string]map[string]struct{}, len(features)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, f := range features {
		s.circuits[f.Name()] = true
		s.usersInWindow[f.Name()] = make(map[string]struct{})
		s.deniedInWindow[f.Name()] = make(map[string]struct{})
	}
	return s
}

func (s *Service) ensureUser(userID string) map[string]bool {
	um, ok := s.grants[userID]
	if !ok {
		um = make(map[string]bool, len(s.features))
		for _, f := range s.features {
			um[f.Name()] = true
		}
		s.grants[userID] = um
	}
	return um
}

// Grant sets (userID, featureName)'s true grant state to true. A no-op
// that changes nothing emits no notification (spec.md §8 invariant 7).
func (s *Service) Grant(userID, featureName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	um := s.ensureUser(userID)
	if um[featureName] {
		return
	}
	um[featureName] = true
	s.metrics.Grants.WithLabelValues(featureName).Inc()
	s.notify("access_granted", userID, featureName)
}

// Revoke sets (userID, featureName)'s true grant state to false.
// Symmetric with Grant: per spec.md §9, a revoke on a never-touched user
// does transition, because the default materializes to true first.
func (s *Service) Revoke(userID, featureName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	um := s.ensureUser(userID)
	if !um[featureName] {
		return
	}
	um[featureName] = false
	s.metrics.Revokes.WithLabelValues(featureName).Inc()
	s.notify("access_revoked", userID, featureName)
}

// HasGrant reports whether userID may access featureName: true if the
// circuit is open (force-allow), or if the true grant state is true. A
// never-touched user reads true without materializing any state
// (spec.md §9), since only Grant/Revoke write-path operations
// materialize a user's per-feature map.
func (s *Service) HasGrant(userID, featureName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	trueGrant := true
	if um, ok := s.grants[userID]; ok {
		if v, ok2 := um[featureName]; ok2 {
			trueGrant = v
		}
	}
	open := !s.circuits[featureName]
	s.logAccess(featureName, userID, trueGrant)
	return open || trueGrant
}

func (s *Service) notify(name, userID, featureName string) {
	s.notifier.Notify(event.Event{
		UUID:      event.NewUUID(),
		Name:      name,
		Timestamp: s.clock.Now(),
		Properties: event.Properties{
			UserID: userID,
			Fields: map[string]any{"feature": featureName},
		},
	})
}

// logAccess records one access attempt and performs the sliding-window
// maintenance of spec.md §4.4. Must be called with s.mu held.
func (s *Service) logAccess(featureName, userID string, success bool) {
	now := s.clock.Now()
	log := append(s.accessLog[featureName], logEntry{at: now, userID: userID, success: success})

	cutoff := now.Add(-s.window)
	i := 0
	users := s.usersInWindow[featureName]
	denied := s.deniedInWindow[featureName]
	for i < len(log) && log[i].at.Before(cutoff) {
		old := log[i]
		// Known subtlety preserved from the source (spec.md §4.4/§9): the
		// windowed sets carry only presence, not per-entry refcounts, so
		// pruning one stale entry for a user evicts their membership even
		// if a later in-window entry for the same user still exists.
		delete(users, old.userID)
		if !old.success {
			delete(denied, old.userID)
		}
		i++
	}
	log = log[i:]
	s.accessLog[featureName] = log

	users[userID] = struct{}{}
	if !success {
		denied[userID] = struct{}{}
	}
}

// EvaluateCircuitBreakersOnce runs one pass of the breaker evaluator
// (spec.md §4.4). Features with zero users in the window are skipped;
// their circuit state is preserved.
func (s *Service) EvaluateCircuitBreakersOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.features {
		name := f.Name()
		total := len(s.usersInWindow[name])
		if total == 0 {
			continue
		}
		denied := len(s.deniedInWindow[name])
		rate := float64(denied) / float64(total)
		s.metrics.DenialRate.WithLabelValues(name).Set(rate)
		if rate > s.threshold {
			if s.circuits[name] {
				s.logger.Warn("circuit opened", "feature", name, "denial_rate", rate)
			}
			s.circuits[name] = false
		} else {
			if !s.circuits[name] {
				s.logger.Info("circuit closed", "feature", name, "denial_rate", rate)
			}
			s.circuits[name] = true
		}
		if s.circuits[name] {
			s.metrics.CircuitOpen.WithLabelValues(name).Set(0)
		} else {
			s.metrics.CircuitOpen.WithLabelValues(name).Set(1)
		}
	}
}

// Run evaluates circuit breakers every s.period until ctx is cancelled.
// Cancellation is a clean exit, not an error (spec.md §7).
func (s *Service) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.EvaluateCircuitBreakersOnce()
		}
	}
}
