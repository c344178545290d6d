// Package aggregate implements the typed per-user accumulators described
// in spec.md §3/§4.1, grounded on the update/read semantics of
// _examples/original_source/models/aggregate.py's EventAggregate, with
// COUNT and SUM promoted from integer counters to uuid-sets so that
// duplicate delivery at the update site is idempotent (spec.md §3).
package aggregate

import (
	"fmt"
	"sync"

	"github.com/gatekeeper/gatekeeper/internal/event"
)

// Type is the tagged aggregate kind.
type Type string

const (
	Count         Type = "COUNT"
	DistinctCount Type = "DISTINCT_COUNT"
	Sum           Type = "SUM"
)

// AggregationError reports that an update could not read the field it
// needed from the event's properties. Per spec.md §4.1, the event that
// triggered it is dropped; aggregates already updated this pass are not
// rolled back.
type AggregationError struct {
	Aggregate string
	Field     string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate %q: field %q not found or falsy on event", e.Aggregate, e.Field)
}

// Config describes one configured aggregate.
type Config struct {
	Name      string
	EventName string
	Type      Type
	Field     string // required for DISTINCT_COUNT and SUM, forbidden for COUNT
}

// Validate enforces the invariants of spec.md §3: COUNT forbids a field,
// DISTINCT_COUNT and SUM require one.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("aggregate config: name must not be empty")
	}
	if c.EventName == "" {
		return fmt.Errorf("aggregate %q: event_name must not be empty", c.Name)
	}
	switch c.Type {
	case Count:
		if c.Field != "" {
			return fmt.Errorf("aggregate %q: COUNT forbids field", c.Name)
		}
	case DistinctCount, Sum:
		if c.Field == "" {
			return fmt.Errorf("aggregate %q: %s requires field", c.Name, c.Type)
		}
	default:
		return fmt.Errorf("aggregate %q: unknown type %q", c.Name, c.Type)
	}
	return nil
}

type sumState struct {
	seen  map[string]struct{}
	total float64
}

// Aggregate is the runtime instance of a Config: a mapping
// user_id -> accumulator whose concrete representation is determined by
// Type (spec.md §3 table).
type Aggregate struct {
	cfg Config

	mu       sync.RWMutex
	counts   map[string]map[string]struct{} // COUNT: user_id -> uuid set
	distinct map[string]map[string]struct{} // DISTINCT_COUNT: user_id -> value set
	sums     map[string]*sumState           // SUM: user_id -> (seen uuids, running total)
}

// New constructs an Aggregate from a validated Config.
func New(cfg Config) (*Aggregate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregate{cfg: cfg}
	switch cfg.Type {
	case Count:
		a.counts = make(map[string]map[string]struct{})
	case DistinctCount:
		a.distinct = make(map[string]map[string]struct{})
	case Sum:
		a.sums = make(map[string]*sumState)
	}
	return a, nil
}

func (a *Aggregate) Name() string      { return a.cfg.Name }
func (a *Aggregate) EventName() string { return a.cfg.EventName }
func (a *Aggregate) Type() Type        { return a.cfg.Type }

// Update applies ev to the accumulator for userID. It is safe for
// concurrent use: each aggregate serializes its own updates
// independently, since the processor provides only per-worker FIFO, not
// a global one (spec.md §5).
func (a *Aggregate) Update(userID string, ev *event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.cfg.Type {
	case Count:
		set, ok := a.counts[userID]
		if !ok {
			set = make(map[string]struct{})
			a.counts[userID] = set
		}
		set[ev.UUID] = struct{}{}
		return nil

	case DistinctCount:
		val, ok := ev.Properties.Get(a.cfg.Field)
		if !ok {
			return &AggregationError{Aggregate: a.cfg.Name, Field: a.cfg.Field}
		}
		set, ok := a.distinct[userID]
		if !ok {
			set = make(map[string]struct{})
			a.distinct[userID] = set
		}
		set[fmt.Sprint(val)] = struct{}{}
		return nil

	case Sum:
		val, ok := ev.Properties.Get(a.cfg.Field)
		if !ok {
			return &AggregationError{Aggregate: a.cfg.Name, Field: a.cfg.Field}
		}
		f, err := toFloat(val)
		if err != nil {
			return &AggregationError{Aggregate: a.cfg.Name, Field: a.cfg.Field}
		}
		st, ok := a.sums[userID]
		if !ok {
			st = &sumState{seen: make(map[string]struct{})}
			a.sums[userID] = st
		}
		if _, dup := st.seen[ev.UUID]; dup {
			return nil
		}
		st.seen[ev.UUID] = struct{}{}
		st.total += f
		return nil
	}
	return fmt.Errorf("aggregate %q: unreachable type %q", a.cfg.Name, a.cfg.Type)
}

// Read returns the current value of userID's accumulator: cardinality
// for COUNT/DISTINCT_COUNT, running sum for SUM. Unseen users read 0.
func (a *Aggregate) Read(userID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch a.cfg.Type {
	case Count:
		return float64(len(a.counts[userID]))
	case DistinctCount:
		return float64(len(a.distinct[userID]))
	case Sum:
		if st, ok := a.sums[userID]; ok {
			return st.total
		}
		return 0
	}
	return 0
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}
