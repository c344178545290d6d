package aggregate

import (
	"fmt"
	"sync"
)

// NotFoundError reports a lookup miss by name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("aggregate %q not found", e.Name)
}

// Store houses every configured Aggregate and indexes it by event name
// for O(1) fan-out at event processing time (spec.md §4.1).
type Store struct {
	mu      sync.RWMutex
	byName  map[string]*Aggregate
	byEvent map[string][]*Aggregate
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		byName:  make(map[string]*Aggregate),
		byEvent: make(map[string][]*Aggregate),
	}
}

// Add inserts agg, indexing it by its configured event name. Only called
// during startup; fails if the name is already taken.
func (s *Store) Add(agg *Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[agg.Name()]; exists {
		return fmt.Errorf("aggregate %q: duplicate aggregate", agg.Name())
	}
	s.byName[agg.Name()] = agg
	s.byEvent[agg.EventName()] = append(s.byEvent[agg.EventName()], agg)
	return nil
}

// ByEventName returns the (possibly empty) list of aggregates that
// observe eventName. Never fails.
func (s *Store) ByEventName(eventName string) []*Aggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEvent[eventName]
}

// ByName returns the aggregate registered under name.
func (s *Store) ByName(name string) (*Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return a, nil
}
