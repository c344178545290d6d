// Package feature implements the platform feature registry of spec.md
// §3/§4.3: a named gate whose access depends on every rule in its list
// holding. Grounded on the name/rule-list shape of
// _examples/original_source/models/rules.py's PlatformFeature, restructured
// per spec.md to be evaluated externally by the event processor and grant
// service rather than owning its own per-user flag map.
package feature

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gatekeeper/gatekeeper/internal/rule"
)

var nameRE = regexp.MustCompile(`^[a-z]{1,16}$`)

// Feature is a named, ordered, non-empty list of rules that must all
// abide for a user to retain access.
type Feature struct {
	name  string
	rules []*rule.Rule
}

// New constructs a Feature, enforcing the name shape and non-empty rule
// list invariants of spec.md §3.
func New(name string, rules []*rule.Rule) (*Feature, error) {
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("feature name %q: must be 1-16 lowercase ascii letters", name)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("feature %q: rules must not be empty", name)
	}
	cp := make([]*rule.Rule, len(rules))
	copy(cp, rules)
	return &Feature{name: name, rules: cp}, nil
}

func (f *Feature) Name() string       { return f.name }
func (f *Feature) Rules() []*rule.Rule { return f.rules }

// Abides reports whether every rule in the feature currently holds for
// userID (spec.md §4.5 step 5's AND-semantics).
func (f *Feature) Abides(userID string) bool {
	for _, r := range f.rules {
		if !r.Abides(userID) {
			return false
		}
	}
	return true
}

// NotFoundError reports a lookup miss by name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("feature %q not found", e.Name)
}

// Registry owns every configured Feature and provides forward, reverse,
// and enumeration views (spec.md §4.3). Read-mostly after startup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Feature
	byRule map[string][]*Feature
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Feature),
		byRule: make(map[string][]*Feature),
	}
}

// Add inserts f, indexing it under the name of every rule it contains.
// Fails on duplicate feature name.
func (r *Registry) Add(f *Feature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[f.Name()]; exists {
		return fmt.Errorf("feature %q: duplicate feature", f.Name())
	}
	r.byName[f.Name()] = f
	for _, ru := range f.rules {
		r.byRule[ru.Name()] = append(r.byRule[ru.Name()], f)
	}
	return nil
}

// ByName returns the feature registered under name.
func (r *Registry) ByName(name string) (*Feature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return f, nil
}

// ByRule returns the (possibly empty) list of features that include
// ruleName.
func (r *Registry) ByRule(ruleName string) []*Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRule[ruleName]
}

// List returns every registered feature, in no particular order.
func (r *Registry) List() []*Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Feature, 0, len(r.byName))
	for _, f := range r.byName {
		out = append(out, f)
	}
	return out
}
