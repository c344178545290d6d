// Package processor implements the event processor of spec.md §4.5,
// stitching together the aggregate store, rule store, feature registry,
// and grant service for each event. Grounded directly on
// _examples/original_source/services/event_processer.py's
// EventProcessor.process_event two-pass algorithm.
package processor

import (
	"log/slog"

	"github.com/gatekeeper/gatekeeper/internal/aggregate"
	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/feature"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
	"github.com/gatekeeper/gatekeeper/internal/rule"
)

// GrantService is the subset of internal/grant.Service the processor
// needs.
type GrantService interface {
	Grant(userID, featureName string)
	Revoke(userID, featureName string)
}

// Processor orchestrates aggregate updates, rule re-evaluation, and
// feature grant/revoke for each delivered event (spec.md §4.5).
type Processor struct {
	aggregates *aggregate.Store
	rules      *rule.Store
	features   *feature.Registry
	grants     GrantService
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New constructs a Processor wired to the four core stores.
func New(aggregates *aggregate.Store, rules *rule.Store, features *feature.Registry, grants GrantService, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		aggregates: aggregates,
		rules:      rules,
		features:   features,
		grants:     grants,
		metrics:    m,
		logger:     logger,
	}
}

// Process runs the single-pass algorithm of spec.md §4.5 for one event.
// A processing error is logged and the event is dropped; aggregate
// mutations already applied are not rolled back (spec.md §7).
func (p *Processor) Process(ev *event.Event) {
	if err := p.process(ev); err != nil {
		p.logger.Error("event processing failed", "uuid", ev.UUID, "name", ev.Name, "err", err)
		p.metrics.EventsDropped.WithLabelValues(ev.Name).Inc()
		return
	}
	p.metrics.EventsProcessed.WithLabelValues(ev.Name).Inc()
}

func (p *Processor) process(ev *event.Event) error {
	// Step 1: fetch aggregates affected by event.name. None is a silent
	// no-op.
	aggregates := p.aggregates.ByEventName(ev.Name)
	if len(aggregates) == 0 {
		return nil
	}

	// Step 2: update each affected aggregate and collect the set of rules
	// indexed under its name.
	touchedRules := make(map[string]*rule.Rule)
	for _, agg := range aggregates {
		if err := agg.Update(ev.Properties.UserID, ev); err != nil {
			return err
		}
		for _, r := range p.rules.ByAggregate(agg.Name()) {
			touchedRules[r.Name()] = r
		}
	}

	// Step 3: evaluate each touched rule and collect the failing ones.
	failingRules := make(map[string]*rule.Rule)
	for name, r := range touchedRules {
		if !r.Abides(ev.Properties.UserID) {
			failingRules[name] = r
		}
	}

	// Step 4: collect the features each failing rule participates in.
	impactedFeatures := make(map[string]*feature.Feature)
	for name := range failingRules {
		for _, f := range p.features.ByRule(name) {
			impactedFeatures[f.Name()] = f
		}
	}

	// Step 5: re-evaluate each impacted feature's entire rule list and
	// grant or revoke accordingly.
	for _, f := range impactedFeatures {
		if f.Abides(ev.Properties.UserID) {
			p.grants.Grant(ev.Properties.UserID, f.Name())
		} else {
			p.grants.Revoke(ev.Properties.UserID, f.Name())
		}
	}

	return nil
}
