// Package config loads and validates the single YAML configuration file
// read once at startup (spec.md §6 Configuration surface), grounded on
// config/config.go's coordinator use of gopkg.in/yaml.v2. It is the
// external collaborator named in spec.md §1 ("CLI/configuration
// loading"); this package owns only parsing and cross-reference
// validation, then hands resolved stores to cmd/gatekeeper/main.go.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/gatekeeper/gatekeeper/internal/aggregate"
	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/feature"
	"github.com/gatekeeper/gatekeeper/internal/rule"
)

// EventSchemaConfig describes one event_name -> property-set entry.
type EventSchemaConfig struct {
	Name     string   `yaml:"name"`
	Required []string `yaml:"required"`
}

// AggregateConfig mirrors aggregate.Config in the YAML shape.
type AggregateConfig struct {
	Name      string `yaml:"name"`
	EventName string `yaml:"event_name"`
	Type      string `yaml:"type"`
	Field     string `yaml:"field"`
}

// RuleConfig mirrors rule.Config in the YAML shape.
type RuleConfig struct {
	Name       string   `yaml:"name"`
	Operation  string   `yaml:"operation"`
	Aggregate1 string   `yaml:"aggregate1"`
	Aggregate2 string   `yaml:"aggregate2"`
	Value      float64  `yaml:"value"`
	Condition  string   `yaml:"condition"`
	DenomMin   *float64 `yaml:"denom_min"`
}

// FeatureConfig describes one named feature and the rules bound to it.
type FeatureConfig struct {
	Name  string   `yaml:"name"`
	Rules []string `yaml:"rules"`
}

// Tunables holds the runtime knobs of spec.md §6, with the defaults
// SUPPLEMENTED FEATURES item 4 of SPEC_FULL.md promotes from the
// source's module-level constants.
type Tunables struct {
	NumConsumers    int           `yaml:"num_consumers"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	BreakerWindow   time.Duration `yaml:"breaker_window"`
	BreakerPeriod   time.Duration `yaml:"breaker_period"`
	DenialThreshold float64       `yaml:"denial_threshold"`
}

func (t *Tunables) applyDefaults() {
	if t.NumConsumers <= 0 {
		t.NumConsumers = 3
	}
	if t.QueueCapacity <= 0 {
		t.QueueCapacity = 1024
	}
	if t.BreakerWindow <= 0 {
		t.BreakerWindow = 10 * time.Minute
	}
	if t.BreakerPeriod <= 0 {
		t.BreakerPeriod = 15 * time.Second
	}
	if t.DenialThreshold <= 0 {
		t.DenialThreshold = 0.05
	}
}

// File is the top-level shape of the YAML configuration document.
type File struct {
	EventSchemas []EventSchemaConfig  `yaml:"event_schemas"`
	Aggregates   []AggregateConfig    `yaml:"aggregates"`
	Rules        []RuleConfig         `yaml:"rules"`
	Features     []FeatureConfig      `yaml:"features"`
	Subscribers  map[string][]string  `yaml:"subscribers"`
	Tunables     Tunables             `yaml:"tunables"`
}

// Resolved is the fully wired, startup-validated set of core stores,
// ready to hand to the consumer pool and HTTP API.
type Resolved struct {
	Schemas     *event.Registry
	Aggregates  *aggregate.Store
	Rules       *rule.Store
	Features    *feature.Registry
	Subscribers map[string][]string
	Tunables    Tunables
}

// Load reads and parses the YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// Build cross-references and validates f, constructing the core stores.
// Every invalid aggregate/rule/feature is accumulated into the returned
// MultiError instead of failing on the first (spec.md §7 config errors
// abort startup; AMBIENT STACK of SPEC_FULL.md: accumulate, don't
// fail-fast).
func Build(f *File) (*Resolved, error) {
	var errs MultiError

	schemas := make([]event.Schema, 0, len(f.EventSchemas))
	for _, s := range f.EventSchemas {
		schemas = append(schemas, event.Schema{Name: s.Name, Required: s.Required})
	}
	schemaRegistry, err := event.NewRegistry(schemas)
	if err != nil {
		errs.Add("event_schemas", err)
	}

	aggStore := aggregate.NewStore()
	for i, ac := range f.Aggregates {
		path := fmt.Sprintf("aggregates[%d:%s]", i, ac.Name)
		if schemaRegistry != nil && !schemaRegistry.Has(ac.EventName) {
			errs.Add(path, fmt.Errorf("unknown event name %q", ac.EventName))
			continue
		}
		a, err := aggregate.New(aggregate.Config{
			Name: ac.Name, EventName: ac.EventName, Type: aggregate.Type(ac.Type), Field: ac.Field,
		})
		if err != nil {
			errs.Add(path, err)
			continue
		}
		if err := aggStore.Add(a); err != nil {
			errs.Add(path, err)
		}
	}

	ruleStore := rule.NewStore()
	for i, rc := range f.Rules {
		path := fmt.Sprintf("rules[%d:%s]", i, rc.Name)
		agg1, err := aggStore.ByName(rc.Aggregate1)
		if err != nil {
			errs.Add(path+".aggregate1", err)
			continue
		}
		var agg2 *aggregate.Aggregate
		if rc.Aggregate2 != "" {
			agg2, err = aggStore.ByName(rc.Aggregate2)
			if err != nil {
				errs.Add(path+".aggregate2", err)
				continue
			}
		}
		r, err := rule.New(rule.Config{
			Name: rc.Name, Operation: rule.Operation(rc.Operation), Aggregate1: rc.Aggregate1,
			Aggregate2: rc.Aggregate2, Value: rc.Value, Condition: rule.Condition(rc.Condition), DenomMin: rc.DenomMin,
		}, agg1, agg2)
		if err != nil {
			errs.Add(path, err)
			continue
		}
		if err := ruleStore.Add(r); err != nil {
			errs.Add(path, err)
		}
	}

	featureRegistry := feature.NewRegistry()
	for i, fc := range f.Features {
		path := fmt.Sprintf("features[%d:%s]", i, fc.Name)
		rules := make([]*rule.Rule, 0, len(fc.Rules))
		ok := true
		for _, rn := range fc.Rules {
			r, err := ruleStore.ByName(rn)
			if err != nil {
				errs.Add(path+".rules["+rn+"]", err)
				ok = false
				continue
			}
			rules = append(rules, r)
		}
		if !ok {
			continue
		}
		ft, err := feature.New(fc.Name, rules)
		if err != nil {
			errs.Add(path, err)
			continue
		}
		if err := featureRegistry.Add(ft); err != nil {
			errs.Add(path, err)
		}
	}

	if err := errs.AsError(); err != nil {
		return nil, err
	}

	f.Tunables.applyDefaults()

	return &Resolved{
		Schemas:     schemaRegistry,
		Aggregates:  aggStore,
		Rules:       ruleStore,
		Features:    featureRegistry,
		Subscribers: f.Subscribers,
		Tunables:    f.Tunables,
	}, nil
}
