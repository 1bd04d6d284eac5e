package client

import (
	"strconv"

	"github.com/Sidd-007/analytics-core/pkg/ruleset"
)

// wireRuleset mirrors the local-evaluation endpoint's JSON body:
// {flags: [...], cohorts: {...}, group_type_mapping: {...}}.
type wireRuleset struct {
	Flags            []wireFlag         `json:"flags"`
	Cohorts          map[string]wireSet `json:"cohorts"`
	GroupTypeMapping map[string]string  `json:"group_type_mapping"`
}

type wireFlag struct {
	Key                        string      `json:"key"`
	Active                     bool        `json:"active"`
	EnsureExperienceContinuity bool        `json:"ensure_experience_continuity"`
	Filters                    wireFilters `json:"filters"`
}

type wireFilters struct {
	Groups                    []wireCondition   `json:"groups"`
	Multivariate              *wireMultivariate `json:"multivariate"`
	AggregationGroupTypeIndex *int              `json:"aggregation_group_type_index"`
	Payloads                  map[string]string `json:"payloads"`
}

type wireCondition struct {
	Properties        []wireProperty `json:"properties"`
	RolloutPercentage *float64       `json:"rollout_percentage"`
	Variant           string         `json:"variant"`
}

type wireMultivariate struct {
	Variants []wireVariant `json:"variants"`
}

type wireVariant struct {
	Key               string  `json:"key"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

type wireProperty struct {
	Key             string   `json:"key"`
	Value           any      `json:"value"`
	Operator        string   `json:"operator"`
	Type            string   `json:"type"`
	Negation        bool     `json:"negation"`
	DependencyChain []string `json:"dependency_chain"`
}

type wireSet struct {
	Type   string           `json:"type"`
	Values []wireSetElement `json:"values"`
}

// wireSetElement is either a leaf property filter or a nested set; exactly
// one of the two is populated once unmarshaled by decodeWireSet.
type wireSetElement struct {
	Filter *wireProperty
	Nested *wireSet
}

// toRuleset converts the wire representation into the immutable model
// pkg/ruleset works with. It never mutates its input.
func (w *wireRuleset) toRuleset() *ruleset.Ruleset {
	flags := make([]ruleset.FlagDefinition, 0, len(w.Flags))
	for _, f := range w.Flags {
		flags = append(flags, f.toFlagDefinition())
	}

	cohorts := make(map[int64]*ruleset.FilterSet, len(w.Cohorts))
	for idStr, set := range w.Cohorts {
		id, ok := parseCohortID(idStr)
		if !ok {
			continue
		}
		fs := set.toFilterSet()
		cohorts[id] = fs
	}

	groupTypeMapping := make(map[int]string, len(w.GroupTypeMapping))
	for idxStr, name := range w.GroupTypeMapping {
		idx, ok := parseGroupIndex(idxStr)
		if !ok {
			continue
		}
		groupTypeMapping[idx] = name
	}

	return ruleset.New(flags, cohorts, groupTypeMapping)
}

func (f *wireFlag) toFlagDefinition() ruleset.FlagDefinition {
	groups := make([]ruleset.Condition, 0, len(f.Filters.Groups))
	for _, g := range f.Filters.Groups {
		groups = append(groups, g.toCondition())
	}

	var mv *ruleset.Multivariate
	if f.Filters.Multivariate != nil {
		variants := make([]ruleset.Variant, 0, len(f.Filters.Multivariate.Variants))
		for _, v := range f.Filters.Multivariate.Variants {
			variants = append(variants, ruleset.Variant{Key: v.Key, RolloutPercentage: v.RolloutPercentage})
		}
		mv = &ruleset.Multivariate{Variants: variants}
	}

	return ruleset.FlagDefinition{
		Key:                        f.Key,
		Active:                     f.Active,
		EnsureExperienceContinuity: f.EnsureExperienceContinuity,
		Filters: ruleset.Filters{
			Groups:                    groups,
			Multivariate:              mv,
			AggregationGroupTypeIndex: f.Filters.AggregationGroupTypeIndex,
			Payloads:                  f.Filters.Payloads,
		},
	}
}

func (c *wireCondition) toCondition() ruleset.Condition {
	properties := make([]ruleset.PropertyFilter, 0, len(c.Properties))
	for _, p := range c.Properties {
		properties = append(properties, p.toPropertyFilter())
	}
	cond := ruleset.Condition{
		Properties: properties,
		Variant:    c.Variant,
	}
	if c.RolloutPercentage != nil {
		cond.HasRollout = true
		cond.RolloutPercentage = *c.RolloutPercentage
	}
	return cond
}

func (p *wireProperty) toPropertyFilter() ruleset.PropertyFilter {
	return ruleset.PropertyFilter{
		Key:             p.Key,
		Value:           p.Value,
		Operator:        ruleset.Operator(p.Operator),
		Type:            ruleset.PropertyFilterType(p.Type),
		Negation:        p.Negation,
		DependencyChain: p.DependencyChain,
	}
}

func (s *wireSet) toFilterSet() *ruleset.FilterSet {
	if s == nil {
		return nil
	}
	combinator := ruleset.FilterSetAnd
	if s.Type == "OR" {
		combinator = ruleset.FilterSetOr
	}
	values := make([]ruleset.FilterSetValue, 0, len(s.Values))
	for _, v := range s.Values {
		switch {
		case v.Filter != nil:
			pf := v.Filter.toPropertyFilter()
			values = append(values, ruleset.FilterSetValue{Filter: &pf})
		case v.Nested != nil:
			values = append(values, ruleset.FilterSetValue{Nested: v.Nested.toFilterSet()})
		}
	}
	return &ruleset.FilterSet{Type: combinator, Values: values}
}

func parseCohortID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseGroupIndex(s string) (int, bool) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
