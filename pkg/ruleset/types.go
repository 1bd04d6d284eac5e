// Package ruleset holds the immutable flag/cohort/group-type data model
// published by the ruleset loader and consumed by the local evaluator, plus
// the local evaluator itself.
package ruleset

// Identity is the subject an evaluation or capture is about.
type Identity struct {
	DistinctID       string
	PersonProperties map[string]any
	Groups           []Group
}

// Group is a non-person entity flags and events can be keyed against.
type Group struct {
	Type       string
	Key        string
	Properties map[string]any
}

// ByType returns the group with the given type, if the identity carries one.
func (id Identity) ByType(groupType string) (Group, bool) {
	for _, g := range id.Groups {
		if g.Type == groupType {
			return g, true
		}
	}
	return Group{}, false
}

// Variant is one labeled bucket of a multivariate flag.
type Variant struct {
	Key               string
	RolloutPercentage float64
}

// PropertyFilterType distinguishes what a PropertyFilter's key is resolved
// against.
type PropertyFilterType string

const (
	PropertyFilterPerson PropertyFilterType = "person"
	PropertyFilterGroup  PropertyFilterType = "group"
	PropertyFilterCohort PropertyFilterType = "cohort"
	PropertyFilterFlag   PropertyFilterType = "flag"
)

// Operator enumerates the supported property comparison operators. Anything
// not in this set (notably "is_not_set") is unsupported locally.
type Operator string

const (
	OpExact        Operator = "exact"
	OpIsNot        Operator = "is_not"
	OpGT           Operator = "gt"
	OpGTE          Operator = "gte"
	OpLT           Operator = "lt"
	OpLTE          Operator = "lte"
	OpIContains    Operator = "icontains"
	OpNotIContains Operator = "not_icontains"
	OpRegex        Operator = "regex"
	OpNotRegex     Operator = "not_regex"
	OpIsSet        Operator = "is_set"
	OpIsDateBefore Operator = "is_date_before"
	OpIsDateAfter  Operator = "is_date_after"
)

// PropertyFilter is one predicate inside a Condition's AND-list, or a leaf
// of a nested FilterSet (cohort definitions).
type PropertyFilter struct {
	Key             string
	Value           any
	Operator        Operator
	Type            PropertyFilterType
	Negation        bool
	DependencyChain []string // only meaningful when Type == PropertyFilterFlag
}

// FilterSetCombinator is the boolean combinator for a FilterSet.
type FilterSetCombinator string

const (
	FilterSetAnd FilterSetCombinator = "AND"
	FilterSetOr  FilterSetCombinator = "OR"
)

// FilterSetValue is either a PropertyFilter or a nested FilterSet.
type FilterSetValue struct {
	Filter *PropertyFilter
	Nested *FilterSet
}

// FilterSet is a (possibly nested) boolean combination of property filters,
// used to express cohorts.
type FilterSet struct {
	Type   FilterSetCombinator
	Values []FilterSetValue
}

// Condition is one entry of a flag's filters.groups: a conjunction of
// property filters plus an optional rollout percentage and variant
// override.
type Condition struct {
	Properties        []PropertyFilter
	RolloutPercentage float64 // used only when HasRollout is set; no rollout given means 100
	HasRollout        bool
	Variant           string // optional forced variant
}

// Multivariate holds the variant table for a multivariate flag.
type Multivariate struct {
	Variants []Variant
}

// Filters is the body of a FlagDefinition's targeting configuration.
type Filters struct {
	Groups                    []Condition
	Multivariate              *Multivariate
	AggregationGroupTypeIndex *int
	Payloads                  map[string]string
}

// FlagDefinition is one flag as published by the local-evaluation endpoint.
type FlagDefinition struct {
	Key                        string
	Active                     bool
	EnsureExperienceContinuity bool
	Filters                    Filters
}

// Ruleset is the immutable bundle of flags, cohorts and group-type mapping
// returned by the local-evaluation endpoint. Once published it is never
// mutated in place; a refresh builds a new Ruleset and swaps the pointer.
type Ruleset struct {
	flags            []FlagDefinition
	flagsByKey       map[string]*FlagDefinition
	Cohorts          map[int64]*FilterSet
	GroupTypeMapping map[int]string
}

// New builds a Ruleset from a flag list plus cohorts and group-type mapping,
// preserving flag order while indexing by key for lookup.
func New(flags []FlagDefinition, cohorts map[int64]*FilterSet, groupTypeMapping map[int]string) *Ruleset {
	if cohorts == nil {
		cohorts = map[int64]*FilterSet{}
	}
	if groupTypeMapping == nil {
		groupTypeMapping = map[int]string{}
	}

	byKey := make(map[string]*FlagDefinition, len(flags))
	rs := &Ruleset{
		flags:            flags,
		Cohorts:          cohorts,
		GroupTypeMapping: groupTypeMapping,
	}
	for i := range rs.flags {
		byKey[rs.flags[i].Key] = &rs.flags[i]
	}
	rs.flagsByKey = byKey
	return rs
}

// Flags returns the flags in their original (lookup-stable) order.
func (r *Ruleset) Flags() []FlagDefinition {
	if r == nil {
		return nil
	}
	return r.flags
}

// Flag looks a flag up by key.
func (r *Ruleset) Flag(key string) (*FlagDefinition, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.flagsByKey[key]
	return f, ok
}

// GroupType resolves an aggregationGroupTypeIndex to its group-type name.
func (r *Ruleset) GroupType(index int) (string, bool) {
	if r == nil {
		return "", false
	}
	name, ok := r.GroupTypeMapping[index]
	return name, ok
}

// Cohort looks a cohort's filter set up by id.
func (r *Ruleset) Cohort(id int64) (*FilterSet, bool) {
	if r == nil {
		return nil, false
	}
	fs, ok := r.Cohorts[id]
	return fs, ok
}
