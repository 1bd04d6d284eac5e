package ruleset

import (
	"github.com/Sidd-007/analytics-core/pkg/hashing"
	"github.com/Sidd-007/analytics-core/pkg/match"
)

// DecisionKind is the three-valued outcome of a local flag evaluation.
type DecisionKind int

const (
	// DecisionMatch means evaluation terminated normally with a value:
	// false, true, or a variant string, carried in Decision.Value.
	DecisionMatch DecisionKind = iota
	// DecisionInconclusive means local evaluation could not decide; the
	// caller must fall back to the remote evaluator. Decision.Reason
	// explains why.
	DecisionInconclusive
	// DecisionNotFound means the flag key is absent from the ruleset.
	DecisionNotFound
)

// Decision is the result of evaluating one flag for one identity.
type Decision struct {
	Kind   DecisionKind
	Value  any // false | true | variant string; meaningful only for DecisionMatch
	Reason string
}

func matchDecision(value any) Decision           { return Decision{Kind: DecisionMatch, Value: value} }
func inconclusive(reason string) Decision { return Decision{Kind: DecisionInconclusive, Reason: reason} }
func notFound() Decision                  { return Decision{Kind: DecisionNotFound} }

// IsTruthy projects a Decision's value onto a boolean: true itself, or any
// non-empty variant string, is truthy; false or "" is not.
func (d Decision) IsTruthy() bool {
	if d.Kind != DecisionMatch {
		return false
	}
	switch v := d.Value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return false
	}
}

// Evaluate computes the value of a single flag for an identity against a
// ruleset. It is a pure function of (ruleset, identity, wall clock) — no
// internal state carries between calls.
func Evaluate(rs *Ruleset, flagKey string, identity Identity) Decision {
	cache := make(map[string]Decision)
	return evaluateWithCache(rs, flagKey, identity, cache)
}

// EvaluateAll evaluates every flag in the ruleset for one identity, sharing
// one dependency-evaluation cache across the whole sweep.
// It returns the Match results by key and whether any flag came back
// Inconclusive or NotFound, signaling the caller should fall back to remote
// evaluation for a complete picture.
func EvaluateAll(rs *Ruleset, identity Identity) (map[string]Decision, bool) {
	results := make(map[string]Decision)
	fallback := false
	if rs == nil {
		return results, false
	}

	cache := make(map[string]Decision)
	for _, flag := range rs.Flags() {
		decision := evaluateWithCache(rs, flag.Key, identity, cache)
		switch decision.Kind {
		case DecisionMatch:
			results[flag.Key] = decision
		case DecisionInconclusive:
			fallback = true
		case DecisionNotFound:
			// Can't happen: flag.Key always exists in rs. Guarded for
			// completeness against future refactors.
			fallback = true
		}
	}
	return results, fallback
}

// evaluateWithCache is Evaluate's recursive form: the cache is shared across
// an entire top-level call (including flag-dependency lookups) so a flag
// referenced by many dependents is computed at most once.
func evaluateWithCache(rs *Ruleset, flagKey string, identity Identity, cache map[string]Decision) Decision {
	if cached, ok := cache[flagKey]; ok {
		return cached
	}

	decision := evaluateOne(rs, flagKey, identity, cache)
	cache[flagKey] = decision
	return decision
}

func evaluateOne(rs *Ruleset, flagKey string, identity Identity, cache map[string]Decision) Decision {
	flag, ok := rs.Flag(flagKey)
	if !ok {
		return notFound()
	}

	if flag.EnsureExperienceContinuity {
		return inconclusive("experience_continuity")
	}

	if !flag.Active {
		return matchDecision(false)
	}

	distinctID := identity.DistinctID
	properties := identity.PersonProperties

	if flag.Filters.AggregationGroupTypeIndex != nil {
		groupType, ok := rs.GroupType(*flag.Filters.AggregationGroupTypeIndex)
		if !ok {
			return inconclusive("unknown_group_type")
		}
		group, ok := identity.ByType(groupType)
		if !ok {
			// The remote side answers identically for a caller who didn't
			// supply this group: it's a definite false, not inconclusive.
			return matchDecision(false)
		}
		distinctID = group.Key
		properties = group.Properties
	}

	anyInconclusive := false
	for _, condition := range flag.Filters.Groups {
		result := evaluateCondition(rs, &condition, distinctID, properties, identity, cache)
		switch result.kind {
		case conditionInconclusive:
			anyInconclusive = true
		case conditionServerRequired:
			return inconclusive("server_required")
		case conditionMatched:
			rolloutPct := condition.RolloutPercentage
			if !condition.HasRollout {
				rolloutPct = 100
			}
			h := hashing.Hash(flagKey, distinctID, "")
			if !hashing.InRollout(h, rolloutPct) {
				continue
			}
			if condition.Variant != "" && variantKnown(flag, condition.Variant) {
				return matchDecision(condition.Variant)
			}
			if flag.Filters.Multivariate != nil && len(flag.Filters.Multivariate.Variants) > 0 {
				return selectVariant(flag, flagKey, distinctID)
			}
			return matchDecision(true)
		}
	}

	if anyInconclusive {
		return inconclusive("all_properties_unknown")
	}
	return matchDecision(false)
}

func variantKnown(flag *FlagDefinition, key string) bool {
	if flag.Filters.Multivariate == nil {
		return false
	}
	for _, v := range flag.Filters.Multivariate.Variants {
		if v.Key == key {
			return true
		}
	}
	return false
}

// selectVariant buckets distinctID into the cumulative variant ranges, in
// definition order, using a hash salted with "variant". Landing in the gap
// after the last range (sum of percentages < 100) is a valid unassigned
// state, reported as Match(false).
func selectVariant(flag *FlagDefinition, flagKey, distinctID string) Decision {
	h := hashing.Hash(flagKey, distinctID, "variant")

	lower := 0.0
	for _, v := range flag.Filters.Multivariate.Variants {
		upper := lower + v.RolloutPercentage/100.0
		if h >= lower && h < upper {
			return matchDecision(v.Key)
		}
		lower = upper
	}
	return matchDecision(false)
}

type conditionOutcome int

const (
	conditionNoMatch conditionOutcome = iota
	conditionMatched
	conditionInconclusive
	conditionServerRequired
)

type conditionResult struct {
	kind conditionOutcome
}

// evaluateCondition evaluates the AND of a condition's property filters.
// Any Inconclusive filter makes the whole condition Inconclusive; any
// non-match short-circuits to not-match; a filter that must be evaluated
// server-side (an absent static cohort) propagates immediately.
func evaluateCondition(rs *Ruleset, condition *Condition, distinctID string, properties map[string]any, identity Identity, cache map[string]Decision) conditionResult {
	sawInconclusive := false
	for _, filter := range condition.Properties {
		result := evaluatePropertyFilter(rs, &filter, distinctID, properties, identity, cache)
		switch result.Outcome {
		case match.Inconclusive:
			if result.Reason == "server_required" {
				return conditionResult{kind: conditionServerRequired}
			}
			sawInconclusive = true
		case match.NoMatch:
			return conditionResult{kind: conditionNoMatch}
		}
	}
	if sawInconclusive {
		return conditionResult{kind: conditionInconclusive}
	}
	return conditionResult{kind: conditionMatched}
}

// evaluatePropertyFilter resolves one filter's comparand and dispatches to
// the right evaluation path: distinct_id/person property, group property,
// cohort, or flag dependency.
func evaluatePropertyFilter(rs *Ruleset, filter *PropertyFilter, distinctID string, properties map[string]any, identity Identity, cache map[string]Decision) match.Result {
	var result match.Result

	switch filter.Type {
	case PropertyFilterCohort:
		result = evaluateCohortFilter(rs, filter, distinctID, properties, identity, cache)
	case PropertyFilterFlag:
		result = evaluateFlagDependencyFilter(rs, filter, identity, cache)
	default: // person, group, or unset (treated as person/group-agnostic)
		comparand, present := resolveComparand(filter.Key, distinctID, properties)
		if !present {
			result = match.Result{Outcome: match.Inconclusive, Reason: "missing_property"}
		} else {
			result = match.Evaluate(string(filter.Operator), comparand, filter.Value)
		}
	}

	if filter.Negation && result.Outcome != match.Inconclusive {
		if result.Outcome == match.Matched {
			result.Outcome = match.NoMatch
		} else {
			result.Outcome = match.Matched
		}
	}
	return result
}

func resolveComparand(key, distinctID string, properties map[string]any) (any, bool) {
	if key == "distinct_id" {
		return distinctID, true
	}
	value, ok := properties[key]
	return value, ok
}

func evaluateCohortFilter(rs *Ruleset, filter *PropertyFilter, distinctID string, properties map[string]any, identity Identity, cache map[string]Decision) match.Result {
	cohortID, ok := toInt64(filter.Value)
	if !ok {
		return match.Result{Outcome: match.Inconclusive, Reason: "server_required"}
	}
	fs, ok := rs.Cohort(cohortID)
	if !ok {
		return match.Result{Outcome: match.Inconclusive, Reason: "server_required"}
	}
	return evaluateFilterSet(rs, fs, distinctID, properties, identity, cache)
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

// evaluateFilterSet recursively evaluates a (possibly nested) AND/OR
// combination of property filters, used for cohort definitions.
func evaluateFilterSet(rs *Ruleset, fs *FilterSet, distinctID string, properties map[string]any, identity Identity, cache map[string]Decision) match.Result {
	if fs == nil || len(fs.Values) == 0 {
		return match.Result{Outcome: match.Matched}
	}

	anyInconclusive := false
	for _, v := range fs.Values {
		var r match.Result
		switch {
		case v.Filter != nil:
			r = evaluatePropertyFilter(rs, v.Filter, distinctID, properties, identity, cache)
		case v.Nested != nil:
			r = evaluateFilterSet(rs, v.Nested, distinctID, properties, identity, cache)
		default:
			continue
		}

		if r.Outcome == match.Inconclusive {
			if r.Reason == "server_required" {
				return r
			}
			anyInconclusive = true
			continue
		}

		isMatch := r.Outcome == match.Matched
		if fs.Type == FilterSetOr && isMatch {
			return match.Result{Outcome: match.Matched}
		}
		if fs.Type == FilterSetAnd && !isMatch {
			return match.Result{Outcome: match.NoMatch}
		}
	}

	if anyInconclusive {
		return match.Result{Outcome: match.Inconclusive, Reason: "all_properties_unknown"}
	}
	if fs.Type == FilterSetOr {
		return match.Result{Outcome: match.NoMatch}
	}
	return match.Result{Outcome: match.Matched}
}

// evaluateFlagDependencyFilter resolves a filter that depends on the
// outcome of another flag in the same ruleset, recursing through the
// shared cache to avoid re-evaluating a flag the chain already visited.
func evaluateFlagDependencyFilter(rs *Ruleset, filter *PropertyFilter, identity Identity, cache map[string]Decision) match.Result {
	chain := filter.DependencyChain
	if len(chain) == 0 {
		return match.Result{Outcome: match.Inconclusive, Reason: "circular_dependency"}
	}
	if chain[len(chain)-1] != filter.Key {
		return match.Result{Outcome: match.Inconclusive, Reason: "bad_chain"}
	}

	for _, key := range chain {
		evaluateWithCache(rs, key, identity, cache)
	}

	dependency := cache[filter.Key]
	switch dependency.Kind {
	case DecisionNotFound:
		return match.Result{Outcome: match.Inconclusive, Reason: "missing_dependency"}
	case DecisionInconclusive:
		return match.Result{Outcome: match.Inconclusive, Reason: dependency.Reason}
	}

	switch expected := filter.Value.(type) {
	case bool:
		if dependency.IsTruthy() == expected {
			return match.Result{Outcome: match.Matched}
		}
		return match.Result{Outcome: match.NoMatch}
	case string:
		if s, ok := dependency.Value.(string); ok && s == expected {
			return match.Result{Outcome: match.Matched}
		}
		return match.Result{Outcome: match.NoMatch}
	default:
		return match.Result{Outcome: match.Inconclusive, Reason: "bad_chain"}
	}
}
