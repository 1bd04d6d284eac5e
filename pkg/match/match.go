// Package match evaluates a single property predicate against a property
// bag. It never resolves cohorts or flag dependencies itself — those are
// the evaluator's job — it only implements per-filter operator semantics.
package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Outcome is the three-valued result of evaluating one operator against a
// resolved comparand. There is no separate "filter not applicable" state:
// callers resolve the comparand themselves and only call into this package
// once they have one (or have already decided Inconclusive for a missing
// property).
type Outcome int

const (
	NoMatch Outcome = iota
	Matched
	Inconclusive
)

// Result carries the outcome plus, for Inconclusive, the reason a caller
// should propagate.
type Result struct {
	Outcome Outcome
	Reason  string
}

func matched() Result    { return Result{Outcome: Matched} }
func noMatch() Result    { return Result{Outcome: NoMatch} }
func inconclusive(reason string) Result {
	return Result{Outcome: Inconclusive, Reason: reason}
}

// OperatorFunc compares a resolved comparand against a filter's configured
// value.
type OperatorFunc func(comparand, value any) Result

// operators is the registry of supported comparison operators. "is_not_set"
// is deliberately absent: it must always evaluate as Inconclusive locally.
var operators = map[string]OperatorFunc{
	"exact":          opExact,
	"is_not":         opIsNot,
	"gt":             opNumeric(func(a, b float64) bool { return a > b }),
	"gte":            opNumeric(func(a, b float64) bool { return a >= b }),
	"lt":             opNumeric(func(a, b float64) bool { return a < b }),
	"lte":            opNumeric(func(a, b float64) bool { return a <= b }),
	"icontains":      opIContains(false),
	"not_icontains":  opIContains(true),
	"regex":          opRegex(false),
	"not_regex":      opRegex(true),
	"is_set":         opIsSet,
	"is_date_before": opDate(false),
	"is_date_after":  opDate(true),
}

// Evaluate applies the named operator to a resolved comparand and filter
// value. comparand is the value already resolved from distinct_id or the
// property bag (nil means the property was present but null); callers must
// resolve "missing entirely" to Inconclusive("missing_property") themselves
// before calling Evaluate, since that rule applies uniformly regardless of
// operator.
func Evaluate(operator string, comparand, value any) Result {
	fn, ok := operators[operator]
	if !ok {
		return inconclusive("unknown_operator")
	}

	if comparand == nil && operator != "is_not" {
		return noMatch()
	}
	if comparand == nil && operator == "is_not" {
		return matched()
	}
	return fn(comparand, value)
}

// IsSupported reports whether an operator is implemented locally at all
// ("is_not_set" and anything unrecognized are not).
func IsSupported(operator string) bool {
	_, ok := operators[operator]
	return ok
}

func opExact(comparand, value any) Result {
	if equalAsSet(comparand, value) {
		return matched()
	}
	return noMatch()
}

func opIsNot(comparand, value any) Result {
	if equalAsSet(comparand, value) {
		return noMatch()
	}
	return matched()
}

// equalAsSet treats value as either a scalar or a list of acceptable
// scalars, matching PostHog's convention that "exact" filters can carry a
// list of values.
func equalAsSet(comparand, value any) bool {
	values, ok := value.([]any)
	if !ok {
		return stringify(comparand) == stringify(value)
	}
	target := stringify(comparand)
	for _, v := range values {
		if stringify(v) == target {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func opNumeric(cmp func(a, b float64) bool) OperatorFunc {
	return func(comparand, value any) Result {
		a, aOK := toFloat(comparand)
		b, bOK := toFloat(value)
		if !aOK || !bOK {
			return inconclusive("not_numeric")
		}
		if cmp(a, b) {
			return matched()
		}
		return noMatch()
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func opIContains(negate bool) OperatorFunc {
	return func(comparand, value any) Result {
		hit := strings.Contains(strings.ToLower(stringify(comparand)), strings.ToLower(stringify(value)))
		if hit != negate {
			return matched()
		}
		return noMatch()
	}
}

func opRegex(negate bool) OperatorFunc {
	return func(comparand, value any) Result {
		pattern := stringify(value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return inconclusive("invalid_regex")
		}
		hit := re.MatchString(stringify(comparand))
		if hit != negate {
			return matched()
		}
		return noMatch()
	}
}

func opIsSet(comparand, _ any) Result {
	// comparand == nil is handled before dispatch for every operator except
	// is_not; reaching here means the property resolved to a non-nil value.
	return matched()
}

func opDate(after bool) OperatorFunc {
	return func(comparand, value any) Result {
		left, ok := parseTimestamp(stringify(comparand))
		if !ok {
			return inconclusive("invalid_date")
		}
		right, ok := parseTimestamp(stringify(value))
		if !ok {
			return inconclusive("invalid_date")
		}
		var hit bool
		if after {
			hit = left.After(right)
		} else {
			hit = left.Before(right)
		}
		if hit {
			return matched()
		}
		return noMatch()
	}
}

var relativeDatePattern = regexp.MustCompile(`^-(\d+)([hdwmy])$`)

// parseTimestamp accepts ISO 8601 timestamps or relative expressions of the
// form "-<n>(h|d|w|m|y)", resolved against wall-clock time.
func parseTimestamp(s string) (time.Time, bool) {
	if m := relativeDatePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		var d time.Duration
		switch m[2] {
		case "h":
			d = time.Duration(n) * time.Hour
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		case "w":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "m":
			d = time.Duration(n) * 30 * 24 * time.Hour
		case "y":
			d = time.Duration(n) * 365 * 24 * time.Hour
		}
		return time.Now().UTC().Add(-d), true
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
