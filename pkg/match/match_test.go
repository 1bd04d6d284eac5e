package match

import "testing"

func TestEvaluateExact(t *testing.T) {
	r := Evaluate("exact", "test@posthog.com", "test@posthog.com")
	if r.Outcome != Matched {
		t.Fatalf("expected Matched, got %v", r)
	}

	r = Evaluate("exact", "other@example.com", "test@posthog.com")
	if r.Outcome != NoMatch {
		t.Fatalf("expected NoMatch, got %v", r)
	}
}

func TestEvaluateExactList(t *testing.T) {
	r := Evaluate("exact", "b", []any{"a", "b", "c"})
	if r.Outcome != Matched {
		t.Fatalf("expected Matched for value in list, got %v", r)
	}
}

func TestEvaluateIsNotNullComparand(t *testing.T) {
	r := Evaluate("is_not", nil, "x")
	if r.Outcome != Matched {
		t.Fatalf("is_not against nil comparand must match, got %v", r)
	}

	r = Evaluate("exact", nil, "x")
	if r.Outcome != NoMatch {
		t.Fatalf("exact against nil comparand must not match, got %v", r)
	}
}

func TestEvaluateNumeric(t *testing.T) {
	if Evaluate("gt", 5, 3).Outcome != Matched {
		t.Fatal("5 > 3 should match")
	}
	if Evaluate("lte", 3, 3).Outcome != Matched {
		t.Fatal("3 <= 3 should match")
	}
	if Evaluate("gt", "not-a-number", 3).Outcome != Inconclusive {
		t.Fatal("non-numeric comparand should be inconclusive")
	}
}

func TestEvaluateIContains(t *testing.T) {
	if Evaluate("icontains", "Hello World", "world").Outcome != Matched {
		t.Fatal("case-insensitive substring should match")
	}
	if Evaluate("not_icontains", "Hello World", "world").Outcome != NoMatch {
		t.Fatal("not_icontains should be negation of icontains")
	}
}

func TestEvaluateRegexInvalidPattern(t *testing.T) {
	r := Evaluate("regex", "abc", "(")
	if r.Outcome != Inconclusive {
		t.Fatalf("invalid regex should be inconclusive, got %v", r)
	}
}

func TestEvaluateIsSet(t *testing.T) {
	if Evaluate("is_set", "anything", nil).Outcome != Matched {
		t.Fatal("is_set with a present value should match")
	}
}

func TestIsNotSetUnsupported(t *testing.T) {
	if IsSupported("is_not_set") {
		t.Fatal("is_not_set must not be locally supported per spec")
	}
}

func TestEvaluateDate(t *testing.T) {
	if Evaluate("is_date_before", "2020-01-01", "-1d").Outcome != Matched {
		t.Fatal("a date in 2020 should be before one day ago")
	}
	if Evaluate("is_date_after", "2999-01-01", "-1d").Outcome != Matched {
		t.Fatal("a date far in the future should be after one day ago")
	}
}

func TestUnknownOperator(t *testing.T) {
	r := Evaluate("made_up_operator", "x", "y")
	if r.Outcome != Inconclusive {
		t.Fatalf("unknown operator must be inconclusive, got %v", r)
	}
}
