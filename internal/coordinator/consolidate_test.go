package coordinator

import (
	"reflect"
	"testing"

	"github.com/loomlang/loom/internal/unit"
)

func failing(index int, fb unit.Feedback) *unit.Attempt {
	return &unit.Attempt{
		Index:  index,
		Result: &unit.VerifyResult{Passed: false, Feedback: fb},
	}
}

func TestConsolidate(t *testing.T) {
	attempts := []*unit.Attempt{
		failing(0, unit.Feedback{
			Diagnostics: []string{"undefined symbol foo", "type mismatch"},
			Details:     map[string]any{"strategy": "build"},
			Tests:       map[string]string{"t1_test.go": "first"},
		}),
		failing(1, unit.Feedback{
			// "undefined symbol foo" repeats modulo trailing space and
			// must be deduplicated.
			Diagnostics: []string{"undefined symbol foo ", "missing return"},
			Details:     map[string]any{"strategy": "tests", "flaky": true},
			Tests:       map[string]string{"t1_test.go": "second", "t2_test.go": "extra"},
		}),
		// Passing and faulted attempts contribute nothing.
		{Index: 2, Result: &unit.VerifyResult{Passed: true}},
		{Index: 3, Err: "generator port fault"},
		nil,
	}

	got := Consolidate(attempts)

	wantDiags := []string{"undefined symbol foo", "type mismatch", "missing return"}
	if !reflect.DeepEqual(got.Diagnostics, wantDiags) {
		t.Errorf("Diagnostics = %v, want %v", got.Diagnostics, wantDiags)
	}

	// First writer wins for detail keys.
	if got.Details["strategy"] != "build" {
		t.Errorf("Details[strategy] = %v, want build", got.Details["strategy"])
	}
	if got.Details["flaky"] != true {
		t.Errorf("Details[flaky] = %v, want true", got.Details["flaky"])
	}

	// Tests are unioned, earliest attempt winning path collisions.
	if got.Tests["t1_test.go"] != "first" {
		t.Errorf("Tests[t1_test.go] = %q, want first", got.Tests["t1_test.go"])
	}
	if got.Tests["t2_test.go"] != "extra" {
		t.Errorf("Tests[t2_test.go] = %q, want extra", got.Tests["t2_test.go"])
	}
}

func TestConsolidateEmpty(t *testing.T) {
	got := Consolidate(nil)
	if !got.IsZero() {
		t.Errorf("expected zero feedback, got %+v", got)
	}
}
