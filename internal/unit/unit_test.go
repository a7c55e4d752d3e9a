package unit

import (
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusGenerating, false},
		{StatusVerifying, false},
		{StatusRefining, false},
		{StatusDone, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeedbackClone(t *testing.T) {
	original := Feedback{
		Diagnostics: []string{"a"},
		Tests:       map[string]string{"t.go": "x"},
		Details:     map[string]any{"k": 1},
	}

	clone := original.Clone()
	clone.Diagnostics[0] = "changed"
	clone.Tests["t.go"] = "changed"
	clone.Details["k"] = 2

	if original.Diagnostics[0] != "a" || original.Tests["t.go"] != "x" || original.Details["k"] != 1 {
		t.Error("mutating a clone must not affect the original")
	}
}

func TestFeedbackIsZero(t *testing.T) {
	if !(Feedback{}).IsZero() {
		t.Error("empty feedback should be zero")
	}
	if (Feedback{Diagnostics: []string{"x"}}).IsZero() {
		t.Error("feedback with diagnostics is not zero")
	}
	if (Feedback{Tests: map[string]string{"t": "x"}}).IsZero() {
		t.Error("feedback with tests is not zero")
	}
}

func TestAttemptClassification(t *testing.T) {
	passed := &Attempt{Result: &VerifyResult{Passed: true}}
	if !passed.Passed() || passed.Fatal() {
		t.Error("passing attempt misclassified")
	}

	failed := &Attempt{Result: &VerifyResult{Passed: false}}
	if failed.Passed() || failed.Fatal() {
		t.Error("verification failure is neither a pass nor fatal")
	}

	faulted := &Attempt{Err: "generator port fault"}
	if faulted.Passed() || !faulted.Fatal() {
		t.Error("faulted attempt misclassified")
	}
}

func TestCandidateAddTest(t *testing.T) {
	c := &Candidate{Files: map[string]string{"f.go": "x"}}
	c.AddTest("f_test.go", "test body")
	if c.Tests["f_test.go"] != "test body" {
		t.Errorf("AddTest did not record the test: %v", c.Tests)
	}
}
