package coordinator

import (
	"github.com/loomlang/loom/internal/fingerprint"
	"github.com/loomlang/loom/internal/unit"
)

// Consolidate merges the verification feedback of a failed round into a
// single Feedback for the next round's generation. Attempts contribute
// in index order: diagnostics are deduplicated by normalized content,
// detail keys are first-writer-wins, and generated tests are unioned
// with the earliest attempt winning path collisions.
func Consolidate(attempts []*unit.Attempt) unit.Feedback {
	var out unit.Feedback
	seen := make(map[string]bool)

	for _, attempt := range attempts {
		if attempt == nil || attempt.Result == nil || attempt.Result.Passed {
			continue
		}
		fb := attempt.Result.Feedback

		for _, diag := range fb.Diagnostics {
			key := fingerprint.Text(diag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Diagnostics = append(out.Diagnostics, diag)
		}

		for path, contents := range fb.Tests {
			if out.Tests == nil {
				out.Tests = make(map[string]string)
			}
			if _, ok := out.Tests[path]; !ok {
				out.Tests[path] = contents
			}
		}

		for key, value := range fb.Details {
			if out.Details == nil {
				out.Details = make(map[string]any)
			}
			if _, ok := out.Details[key]; !ok {
				out.Details[key] = value
			}
		}
	}
	return out
}
