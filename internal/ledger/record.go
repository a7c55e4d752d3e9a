package ledger

import (
	"time"

	"github.com/loomlang/loom/internal/unit"
)

// RunRecord is the run.json document identifying a run.
type RunRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// ResumeCount is incremented each time the run is reopened.
	ResumeCount int `json:"resume_count"`
}

// UnitRecord is the units/<id>.json document tracking one unit's
// progress through the pipeline.
type UnitRecord struct {
	UnitID string      `json:"unit_id"`
	Status unit.Status `json:"status"`
	// Rounds is the number of refinement rounds executed.
	Rounds int `json:"rounds"`
	// WinnerIndex is the attempt index of the winning candidate, -1 when
	// the unit has no winner.
	WinnerIndex int `json:"winner_index"`
	// WinnerFingerprint is the content hash of the winning candidate.
	WinnerFingerprint string `json:"winner_fingerprint,omitempty"`
	// Error describes why the unit failed or was cancelled.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the record is in an immutable terminal
// state that a resumed run must skip. Done and failed outcomes are
// final; cancelled units are re-run on resume.
func (r *UnitRecord) Completed() bool {
	return r.Status == unit.StatusDone || r.Status == unit.StatusFailed
}

// Event is one entry in the append-only events.jsonl journal.
type Event struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"`
	UnitID string         `json:"unit_id,omitempty"`
	Round  int            `json:"round,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Event types written by the pipeline.
const (
	EventRunStarted    = "run_started"
	EventRunResumed    = "run_resumed"
	EventUnitStarted   = "unit_started"
	EventUnitResumed   = "unit_resumed"
	EventRoundStarted  = "round_started"
	EventRoundFinished = "round_finished"
	EventUnitDone      = "unit_done"
	EventUnitFailed    = "unit_failed"
	EventUnitCancelled = "unit_cancelled"
	EventRunFinished   = "run_finished"
)

// FileEntry describes one persisted file in a unit's artifacts manifest.
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// FileManifest is the units/<id>/manifest.json document listing the
// persisted winning files for a unit.
type FileManifest struct {
	UnitID      string      `json:"unit_id"`
	Files       []FileEntry `json:"files"`
	PersistedAt time.Time   `json:"persisted_at"`
}

// Summary is the summary.json document written when a run finishes.
type Summary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	TotalUnits int `json:"total_units"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	// Resumed counts units completed in a prior run and skipped here.
	Resumed int `json:"resumed"`

	Units []UnitSummary `json:"units"`
}

// UnitSummary is one unit's line in the run summary.
type UnitSummary struct {
	UnitID    string      `json:"unit_id"`
	Status    unit.Status `json:"status"`
	Rounds    int         `json:"rounds"`
	Resumed   bool        `json:"resumed,omitempty"`
	Error     string      `json:"error,omitempty"`
	Artifacts int         `json:"artifacts,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms"`
}
