// Package ledger provides durable per-run state: which units started and
// completed, an append-only event journal, persisted winning files, and
// a final summary. A resumed run reconstructs enough state from the
// ledger that completed units are never reprocessed.
//
// Run directory layout:
//
//	<root>/<run id>/
//	    run.json            run identity
//	    loom.lock           liveness lock while a process holds the run
//	    events.jsonl        append-only event journal
//	    summary.json        written once when the run finishes
//	    units/<id>.json     per-unit progress record
//	    units/<id>/         persisted winning files + manifest.json
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/logging"
)

const (
	runFileName     = "run.json"
	eventsFileName  = "events.jsonl"
	summaryFileName = "summary.json"
	unitsDirName    = "units"
)

// Ledger manages run directories under a common root.
type Ledger struct {
	root   string
	logger *logging.Logger
}

// NewLedger creates a Ledger rooted at the given directory, creating it
// if needed. The logger may be nil.
func NewLedger(root string, logger *logging.Logger) (*Ledger, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger root: %w", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Ledger{root: root, logger: logger}, nil
}

// Root returns the ledger's root directory.
func (l *Ledger) Root() string {
	return l.root
}

// RunDir returns the directory for a run id.
func (l *Ledger) RunDir(runID string) string {
	return filepath.Join(l.root, runID)
}

// Start creates a fresh run and acquires its lock. When runID is empty a
// new unique id is generated.
func (l *Ledger) Start(runID string) (*Run, error) {
	if runID == "" {
		runID = NewRunID()
	}
	runDir := l.RunDir(runID)
	if _, err := os.Stat(filepath.Join(runDir, runFileName)); err == nil {
		return nil, errors.NewLedgerError("start", fmt.Errorf("run %s already exists; use resume", runID)).WithRun(runID)
	}
	if err := os.MkdirAll(filepath.Join(runDir, unitsDirName), 0755); err != nil {
		return nil, errors.NewLedgerError("start", err).WithRun(runID)
	}

	lock, err := AcquireLock(runDir, runID, l.logger)
	if err != nil {
		return nil, err
	}

	record := &RunRecord{ID: runID, CreatedAt: time.Now()}
	if err := writeJSON(filepath.Join(runDir, runFileName), record); err != nil {
		lock.Release()
		return nil, errors.NewLedgerError("start", err).WithRun(runID)
	}

	run, err := openRun(runDir, record, lock, l.logger)
	if err != nil {
		lock.Release()
		return nil, err
	}
	run.LogEvent(Event{Type: EventRunStarted})
	return run, nil
}

// Resume reopens an existing run and acquires its lock. A missing run is
// errors.ErrRunNotFound; unreadable or inconsistent persisted state is
// errors.ErrLedgerCorrupt and aborts the resume rather than silently
// starting over.
func (l *Ledger) Resume(runID string) (*Run, error) {
	runDir := l.RunDir(runID)
	record, err := readRunRecord(runDir)
	if err != nil {
		return nil, err
	}
	if record.ID != runID {
		return nil, fmt.Errorf("%w: run.json id %q does not match directory %q",
			errors.ErrLedgerCorrupt, record.ID, runID)
	}

	lock, err := AcquireLock(runDir, runID, l.logger)
	if err != nil {
		return nil, err
	}

	record.ResumeCount++
	if err := writeJSON(filepath.Join(runDir, runFileName), record); err != nil {
		lock.Release()
		return nil, errors.NewLedgerError("resume", err).WithRun(runID)
	}

	run, err := openRun(runDir, record, lock, l.logger)
	if err != nil {
		lock.Release()
		return nil, err
	}
	run.LogEvent(Event{Type: EventRunResumed, Fields: map[string]any{"resume_count": record.ResumeCount}})
	return run, nil
}

// ListRuns returns the ids of all runs under the root, newest first by
// run.json creation time.
func (l *Ledger) ListRuns() ([]RunRecord, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger root: %w", err)
	}

	var records []RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := readRunRecord(filepath.Join(l.root, entry.Name()))
		if err != nil {
			// Skip directories that are not runs; corruption surfaces
			// when the run is actually resumed.
			continue
		}
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// InspectRun reads a run's records without acquiring its lock, for
// read-only status reporting. The summary is nil when the run has not
// finished.
func (l *Ledger) InspectRun(runID string) (*RunRecord, []UnitRecord, *Summary, error) {
	runDir := l.RunDir(runID)
	record, err := readRunRecord(runDir)
	if err != nil {
		return nil, nil, nil, err
	}

	units, err := loadUnitRecords(runDir)
	if err != nil {
		return nil, nil, nil, err
	}
	records := make([]UnitRecord, 0, len(units))
	for _, u := range units {
		records = append(records, *u)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UnitID < records[j].UnitID
	})

	var summary *Summary
	if data, err := os.ReadFile(filepath.Join(runDir, summaryFileName)); err == nil {
		var s Summary
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: invalid summary.json: %v", errors.ErrLedgerCorrupt, err)
		}
		summary = &s
	}
	return record, records, summary, nil
}

// readRunRecord loads run.json, classifying missing versus corrupt.
func readRunRecord(runDir string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(runDir, runFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrRunNotFound, filepath.Base(runDir))
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrLedgerCorrupt, err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: invalid run.json: %v", errors.ErrLedgerCorrupt, err)
	}
	if record.ID == "" {
		return nil, fmt.Errorf("%w: run.json missing id", errors.ErrLedgerCorrupt)
	}
	return &record, nil
}

// NewRunID generates a unique, sortable run id.
func NewRunID() string {
	return fmt.Sprintf("run_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}
