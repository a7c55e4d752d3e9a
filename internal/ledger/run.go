package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/logging"
	"github.com/loomlang/loom/internal/unit"
)

// Run is an open run ledger. All methods are safe for concurrent use by
// the unit workers of one process; cross-process exclusion is provided by
// the run lock.
type Run struct {
	ID  string
	Dir string

	logger *logging.Logger
	lock   *Lock

	mu      sync.Mutex
	events  *os.File
	units   map[string]*UnitRecord
	started time.Time
}

// openRun loads existing unit records and opens the event journal.
func openRun(runDir string, record *RunRecord, lock *Lock, logger *logging.Logger) (*Run, error) {
	units, err := loadUnitRecords(runDir)
	if err != nil {
		return nil, err
	}

	events, err := os.OpenFile(filepath.Join(runDir, eventsFileName),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewLedgerError("open events journal", err).WithRun(record.ID)
	}

	return &Run{
		ID:      record.ID,
		Dir:     runDir,
		logger:  logger.WithRun(record.ID),
		lock:    lock,
		events:  events,
		units:   units,
		started: time.Now(),
	}, nil
}

// loadUnitRecords reads every units/<id>.json. Any unreadable record is
// ledger corruption; a resume must not silently redo or skip work.
func loadUnitRecords(runDir string) (map[string]*UnitRecord, error) {
	unitsDir := filepath.Join(runDir, unitsDirName)
	entries, err := os.ReadDir(unitsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*UnitRecord), nil
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrLedgerCorrupt, err)
	}

	units := make(map[string]*UnitRecord)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(unitsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrLedgerCorrupt, err)
		}
		var record UnitRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("%w: invalid unit record %s: %v",
				errors.ErrLedgerCorrupt, entry.Name(), err)
		}
		if record.UnitID == "" || record.UnitID != strings.TrimSuffix(entry.Name(), ".json") {
			return nil, fmt.Errorf("%w: unit record %s has mismatched id %q",
				errors.ErrLedgerCorrupt, entry.Name(), record.UnitID)
		}
		units[record.UnitID] = &record
	}
	return units, nil
}

// MarkUnitStarted records that processing began for a unit. A unit
// already completed in a prior run is left untouched.
func (r *Run) MarkUnitStarted(unitID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.units[unitID]; ok && existing.Completed() {
		return nil
	}
	record := &UnitRecord{
		UnitID:      unitID,
		Status:      unit.StatusGenerating,
		WinnerIndex: -1,
		StartedAt:   time.Now(),
	}
	if err := r.writeUnitRecordLocked(record); err != nil {
		return err
	}
	r.units[unitID] = record
	return nil
}

// MarkUnitCompleted records a unit's terminal outcome. A record already
// in an immutable terminal state is never overwritten.
func (r *Run) MarkUnitCompleted(o *unit.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.units[o.UnitID]
	if ok && record.Completed() {
		return fmt.Errorf("unit %s is already terminal (%s)", o.UnitID, record.Status)
	}
	if !ok {
		record = &UnitRecord{UnitID: o.UnitID, StartedAt: o.StartedAt}
		r.units[o.UnitID] = record
	}
	record.Status = o.Status
	record.Rounds = o.Rounds
	record.Error = o.Err
	record.CompletedAt = time.Now()
	record.WinnerIndex = -1
	if o.Winner != nil {
		record.WinnerIndex = o.Winner.Index
		record.WinnerFingerprint = o.Winner.Fingerprint
	}
	return r.writeUnitRecordLocked(record)
}

// UnitRecordFor returns a copy of the record for a unit, or
// errors.ErrUnitNotFound.
func (r *Run) UnitRecordFor(unitID string) (UnitRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.units[unitID]
	if !ok {
		return UnitRecord{}, fmt.Errorf("%w: %s", errors.ErrUnitNotFound, unitID)
	}
	return *record, nil
}

// CompletedUnits returns the ids of units in an immutable terminal
// state, sorted. A resumed run skips these entirely.
func (r *Run) CompletedUnits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, record := range r.units {
		if record.Completed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListUnits returns copies of all unit records, sorted by unit id.
func (r *Run) ListUnits() []UnitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]UnitRecord, 0, len(r.units))
	for _, record := range r.units {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UnitID < records[j].UnitID
	})
	return records
}

// LogEvent appends an event to the journal. Events carry observability
// detail only; journal write failures are logged, never fatal.
func (r *Run) LogEvent(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("failed to encode event", "type", event.Type, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		return
	}
	if _, err := r.events.Write(append(data, '\n')); err != nil {
		r.logger.Warn("failed to append event", "type", event.Type, "error", err)
	}
}

// PersistFiles stores a unit's winning files under units/<id>/artifacts/
// and writes a manifest with content hashes. Re-persisting replaces the
// previous set.
func (r *Run) PersistFiles(unitID string, files map[string]string) error {
	unitDir := filepath.Join(r.Dir, unitsDirName, unitID)
	artifactsDir := filepath.Join(unitDir, "artifacts")
	if err := os.RemoveAll(unitDir); err != nil {
		return errors.NewLedgerError("persist files", err).WithRun(r.ID)
	}
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return errors.NewLedgerError("persist files", err).WithRun(r.ID)
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	manifest := FileManifest{UnitID: unitID, PersistedAt: time.Now()}
	for _, path := range paths {
		contents := files[path]
		dest := filepath.Join(artifactsDir, filepath.FromSlash(path))
		rel, err := filepath.Rel(artifactsDir, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: file path %q escapes unit directory", errors.ErrInvalidInput, path)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return errors.NewLedgerError("persist files", err).WithRun(r.ID)
		}
		if err := atomicWriteFile(dest, []byte(contents), 0644); err != nil {
			return errors.NewLedgerError("persist files", err).WithRun(r.ID)
		}
		sum := sha256.Sum256([]byte(contents))
		manifest.Files = append(manifest.Files, FileEntry{
			Path:   path,
			Size:   int64(len(contents)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	if err := writeJSON(filepath.Join(unitDir, "manifest.json"), &manifest); err != nil {
		return errors.NewLedgerError("persist files", err).WithRun(r.ID)
	}
	return nil
}

// LoadFiles reads a unit's persisted files back, verifying them against
// the manifest. Missing or altered files are ledger corruption.
func (r *Run) LoadFiles(unitID string) (map[string]string, error) {
	unitDir := filepath.Join(r.Dir, unitsDirName, unitID)
	data, err := os.ReadFile(filepath.Join(unitDir, "manifest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no persisted files for %s", errors.ErrUnitNotFound, unitID)
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrLedgerCorrupt, err)
	}
	var manifest FileManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest for %s: %v", errors.ErrLedgerCorrupt, unitID, err)
	}

	files := make(map[string]string, len(manifest.Files))
	for _, entry := range manifest.Files {
		contents, err := os.ReadFile(filepath.Join(unitDir, "artifacts", filepath.FromSlash(entry.Path)))
		if err != nil {
			return nil, fmt.Errorf("%w: missing persisted file %s for %s", errors.ErrLedgerCorrupt, entry.Path, unitID)
		}
		sum := sha256.Sum256(contents)
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			return nil, fmt.Errorf("%w: persisted file %s for %s does not match manifest hash",
				errors.ErrLedgerCorrupt, entry.Path, unitID)
		}
		files[entry.Path] = string(contents)
	}
	return files, nil
}

// WriteSummary writes summary.json for the run. Idempotent: calling it
// again replaces the summary atomically, so a crash between summary and
// exit never leaves a partial file.
func (r *Run) WriteSummary(summary *Summary) error {
	summary.RunID = r.ID
	if summary.StartedAt.IsZero() {
		summary.StartedAt = r.started
	}
	if summary.CompletedAt.IsZero() {
		summary.CompletedAt = time.Now()
	}
	if err := writeJSON(filepath.Join(r.Dir, summaryFileName), summary); err != nil {
		return errors.NewLedgerError("write summary", err).WithRun(r.ID)
	}
	r.LogEvent(Event{Type: EventRunFinished, Fields: map[string]any{
		"done": summary.Done, "failed": summary.Failed, "cancelled": summary.Cancelled,
	}})
	return nil
}

// Summary reads the run's summary.json if one was written.
func (r *Run) Summary() (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir, summaryFileName))
	if err != nil {
		return nil, err
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("%w: invalid summary.json: %v", errors.ErrLedgerCorrupt, err)
	}
	return &summary, nil
}

// Close releases the run lock and closes the event journal. Safe to call
// multiple times.
func (r *Run) Close() error {
	r.mu.Lock()
	if r.events != nil {
		r.events.Sync()
		r.events.Close()
		r.events = nil
	}
	r.mu.Unlock()
	return r.lock.Release()
}

func (r *Run) writeUnitRecordLocked(record *UnitRecord) error {
	path := filepath.Join(r.Dir, unitsDirName, record.UnitID+".json")
	if err := writeJSON(path, record); err != nil {
		return errors.NewLedgerError("write unit record", err).WithRun(r.ID)
	}
	return nil
}

// writeJSON marshals v and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return atomicWriteFile(path, data, 0644)
}

// atomicWriteFile writes via a temp file in the same directory plus
// rename, so readers never observe a partially written file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
