package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomlang/loom/internal/errors"
	"github.com/loomlang/loom/internal/unit"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	return l
}

func TestStartGeneratesRunID(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("unexpected run id %q", run.ID)
	}
	if _, err := os.Stat(filepath.Join(run.Dir, "run.json")); err != nil {
		t.Errorf("run.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(run.Dir, "events.jsonl")); err != nil {
		t.Errorf("events.jsonl not created: %v", err)
	}
}

func TestStartRejectsExistingRun(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Close()

	if _, err := l.Start("run_x"); err == nil {
		t.Error("expected error starting a run id that already exists")
	}
}

func TestResumeMissingRun(t *testing.T) {
	l := newLedger(t)
	if _, err := l.Resume("run_nope"); !errors.Is(err, errors.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestResumeCorruptRunRecord(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Close()

	if err := os.WriteFile(filepath.Join(run.Dir, "run.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := l.Resume("run_x"); !errors.IsLedgerCorrupt(err) {
		t.Errorf("expected ErrLedgerCorrupt, got %v", err)
	}
}

func TestResumeCorruptUnitRecord(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := run.MarkUnitStarted("u1"); err != nil {
		t.Fatalf("MarkUnitStarted failed: %v", err)
	}
	run.Close()

	if err := os.WriteFile(filepath.Join(run.Dir, "units", "u1.json"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := l.Resume("run_x"); !errors.IsLedgerCorrupt(err) {
		t.Errorf("expected ErrLedgerCorrupt for bad unit record, got %v", err)
	}
}

func TestUnitRecordRoundtrip(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := run.MarkUnitStarted("u1"); err != nil {
		t.Fatalf("MarkUnitStarted failed: %v", err)
	}
	outcome := &unit.Outcome{
		UnitID: "u1",
		Status: unit.StatusDone,
		Rounds: 2,
		Winner: &unit.Attempt{Index: 1, Fingerprint: "abc"},
	}
	if err := run.MarkUnitCompleted(outcome); err != nil {
		t.Fatalf("MarkUnitCompleted failed: %v", err)
	}
	if err := run.MarkUnitCompleted(&unit.Outcome{UnitID: "u2", Status: unit.StatusFailed, Err: "boom"}); err != nil {
		t.Fatalf("MarkUnitCompleted failed: %v", err)
	}
	run.Close()

	resumed, err := l.Resume("run_x")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	defer resumed.Close()

	record, err := resumed.UnitRecordFor("u1")
	if err != nil {
		t.Fatalf("UnitRecordFor failed: %v", err)
	}
	if record.Status != unit.StatusDone || record.Rounds != 2 || record.WinnerIndex != 1 || record.WinnerFingerprint != "abc" {
		t.Errorf("unexpected record after resume: %+v", record)
	}

	// Both done and failed units are terminal; only they are skipped on
	// resume.
	if got := resumed.CompletedUnits(); len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("CompletedUnits = %v, want [u1 u2]", got)
	}
	if _, err := resumed.UnitRecordFor("missing"); !errors.Is(err, errors.ErrUnitNotFound) {
		t.Errorf("expected ErrUnitNotFound, got %v", err)
	}
	if got := resumed.ListUnits(); len(got) != 2 || got[0].UnitID != "u1" || got[1].UnitID != "u2" {
		t.Errorf("ListUnits = %+v", got)
	}
}

func TestMarkUnitCompletedRefusesTerminalOverwrite(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	done := &unit.Outcome{
		UnitID: "u1",
		Status: unit.StatusDone,
		Rounds: 1,
		Winner: &unit.Attempt{Index: 0, Fingerprint: "abc"},
	}
	if err := run.MarkUnitCompleted(done); err != nil {
		t.Fatalf("MarkUnitCompleted failed: %v", err)
	}

	if err := run.MarkUnitCompleted(&unit.Outcome{UnitID: "u1", Status: unit.StatusFailed, Err: "boom"}); err == nil {
		t.Fatal("expected error overwriting a terminal record")
	}
	record, err := run.UnitRecordFor("u1")
	if err != nil {
		t.Fatalf("UnitRecordFor failed: %v", err)
	}
	if record.Status != unit.StatusDone || record.WinnerIndex != 0 {
		t.Errorf("terminal record was rewritten: %+v", record)
	}

	// A cancelled record is not terminal; completing it after a re-run is
	// allowed.
	if err := run.MarkUnitCompleted(&unit.Outcome{UnitID: "u2", Status: unit.StatusCancelled, Err: "interrupted"}); err != nil {
		t.Fatalf("MarkUnitCompleted failed: %v", err)
	}
	if err := run.MarkUnitCompleted(&unit.Outcome{UnitID: "u2", Status: unit.StatusDone, Rounds: 1}); err != nil {
		t.Fatalf("completing a cancelled unit failed: %v", err)
	}
}

func TestMarkUnitStartedKeepsCompleted(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	run.MarkUnitCompleted(&unit.Outcome{UnitID: "u1", Status: unit.StatusDone, Rounds: 1})
	if err := run.MarkUnitStarted("u1"); err != nil {
		t.Fatalf("MarkUnitStarted failed: %v", err)
	}
	record, _ := run.UnitRecordFor("u1")
	if record.Status != unit.StatusDone {
		t.Errorf("completed unit was downgraded to %s", record.Status)
	}
}

func TestPersistAndLoadFiles(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	files := map[string]string{
		"pkg/a.go": "package pkg\n",
		"pkg/b.go": "package pkg\n\nfunc B() {}\n",
	}
	if err := run.PersistFiles("u1", files); err != nil {
		t.Fatalf("PersistFiles failed: %v", err)
	}

	loaded, err := run.LoadFiles("u1")
	if err != nil {
		t.Fatalf("LoadFiles failed: %v", err)
	}
	if len(loaded) != len(files) {
		t.Fatalf("loaded %d files, want %d", len(loaded), len(files))
	}
	for path, want := range files {
		if loaded[path] != want {
			t.Errorf("file %s roundtrip mismatch", path)
		}
	}

	if _, err := run.LoadFiles("unknown"); !errors.Is(err, errors.ErrUnitNotFound) {
		t.Errorf("expected ErrUnitNotFound, got %v", err)
	}
}

func TestLoadFilesDetectsTampering(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	if err := run.PersistFiles("u1", map[string]string{"a.go": "package a\n"}); err != nil {
		t.Fatalf("PersistFiles failed: %v", err)
	}

	target := filepath.Join(run.Dir, "units", "u1", "artifacts", "a.go")
	if err := os.WriteFile(target, []byte("altered"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := run.LoadFiles("u1"); !errors.IsLedgerCorrupt(err) {
		t.Errorf("expected ErrLedgerCorrupt for altered file, got %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := run.LoadFiles("u1"); !errors.IsLedgerCorrupt(err) {
		t.Errorf("expected ErrLedgerCorrupt for missing file, got %v", err)
	}
}

func TestWriteSummaryIdempotent(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()

	summary := &Summary{TotalUnits: 3, Done: 2, Failed: 1}
	if err := run.WriteSummary(summary); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	if err := run.WriteSummary(summary); err != nil {
		t.Fatalf("second WriteSummary failed: %v", err)
	}

	read, err := run.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if read.RunID != "run_x" || read.TotalUnits != 3 || read.Done != 2 || read.Failed != 1 {
		t.Errorf("unexpected summary: %+v", read)
	}
}

func TestRunLockExcludesSecondOpener(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := l.Resume("run_x"); !errors.Is(err, errors.ErrRunLocked) {
		t.Errorf("expected ErrRunLocked while run is open, got %v", err)
	}

	run.Close()
	resumed, err := l.Resume("run_x")
	if err != nil {
		t.Fatalf("Resume after Close failed: %v", err)
	}
	resumed.Close()
}

func TestStaleLockIsCleaned(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	run.Close()

	// Fake a lock left behind by a dead process.
	data := []byte(`{"run_id":"run_x","pid":1073741824,"hostname":"gone","acquired_at":"2026-01-01T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(run.Dir, LockFileName), data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	resumed, err := l.Resume("run_x")
	if err != nil {
		t.Fatalf("Resume with stale lock failed: %v", err)
	}
	resumed.Close()
}

func TestListRuns(t *testing.T) {
	l := newLedger(t)
	for _, id := range []string{"run_a", "run_b"} {
		run, err := l.Start(id)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		run.Close()
	}
	// A stray directory is not a run.
	os.MkdirAll(filepath.Join(l.Root(), "not_a_run"), 0755)

	records, err := l.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(records))
	}
}

func TestInspectRunWithoutLock(t *testing.T) {
	l := newLedger(t)
	run, err := l.Start("run_x")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer run.Close()
	run.MarkUnitCompleted(&unit.Outcome{UnitID: "u1", Status: unit.StatusDone, Rounds: 1})

	// Inspect must work while the run is still locked.
	record, units, summary, err := l.InspectRun("run_x")
	if err != nil {
		t.Fatalf("InspectRun failed: %v", err)
	}
	if record.ID != "run_x" {
		t.Errorf("unexpected record %+v", record)
	}
	if len(units) != 1 || units[0].UnitID != "u1" {
		t.Errorf("unexpected units %+v", units)
	}
	if summary != nil {
		t.Error("expected nil summary before the run finishes")
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("expected unique run ids")
	}
	if !strings.HasPrefix(a, "run_") {
		t.Errorf("unexpected run id format %q", a)
	}
}
