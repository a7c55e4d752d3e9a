// Package artifact provides stage-scoped write locations and an
// append-only manifest of produced files per unit. Every pipeline stage
// writes its outputs under a deterministic directory derived only from
// (run root, stage, unit id, round, attempt), so a resumed run
// reconstructs identical paths for already-completed work.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loomlang/loom/internal/errors"
)

// Canonical pipeline stages. Callers may register additional stages; the
// store treats stage names as opaque path segments.
const (
	StageAnalyzer  = "analyzer"
	StageGenerator = "generator"
	StageVerifier  = "verifier"
)

// Entry records one artifact produced for a (stage, unit, path). Entries
// are append-only per run: re-registering the same path updates metadata
// in place instead of duplicating the entry.
type Entry struct {
	Stage    string            `json:"stage"`
	UnitID   string            `json:"unit_id"`
	Round    int               `json:"round"`
	Path     string            `json:"path"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// RegisteredAt records when the entry was first registered. Never
	// used for path construction.
	RegisteredAt time.Time `json:"registered_at"`
}

// unitManifest holds one unit's entries in registration order plus an
// index for idempotent re-registration.
type unitManifest struct {
	mu      sync.Mutex
	entries []*Entry
	index   map[string]*Entry // stage \x00 path
}

// Store tracks artifact directories and manifests for each unit. Mutating
// operations are serialized per unit id; writers for different units
// proceed without contention.
type Store struct {
	root string

	mu    sync.Mutex
	units map[string]*unitManifest
}

// NewStore creates a Store rooted at the given directory, creating it if
// needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{
		root:  root,
		units: make(map[string]*unitManifest),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// StageDir returns (and creates) the directory for the given stage and
// unit. The path is a pure function of (root, stage, unit id).
func (s *Store) StageDir(stage, unitID string) (string, error) {
	dir := s.stageDirPath(stage, unitID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create stage directory: %w", err)
	}
	return dir, nil
}

// AttemptDir returns (and creates) the directory for one attempt's
// outputs within a stage. The path depends only on the stage, unit id,
// round, and attempt index.
func (s *Store) AttemptDir(stage, unitID string, round, index int) (string, error) {
	dir := filepath.Join(s.stageDirPath(stage, unitID),
		fmt.Sprintf("round_%02d", round),
		fmt.Sprintf("attempt_%02d", index))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create attempt directory: %w", err)
	}
	return dir, nil
}

func (s *Store) stageDirPath(stage, unitID string) string {
	return filepath.Join(s.root, "stages", stage, unitID)
}

// Register records that an artifact was produced for a stage/unit.
// Registering the same (stage, unit, path) twice updates round and
// metadata on the existing entry rather than appending a duplicate. The
// path must lie within the unit's stage directory.
func (s *Store) Register(stage, unitID string, round int, path string, metadata map[string]string) (Entry, error) {
	if err := s.checkWithinStage(stage, unitID, path); err != nil {
		return Entry{}, err
	}

	m := s.unitManifest(unitID)
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stage + "\x00" + path
	if existing, ok := m.index[key]; ok {
		existing.Round = round
		existing.Metadata = cloneMetadata(metadata)
		return *existing, nil
	}

	entry := &Entry{
		Stage:        stage,
		UnitID:       unitID,
		Round:        round,
		Path:         path,
		Metadata:     cloneMetadata(metadata),
		RegisteredAt: time.Now(),
	}
	m.entries = append(m.entries, entry)
	m.index[key] = entry
	return *entry, nil
}

// ManifestFor returns a copy of the unit's manifest entries in
// registration order.
func (s *Store) ManifestFor(unitID string) []Entry {
	m := s.unitManifest(unitID)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	for i, entry := range m.entries {
		out[i] = *entry
		out[i].Metadata = cloneMetadata(entry.Metadata)
	}
	return out
}

// Reset clears manifest entries and backing files for a unit, except for
// the stages listed in preserve. Used when a unit is retried so stale
// outputs from a failed round don't linger.
func (s *Store) Reset(unitID string, preserve []string) error {
	keep := make(map[string]bool, len(preserve))
	for _, stage := range preserve {
		keep[stage] = true
	}

	m := s.unitManifest(unitID)
	m.mu.Lock()
	defer m.mu.Unlock()

	removedStages := make(map[string]bool)
	var kept []*Entry
	index := make(map[string]*Entry)
	for _, entry := range m.entries {
		if keep[entry.Stage] {
			kept = append(kept, entry)
			index[entry.Stage+"\x00"+entry.Path] = entry
			continue
		}
		removedStages[entry.Stage] = true
	}
	m.entries = kept
	m.index = index

	for stage := range removedStages {
		if err := os.RemoveAll(s.stageDirPath(stage, unitID)); err != nil {
			return fmt.Errorf("failed to clear %s artifacts for %s: %w", stage, unitID, err)
		}
	}
	return nil
}

// checkWithinStage rejects paths outside the unit's stage directory.
func (s *Store) checkWithinStage(stage, unitID, path string) error {
	stageDir := s.stageDirPath(stage, unitID)
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	absStage, err := filepath.Abs(stageDir)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	rel, err := filepath.Rel(absStage, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: path %q is outside stage directory %q", errors.ErrInvalidInput, path, stageDir)
	}
	return nil
}

// unitManifest returns the manifest for a unit, creating it on first use.
func (s *Store) unitManifest(unitID string) *unitManifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.units[unitID]
	if !ok {
		m = &unitManifest{index: make(map[string]*Entry)}
		s.units[unitID] = m
	}
	return m
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
