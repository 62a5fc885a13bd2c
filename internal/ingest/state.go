// Package ingest contains the ingestion control plane: the orchestrator
// that fans a source out into batches, the worker that processes one batch
// into an isolated table, the merger that folds isolated tables into the
// canonical collection, and the incremental engine that applies
// commit-to-commit changes.
package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/thothlabs/thoth/internal/errors"
)

// IngestionState is the per-source progress record persisted between runs.
type IngestionState struct {
	LastCommit     string            `json:"last_commit,omitempty"`
	ProcessedFiles []string          `json:"processed_files"`
	FailedFiles    map[string]string `json:"failed_files"`
	TotalChunks    int               `json:"total_chunks"`
	TotalDocuments int               `json:"total_documents"`
	Completed      bool              `json:"completed"`
	StartTime      time.Time         `json:"start_time"`
	LastUpdateTime time.Time         `json:"last_update_time"`
}

// newState returns a fresh state for a run starting now.
func newState(now time.Time) *IngestionState {
	return &IngestionState{
		FailedFiles: make(map[string]string),
		StartTime:   now,
	}
}

// MarkProcessed records a successfully ingested path. ProcessedFiles keeps
// set semantics.
func (s *IngestionState) MarkProcessed(path string) {
	delete(s.FailedFiles, path)
	for _, p := range s.ProcessedFiles {
		if p == path {
			return
		}
	}
	s.ProcessedFiles = append(s.ProcessedFiles, path)
	sort.Strings(s.ProcessedFiles)
}

// UnmarkProcessed removes a path, typically after its rows were deleted.
func (s *IngestionState) UnmarkProcessed(path string) {
	for i, p := range s.ProcessedFiles {
		if p == path {
			s.ProcessedFiles = append(s.ProcessedFiles[:i], s.ProcessedFiles[i+1:]...)
			return
		}
	}
}

// MarkFailed records a per-file failure without aborting the run.
func (s *IngestionState) MarkFailed(path string, err error) {
	if s.FailedFiles == nil {
		s.FailedFiles = make(map[string]string)
	}
	s.FailedFiles[path] = err.Error()
}

// AddChunks adjusts both counters by delta, clamping at zero.
func (s *IngestionState) AddChunks(delta int) {
	s.TotalChunks = saturatingAdd(s.TotalChunks, delta)
	s.TotalDocuments = saturatingAdd(s.TotalDocuments, delta)
}

func saturatingAdd(value, delta int) int {
	if result := value + delta; result > 0 {
		return result
	}
	return 0
}

// StateStore persists IngestionState files under a local directory, one
// JSON file per source, guarded by a file lock against concurrent runs.
type StateStore struct {
	dir string
}

// NewStateStore creates a state store rooted at dir.
func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir}
}

func (ss *StateStore) path(source string) string {
	return filepath.Join(ss.dir, "state", source+".json")
}

// withLock runs fn while holding the source's lock file.
func (ss *StateStore) withLock(source string, fn func() error) error {
	path := ss.path(source)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Internal("acquire state lock", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// Load reads the source's state, returning a fresh one when none exists.
func (ss *StateStore) Load(source string) (*IngestionState, error) {
	var state *IngestionState
	err := ss.withLock(source, func() error {
		data, err := os.ReadFile(ss.path(source))
		if os.IsNotExist(err) {
			state = newState(time.Now().UTC())
			return nil
		}
		if err != nil {
			return err
		}
		state = &IngestionState{}
		return json.Unmarshal(data, state)
	})
	if err != nil {
		return nil, err
	}
	if state.FailedFiles == nil {
		state.FailedFiles = make(map[string]string)
	}
	return state, nil
}

// Save writes the source's state atomically.
func (ss *StateStore) Save(source string, state *IngestionState) error {
	state.LastUpdateTime = time.Now().UTC()
	return ss.withLock(source, func() error {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		tmp := ss.path(source) + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, ss.path(source))
	})
}
