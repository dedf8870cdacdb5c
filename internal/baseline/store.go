package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"power-env-alerts/internal/detector"
)

// SchemaVersion tags the on-disk snapshot layout.
const SchemaVersion = 1

var (
	// ErrNotFound means no snapshot exists yet. Callers cold-start on it.
	ErrNotFound = errors.New("baseline snapshot not found")
	// ErrCorrupt means a snapshot exists but cannot be trusted. Callers
	// must refuse to start from it.
	ErrCorrupt = errors.New("baseline snapshot corrupt")
)

// Store loads and persists engine baselines.
type Store interface {
	Load() (detector.Snapshot, error)
	Save(detector.Snapshot) error
}

// envelope wraps the snapshot with its schema version on disk.
type envelope struct {
	SchemaVersion int               `json:"schema_version"`
	Snapshot      detector.Snapshot `json:"snapshot"`
}

// FileStore keeps the snapshot in a single JSON document that is replaced
// atomically on every save, so a reader can never observe a partial write.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore builds a store rooted at the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the snapshot.
func (s *FileStore) Load() (detector.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return detector.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return detector.Snapshot{}, fmt.Errorf("read baseline %s: %w", s.path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return detector.Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return detector.Snapshot{}, fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, env.SchemaVersion)
	}
	if env.Snapshot.Channels == nil {
		return detector.Snapshot{}, fmt.Errorf("%w: missing channel states", ErrCorrupt)
	}
	for ch, state := range env.Snapshot.Channels {
		if state.Variance < 0 || state.Samples < 0 {
			return detector.Snapshot{}, fmt.Errorf("%w: channel %q carries invalid state", ErrCorrupt, ch)
		}
	}
	return env.Snapshot, nil
}

// Save writes the snapshot to a temp file in the target directory and
// renames it over the old one.
func (s *FileStore) Save(snap detector.Snapshot) error {
	raw, err := json.MarshalIndent(envelope{SchemaVersion: SchemaVersion, Snapshot: snap}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create baseline dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp baseline: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp baseline: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace baseline %s: %w", s.path, err)
	}
	return nil
}
