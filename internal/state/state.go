package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// MonitorState is the durable per-PR monitoring state, enabling resume after
// a process restart. One file per PR number + session id; the file is
// exclusively owned by that PR's worker.
type MonitorState struct {
	PRNumber      int    `json:"pr_number"`
	SessionID     string `json:"session_id"`
	RebaseCount   int    `json:"rebase_count"`
	MergeAttempts int    `json:"merge_attempts"`
	StartedAt     string `json:"started_at"`
	LastEvent     string `json:"last_event"`
}

// Store reads and writes MonitorState files under a state directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// path partitions state files by PR number and session id.
func (s *Store) path(prNumber int, sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("pr-%d-%s.json", prNumber, sessionID))
}

// Load reads the state for a PR+session. Returns (nil, nil) when no state
// exists yet.
func (s *Store) Load(prNumber int, sessionID string) (*MonitorState, error) {
	data, err := os.ReadFile(s.path(prNumber, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading monitor state: %w", err)
	}
	var st MonitorState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing monitor state: %w", err)
	}
	return &st, nil
}

// LoadOrCreate returns existing state or initializes a fresh one.
func (s *Store) LoadOrCreate(prNumber int, sessionID string) (*MonitorState, error) {
	st, err := s.Load(prNumber, sessionID)
	if err != nil {
		return nil, err
	}
	if st != nil {
		return st, nil
	}
	st = &MonitorState{
		PRNumber:  prNumber,
		SessionID: sessionID,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Save writes the state atomically (write-temp-then-rename) under a file
// lock, so a crash can never leave a partial file behind.
func (s *Store) Save(st *MonitorState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling monitor state: %w", err)
	}
	path := s.path(st.PRNumber, st.SessionID)
	return withLock(path, func() error {
		return atomicWriteFile(path, data, 0644)
	})
}

// Delete removes the state file on terminal success/failure.
func (s *Store) Delete(prNumber int, sessionID string) error {
	path := s.path(prNumber, sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing monitor state: %w", err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// lockTimeout bounds how long a worker waits for a state file lock. State
// files are single-owner, so contention indicates a stale lock at worst.
const lockTimeout = 5 * time.Second

// withLock acquires an exclusive lock on path.lock, runs fn, then releases.
func withLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	fileLock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock on %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring lock on %s", lockPath)
	}
	defer fileLock.Unlock()

	return fn()
}

// atomicWriteFile writes data to a temp file then renames it into place,
// preventing partial writes on crash or disk-full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
