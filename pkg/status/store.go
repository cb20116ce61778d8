package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/moby/sys/atomicwriter"
)

// Store reads and writes the status document at a fixed path. Every write
// replaces the whole file atomically, so readers see either the previous
// document or the new one.
type Store struct {
	path string
}

// NewStore returns a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the status file location.
func (s *Store) Path() string {
	return s.path
}

// Write replaces the document with st. Failures are logged and swallowed;
// a lost progress update must not abort provisioning.
func (s *Store) Write(st SetupStatus) {
	if err := s.write(st); err != nil {
		holonlog.Warn("failed to write setup status", "path", s.path, "status", st.Status, "error", err)
	}
}

func (s *Store) write(st SetupStatus) error {
	if st.Services == nil {
		st.Services = []ServiceInstance{}
	}
	if st.Env == nil {
		st.Env = map[string]string{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal setup status: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create status dir: %w", err)
	}
	if err := atomicwriter.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}
	return nil
}

// Read returns the current document. A missing file yields (nil, nil). A
// malformed document is logged and also treated as absent so that polling
// callers keep going; only unexpected I/O errors are returned.
func (s *Store) Read() (*SetupStatus, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read setup status: %w", err)
	}

	var st SetupStatus
	if err := json.Unmarshal(data, &st); err != nil {
		holonlog.Debug("ignoring malformed setup status", "path", s.path, "error", err)
		return nil, nil
	}
	switch st.Status {
	case StateRunning, StateReady, StateFailed:
	default:
		holonlog.Debug("ignoring setup status with unknown state", "path", s.path, "status", st.Status)
		return nil, nil
	}
	return &st, nil
}
