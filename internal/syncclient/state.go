package syncclient

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// State is the advisory client-local state that survives restarts.
type State struct {
	ClientID      string   `yaml:"client_id"`
	Owned         []string `yaml:"owned,omitempty"`
	LastServiceID string   `yaml:"last_service_id,omitempty"`
	LastName      string   `yaml:"last_name,omitempty"`
}

// LocalState persists State.
type LocalState interface {
	Load() (State, error)
	Save(State) error
}

// FileState stores State as YAML at Path.
type FileState struct {
	Path string
	mu   sync.Mutex
}

// NewFileState returns a FileState for path.
func NewFileState(path string) *FileState {
	return &FileState{Path: path}
}

// DefaultStatePath is the state file under the user's config directory.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "servelist", "state.yaml")
}

// Load reads the file. A missing file yields an empty State.
func (f *FileState) Load() (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st State
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse state file %s: %w", f.Path, err)
	}
	return st, nil
}

// Save writes the file atomically by renaming a temp file over it.
func (f *FileState) Save(st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// MemoryState keeps State in memory.
type MemoryState struct {
	mu    sync.Mutex
	state State
	saves int
}

func (m *MemoryState) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.Owned = append([]string(nil), m.state.Owned...)
	return st, nil
}

func (m *MemoryState) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.state.Owned = append([]string(nil), st.Owned...)
	m.saves++
	return nil
}
