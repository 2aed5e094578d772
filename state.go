package btr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/jsonc"
)

// StateSource supplies the state a route replays against.
type StateSource interface {
	State(r *http.Request) (any, error)
}

// StateFunc adapts a function to StateSource.
type StateFunc func(r *http.Request) (any, error)

// State implements StateSource.
func (f StateFunc) State(r *http.Request) (any, error) {
	return f(r)
}

// StaticState returns a source that always yields v.
func StaticState(v any) StateSource {
	return StateFunc(func(*http.Request) (any, error) { return v, nil })
}

// maxStateBody bounds the JSON body accepted by FileState.Handler.
const maxStateBody = 1 << 20

// FileState is a JSON object kept in memory and persisted to one file.
//
// Reads return shallow snapshots, so a replay in progress never observes
// a concurrent Set. Values must be treated as immutable once stored.
type FileState struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	data map[string]any
}

// FileStateOption configures OpenFileState.
type FileStateOption func(*FileState)

// WithStateLogger sets the logger for load and flush failures.
func WithStateLogger(l *slog.Logger) FileStateOption {
	return func(s *FileState) { s.log = l }
}

// OpenFileState loads the state file at path, which may contain comments
// and trailing commas. When the file does not exist the state starts as
// initial. A file that cannot be parsed is logged and ignored, so a bad
// database never keeps the server from starting.
func OpenFileState(path string, initial map[string]any, opts ...FileStateOption) (*FileState, error) {
	s := &FileState{
		path: path,
		log:  slog.Default(),
		data: maps.Clone(initial),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.data == nil {
		s.data = make(map[string]any)
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("btr: open state: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &data); err != nil {
		s.log.Error("invalid state file, using initial state", "path", path, "error", err)
		return s, nil
	}
	if data != nil {
		s.data = data
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileState) Path() string {
	return s.path
}

// State implements StateSource with a snapshot of the current data.
func (s *FileState) State(*http.Request) (any, error) {
	return s.Snapshot(), nil
}

// Snapshot returns a shallow copy of the current data.
func (s *FileState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

// Get returns the value stored under key.
func (s *FileState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores v under key in memory. Call Flush to persist it.
func (s *FileState) Set(key string, v any) {
	s.mu.Lock()
	s.data[key] = v
	s.mu.Unlock()
}

// Store replaces the whole state and persists it.
func (s *FileState) Store(data map[string]any) error {
	s.mu.Lock()
	s.data = maps.Clone(data)
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.mu.Unlock()
	return s.Flush()
}

// Flush writes the current state to disk. The file is replaced
// atomically.
func (s *FileState) Flush() error {
	s.mu.RLock()
	raw, err := json.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("btr: flush state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("btr: flush state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("btr: flush state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("btr: flush state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("btr: flush state: %w", err)
	}
	return nil
}

// Handler returns an endpoint that stores the posted JSON body under key,
// persists the state and echoes the body back with 201 Created.
func (s *FileState) Handler(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStateBody))
		if err != nil {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}

		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		s.Set(key, v)
		if err := s.Flush(); err != nil {
			s.log.Error("state flush failed", "path", s.path, "key", key, "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}
}
