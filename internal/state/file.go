package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
)

const fileVersion = 1

// fileState is the on-disk document
type fileState struct {
	Version     int                         `json:"version"`
	LastUpdated string                      `json:"last_updated"`
	Breakers    map[string]breaker.Snapshot `json:"breakers"`
}

// FileStore keeps snapshots in one JSON file, replaced atomically on save
type FileStore struct {
	mu   sync.RWMutex
	path string
}

// NewFileStore creates the parent directory if needed
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load returns an empty map when no file exists yet
func (s *FileStore) Load(ctx context.Context) (map[string]breaker.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]breaker.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if st.Version != fileVersion {
		return nil, fmt.Errorf("state file version %d, want %d", st.Version, fileVersion)
	}
	if st.Breakers == nil {
		st.Breakers = map[string]breaker.Snapshot{}
	}
	return st.Breakers, nil
}

// Save writes a temporary file and renames it over the old one
func (s *FileStore) Save(ctx context.Context, snaps map[string]breaker.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(fileState{
		Version:     fileVersion,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Breakers:    snaps,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
