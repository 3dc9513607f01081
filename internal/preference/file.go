package preference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenancy/internal/models"
	"gopkg.in/yaml.v3"
)

var _ Store = (*FileStore)(nil)

type fileContents struct {
	Principals map[string]*models.Preference `yaml:"principals"`
}

// FileStore keeps preferences in a single YAML file. Every Save rewrites the
// file through a temporary file and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path. The file is created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("preference file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create preference directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Get returns the principal's preference.
func (s *FileStore) Get(ctx context.Context, principalID string) (*models.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return nil, err
	}

	pref, ok := contents.Principals[principalID]
	if !ok || pref == nil {
		return &models.Preference{}, nil
	}

	return pref, nil
}

// Save replaces the principal's preference.
func (s *FileStore) Save(ctx context.Context, principalID string, pref *models.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return err
	}

	contents.Principals[principalID] = clonePreference(pref)
	return s.write(contents)
}

// Delete forgets the principal's preference.
func (s *FileStore) Delete(ctx context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := contents.Principals[principalID]; !ok {
		return nil
	}

	delete(contents.Principals, principalID)
	return s.write(contents)
}

func (s *FileStore) load() (*fileContents, error) {
	contents := &fileContents{}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read preference file: %w", err)
	default:
		if err := yaml.Unmarshal(raw, contents); err != nil {
			return nil, fmt.Errorf("failed to parse preference file %s: %w", s.path, err)
		}
	}

	if contents.Principals == nil {
		contents.Principals = make(map[string]*models.Preference)
	}

	return contents, nil
}

func (s *FileStore) write(contents *fileContents) error {
	raw, err := yaml.Marshal(contents)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".preferences-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp preference file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace preference file: %w", err)
	}

	log.Debug().Str("path", s.path).Int("principals", len(contents.Principals)).Msg("Saved preferences")
	return nil
}
