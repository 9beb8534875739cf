// Package testcfg persists test configurations as a single YAML document.
package testcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/gridprobe/gridprobe/internal/model"
)

// ErrNotFound is returned for lookups of unknown configuration ids.
var ErrNotFound = errors.New("testcfg: configuration not found")

type document struct {
	Configs []model.TestConfiguration `yaml:"configs"`
}

// Store reads and writes the configuration file. Every mutation rewrites
// the document atomically (tmp + rename) so readers never observe a torn
// file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore ensures the parent directory exists.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("testcfg: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("testcfg: mkdir: %w", err)
	}
	return &Store{path: path}, nil
}

// List returns all stored configurations in file order.
func (s *Store) List() ([]model.TestConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	return doc.Configs, nil
}

// Get returns one configuration by id.
func (s *Store) Get(id string) (model.TestConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return model.TestConfiguration{}, err
	}
	for _, cfg := range doc.Configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return model.TestConfiguration{}, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// Save creates or replaces a configuration. A missing id means create; an
// unknown non-empty id is NotFound. Step indexes are reassigned to the
// contiguous 1..N sequence in save order, never taken from the caller.
func (s *Store) Save(cfg model.TestConfiguration) (model.TestConfiguration, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return model.TestConfiguration{}, errors.New("testcfg: name is required")
	}
	for i := range cfg.Steps {
		cfg.Steps[i].Index = i + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return model.TestConfiguration{}, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
		doc.Configs = append(doc.Configs, cfg)
	} else {
		found := false
		for i := range doc.Configs {
			if doc.Configs[i].ID == cfg.ID {
				doc.Configs[i] = cfg
				found = true
				break
			}
		}
		if !found {
			return model.TestConfiguration{}, fmt.Errorf("%w: %q", ErrNotFound, cfg.ID)
		}
	}

	if err := s.writeLocked(doc); err != nil {
		return model.TestConfiguration{}, err
	}
	return cfg, nil
}

// Delete removes a configuration by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	kept := doc.Configs[:0]
	found := false
	for _, cfg := range doc.Configs {
		if cfg.ID == id {
			found = true
			continue
		}
		kept = append(kept, cfg)
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	doc.Configs = kept
	return s.writeLocked(doc)
}

func (s *Store) loadLocked() (document, error) {
	var doc document
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("testcfg: read: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("testcfg: parse: %w", err)
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("testcfg: marshal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("testcfg: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("testcfg: rename: %w", err)
	}
	return nil
}
