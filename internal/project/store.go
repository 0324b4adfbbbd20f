package project

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nsma/nsma/internal/schema"
)

// registryFile is the on-disk layout of the registry.
type registryFile struct {
	Projects []*Project `yaml:"projects"`
}

// Store reads and writes the registry file. Every method re-reads the file
// so edits made by other processes are picked up.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the YAML file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

// List returns all projects sorted by slug. A missing file is an empty
// registry.
func (s *Store) List() ([]*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Active returns the active projects sorted by slug.
func (s *Store) Active() ([]*Project, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var active []*Project
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// Get returns the project with the given slug.
func (s *Store) Get(slug string) (*Project, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProject, slug)
}

// Save inserts or replaces p.
func (s *Store) Save(p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range all {
		if existing.Slug == p.Slug {
			all[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, p)
	}
	return s.write(all)
}

// Update loads the project, applies fn and saves the result while holding
// the store lock. Nothing is written when fn returns an error.
func (s *Store) Update(slug string, fn func(*Project) error) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.Slug != slug {
			continue
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if err := s.write(all); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProject, slug)
}

func (s *Store) load() ([]*Project, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read project registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse project registry %s: %w", s.path, err)
	}
	var out []*Project
	for _, p := range f.Projects {
		if p != nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) write(all []*Project) error {
	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	data, err := yaml.Marshal(registryFile{Projects: all})
	if err != nil {
		return fmt.Errorf("failed to encode project registry: %w", err)
	}
	return schema.WriteFile(s.path, string(data))
}
