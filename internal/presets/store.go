package presets

import (
	"sync"

	"github.com/ctagard/debugctl/internal/registry"
)

// Store holds the presets of the current launch.json
type Store struct {
	mu      sync.RWMutex
	presets []Preset
	path    string
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Set replaces the presets loaded from path
func (s *Store) Set(path string, presets []Preset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
	s.presets = append([]Preset(nil), presets...)
}

// Path returns the file the presets came from
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Get finds a preset by id or by configuration name
func (s *Store) Get(key string) (Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.presets {
		if p.ID == key || p.Name == key {
			p.Params = p.Params.Clone()
			return p, true
		}
	}
	return Preset{}, false
}

// List returns the presets in file order
func (s *Store) List() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Preset(nil), s.presets...)
}

// Entries converts the presets into registry presets
func (s *Store) Entries() []registry.Preset {
	list := s.List()
	out := make([]registry.Preset, len(list))
	for i, p := range list {
		out[i] = registry.Preset{ID: p.ID, Name: p.Name, Kind: p.Kind}
	}
	return out
}
