package dispatch

import (
	"sort"
	"sync"
)

// InFlight is the set of paths currently owned by the dispatcher. A path is
// a member from the moment Submit accepts it until its task has finished,
// output write included.
type InFlight struct {
	paths map[string]struct{}
	mutex sync.Mutex
}

// NewInFlight creates an empty set.
func NewInFlight() *InFlight {
	return &InFlight{paths: make(map[string]struct{})}
}

// Add inserts path and reports whether it was absent.
func (s *InFlight) Add(path string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.paths[path]; exists {
		return false
	}
	s.paths[path] = struct{}{}
	return true
}

// Remove deletes path from the set.
func (s *InFlight) Remove(path string) {
	s.mutex.Lock()
	delete(s.paths, path)
	s.mutex.Unlock()
}

// Contains reports whether path is in flight.
func (s *InFlight) Contains(path string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, exists := s.paths[path]
	return exists
}

// Len returns the number of paths in flight.
func (s *InFlight) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.paths)
}

// Paths returns the members in sorted order.
func (s *InFlight) Paths() []string {
	s.mutex.Lock()
	paths := make([]string, 0, len(s.paths))
	for path := range s.paths {
		paths = append(paths, path)
	}
	s.mutex.Unlock()
	sort.Strings(paths)
	return paths
}
