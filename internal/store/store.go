package store

import "sync"

// Store serializes read-modify-write sequences against a Repository within
// one process. Separate processes sharing a backend still race; the last
// collection write wins.
type Store struct {
	repo Repository
	mu   sync.Mutex
}

// New wraps repo.
func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// Repo gives unsynchronized access for reads.
func (s *Store) Repo() Repository { return s.repo }

// Update runs fn while holding the store lock. Reads and saves made through
// the passed repository are not interleaved with other Update calls.
func (s *Store) Update(fn func(r Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.repo)
}
