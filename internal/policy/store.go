package policy

import "sync/atomic"

// Store holds the currently active Policy behind an atomic pointer so a
// reload is a single atomic swap — readers never observe a half-updated
// document, and never block behind a mutex to read the policy on the
// ingest hot path.
type Store struct {
	current atomic.Pointer[Policy]
}

// NewStore creates a Store pre-populated with the given policy.
func NewStore(initial *Policy) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Get returns the currently active policy snapshot.
func (s *Store) Get() *Policy {
	return s.current.Load()
}

// Swap atomically publishes p as the active policy. Callers that need to
// mutate a single field (e.g. admin's reseed_vdf_genesis) must clone
// Get()'s result, mutate the clone, and Swap it in — never mutate the
// pointer Get() returns in place.
func (s *Store) Swap(p *Policy) {
	s.current.Store(p)
}

// Reload loads a fresh policy from path, validates it, and atomically
// swaps it in. The previous snapshot remains valid for any in-flight
// readers that already loaded it.
func (s *Store) Reload(path string) (*Policy, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(p)
	return p, nil
}
