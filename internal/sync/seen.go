package sync

import "sync"

// seenSet is a bounded set of processed event ids. Relays echo events back
// on every query and subscription overlap, so the same event arrives many
// times; the set makes applying it idempotent. Ids are recorded before the
// apply so a concurrent duplicate cannot slip through mid-merge.
//
// The set prunes oldest-first when it reaches twice its capacity, keeping
// memory bounded on long-running tills.
type seenSet struct {
	mu    sync.Mutex
	cap   int
	ids   map[string]struct{}
	order []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		cap: capacity,
		ids: make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new. Already-seen ids return
// false and must be skipped by the caller.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)

	if len(s.order) >= 2*s.cap {
		drop := len(s.order) - s.cap
		for _, old := range s.order[:drop] {
			delete(s.ids, old)
		}
		s.order = append(s.order[:0], s.order[drop:]...)
	}
	return true
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
