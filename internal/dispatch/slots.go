package dispatch

import (
	"sync"

	"github.com/oxbowlabs/steward/internal/work"
)

// Slots tracks per-role concurrency. A role with no configured limit uses
// the default; a limit of zero means the role cannot run work.
type Slots struct {
	mu           sync.Mutex
	limits       map[work.Role]int
	inUse        map[work.Role]int
	defaultLimit int
}

// NewSlots builds a slot table from the per-role limits.
func NewSlots(limits map[work.Role]int, defaultLimit int) *Slots {
	if defaultLimit <= 0 {
		defaultLimit = 1
	}
	s := &Slots{
		limits:       make(map[work.Role]int, len(limits)),
		inUse:        make(map[work.Role]int),
		defaultLimit: defaultLimit,
	}
	for role, n := range limits {
		s.limits[role] = n
	}
	return s
}

func (s *Slots) limit(role work.Role) int {
	if n, ok := s.limits[role]; ok {
		return n
	}
	return s.defaultLimit
}

// Acquire reserves one slot for the role. Returns false when the role is at
// its limit.
func (s *Slots) Acquire(role work.Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse[role] >= s.limit(role) {
		return false
	}
	s.inUse[role]++
	return true
}

// Release frees one slot for the role.
func (s *Slots) Release(role work.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse[role] > 0 {
		s.inUse[role]--
	}
}

// InUse reports the number of occupied slots for the role.
func (s *Slots) InUse(role work.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse[role]
}
