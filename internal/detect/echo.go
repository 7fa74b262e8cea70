package detect

import (
	"sync"
	"time"
)

// echoSet remembers fingerprints of text this system injected itself, so the
// user-message detector does not report its own prompts back as user input.
// Entries expire after the TTL.
type echoSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func newEchoSet(ttl time.Duration) *echoSet {
	return &echoSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

func (s *echoSet) register(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.entries[hash] = time.Now().Add(s.ttl)
}

// absorb consumes a registered fingerprint. It reports true exactly once per
// registration, and never after expiry.
func (s *echoSet) absorb(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	if _, ok := s.entries[hash]; !ok {
		return false
	}
	delete(s.entries, hash)
	return true
}

func (s *echoSet) pruneLocked() {
	now := time.Now()
	for hash, deadline := range s.entries {
		if now.After(deadline) {
			delete(s.entries, hash)
		}
	}
}
