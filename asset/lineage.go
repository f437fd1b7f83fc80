// videocursor/asset/lineage.go
package asset

import "sync"

// Slots tracks, per session, which asset is the current "working video".
// A slot advances when a job succeeds and can be pointed back at any
// earlier asset; reselecting never deletes the bypassed asset.
//
// Slot state is session-scoped and deliberately not persisted: the
// durable record is the lineage chain on the assets themselves.
type Slots struct {
	mu      sync.Mutex
	current map[string]string // slot -> asset id
}

func NewSlots() *Slots {
	return &Slots{current: make(map[string]string)}
}

func (s *Slots) SetCurrent(slot, assetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[slot] = assetID
}

func (s *Slots) Current(slot string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[slot]
	return id, ok
}

// Forget drops any slot pointing at assetID, typically after a delete.
func (s *Slots) Forget(assetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot, id := range s.current {
		if id == assetID {
			delete(s.current, slot)
		}
	}
}
