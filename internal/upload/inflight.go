package upload

import "sync"

// InFlight tracks which users have a submission running
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInFlight creates an empty tracker
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// Acquire marks userID busy; false if it already was
func (f *InFlight) Acquire(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[userID]; ok {
		return false
	}
	f.active[userID] = struct{}{}
	return true
}

// Release clears the busy mark for userID
func (f *InFlight) Release(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, userID)
}
