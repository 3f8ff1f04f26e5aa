package processor

import "sync"

// InFlight is the set of request ids currently being processed.
type InFlight struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

// NewInFlight creates an empty set.
func NewInFlight() *InFlight {
	return &InFlight{ids: make(map[uint64]struct{})}
}

// TryAcquire inserts id and reports whether it was absent.
func (f *InFlight) TryAcquire(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

// Release removes id.
func (f *InFlight) Release(id uint64) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

// Contains reports whether id is in flight.
func (f *InFlight) Contains(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

// Len returns the number of requests in flight.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}
