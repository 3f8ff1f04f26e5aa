package journal

import (
	"context"
	"sync"
	"time"
)

type entryKey struct {
	validatorID string
	requestID   uint64
}

type memoryJournal struct {
	mu      sync.RWMutex
	entries map[entryKey]Entry
}

// NewMemory creates a process-local journal, used when no database is
// configured.
func NewMemory() Journal {
	return &memoryJournal{entries: make(map[entryKey]Entry)}
}

func (m *memoryJournal) Record(_ context.Context, entry *Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	key := entryKey{entry.ValidatorID, entry.RequestID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[key]; ok && prev.Settled() {
		return nil
	}
	m.entries[key] = *entry
	return nil
}

func (m *memoryJournal) Get(_ context.Context, validatorID string, requestID uint64) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryKey{validatorID, requestID}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memoryJournal) Counts(_ context.Context, validatorID string) (*Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for k, e := range m.entries {
		if k.validatorID != validatorID {
			continue
		}
		switch e.Outcome {
		case OutcomeDone:
			c.Done++
		case OutcomeRejected:
			c.Rejected++
			c.Failed++
		case OutcomeFailed:
			c.Failed++
		}
		if e.Degraded {
			c.Degraded++
		}
	}
	return &c, nil
}
