package saga

import (
	"context"
	"sync"
)

// MemoryStore keeps events for the lifetime of the process. It is the
// default when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, evt *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt)
	return nil
}

func (m *MemoryStore) ListBySaga(_ context.Context, sagaID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByApp(_ context.Context, app string, limit int) ([]Event, error) {
	return m.newest(limit, func(e Event) bool { return e.App == app }), nil
}

func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]Event, error) {
	return m.newest(limit, func(Event) bool { return true }), nil
}

func (m *MemoryStore) newest(limit int, keep func(Event) bool) []Event {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out
}
