package aux

import (
	"context"
	"sync"
)

// MemoryType is the transport-type key for the in-tree demo adapter.
const MemoryType = "memory"

// Entry is one recorded message, kept for inspection in tests and demos
// standing in for a persistent message-store transport (spec.md §1:
// "auxiliary transport drivers...are pluggable adapters behind a fixed
// interface; their implementations are out of scope" — this one exists
// purely to exercise the interface end to end, not as a production
// store).
type Entry struct {
	Topic string
	Data  interface{}
}

// MemoryTransport is a ring-buffer Transport implementation used for
// tests and local demos. It is not a persistent store.
type MemoryTransport struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

func init() {
	Register(MemoryType, newMemoryTransport)
}

func newMemoryTransport(options Options) (Transport, error) {
	limit := 256
	if v, ok := options["limit"].(int); ok && v > 0 {
		limit = v
	}
	return &MemoryTransport{limit: limit}, nil
}

// Message records topic/data, evicting the oldest entry once limit is
// exceeded.
func (m *MemoryTransport) Message(_ context.Context, _ Options, topic string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Topic: topic, Data: data})
	if len(m.entries) > m.limit {
		m.entries = m.entries[len(m.entries)-m.limit:]
	}
	return nil
}

// Entries returns a copy of everything currently buffered, oldest first.
func (m *MemoryTransport) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		out[i] = Entry{Topic: e.Topic, Data: e.Data}
	}
	return out
}
