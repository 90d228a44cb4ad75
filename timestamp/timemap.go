package timestamp

import (
	"sort"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
)

// TimeMapEntry records the latest observed position of a domain.
type TimeMapEntry struct {
	Domain    content.DomainID
	Height    uint64
	Hash      [32]byte
	Timestamp Timestamp
}

// TimeMap collects entries from several domains. Entries only move forward.
type TimeMap struct {
	mu      sync.RWMutex
	entries map[content.DomainID]TimeMapEntry
}

func NewTimeMap() *TimeMap {
	return &TimeMap{entries: make(map[content.DomainID]TimeMapEntry)}
}

// Update stores e unless an entry with a greater or equal height is present.
// It reports whether the map changed.
func (m *TimeMap) Update(e TimeMapEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[e.Domain]; ok && cur.Height >= e.Height {
		return false
	}
	m.entries[e.Domain] = e
	return true
}

func (m *TimeMap) Get(d content.DomainID) (TimeMapEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[d]
	return e, ok
}

// Entries returns all entries ordered by domain id.
func (m *TimeMap) Entries() []TimeMapEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TimeMapEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return content.EntityID(out[i].Domain).Less(content.EntityID(out[j].Domain))
	})
	return out
}
