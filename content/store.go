package content

import (
	"sync"

	"github.com/timewave-computer/causality-sub016/utils"
)

// Store is a content-addressed object store. Put is a pure function of its input.
type Store interface {
	Put(b []byte) (EntityID, error)
	Get(id EntityID) ([]byte, bool, error)
}

// MemStore is an in-memory Store. Entries are never removed.
type MemStore struct {
	mu      sync.RWMutex
	objects map[EntityID][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[EntityID][]byte)}
}

func (s *MemStore) Put(b []byte) (EntityID, error) {
	id := Hash(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		c := make([]byte, len(b))
		copy(c, b)
		s.objects[id] = c
	}
	return id, nil
}

func (s *MemStore) Get(id EntityID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[id]
	if !ok {
		return nil, false, nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c, true, nil
}

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// PutCanonical stores the canonical encoding of c.
func PutCanonical(s Store, c Canonical) (EntityID, error) {
	o := &utils.OutputBuf{}
	c.EncodeCanonical(o)
	return s.Put(o.Bytes())
}
