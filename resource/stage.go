package resource

import (
	"fmt"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
)

// Stage returns a heap whose allocations stay local until Commit moves them
// into h. Lookups fall through to h.
func (h *Heap) Stage() *Heap {
	return &Heap{resources: make(map[content.ResourceID]*Resource), parent: h}
}

// Commit moves a staged heap's allocations into its parent and empties it.
func (h *Heap) Commit() error {
	if h.parent == nil {
		return fmt.Errorf("heap is not staged")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range h.order {
		if _, ok := h.parent.Get(id); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateResource, id)
		}
	}
	for _, id := range h.order {
		if err := h.parent.Alloc(h.resources[id]); err != nil {
			return err
		}
	}
	h.resources = make(map[content.ResourceID]*Resource)
	h.order = nil
	return nil
}

// StagedNullifierSet buffers nullifications over a base set. Contains and
// Nullify see both; nothing reaches the base until Commit.
type StagedNullifierSet struct {
	base    NullifierSet
	mu      sync.Mutex
	pending map[content.ResourceID]struct{}
	order   []content.ResourceID
}

func StageNullifiers(base NullifierSet) *StagedNullifierSet {
	return &StagedNullifierSet{base: base, pending: make(map[content.ResourceID]struct{})}
}

func (s *StagedNullifierSet) Nullify(id content.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyNullified, id)
	}
	spent, err := s.base.Contains(id)
	if err != nil {
		return err
	}
	if spent {
		return fmt.Errorf("%w: %s", ErrAlreadyNullified, id)
	}
	s.pending[id] = struct{}{}
	s.order = append(s.order, id)
	return nil
}

func (s *StagedNullifierSet) Contains(id content.ResourceID) (bool, error) {
	s.mu.Lock()
	_, ok := s.pending[id]
	s.mu.Unlock()
	if ok {
		return true, nil
	}
	return s.base.Contains(id)
}

func (s *StagedNullifierSet) List() ([]content.ResourceID, error) {
	out, err := s.base.List()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	out = append(out, s.order...)
	s.mu.Unlock()
	SortIDs(out)
	return out, nil
}

// Pending returns the staged ids in nullification order.
func (s *StagedNullifierSet) Pending() []content.ResourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]content.ResourceID(nil), s.order...)
}

// Commit writes the staged ids to the base set. Every id is checked first,
// so a conflict leaves the base untouched unless another writer races the
// commit.
func (s *StagedNullifierSet) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		spent, err := s.base.Contains(id)
		if err != nil {
			return err
		}
		if spent {
			return fmt.Errorf("%w: %s", ErrAlreadyNullified, id)
		}
	}
	for _, id := range s.order {
		if err := s.base.Nullify(id); err != nil {
			return err
		}
	}
	s.pending = make(map[content.ResourceID]struct{})
	s.order = nil
	return nil
}
