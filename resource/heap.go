package resource

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
)

var (
	ErrDuplicateResource = errors.New("resource already allocated")
	ErrAlreadyNullified  = errors.New("resource already nullified")
)

// Heap maps resource ids to resources. Entries are never mutated or removed;
// consumption is recorded in the nullifier set instead.
type Heap struct {
	mu        sync.RWMutex
	resources map[content.ResourceID]*Resource
	order     []content.ResourceID
	// parent is set on a staged heap; reads fall through to it.
	parent *Heap
}

func NewHeap() *Heap {
	return &Heap{resources: make(map[content.ResourceID]*Resource)}
}

func (h *Heap) Alloc(r *Resource) error {
	if h.parent != nil {
		if _, ok := h.parent.Get(r.ID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateResource, r.ID)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.resources[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, r.ID)
	}
	h.resources[r.ID] = r
	h.order = append(h.order, r.ID)
	return nil
}

func (h *Heap) Get(id content.ResourceID) (*Resource, bool) {
	h.mu.RLock()
	r, ok := h.resources[id]
	h.mu.RUnlock()
	if !ok && h.parent != nil {
		return h.parent.Get(id)
	}
	return r, ok
}

func (h *Heap) Len() int {
	h.mu.RLock()
	n := len(h.resources)
	h.mu.RUnlock()
	if h.parent != nil {
		n += h.parent.Len()
	}
	return n
}

// Available reports whether id is allocated and not yet nullified in ns.
func (h *Heap) Available(id content.ResourceID, ns NullifierSet) (bool, error) {
	if _, ok := h.Get(id); !ok {
		return false, nil
	}
	spent, err := ns.Contains(id)
	if err != nil {
		return false, err
	}
	return !spent, nil
}

// Resources returns resources in allocation order, a staged heap's own
// allocations after its parent's.
func (h *Heap) Resources() []*Resource {
	var out []*Resource
	if h.parent != nil {
		out = h.parent.Resources()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range h.order {
		out = append(out, h.resources[id])
	}
	return out
}

// NullifierSet records consumed resources. Nullify is an atomic
// check-and-insert; it fails with ErrAlreadyNullified on a second call.
type NullifierSet interface {
	Nullify(id content.ResourceID) error
	Contains(id content.ResourceID) (bool, error)
	List() ([]content.ResourceID, error)
}

// MemNullifierSet is the in-memory NullifierSet.
type MemNullifierSet struct {
	mu  sync.Mutex
	set map[content.ResourceID]struct{}
}

func NewMemNullifierSet() *MemNullifierSet {
	return &MemNullifierSet{set: make(map[content.ResourceID]struct{})}
}

func (s *MemNullifierSet) Nullify(id content.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyNullified, id)
	}
	s.set[id] = struct{}{}
	return nil
}

func (s *MemNullifierSet) Contains(id content.ResourceID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[id]
	return ok, nil
}

// List returns the nullified ids sorted by byte order.
func (s *MemNullifierSet) List() ([]content.ResourceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]content.ResourceID, 0, len(s.set))
	for id := range s.set {
		out = append(out, id)
	}
	SortIDs(out)
	return out, nil
}

func SortIDs(ids []content.ResourceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// Root commits to a sorted list of nullified ids.
func Root(ids []content.ResourceID) content.EntityID {
	buf := make([]byte, 0, len(ids)*content.Size)
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return content.HashTagged("nullifiers", buf)
}
