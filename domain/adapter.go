package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
)

var (
	ErrDomainNotFound      = errors.New("domain not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUnsupportedFact     = errors.New("unsupported fact")
	ErrDisconnected        = errors.New("domain disconnected")
)

type Status int

const (
	_                   = 0
	StatusActive Status = iota
	StatusSyncing
	StatusOffline
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSyncing:
		return "syncing"
	case StatusOffline:
		return "offline"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type Info struct {
	ID     content.DomainID
	Name   string
	Kind   string
	Status Status
}

type TxID string

type Transaction struct {
	Domain  content.DomainID
	From    string
	To      string
	Payload []byte
	Nonce   uint64
}

type TxStatus int

const (
	_                  = 0
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

type Receipt struct {
	TxID      TxID
	Status    TxStatus
	Height    uint64
	BlockHash [32]byte
	Timestamp timestamp.Timestamp
}

// Adapter is the interface every external domain implements.
type Adapter interface {
	DomainID() content.DomainID
	Info(ctx context.Context) (Info, error)
	CurrentHeight(ctx context.Context) (uint64, error)
	CurrentHash(ctx context.Context) ([32]byte, error)
	CurrentTimestamp(ctx context.Context) (timestamp.Timestamp, error)
	ObserveFact(ctx context.Context, q FactQuery) (*Fact, error)
	SubmitTransaction(ctx context.Context, tx Transaction) (TxID, error)
	Receipt(ctx context.Context, id TxID) (*Receipt, error)
	TimeMapEntry(ctx context.Context) (timestamp.TimeMapEntry, error)
	VerifyBlock(ctx context.Context, height uint64, hash [32]byte) (bool, error)
	CheckConnectivity(ctx context.Context) bool
}

// Adapters holds one adapter per domain.
type Adapters struct {
	mu       sync.RWMutex
	adapters map[content.DomainID]Adapter
}

func NewAdapters(as ...Adapter) *Adapters {
	r := &Adapters{adapters: make(map[content.DomainID]Adapter)}
	for _, a := range as {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.DomainID().
func (r *Adapters) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.DomainID()] = a
	r.mu.Unlock()
}

func (r *Adapters) Get(id content.DomainID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, content.EntityID(id).Short())
	}
	return a, nil
}

func (r *Adapters) IDs() []content.DomainID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]content.DomainID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return content.EntityID(ids[i]).Less(content.EntityID(ids[j])) })
	return ids
}

// SyncTimeMap records the current position of every connected domain in m.
// Unreachable domains are skipped.
func (r *Adapters) SyncTimeMap(ctx context.Context, m *timestamp.TimeMap) error {
	for _, id := range r.IDs() {
		a, err := r.Get(id)
		if err != nil {
			return err
		}
		if !a.CheckConnectivity(ctx) {
			continue
		}
		e, err := a.TimeMapEntry(ctx)
		if err != nil {
			return err
		}
		m.Update(e)
	}
	return nil
}
