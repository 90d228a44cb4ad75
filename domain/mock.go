package domain

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

var mockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("causality/mock-domain"))

type mockBlock struct {
	height uint64
	hash   [32]byte
	time   timestamp.Timestamp
	txs    []TxID
}

// MockAdapter is an in-memory chain. Transactions wait in a pending pool
// until Mine seals them into a block; block hashes are Keccak-256 over the
// parent hash, height, time and transaction ids.
type MockAdapter struct {
	mu       sync.Mutex
	id       content.DomainID
	name     string
	clock    *timestamp.Clock
	blocks   []mockBlock
	pending  []TxID
	receipts map[TxID]*Receipt
	balances map[string]int64
	oracle   map[string]value.Value
	offline  bool
}

func NewMockAdapter(name string) *MockAdapter {
	m := &MockAdapter{
		id:       content.DomainFromName(name),
		name:     name,
		clock:    timestamp.NewClock(0),
		receipts: make(map[TxID]*Receipt),
		balances: make(map[string]int64),
		oracle:   make(map[string]value.Value),
	}
	m.blocks = []mockBlock{{hash: m.blockHash([32]byte{}, 0, 0, nil)}}
	return m
}

func keccak(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (m *MockAdapter) blockHash(parent [32]byte, height uint64, t timestamp.Timestamp, txs []TxID) [32]byte {
	o := &utils.OutputBuf{}
	o.AppendFixed(m.id[:])
	o.AppendFixed(parent[:])
	o.AppendUint64(height)
	o.AppendUint64(uint64(t))
	o.AppendUint64(uint64(len(txs)))
	for _, tx := range txs {
		o.AppendString(string(tx))
	}
	return keccak(o.Bytes())
}

func (m *MockAdapter) head() mockBlock { return m.blocks[len(m.blocks)-1] }

// SetOffline makes connectivity checks fail.
func (m *MockAdapter) SetOffline(off bool) {
	m.mu.Lock()
	m.offline = off
	m.mu.Unlock()
}

func (m *MockAdapter) SetBalance(account string, amount int64) {
	m.mu.Lock()
	m.balances[account] = amount
	m.mu.Unlock()
}

func (m *MockAdapter) SetOracle(key string, v value.Value) {
	m.mu.Lock()
	m.oracle[key] = v
	m.mu.Unlock()
}

// Mine seals the pending transactions into a new block and returns its
// height.
func (m *MockAdapter) Mine() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := m.head()
	b := mockBlock{height: parent.height + 1, time: m.clock.Tick(), txs: m.pending}
	b.hash = m.blockHash(parent.hash, b.height, b.time, b.txs)
	for _, id := range b.txs {
		r := m.receipts[id]
		r.Status, r.Height, r.BlockHash, r.Timestamp = TxConfirmed, b.height, b.hash, b.time
	}
	m.pending = nil
	m.blocks = append(m.blocks, b)
	return b.height
}

func (m *MockAdapter) DomainID() content.DomainID { return m.id }

func (m *MockAdapter) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline {
		return ErrDisconnected
	}
	return nil
}

func (m *MockAdapter) Info(ctx context.Context) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := StatusActive
	if m.offline {
		st = StatusOffline
	}
	return Info{ID: m.id, Name: m.name, Kind: "mock", Status: st}, ctx.Err()
}

func (m *MockAdapter) CurrentHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return m.head().height, nil
}

func (m *MockAdapter) CurrentHash(ctx context.Context) ([32]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return [32]byte{}, err
	}
	return m.head().hash, nil
}

func (m *MockAdapter) CurrentTimestamp(ctx context.Context) (timestamp.Timestamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return m.head().time, nil
}

func (m *MockAdapter) TimeMapEntry(ctx context.Context) (timestamp.TimeMapEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return timestamp.TimeMapEntry{}, err
	}
	h := m.head()
	return timestamp.TimeMapEntry{Domain: m.id, Height: h.height, Hash: h.hash, Timestamp: h.time}, nil
}

func (m *MockAdapter) VerifyBlock(ctx context.Context, height uint64, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return false, err
	}
	if height >= uint64(len(m.blocks)) {
		return false, nil
	}
	return m.blocks[height].hash == hash, nil
}

func (m *MockAdapter) CheckConnectivity(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(ctx) == nil
}

// SubmitTransaction queues tx. Its id is a name-based UUID of the
// transaction's content, so resubmitting returns the same id.
func (m *MockAdapter) SubmitTransaction(ctx context.Context, tx Transaction) (TxID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return "", err
	}
	if tx.Domain != m.id {
		return "", fmt.Errorf("%w: transaction for %s submitted to %s", ErrDomainNotFound, content.EntityID(tx.Domain).Short(), m.name)
	}
	o := &utils.OutputBuf{}
	o.AppendFixed(tx.Domain[:])
	o.AppendString(tx.From)
	o.AppendString(tx.To)
	o.AppendBytes(tx.Payload)
	o.AppendUint64(tx.Nonce)
	id := TxID(uuid.NewSHA1(mockNamespace, o.Bytes()).String())
	if _, ok := m.receipts[id]; ok {
		return id, nil
	}
	m.receipts[id] = &Receipt{TxID: id, Status: TxPending}
	m.pending = append(m.pending, id)
	return id, nil
}

func (m *MockAdapter) Receipt(ctx context.Context, id TxID) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	r, ok := m.receipts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func balanceProof(block [32]byte, account string, amount int64) []byte {
	o := &utils.OutputBuf{}
	o.AppendFixed(block[:])
	o.AppendString(account)
	o.AppendInt64(amount)
	h := keccak([]byte("balance"), o.Bytes())
	return h[:]
}

func oracleProof(block [32]byte, key string, v value.Value) []byte {
	o := &utils.OutputBuf{}
	o.AppendFixed(block[:])
	o.AppendString(key)
	v.EncodeCanonical(o)
	h := keccak([]byte("oracle"), o.Bytes())
	return h[:]
}

func (m *MockAdapter) ObserveFact(ctx context.Context, q FactQuery) (*Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	if q.Domain != m.id {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, content.EntityID(q.Domain).Short())
	}
	b := m.head()
	f := &Fact{Domain: m.id, Type: q.Type, Height: b.height, BlockHash: b.hash, Timestamp: b.time}
	switch q.Type {
	case FactBalance:
		acct := q.Params["account"]
		amount, ok := m.balances[acct]
		if !ok {
			return nil, fmt.Errorf("%w: no account %q", ErrUnsupportedFact, acct)
		}
		f.Params = map[string]string{"account": acct}
		f.Data = value.Int(amount)
		f.ProofData = balanceProof(b.hash, acct, amount)
	case FactOracle:
		key := q.Params["key"]
		v, ok := m.oracle[key]
		if !ok {
			return nil, fmt.Errorf("%w: no oracle value %q", ErrUnsupportedFact, key)
		}
		f.Params = map[string]string{"key": key}
		f.Data = v
		f.ProofData = oracleProof(b.hash, key, v)
	case FactBlock:
		if q.Height > b.height {
			return nil, fmt.Errorf("%w: block %d not mined", ErrUnsupportedFact, q.Height)
		}
		if q.Height != 0 {
			b = m.blocks[q.Height]
		}
		f.Height, f.BlockHash, f.Timestamp = b.height, b.hash, b.time
		f.Data = value.Int(int64(b.height))
		f.ProofData = append([]byte(nil), b.hash[:]...)
	case FactTime:
		f.Data = value.Int(int64(b.time))
		f.ProofData = append([]byte(nil), b.hash[:]...)
	case FactTransaction:
		id := TxID(q.Params["tx"])
		r, ok := m.receipts[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
		}
		if r.Status != TxConfirmed {
			return nil, fmt.Errorf("%w: %s is pending", ErrUnsupportedFact, id)
		}
		f.Params = map[string]string{"tx": string(id)}
		f.Height, f.BlockHash, f.Timestamp = r.Height, r.BlockHash, r.Timestamp
		f.Data = value.NewRecord(
			value.Field{Key: "height", Value: value.Int(int64(r.Height))},
			value.Field{Key: "status", Value: value.Symbol("confirmed")},
		)
		f.ProofData = append([]byte(nil), r.BlockHash[:]...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFact, q.Type)
	}
	return f.Seal(), nil
}

// RegisterVerifiers installs verifiers for every fact the adapter produces.
func (m *MockAdapter) RegisterVerifiers(reg *VerifierRegistry) {
	blocks := BlockVerifier(m)
	reg.Register(FactBlock, blocks)
	reg.Register(FactTime, blocks)
	reg.Register(FactTransaction, VerifierFunc(func(ctx context.Context, f *Fact) error {
		if !bytes.Equal(f.ProofData, f.BlockHash[:]) {
			return fmt.Errorf("%w: proof is not the block hash", ErrFactRejected)
		}
		return blocks.Verify(ctx, f)
	}))
	reg.Register(FactBalance, VerifierFunc(func(ctx context.Context, f *Fact) error {
		amount, ok := f.Data.(value.Int)
		if !ok {
			return fmt.Errorf("%w: balance is %s", ErrFactRejected, f.Data.Kind())
		}
		if !bytes.Equal(f.ProofData, balanceProof(f.BlockHash, f.Params["account"], int64(amount))) {
			return fmt.Errorf("%w: balance proof mismatch", ErrFactRejected)
		}
		return blocks.Verify(ctx, f)
	}))
	reg.Register(FactOracle, VerifierFunc(func(ctx context.Context, f *Fact) error {
		if f.Data == nil || !bytes.Equal(f.ProofData, oracleProof(f.BlockHash, f.Params["key"], f.Data)) {
			return fmt.Errorf("%w: oracle proof mismatch", ErrFactRejected)
		}
		return blocks.Verify(ctx, f)
	}))
}
