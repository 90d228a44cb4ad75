package zk

import (
	"bytes"
	"context"
	"crypto/hmac"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
)

const MockName = "mock"

// MockBackend derives proofs by keyed hashing. It checks that the witness
// belongs to the circuit and ran to completion, then attests the public
// inputs under its key. Only a backend holding the same key verifies them.
type MockBackend struct {
	cache *VKCache
	att   attestor
	// Unavailable makes the backend report itself unusable.
	Unavailable bool
}

// NewMockBackend returns a backend with a fresh random key.
func NewMockBackend(cache *VKCache) *MockBackend {
	return NewKeyedMockBackend(cache, nil)
}

// NewKeyedMockBackend attests under key, so proofs verify across processes
// that share it.
func NewKeyedMockBackend(cache *VKCache, key []byte) *MockBackend {
	if cache == nil {
		cache = NewVKCache(0)
	}
	return &MockBackend{cache: cache, att: newAttestor(key)}
}

func (b *MockBackend) Name() string    { return MockName }
func (b *MockBackend) Available() bool { return !b.Unavailable }

func (b *MockBackend) key(circuit content.EntityID) *Key {
	k, _ := b.cache.getOrAdd(circuit, func() (*Key, error) {
		vk := content.HashTagged("mock-vk", circuit[:])
		return &Key{Circuit: circuit, Bytes: vk[:]}, nil
	})
	return k
}

func (b *MockBackend) data(circuit content.EntityID, public, vk []byte) []byte {
	return b.att.tag("mock-proof", circuit[:], public, vk)
}

func (b *MockBackend) Generate(ctx context.Context, c *Circuit, w *Witness) (*Proof, error) {
	if !b.Available() {
		return nil, ErrBackendUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pub, err := PublicInputs(c, w)
	if err != nil {
		return nil, err
	}
	public := pub.Encode()
	k := b.key(c.ID)
	p := (&Proof{
		CircuitID:       c.ID,
		Backend:         MockName,
		Data:            b.data(c.ID, public, k.Bytes),
		VerificationKey: k.Bytes,
		PublicInputs:    public,
		Timestamp:       w.Timestamp(),
	}).Seal()
	logger.Logger().Info().Str("backend", MockName).Str("circuit", c.ID.Short()).Str("proof", p.ID.Short()).Msg("proof generated")
	return p, nil
}

func (b *MockBackend) Verify(ctx context.Context, p *Proof, public []byte) (bool, error) {
	if !b.Available() {
		return false, ErrBackendUnavailable
	}
	if err := checkShape(p); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.Backend != MockName || p.ID != p.ComputeID() || !bytes.Equal(p.PublicInputs, public) {
		return false, nil
	}
	pub, err := DecodePublic(public)
	if err != nil {
		return false, err
	}
	if pub.Circuit != p.CircuitID || !pub.consistent() {
		return false, nil
	}
	k := b.key(p.CircuitID)
	if !bytes.Equal(k.Bytes, p.VerificationKey) {
		return false, nil
	}
	return hmac.Equal(b.data(p.CircuitID, public, k.Bytes), p.Data), nil
}
