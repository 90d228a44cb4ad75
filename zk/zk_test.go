package zk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
)

// mintProgram reads an Int, allocates it plus one as a coin and consumes it.
func mintProgram(t *testing.T) *machine.Program {
	t.Helper()
	term := lambda.Let("x", lambda.Witness(lambda.IntType),
		lambda.Consume(lambda.AllocTagged("coin", lambda.Apps(lambda.Var("+"), lambda.Var("x"), lambda.Int(1)))))
	c, err := lambda.Compile(term)
	require.NoError(t, err)
	return c.Program
}

func prepare(t *testing.T, steps int, in int64) (*Circuit, *Witness) {
	t.Helper()
	c, err := NewCircuit(mintProgram(t), steps)
	require.NoError(t, err)
	w, st, err := c.Run(nil, []value.Value{value.Int(in)})
	require.NoError(t, err)
	require.Equal(t, machine.Halted, st.Status())
	require.Equal(t, value.Int(in+1), w.Trace.Result)
	return c, w
}

func TestPublicInputs(t *testing.T) {
	c, w := prepare(t, 64, 41)
	pub, err := PublicInputs(c, w)
	require.NoError(t, err)
	assert.Equal(t, c.ID, pub.Circuit)
	assert.Equal(t, w.Trace.TotalGas, pub.Gas)
	assert.True(t, pub.consistent())

	back, err := DecodePublic(pub.Encode())
	require.NoError(t, err)
	assert.Equal(t, pub, back)

	// a different witness changes the result and the commitment
	_, w2 := prepare(t, 64, 1)
	pub2, err := PublicInputs(c, w2)
	require.NoError(t, err)
	assert.NotEqual(t, pub.Result, pub2.Result)
	assert.NotEqual(t, pub.Commitment, pub2.Commitment)

	short, err := NewCircuit(c.Program, 1)
	require.NoError(t, err)
	_, err = PublicInputs(short, w)
	assert.ErrorIs(t, err, ErrTraceTooLong)

	other, err := NewCircuit(machine.NewProgram(&machine.Block{}), 64)
	require.NoError(t, err)
	_, err = PublicInputs(other, w)
	assert.ErrorIs(t, err, ErrCircuitMismatch)
}

func TestMockBackend(t *testing.T) {
	ctx := context.Background()
	c, w := prepare(t, 64, 41)
	b := NewMockBackend(nil)

	p, err := b.Generate(ctx, c, w)
	require.NoError(t, err)
	assert.Equal(t, p.ComputeID(), p.ID)
	assert.Equal(t, c.ID, p.CircuitID)

	again, err := b.Generate(ctx, c, w)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	ok, err := b.Verify(ctx, p, p.PublicInputs)
	require.NoError(t, err)
	assert.True(t, ok)

	pub, err := p.Public()
	require.NoError(t, err)
	pub.Gas++
	ok, err = b.Verify(ctx, p, pub.Encode())
	require.NoError(t, err)
	assert.False(t, ok)

	forged := *p
	forged.Data = append([]byte(nil), p.Data...)
	forged.Data[0] ^= 1
	forged.Seal()
	ok, err = b.Verify(ctx, &forged, forged.PublicInputs)
	require.NoError(t, err)
	assert.False(t, ok)

	empty := *p
	empty.Data = nil
	_, err = b.Verify(ctx, &empty, p.PublicInputs)
	assert.ErrorIs(t, err, ErrEmptyProofData)
	empty = *p
	empty.VerificationKey = nil
	_, err = b.Verify(ctx, &empty, p.PublicInputs)
	assert.ErrorIs(t, err, ErrEmptyVerificationKey)

	b.Unavailable = true
	_, err = b.Generate(ctx, c, w)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestProofEncoding(t *testing.T) {
	c, w := prepare(t, 64, 41)
	p, err := NewMockBackend(nil).Generate(context.Background(), c, w)
	require.NoError(t, err)

	back, err := DecodeProof(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, back)

	raw := p.Encode()
	raw[len(raw)-1] ^= 1
	_, err = DecodeProof(raw)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestVKCache(t *testing.T) {
	c := NewVKCache(2)
	ids := make([]content.EntityID, 3)
	for i := range ids {
		ids[i] = content.Hash([]byte{byte(i)})
	}
	c.Add(&Key{Circuit: ids[0], Bytes: []byte{0}})
	c.Add(&Key{Circuit: ids[1], Bytes: []byte{1}})
	_, ok := c.Get(ids[0])
	require.True(t, ok)
	// ids[1] is now least recently used
	c.Add(&Key{Circuit: ids[2], Bytes: []byte{2}})
	_, ok = c.Get(ids[1])
	assert.False(t, ok)
	k, ok := c.Get(ids[2])
	require.True(t, ok)
	assert.Equal(t, []byte{2}, k.Bytes)

	st := c.Stats()
	assert.Equal(t, CacheStats{Hits: 2, Misses: 1, Evictions: 1, Entries: 2}, st)
	assert.InDelta(t, 2.0/3.0, c.HitRate(), 1e-9)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	mock := NewMockBackend(nil)
	r, err := NewRegistry(mock, NewGnarkBackend())
	require.NoError(t, err)
	assert.Equal(t, []string{GnarkName, MockName}, r.Names())

	def, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, MockName, def.Name())
	assert.Error(t, r.Register(NewMockBackend(nil)))

	_, err = r.Get("halo2")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	require.NoError(t, r.SetDefault(GnarkName))
	def, err = r.Default()
	require.NoError(t, err)
	assert.Equal(t, GnarkName, def.Name())

	c, w := prepare(t, 64, 41)
	p, err := mock.Generate(ctx, c, w)
	require.NoError(t, err)
	ok, err := r.Verify(ctx, p, p.PublicInputs)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.Unavailable = true
	_, err = r.Verify(ctx, p, p.PublicInputs)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestGnarkBackend(t *testing.T) {
	ctx := context.Background()
	c, w := prepare(t, 32, 41)
	b := NewGnarkBackend()

	p, err := b.Generate(ctx, c, w)
	require.NoError(t, err)
	again, err := b.Generate(ctx, c, w)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	ok, err := b.Verify(ctx, p, p.PublicInputs)
	require.NoError(t, err)
	assert.True(t, ok)

	pub, err := p.Public()
	require.NoError(t, err)
	pub.Gas++
	ok, err = b.Verify(ctx, p, pub.Encode())
	require.NoError(t, err)
	assert.False(t, ok)

	// a mock proof is not a gnark proof
	mp, err := NewMockBackend(nil).Generate(ctx, c, w)
	require.NoError(t, err)
	ok, err = b.Verify(ctx, mp, mp.PublicInputs)
	require.NoError(t, err)
	assert.False(t, ok)
}

// forgedPublic claims a run of c that never happened.
func forgedPublic(c *Circuit) *Public {
	return &Public{
		Circuit: c.ID,
		Program: c.ProgramID,
		Steps:   uint32(c.Steps),
		Gas:     0,
		Result:  resultDigest(value.Int(999999)),
	}
}

func TestForgedPublicInputs(t *testing.T) {
	ctx := context.Background()
	c, _ := prepare(t, 32, 41)
	pub := forgedPublic(c)
	require.True(t, pub.consistent())
	public := pub.Encode()

	mock := NewMockBackend(nil)
	gnark := NewGnarkBackend()
	mk := mock.key(c.ID)
	gk, err := gnark.key(pub.Steps)
	require.NoError(t, err)
	pw, err := publicWitness(pub)
	require.NoError(t, err)
	outsider := NewGnarkBackend()

	proof := func(backend string, data, vk []byte) *Proof {
		return (&Proof{CircuitID: c.ID, Backend: backend, Data: data, VerificationKey: vk, PublicInputs: public}).Seal()
	}
	unkeyed := content.HashTagged("mock-proof", public)
	tests := []struct {
		name    string
		backend Backend
		proof   *Proof
	}{
		{"mock unkeyed digest", mock, proof(MockName, unkeyed[:], mk.Bytes)},
		{"mock other key", mock, proof(MockName, NewMockBackend(nil).data(c.ID, public, mk.Bytes), mk.Bytes)},
		{"gnark bare public witness", gnark, proof(GnarkName, pw, gk.Bytes)},
		{"gnark other key", gnark, proof(GnarkName, append(append([]byte(nil), pw...), outsider.attest(c.ID, public, gk.Bytes, pw)...), gk.Bytes)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := tc.backend.Verify(ctx, tc.proof, public)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSharedAttestationKey(t *testing.T) {
	ctx := context.Background()
	c, w := prepare(t, 32, 41)
	key, err := NewKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	tests := []struct {
		name             string
		prover, verifier Backend
		stranger         Backend
	}{
		{"mock", NewKeyedMockBackend(nil, key), NewKeyedMockBackend(nil, key), NewMockBackend(nil)},
		{"gnark", NewGnarkBackend(WithAttestationKey(key)), NewGnarkBackend(WithAttestationKey(key)), NewGnarkBackend()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := tc.prover.Generate(ctx, c, w)
			require.NoError(t, err)
			again, err := tc.verifier.Generate(ctx, c, w)
			require.NoError(t, err)
			assert.Equal(t, p.ID, again.ID)

			ok, err := tc.verifier.Verify(ctx, p, p.PublicInputs)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = tc.stranger.Verify(ctx, p, p.PublicInputs)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestGnarkGroth16(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	ctx := context.Background()
	c, w := prepare(t, 32, 41)
	b := NewGnarkBackend(WithGroth16())
	assert.Equal(t, GnarkGroth16Name, b.Name())

	p, err := b.Generate(ctx, c, w)
	require.NoError(t, err)
	ok, err := b.Verify(ctx, p, p.PublicInputs)
	require.NoError(t, err)
	assert.True(t, ok)

	pub, err := p.Public()
	require.NoError(t, err)
	pub.Gas++
	ok, err = b.Verify(ctx, p, pub.Encode())
	require.NoError(t, err)
	assert.False(t, ok)
}
