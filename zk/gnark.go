package zk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/utils"
)

const (
	GnarkName        = "gnark"
	GnarkGroth16Name = "gnark-groth16"
)

// traceCircuit recomputes the trace commitment and the gas total. Its shape
// depends only on the number of slots, so one constraint system serves every
// program with the same capacity.
type traceCircuit struct {
	Program    frontend.Variable `gnark:",public"`
	Result     frontend.Variable `gnark:",public"`
	Nullifiers frontend.Variable `gnark:",public"`
	TotalGas   frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`

	Ops   []frontend.Variable
	Gas   []frontend.Variable
	Steps []frontend.Variable
}

func newTraceCircuit(slots int) *traceCircuit {
	return &traceCircuit{
		Ops:   make([]frontend.Variable, slots),
		Gas:   make([]frontend.Variable, slots),
		Steps: make([]frontend.Variable, slots),
	}
}

func (c *traceCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Program, c.Result, c.Nullifiers)
	total := frontend.Variable(0)
	for i := range c.Ops {
		api.AssertIsLessOrEqual(c.Ops[i], int(machine.IWitness))
		// empty slots carry no gas
		api.AssertIsEqual(api.Mul(api.IsZero(c.Ops[i]), c.Gas[i]), 0)
		total = api.Add(total, c.Gas[i])
		h.Write(c.Ops[i], c.Gas[i], c.Steps[i])
	}
	api.AssertIsEqual(total, c.TotalGas)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}

// assign fills the public part from pub and the private part from e, or
// zeros when e is nil.
func assign(pub *Public, e *elements) *traceCircuit {
	a := newTraceCircuit(int(pub.Steps))
	a.Program = bigOf(fieldOf(pub.Program))
	a.Result = bigOf(fieldOf(pub.Result))
	a.Nullifiers = bigOf(fieldOf(pub.Nullifiers))
	a.TotalGas = pub.Gas
	a.Commitment = new(big.Int).SetBytes(pub.Commitment[:])
	for i := range a.Ops {
		a.Ops[i], a.Gas[i], a.Steps[i] = 0, 0, 0
		if e != nil {
			a.Ops[i] = e.ops[i]
			a.Gas[i] = e.gas[i]
			a.Steps[i] = bigOf(e.steps[i])
		}
	}
	return a
}

type gnarkSetup struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

type GnarkOption func(*GnarkBackend)

// WithGroth16 makes the backend produce Groth16 proofs. The setup runs once
// per capacity per process, so proofs and keys differ between processes and
// a key evicted from the cache invalidates the proofs made under it.
func WithGroth16() GnarkOption {
	return func(b *GnarkBackend) { b.groth16 = true }
}

func WithCache(c *VKCache) GnarkOption {
	return func(b *GnarkBackend) { b.cache = c }
}

// WithAttestationKey sets the key satisfiability proofs are attested under.
// Without it the backend draws a random key.
func WithAttestationKey(key []byte) GnarkOption {
	return func(b *GnarkBackend) { b.secret = key }
}

// GnarkBackend compiles the trace circuit over BN254 and checks the witness
// against it. Without WithGroth16 the proof data is the serialized public
// witness followed by an attestation tag, and the key is a digest of the
// constraint system, which keeps proofs deterministic. Such a proof records
// that a holder of the attestation key found the circuit satisfied.
type GnarkBackend struct {
	cache   *VKCache
	groth16 bool
	secret  []byte
	att     attestor
	mu      sync.Mutex
}

func NewGnarkBackend(opts ...GnarkOption) *GnarkBackend {
	b := &GnarkBackend{}
	for _, o := range opts {
		o(b)
	}
	if b.cache == nil {
		b.cache = NewVKCache(0)
	}
	b.att = newAttestor(b.secret)
	b.secret = nil
	return b
}

func (b *GnarkBackend) attest(circuit content.EntityID, public, vk, pw []byte) []byte {
	return b.att.tag("gnark-proof", circuit[:], public, vk, pw)
}

func (b *GnarkBackend) Name() string {
	if b.groth16 {
		return GnarkGroth16Name
	}
	return GnarkName
}

func (b *GnarkBackend) Available() bool { return true }

func shapeID(name string, slots uint32) content.EntityID {
	o := &utils.OutputBuf{}
	o.AppendString(name)
	o.AppendUint32(slots)
	return content.HashTagged("gnark-circuit", o.Bytes())
}

func (b *GnarkBackend) key(slots uint32) (*Key, error) {
	id := shapeID(b.Name(), slots)
	// compiling is expensive; serialize misses
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cache.getOrAdd(id, func() (*Key, error) {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, newTraceCircuit(int(slots)))
		if err != nil {
			return nil, fmt.Errorf("compile trace circuit: %w", err)
		}
		s := &gnarkSetup{ccs: ccs}
		var vk []byte
		if b.groth16 {
			s.pk, s.vk, err = groth16.Setup(ccs)
			if err != nil {
				return nil, fmt.Errorf("groth16 setup: %w", err)
			}
			var buf bytes.Buffer
			if _, err := s.vk.WriteTo(&buf); err != nil {
				return nil, err
			}
			vk = buf.Bytes()
		} else {
			o := &utils.OutputBuf{}
			o.AppendUint32(slots)
			o.AppendUint64(uint64(ccs.GetNbConstraints()))
			o.AppendUint64(uint64(ccs.GetNbPublicVariables()))
			o.AppendUint64(uint64(ccs.GetNbSecretVariables()))
			o.AppendUint64(uint64(ccs.GetNbInternalVariables()))
			d := content.HashTagged("gnark-vk", o.Bytes())
			vk = d[:]
		}
		logger.Logger().Info().
			Str("backend", b.Name()).
			Int("slots", int(slots)).
			Int("constraints", ccs.GetNbConstraints()).
			Msg("trace circuit compiled")
		return &Key{Circuit: id, Bytes: vk, setup: s}, nil
	})
}

func (b *GnarkBackend) Generate(ctx context.Context, c *Circuit, w *Witness) (*Proof, error) {
	pub, err := PublicInputs(c, w)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := b.key(pub.Steps)
	if err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assign(pub, newElements(c, w.Trace)), ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	var data []byte
	if b.groth16 {
		proof, err := groth16.Prove(k.setup.ccs, k.setup.pk, full)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsatisfied, err)
		}
		var buf bytes.Buffer
		if _, err := proof.WriteTo(&buf); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	} else {
		if err := k.setup.ccs.IsSolved(full); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsatisfied, err)
		}
		if data, err = publicWitness(pub); err != nil {
			return nil, err
		}
		data = append(data, b.attest(c.ID, pub.Encode(), k.Bytes, data)...)
	}
	p := (&Proof{
		CircuitID:       c.ID,
		Backend:         b.Name(),
		Data:            data,
		VerificationKey: k.Bytes,
		PublicInputs:    pub.Encode(),
		Timestamp:       w.Timestamp(),
	}).Seal()
	logger.Logger().Info().Str("backend", b.Name()).Str("circuit", c.ID.Short()).Str("proof", p.ID.Short()).Msg("proof generated")
	return p, nil
}

func publicWitness(pub *Public) ([]byte, error) {
	full, err := frontend.NewWitness(assign(pub, nil), ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	pw, err := full.Public()
	if err != nil {
		return nil, err
	}
	return pw.MarshalBinary()
}

func (b *GnarkBackend) Verify(ctx context.Context, p *Proof, public []byte) (bool, error) {
	if err := checkShape(p); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.Backend != b.Name() || p.ID != p.ComputeID() || !bytes.Equal(p.PublicInputs, public) {
		return false, nil
	}
	pub, err := DecodePublic(public)
	if err != nil {
		return false, err
	}
	if pub.Circuit != p.CircuitID || !pub.consistent() {
		return false, nil
	}
	k, err := b.key(pub.Steps)
	if err != nil {
		return false, err
	}
	if !bytes.Equal(k.Bytes, p.VerificationKey) {
		return false, nil
	}
	if !b.groth16 {
		want, err := publicWitness(pub)
		if err != nil {
			return false, err
		}
		if len(p.Data) != len(want)+KeySize {
			return false, nil
		}
		pw, tag := p.Data[:len(want)], p.Data[len(want):]
		return bytes.Equal(want, pw) && hmac.Equal(b.attest(p.CircuitID, public, k.Bytes, pw), tag), nil
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Data)); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	full, err := frontend.NewWitness(assign(pub, nil), ecc.BN254.ScalarField())
	if err != nil {
		return false, err
	}
	pw, err := full.Public()
	if err != nil {
		return false, err
	}
	return groth16.Verify(proof, k.setup.vk, pw) == nil, nil
}
