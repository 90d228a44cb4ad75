package zk

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

// DefaultSteps is the trace capacity used when a circuit is built with zero.
const DefaultSteps = 256

// Circuit is a validated program together with the number of trace steps a
// proof of it may cover.
type Circuit struct {
	ID        content.EntityID
	Program   *machine.Program
	ProgramID content.EntityID
	Steps     int
}

func NewCircuit(p *machine.Program, steps int) (*Circuit, error) {
	if err := machine.Validate(p); err != nil {
		return nil, err
	}
	if steps <= 0 {
		steps = DefaultSteps
	}
	id := p.ID()
	return &Circuit{ID: circuitID(id, uint32(steps)), Program: p, ProgramID: id, Steps: steps}, nil
}

func circuitID(program content.EntityID, steps uint32) content.EntityID {
	o := &utils.OutputBuf{}
	o.AppendFixed(program[:])
	o.AppendUint32(steps)
	return content.HashTagged("circuit", o.Bytes())
}

// Witness is the private side of a proof.
type Witness struct {
	Stream []value.Value
	Trace  *machine.Trace
}

func NewWitness(stream []value.Value, trace *machine.Trace) *Witness {
	return &Witness{Stream: stream, Trace: trace}
}

// Run executes the circuit's program on stream and records the witness. A
// faulting run returns the fault and no witness.
func (c *Circuit) Run(initial map[machine.Register]value.Value, stream []value.Value, opts ...machine.Option) (*Witness, *machine.State, error) {
	st, tr, err := machine.Execute(c.Program, initial, stream, opts...)
	if err != nil {
		return nil, st, err
	}
	return NewWitness(stream, tr), st, nil
}

// Timestamp is the logical time of the last recorded step.
func (w *Witness) Timestamp() timestamp.Timestamp {
	if w.Trace == nil || len(w.Trace.Steps) == 0 {
		return 0
	}
	return w.Trace.Steps[len(w.Trace.Steps)-1].Time
}

// Public is what a verifier learns about an execution.
type Public struct {
	Circuit    content.EntityID
	Program    content.EntityID
	Steps      uint32
	Gas        uint64
	Result     content.EntityID
	Nullifiers content.EntityID
	Commitment [32]byte
}

func (p *Public) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendFixed(p.Circuit[:])
	o.AppendFixed(p.Program[:])
	o.AppendUint32(p.Steps)
	o.AppendUint64(p.Gas)
	o.AppendFixed(p.Result[:])
	o.AppendFixed(p.Nullifiers[:])
	o.AppendFixed(p.Commitment[:])
}

func (p *Public) Encode() []byte {
	o := &utils.OutputBuf{}
	p.EncodeCanonical(o)
	return o.Bytes()
}

// consistent reports whether the circuit id is the one program and steps
// determine.
func (p *Public) consistent() bool {
	return p.Steps > 0 && p.Circuit == circuitID(p.Program, p.Steps)
}

func DecodePublic(b []byte) (*Public, error) {
	in := utils.NewInputBuf(b)
	p := &Public{}
	copy(p.Circuit[:], in.ReadFixed(content.Size))
	copy(p.Program[:], in.ReadFixed(content.Size))
	p.Steps = in.ReadUint32()
	p.Gas = in.ReadUint64()
	copy(p.Result[:], in.ReadFixed(content.Size))
	copy(p.Nullifiers[:], in.ReadFixed(content.Size))
	copy(p.Commitment[:], in.ReadFixed(32))
	if err := in.Finish(); err != nil {
		return nil, fmt.Errorf("public inputs: %w", err)
	}
	return p, nil
}

// PublicInputs derives the public inputs of (c, w).
func PublicInputs(c *Circuit, w *Witness) (*Public, error) {
	if w == nil || w.Trace == nil {
		return nil, fmt.Errorf("%w: no trace", ErrCircuitMismatch)
	}
	t := w.Trace
	if t.ProgramID != c.ProgramID {
		return nil, fmt.Errorf("%w: trace of program %s, circuit program %s", ErrCircuitMismatch, t.ProgramID.Short(), c.ProgramID.Short())
	}
	if t.Fault != nil {
		return nil, fmt.Errorf("%w: trace ends in fault %s", ErrUnsatisfied, t.Fault)
	}
	if len(t.Steps) > c.Steps {
		return nil, fmt.Errorf("%w: %d steps, capacity %d", ErrTraceTooLong, len(t.Steps), c.Steps)
	}
	e := newElements(c, t)
	return &Public{
		Circuit:    c.ID,
		Program:    c.ProgramID,
		Steps:      uint32(c.Steps),
		Gas:        t.TotalGas,
		Result:     resultDigest(t.Result),
		Nullifiers: nullifierDigest(t.Nullifiers),
		Commitment: e.commitment(),
	}, nil
}

func resultDigest(v value.Value) content.EntityID {
	if v == nil {
		v = value.Unit{}
	}
	return content.HashTagged("result", value.Encode(v))
}

func nullifierDigest(ids []content.ResourceID) content.EntityID {
	sorted := append([]content.ResourceID(nil), ids...)
	resource.SortIDs(sorted)
	return resource.Root(sorted)
}

// fieldOf maps a digest into the BN254 scalar field by keeping 31 bytes.
func fieldOf(id content.EntityID) fr.Element {
	var e fr.Element
	e.SetBytes(id[:31])
	return e
}

// elements is the trace laid out as the field elements the commitment and
// the gnark circuit range over. Unused slots are zero.
type elements struct {
	program    fr.Element
	result     fr.Element
	nullifiers fr.Element
	ops        []uint64
	gas        []uint64
	steps      []fr.Element
}

func newElements(c *Circuit, t *machine.Trace) *elements {
	e := &elements{
		program:    fieldOf(c.ProgramID),
		result:     fieldOf(resultDigest(t.Result)),
		nullifiers: fieldOf(nullifierDigest(t.Nullifiers)),
		ops:        make([]uint64, c.Steps),
		gas:        make([]uint64, c.Steps),
		steps:      make([]fr.Element, c.Steps),
	}
	for i := range t.Steps {
		st := &t.Steps[i]
		e.ops[i] = uint64(st.Instruction.Type)
		e.gas[i] = st.Gas
		e.steps[i] = fieldOf(content.HashTagged("step", machine.EncodeStep(st)))
	}
	return e
}

// commitment is MiMC over program, result, nullifiers and then every slot as
// (op, gas, step digest).
func (e *elements) commitment() [32]byte {
	h := mimc.NewMiMC()
	write := func(x fr.Element) {
		b := x.Bytes()
		h.Write(b[:])
	}
	write(e.program)
	write(e.result)
	write(e.nullifiers)
	for i := range e.ops {
		var op, gas fr.Element
		op.SetUint64(e.ops[i])
		gas.SetUint64(e.gas[i])
		write(op)
		write(gas)
		write(e.steps[i])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func bigOf(x fr.Element) *big.Int {
	return x.BigInt(new(big.Int))
}
