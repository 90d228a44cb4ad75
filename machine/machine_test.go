package machine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/value"
)

// allocConsumeProgram is Alloc(Int, 42) -> r2; Consume(r2) -> r3; Move(r3, r4).
func allocConsumeProgram() *Program {
	return NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: value.Symbol("Int")},
			{Register: 1, Value: value.Int(42)},
		},
		Instructions: []Instruction{
			NewAllocInstruction(0, 1, 2),
			NewConsumeInstruction(2, 3),
			NewMoveInstruction(3, 4),
		},
		Result: 4,
	})
}

func TestAllocConsumeMove(t *testing.T) {
	s, trace, err := Execute(allocConsumeProgram(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, Halted, s.Status())

	out, consumed := s.Register(4)
	require.False(t, consumed)
	assert.Equal(t, value.Int(42), out)
	assert.Equal(t, value.Int(42), trace.Result)
	assert.Equal(t, uint64(16), trace.TotalGas)

	require.Len(t, trace.Allocated, 1)
	spent, err := s.Nullifiers().Contains(trace.Allocated[0])
	require.NoError(t, err)
	assert.True(t, spent)
	assert.Equal(t, trace.Allocated, trace.Nullifiers)

	r, ok := s.Heap().Get(trace.Allocated[0])
	require.True(t, ok)
	require.NoError(t, r.Verify())
	assert.Equal(t, "Int", r.Name)
	assert.False(t, r.Ephemeral)
}

func TestDoubleConsume(t *testing.T) {
	p := allocConsumeProgram()
	p.Root.Instructions = []Instruction{
		NewAllocInstruction(0, 1, 2),
		NewConsumeInstruction(2, 3),
		NewConsumeInstruction(2, 5),
	}
	_, trace, err := Execute(p, nil, nil)
	require.Error(t, err)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, ResourceAlreadyConsumed, f.Kind)
	assert.Equal(t, 2, f.PC)
	require.NotNil(t, trace.Fault)
	assert.Len(t, trace.Steps, 2)
	assert.ErrorIs(t, err, ErrFault)
}

func TestMoveOfReferenceConsumesSource(t *testing.T) {
	p := allocConsumeProgram()
	p.Root.Instructions = []Instruction{
		NewAllocInstruction(0, 1, 2),
		NewMoveInstruction(2, 5),
		NewConsumeInstruction(2, 3),
	}
	_, _, err := Execute(p, nil, nil)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, RegisterConsumed, f.Kind)
}

func TestMoveOfPlainValueCopies(t *testing.T) {
	p := NewProgram(&Block{
		Constants: []Constant{{Register: 0, Value: value.String("x")}},
		Instructions: []Instruction{
			NewMoveInstruction(0, 1),
			NewMoveInstruction(0, 2),
		},
		Result: 2,
	})
	s, _, err := Execute(p, nil, nil)
	require.NoError(t, err)
	v, consumed := s.Register(0)
	assert.False(t, consumed)
	assert.Equal(t, value.String("x"), v)
}

func TestConsumeFaults(t *testing.T) {
	var missing value.Ref
	missing[0] = 1
	cases := []struct {
		name    string
		initial map[Register]value.Value
		want    FaultKind
	}{
		{"not a ref", map[Register]value.Value{0: value.Int(1)}, TypeMismatch},
		{"unknown resource", map[Register]value.Value{0: missing}, ResourceNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := NewProgram(&Block{Instructions: []Instruction{NewConsumeInstruction(0, 1)}, Result: 1})
			_, _, err := Execute(p, c.initial, nil)
			f, ok := AsFault(err)
			require.True(t, ok)
			assert.Equal(t, c.want, f.Kind)
		})
	}
}

func TestWitness(t *testing.T) {
	p := NewProgram(&Block{
		Instructions: []Instruction{NewWitnessInstruction(0), NewWitnessInstruction(1)},
		Result:       1,
	})
	s, trace, err := Execute(p, nil, []value.Value{value.Int(1), value.Int(2), value.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, value.Int(2), trace.Result)
	assert.Equal(t, 1, s.WitnessRemaining())
	assert.Equal(t, 2, trace.WitnessConsumed)
	assert.Equal(t, uint64(6), trace.TotalGas)

	_, _, err = Execute(p, nil, []value.Value{value.Int(1)})
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, WitnessExhausted, f.Kind)
}

func TestApplyPrimitive(t *testing.T) {
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: PrimitiveValue("add")},
			{Register: 1, Value: value.Int(2)},
			{Register: 2, Value: value.Int(40)},
		},
		Instructions: []Instruction{
			NewApplyInstruction(0, 1, 3),
			NewApplyInstruction(3, 2, 4),
		},
		Result: 4,
	})
	_, trace, err := Execute(p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), trace.Result)
	assert.Equal(t, uint64(40), trace.TotalGas)
}

func TestDivisionByZeroFaults(t *testing.T) {
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: PrimitiveValue("div")},
			{Register: 1, Value: value.Int(1)},
			{Register: 2, Value: value.Int(0)},
		},
		Instructions: []Instruction{
			NewApplyInstruction(0, 1, 3),
			NewApplyInstruction(3, 2, 4),
		},
		Result: 4,
	})
	_, _, err := Execute(p, nil, nil)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, DivisionByZero, f.Kind)
}

func incrementBlock() (content.ExprID, *Block) {
	id := content.ExprID(content.Hash([]byte("increment")))
	return id, &Block{
		Params: []Register{0},
		Constants: []Constant{
			{Register: 1, Value: PrimitiveValue("add")},
			{Register: 2, Value: value.Int(1)},
		},
		Instructions: []Instruction{
			NewApplyInstruction(1, 0, 3),
			NewApplyInstruction(3, 2, 4),
		},
		Result: 4,
	}
}

func TestApplyBlock(t *testing.T) {
	id, inc := incrementBlock()
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: value.Lambda{Params: []string{"$0"}, Body: id}},
			{Register: 1, Value: value.Int(41)},
		},
		Instructions: []Instruction{NewApplyInstruction(0, 1, 2)},
		Result:       2,
	})
	p.Blocks[id] = inc
	_, trace, err := Execute(p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), trace.Result)
	require.Len(t, trace.Steps, 3)
	assert.Equal(t, 0, trace.Steps[0].Depth)
	assert.Equal(t, 1, trace.Steps[1].Depth)
	assert.Equal(t, uint64(60), trace.TotalGas)

	st := p.GetStats()
	assert.Equal(t, 3, st.NbInstructions)
	assert.Equal(t, 1, st.NbBlocks)
	assert.Equal(t, uint64(60), st.EstimatedGas)
}

func TestArityMismatch(t *testing.T) {
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: value.Lambda{Body: PrimitiveID("neg")}},
			{Register: 1, Value: value.Int(1)},
		},
		Instructions: []Instruction{NewApplyInstruction(0, 1, 2)},
		Result:       2,
	})
	_, _, err := Execute(p, nil, nil)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, ArityMismatch, f.Kind)
}

func TestApplyNonLambda(t *testing.T) {
	p := NewProgram(&Block{
		Constants:    []Constant{{Register: 0, Value: value.Int(1)}},
		Instructions: []Instruction{NewApplyInstruction(0, 0, 1)},
		Result:       1,
	})
	_, _, err := Execute(p, nil, nil)
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, TypeMismatch, f.Kind)
}

func TestStepLimit(t *testing.T) {
	p := allocConsumeProgram()
	_, _, err := Execute(p, nil, nil, WithLimits(Limits{MaxSteps: 2}))
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, LimitExceeded, f.Kind)
}

var errDisk = errors.New("disk I/O error")

// flakyNullifiers fails Nullify when nullifyFails is set, and every Contains
// call after the first containsOK.
type flakyNullifiers struct {
	*resource.MemNullifierSet
	nullifyFails bool
	containsOK   int
}

func (n *flakyNullifiers) Nullify(id content.ResourceID) error {
	if n.nullifyFails {
		return errDisk
	}
	return n.MemNullifierSet.Nullify(id)
}

func (n *flakyNullifiers) Contains(id content.ResourceID) (bool, error) {
	if n.containsOK == 0 {
		return false, errDisk
	}
	n.containsOK--
	return n.MemNullifierSet.Contains(id)
}

func TestStoreFailure(t *testing.T) {
	doubleConsume := func() *Program {
		p := allocConsumeProgram()
		p.Root.Instructions = []Instruction{
			NewAllocInstruction(0, 1, 2),
			NewConsumeInstruction(2, 3),
			NewConsumeInstruction(2, 5),
		}
		return p
	}
	tests := []struct {
		name string
		prog *Program
		set  *flakyNullifiers
		step int
	}{
		{"contains on alloc", allocConsumeProgram(), &flakyNullifiers{containsOK: 0}, 0},
		{"nullify on consume", allocConsumeProgram(), &flakyNullifiers{containsOK: 1, nullifyFails: true}, 1},
		{"contains on reconsume", doubleConsume(), &flakyNullifiers{containsOK: 1}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.set.MemNullifierSet = resource.NewMemNullifierSet()
			_, _, err := Execute(tc.prog, nil, nil, WithNullifiers(tc.set))
			require.Error(t, err)
			f, ok := AsFault(err)
			require.True(t, ok)
			assert.Equal(t, StoreFailure, f.Kind)
			assert.Equal(t, tc.step, f.Step)
			assert.ErrorIs(t, err, errDisk)
			assert.ErrorIs(t, err, ErrFault)
		})
	}
}

func TestStepByStep(t *testing.T) {
	s, err := Load(allocConsumeProgram(), nil, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		st, err := s.Step()
		require.NoError(t, err)
		require.Equal(t, Running, st)
	}
	st, err := s.Step()
	require.NoError(t, err)
	require.Equal(t, Halted, st)
	st, err = s.Step()
	require.NoError(t, err)
	require.Equal(t, Halted, st)
}

func TestDeterministicTraces(t *testing.T) {
	_, t1, err := Execute(allocConsumeProgram(), nil, nil)
	require.NoError(t, err)
	_, t2, err := Execute(allocConsumeProgram(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, t1.Encode(), t2.Encode())
	assert.Equal(t, t1.Hash(), t2.Hash())
}

func TestSharedNullifierSetRejectsReplay(t *testing.T) {
	nulls := resource.NewMemNullifierSet()
	_, _, err := Execute(allocConsumeProgram(), nil, nil, WithNullifiers(nulls))
	require.NoError(t, err)
	_, _, err = Execute(allocConsumeProgram(), nil, nil, WithNullifiers(nulls))
	f, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, ResourceAlreadyConsumed, f.Kind)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(&Program{}, nil, nil)
	require.Error(t, err)

	p := NewProgram(&Block{Instructions: []Instruction{{Type: IMove, Output: 1}}})
	_, err = Load(p, nil, nil)
	require.Error(t, err)

	p = NewProgram(&Block{Result: MaxRegisters})
	_, err = Load(p, nil, nil)
	require.Error(t, err)

	_, err = Load(allocConsumeProgram(), map[Register]value.Value{0: value.Int(1)}, nil)
	require.Error(t, err)
}
