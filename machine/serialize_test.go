package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/value"
)

func TestSerializeRoundTrip(t *testing.T) {
	id, inc := incrementBlock()
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: value.Lambda{Params: []string{"$0"}, Body: id}},
			{Register: 1, Value: value.Int(1)},
		},
		Instructions: []Instruction{NewApplyInstruction(0, 1, 2)},
		Result:       2,
	})
	p.Blocks[id] = inc

	b := p.Serialize()
	q, err := DeserializeProgram(b)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), q.ID())
	assert.Equal(t, b, q.Serialize())

	_, err = DeserializeProgram(b[:len(b)-1])
	require.Error(t, err)
}

func TestEliminateEphemeral(t *testing.T) {
	p := NewProgram(&Block{
		Constants: []Constant{
			{Register: 0, Value: value.Symbol("Tensor")},
			{Register: 1, Value: value.List{value.Int(1), value.Int(2)}},
		},
		Instructions: []Instruction{
			NewAllocInstruction(0, 1, 2),
			NewConsumeInstruction(2, 3),
		},
		Result: 3,
	})
	_, before, err := Execute(p, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 1, EliminateEphemeral(p))
	require.Len(t, p.Root.Instructions, 1)
	assert.Equal(t, IMove, p.Root.Instructions[0].Type)

	_, after, err := Execute(p, nil, nil)
	require.NoError(t, err)
	assert.True(t, value.Equal(before.Result, after.Result))
	assert.Less(t, after.TotalGas, before.TotalGas)
	assert.Empty(t, after.Nullifiers)
}

func TestEliminateEphemeralKeepsUserResources(t *testing.T) {
	p := allocConsumeProgram()
	assert.Equal(t, 0, EliminateEphemeral(p))
	assert.Len(t, p.Root.Instructions, 3)
}
