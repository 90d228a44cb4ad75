package causality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
	"github.com/timewave-computer/causality-sub016/zk"
)

const mintSrc = "(let x (alloc (witness Int)) (let y (consume x) (+ y 1)))"

func TestCompileRun(t *testing.T) {
	c, err := Compile(mintSrc)
	require.NoError(t, err)
	assert.Equal(t, "Int", c.Type)

	st, tr, err := c.Run([]value.Value{value.Int(41)})
	require.NoError(t, err)
	assert.Equal(t, machine.Halted, st.Status())
	assert.True(t, value.Equal(value.Int(42), tr.Result))

	_, _, err = c.Run(nil)
	var f *machine.Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, machine.WitnessExhausted, f.Kind)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("(+ 1")
	var pe *lisp.ParseError
	assert.True(t, errors.As(err, &pe))

	_, err = Compile("(let x (alloc 1) (+ (consume x) (consume x)))")
	assert.ErrorIs(t, err, lambda.ErrLinearity)

	_, err = Compile("(+ 1 true)")
	assert.ErrorIs(t, err, lambda.ErrType)
}

func TestArtifact(t *testing.T) {
	c, err := Compile(mintSrc)
	require.NoError(t, err)
	b, err := EncodeArtifact(c)
	require.NoError(t, err)
	b2, err := EncodeArtifact(c)
	require.NoError(t, err)
	assert.Equal(t, b, b2)

	back, err := DecodeArtifact(b)
	require.NoError(t, err)
	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, c.Type, back.Type)

	_, err = DecodeArtifact([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestVersionCheck(t *testing.T) {
	assert.NoError(t, checkVersion("1.4.2"))
	assert.ErrorIs(t, checkVersion("2.0.0"), ErrFormat)
	assert.ErrorIs(t, checkVersion("one"), ErrFormat)
}

func TestProveVerify(t *testing.T) {
	ctx := context.Background()
	c, err := Compile(mintSrc)
	require.NoError(t, err)
	mock := zk.NewMockBackend(zk.NewVKCache(4))
	reg, err := zk.NewRegistry(mock)
	require.NoError(t, err)

	p, err := Prove(ctx, mock, c, 64, []value.Value{value.Int(41)})
	require.NoError(t, err)
	again, err := Prove(ctx, mock, c, 64, []value.Value{value.Int(41)})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	b, err := EncodeProof(p)
	require.NoError(t, err)
	back, err := DecodeProof(b)
	require.NoError(t, err)
	assert.Equal(t, p.ID, back.ID)

	public, err := DecodePublicInputs(EncodePublicInputs(p.PublicInputs))
	require.NoError(t, err)
	require.NoError(t, Verify(ctx, reg, back, public))

	other, err := Prove(ctx, mock, c, 64, []value.Value{value.Int(1)})
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(ctx, reg, back, other.PublicInputs), ErrVerificationFailed)

	back.Data[0] ^= 1
	assert.ErrorIs(t, Verify(ctx, reg, back, public), ErrVerificationFailed)
}

func TestDecodeWitness(t *testing.T) {
	vs, err := DecodeWitness([]byte("witness:\n  - 5\n  - '\"alice\"'\n  - \"'inc\"\n  - (record (amount 3))\n"))
	require.NoError(t, err)
	require.Len(t, vs, 4)
	assert.True(t, value.Equal(value.Int(5), vs[0]))
	assert.True(t, value.Equal(value.String("alice"), vs[1]))
	assert.True(t, value.Equal(value.Symbol("inc"), vs[2]))

	_, err = DecodeWitness([]byte("witness:\n  - [1, 2]\n"))
	assert.Error(t, err)
	_, err = DecodeWitness([]byte("witness:\n  - 1 2\n"))
	assert.Error(t, err)
}
