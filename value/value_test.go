package value

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
)

func sample() []Value {
	var ref Ref
	ref[0] = 7
	return []Value{
		Unit{},
		Bool(true),
		Int(-42),
		NewRational(1, 3),
		NewInteger(new(big.Int).Lsh(big.NewInt(1), 100)),
		Symbol("token"),
		String("hello"),
		List{Int(1), Symbol("a"), List{}},
		NewMap(Field{Key: "b", Value: Int(2)}, Field{Key: "a", Value: Int(1)}),
		NewRecord(Field{Key: "owner", Value: String("alice")}, Field{Key: "amount", Value: Int(10)}),
		ref,
		Lambda{Params: []string{"$1"}, Body: content.ExprID(content.Hash([]byte("body"))), Env: []Binding{{Name: "$0", Value: Int(3)}}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range sample() {
		t.Run(v.Kind().String(), func(t *testing.T) {
			b := Encode(v)
			back, err := Decode(b)
			require.NoError(t, err)
			require.True(t, Equal(v, back), "%s != %s", v, back)
			require.Equal(t, b, Encode(back))
		})
	}
}

func TestRecordFieldOrder(t *testing.T) {
	a := NewRecord(Field{Key: "x", Value: Int(1)}, Field{Key: "y", Value: Int(2)})
	b := NewRecord(Field{Key: "y", Value: Int(2)}, Field{Key: "x", Value: Int(1)})
	require.Equal(t, Encode(a), Encode(b))
	require.Equal(t, ID(a), ID(b))

	c := a.With("z", Int(3)).With("x", Int(9))
	v, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, Int(9), v)
	_, ok = a.Get("z")
	assert.False(t, ok, "With must not mutate the receiver")
	assert.Equal(t, 3, c.Len())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff})
	require.Error(t, err)
	_, err = Decode(append(Encode(Int(1)), 0))
	require.Error(t, err)
	_, err = Decode(Encode(String("abc"))[:5])
	require.Error(t, err)

	// Integer numbers whose big-integer encoding is not the shortest form.
	for _, raw := range []string{"0300010000000000000000", "030000010000000000000000"} {
		b, err := hex.DecodeString(raw)
		require.NoError(t, err)
		_, err = Decode(b)
		require.Error(t, err, raw)
	}
	zero := Encode(NewInteger(big.NewInt(0)))
	v, err := Decode(zero)
	require.NoError(t, err)
	assert.Equal(t, zero, Encode(v))
}

func TestArithmetic(t *testing.T) {
	v, err := Add(Int(2), Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)

	v, err = Div(Int(1), Int(3))
	require.NoError(t, err)
	assert.True(t, Equal(NewRational(1, 3), v))

	v, err = Div(Int(6), Int(3))
	require.NoError(t, err)
	assert.Equal(t, Int(2), v)

	_, err = Div(Int(1), Int(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Add(Int(1), String("x"))
	require.ErrorIs(t, err, ErrNotNumeric)

	v, err = Add(Int(1<<62), Int(1<<62))
	require.NoError(t, err)
	assert.Equal(t, KindNumber, v.Kind())

	v, err = Mul(NewRational(1, 2), Int(4))
	require.NoError(t, err)
	assert.Equal(t, KindNumber, v.Kind())
	c, ok := NumericCompare(v, Int(2))
	require.True(t, ok)
	assert.Equal(t, 0, c)
}

func TestNumericCompare(t *testing.T) {
	cases := []struct {
		a, b Value
		want int
	}{
		{Int(1), Int(2), -1},
		{NewRational(1, 3), Int(0), 1},
		{Int(0), NewRational(1, 3), -1},
		{NewRational(-7, 2), Int(-3), -1},
		{NewRational(4, 2), Int(2), 0},
		{NewRational(1, 2), NewRational(2, 4), 0},
	}
	for _, c := range cases {
		got, ok := NumericCompare(c.a, c.b)
		require.True(t, ok)
		assert.Equal(t, c.want, got, "%s vs %s", c.a, c.b)
	}
	_, ok := NumericCompare(Int(1), Bool(true))
	assert.False(t, ok)
}

func TestContainsRef(t *testing.T) {
	var r Ref
	assert.False(t, ContainsRef(List{Int(1)}))
	assert.True(t, ContainsRef(List{Int(1), r}))
	assert.True(t, ContainsRef(NewRecord(Field{Key: "a", Value: List{r}})))
	assert.Len(t, Refs(List{r, r}), 2)
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decode(encode(v)) == v", prop.ForAll(
		func(i int64, num int64, den int64, s string, keys []string) bool {
			if den == 0 {
				den = 1
			}
			fields := make([]Field, 0, len(keys))
			for j, k := range keys {
				fields = append(fields, Field{Key: Symbol(k), Value: Int(int64(j))})
			}
			v := List{Int(i), NewRational(num, den), String(s), Symbol(s), NewRecord(fields...)}
			back, err := Decode(Encode(v))
			return err == nil && Equal(v, back)
		},
		gen.Int64(), gen.Int64(), gen.Int64(), gen.AnyString(), gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("ids are stable under re-hashing", prop.ForAll(
		func(s string) bool {
			v := String(s)
			return ID(v) == ID(String(s))
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
