package lambda

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/value"
)

func add(a, b *Term) *Term { return Apps(Var("+"), a, b) }

func run(t *testing.T, term *Term, witness []value.Value, opts ...Option) (*Compiled, *machine.Trace) {
	t.Helper()
	c, err := Compile(term, opts...)
	require.NoError(t, err)
	s, trace, err := machine.Execute(c.Program, nil, witness)
	require.NoError(t, err)
	require.Equal(t, machine.Halted, s.Status())
	return c, trace
}

func TestUseTwiceRejected(t *testing.T) {
	// let x = alloc 7 in let y = consume x in y + consume x
	term := Let("x", Alloc(Int(7)),
		Let("y", Consume(Var("x")),
			add(Var("y"), Consume(Var("x").At(1, 40)))))
	_, err := Check(term, CheckOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinearity))

	var le *LinearityError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, UsedTwice, le.Kind)
	assert.Equal(t, "x", le.Var)
	assert.Equal(t, Pos{Line: 1, Col: 40}, le.Pos)

	_, err = Compile(term)
	assert.True(t, errors.Is(err, ErrLinearity))
}

func TestUnusedRejected(t *testing.T) {
	_, err := Check(Let("x", Alloc(Int(1)), Int(2)), CheckOptions{})
	var le *LinearityError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, Unused, le.Kind)
	assert.Equal(t, "x", le.Var)

	// unit bindings may be dropped
	_, err = Check(Let("u", UnitVal(), Int(2)), CheckOptions{})
	assert.NoError(t, err)
}

func TestRecordDropsResource(t *testing.T) {
	rec := func(a *Term) *Term { return RecordLit(FieldTerm{"a", a}, FieldTerm{"b", Int(2)}) }
	tests := []struct {
		name string
		term *Term
	}{
		// let r = {a = alloc 1, b = 2} in r.b
		{"access", Let("r", rec(Alloc(Int(1))), RecordAccess(Var("r"), "b"))},
		// consume ((r with a = alloc 2).a)
		{"update", Let("r", rec(Alloc(Int(1))),
			Let("s", RecordUpdate(Var("r"), "a", Alloc(Int(2))),
				add(Consume(RecordAccess(Var("s"), "a")), Int(0))))},
		{"nested", RecordAccess(RecordLit(
			FieldTerm{"a", RecordLit(FieldTerm{"inner", Alloc(Int(1))})},
			FieldTerm{"b", Int(2)}), "b")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Check(tc.term, CheckOptions{})
			var le *LinearityError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, DroppedField, le.Kind)
			assert.Equal(t, "a", le.Var)

			_, err = Compile(tc.term)
			assert.ErrorIs(t, err, ErrLinearity)
		})
	}

	// dropping data fields is fine, and so is taking the resource out
	_, err := Check(RecordAccess(rec(Int(1)), "b"), CheckOptions{})
	assert.NoError(t, err)
	_, trace := run(t, Consume(RecordAccess(rec(Alloc(Int(7))), "a")), nil)
	assert.Equal(t, value.Int(7), trace.Result)
	assert.Len(t, trace.Nullifiers, 1)

	_, trace = run(t, Let("r", rec(Int(1)), RecordAccess(RecordUpdate(Var("r"), "a", Int(5)), "a")), nil)
	assert.Equal(t, value.Int(5), trace.Result)
}

func TestBranchMismatch(t *testing.T) {
	term := Let("r", Alloc(Int(1)),
		Case(Inl(UnitVal(), UnitType), "a", Consume(Var("r")), "b", Int(0)))
	_, err := Check(term, CheckOptions{})
	var le *LinearityError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, BranchMismatch, le.Kind)
	assert.Equal(t, "r", le.Var)
}

func TestTypeErrors(t *testing.T) {
	_, err := Check(App(Int(1), Int(2)), CheckOptions{})
	assert.True(t, errors.Is(err, ErrType))

	_, err = Check(add(Int(1), Lit(value.Bool(true))), CheckOptions{})
	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Int", te.Expected)
	assert.Equal(t, "Bool", te.Found)

	_, err = Check(Var("nope"), CheckOptions{})
	assert.True(t, errors.Is(err, ErrType))

	_, err = Check(RecordAccess(RecordLit(FieldTerm{"a", Int(1)}), "b"), CheckOptions{})
	assert.True(t, errors.Is(err, ErrType))
}

func TestCheckTypes(t *testing.T) {
	c, err := Check(Lam("x", IntType, add(Var("x"), Int(1))), CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, "(Int -> Int)", c.Type.String())

	c, err = Check(Tensor(Int(1), Inl(Lit(value.Bool(true)), IntType)), CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, "(Int * (Bool + Int))", c.Type.String())

	c, err = Check(Var("in"), CheckOptions{Inputs: []Input{{Name: "in", Type: Resource(IntType)}}})
	require.NoError(t, err)
	assert.Equal(t, "Resource(Int)", c.Type.String())
}

func TestAlphaEquivalentIDs(t *testing.T) {
	a := Lam("x", nil, Var("x"))
	b := Lam("y", nil, Var("y")).At(3, 4)
	assert.Equal(t, a.ID(), b.ID())
	assert.True(t, AlphaEqual(Lam("x", nil, Var("z")), Lam("y", nil, Var("z"))))
	assert.NotEqual(t, a.ID(), Lam("x", nil, Var("z")).ID())
	assert.NotEqual(t, Lam("x", IntType, Var("x")).ID(), a.ID())

	p1, _ := run(t, App(a, Int(5)), nil)
	p2, _ := run(t, App(b, Int(5)), nil)
	assert.Equal(t, p1.Program.ID(), p2.Program.ID())
	assert.Equal(t, p1.Program.Serialize(), p2.Program.Serialize())
}

func TestSubstAvoidsCapture(t *testing.T) {
	// (λy. x + y)[x := y]
	out := Subst(Lam("y", nil, add(Var("x"), Var("y"))), "x", Var("y"))
	require.Equal(t, KLambda, out.Kind)
	assert.NotEqual(t, "y", out.Name)
	assert.Equal(t, []string{"+", "y"}, FreeVars(out))

	shadowed := Lam("x", nil, Var("x"))
	assert.Equal(t, shadowed.ID(), Subst(shadowed, "x", Int(1)).ID())
}

func TestBetaAndReduce(t *testing.T) {
	r, ok := Beta(App(Lam("x", nil, Var("x")), Int(3)))
	require.True(t, ok)
	assert.Equal(t, KLiteral, r.Kind)

	_, ok = Beta(Int(3))
	assert.False(t, ok)

	red := Reduce(App(Lam("x", nil, add(Var("x"), Var("x"))), Int(2)))
	assert.Equal(t, add(Int(2), Int(2)).ID(), red.ID())

	kept := App(Lam("x", nil, Var("x")), Alloc(Int(1)))
	assert.Equal(t, kept.ID(), Reduce(kept).ID())
}

func TestCompileAllocConsume(t *testing.T) {
	term := Let("x", Alloc(Int(7)), Let("y", Consume(Var("x")), add(Var("y"), Int(1))))
	c, trace := run(t, term, nil)
	assert.Equal(t, value.Int(8), trace.Result)
	assert.Equal(t, uint64(57), trace.TotalGas)
	assert.Equal(t, "Int", c.Type.String())
	require.Len(t, trace.Allocated, 1)
	assert.Equal(t, trace.Allocated, trace.Nullifiers)
}

func TestCompileCase(t *testing.T) {
	term := Case(Inl(Int(3), IntType), "a", add(Var("a"), Int(1)), "b", Var("b"))
	c, trace := run(t, term, nil)
	assert.Equal(t, value.Int(4), trace.Result)
	assert.Equal(t, 1, c.Eliminated)

	c, trace = run(t, term, nil, WithoutEphemeralElimination())
	assert.Equal(t, value.Int(4), trace.Result)
	assert.Equal(t, 0, c.Eliminated)
	require.Len(t, trace.Nullifiers, 1)

	captured := Let("k", Int(10),
		Case(Inr(Int(5), IntType), "a", add(Var("a"), Var("k")), "b", add(Var("b"), Var("k"))))
	c, trace = run(t, captured, nil)
	assert.Equal(t, value.Int(15), trace.Result)
	assert.Equal(t, "Int", c.Type.String())
}

func TestCompileIf(t *testing.T) {
	cond := func(b bool) *Term {
		return Case(App(Var("bool->sum"), Lit(value.Bool(b))), "_t", Int(1), "_f", Int(2))
	}
	_, trace := run(t, cond(true), nil)
	assert.Equal(t, value.Int(1), trace.Result)
	_, trace = run(t, cond(false), nil)
	assert.Equal(t, value.Int(2), trace.Result)
}

func TestCompileTensor(t *testing.T) {
	term := LetTensor(Tensor(Int(1), Int(2)), "x", "y", Apps(Var("-"), Var("x"), Var("y")))
	c, trace := run(t, term, nil)
	assert.Equal(t, value.Int(-1), trace.Result)
	assert.Equal(t, 1, c.Eliminated)
	assert.Empty(t, trace.Allocated)
}

func TestCompileRecords(t *testing.T) {
	rec := RecordLit(FieldTerm{"a", Int(1)}, FieldTerm{"b", Int(2)})
	term := RecordAccess(RecordUpdate(rec, "a", Int(5)), "a")
	_, trace := run(t, term, nil)
	assert.Equal(t, value.Int(5), trace.Result)
}

func TestCompileClosure(t *testing.T) {
	term := Let("n", Int(4), App(Lam("x", IntType, Apps(Var("*"), Var("x"), Var("n"))), Int(3)))
	c, trace := run(t, term, nil)
	assert.Equal(t, value.Int(12), trace.Result)
	assert.Len(t, c.Program.Blocks, 1)
}

func TestCompilePerformAndWitness(t *testing.T) {
	handlers := map[string]*Term{
		"double": Lam("x", IntType, Apps(Var("*"), Var("x"), Int(2))),
	}
	_, trace := run(t, Perform("double", Int(21)), nil, WithHandlers(handlers))
	assert.Equal(t, value.Int(42), trace.Result)

	_, err := Compile(Perform("missing", Int(1)))
	assert.True(t, errors.Is(err, ErrType))

	term := Let("w", Witness(IntType), add(Var("w"), Int(1)))
	_, trace = run(t, term, []value.Value{value.Int(41)})
	assert.Equal(t, value.Int(42), trace.Result)
	assert.Equal(t, 1, trace.WitnessConsumed)
}

func TestCompileInputs(t *testing.T) {
	term := Consume(Var("in"))
	c, err := Compile(term, WithInputs(Input{Name: "in", Type: Resource(IntType)}))
	require.NoError(t, err)
	assert.Equal(t, "Int", c.Type.String())
}

func TestCompileSession(t *testing.T) {
	proto := session.Send(IntType, session.Receive(BoolType, session.End()))
	term := Let("c", NewChannel(proto),
		Let("c2", Send(Var("c"), Int(5)),
			LetTensor(Receive(Var("c2")), "b", "c3",
				LetUnit(Close(Var("c3")), Var("b")))))
	c, trace := run(t, term, []value.Value{value.Bool(true)})
	assert.Equal(t, value.Bool(true), trace.Result)
	assert.Equal(t, "Bool", c.Type.String())
	// every channel endpoint is consumed
	assert.Equal(t, len(trace.Allocated), len(trace.Nullifiers))

	bad := Let("c", NewChannel(proto), Close(Var("c")))
	_, err := Check(bad, CheckOptions{})
	assert.True(t, errors.Is(err, ErrType))
}

func TestCompileBranch(t *testing.T) {
	proto := session.ExternalChoice(
		session.Branch{Label: "inc", Session: session.Receive(IntType, session.End())},
		session.Branch{Label: "stop", Session: session.End()},
	)
	term := Let("c", NewChannel(proto), Branch(Var("c"),
		BranchTerm{Label: "inc", Var: "c1", Body: LetTensor(Receive(Var("c1")), "n", "c2",
			LetUnit(Close(Var("c2")), add(Var("n"), Int(1))))},
		BranchTerm{Label: "stop", Var: "c1", Body: LetUnit(Close(Var("c1")), Int(0))},
	))
	_, trace := run(t, term, []value.Value{value.Symbol("inc"), value.Int(41)})
	assert.Equal(t, value.Int(42), trace.Result)
	_, trace = run(t, term, []value.Value{value.Symbol("stop")})
	assert.Equal(t, value.Int(0), trace.Result)

	c, err := Compile(term)
	require.NoError(t, err)
	_, _, err = machine.Execute(c.Program, nil, []value.Value{value.Symbol("other")})
	f, ok := machine.AsFault(err)
	require.True(t, ok)
	assert.Equal(t, machine.TypeMismatch, f.Kind)
}

func TestSelect(t *testing.T) {
	proto := session.InternalChoice(
		session.Branch{Label: "ok", Session: session.End()},
		session.Branch{Label: "no", Session: session.Send(IntType, session.End())},
	)
	term := Let("c", NewChannel(proto), Close(Select(Var("c"), "ok")))
	_, trace := run(t, term, nil)
	assert.Equal(t, value.Unit{}, trace.Result)

	_, err := Check(Let("c", NewChannel(proto), Close(Select(Var("c"), "maybe"))), CheckOptions{})
	assert.True(t, errors.Is(err, ErrType))
}
