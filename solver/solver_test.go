package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/schema"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/teg"
	"github.com/timewave-computer/causality-sub016/value"
)

func local(name, transform string, inputs ...string) *Constraint {
	return &Constraint{Kind: LocalTransform, Name: name, Transform: transform, Inputs: inputs}
}

func newSolver(opts ...Option) *Solver {
	base := []Option{
		WithDefinition("mint", Definition{Kind: StateAllocation}),
		WithDefinition("mint5", Definition{Kind: StateAllocation, Initial: value.Int(5)}),
		WithDefinition("burn", Definition{Kind: ResourceConsumption}),
		WithDefinition("sub", Definition{Kind: FunctionApplication, Function: "-"}),
		WithDefinition("add", Definition{Kind: FunctionApplication, Function: "+"}),
		WithDefinition("div", Definition{Kind: FunctionApplication, Function: "/"}),
	}
	return New("L0", append(base, opts...)...)
}

func errorOf(t *testing.T, err error) *Error {
	t.Helper()
	var se *Error
	require.True(t, errors.As(err, &se), "want *Error, got %v", err)
	return se
}

func TestSingleAllocation(t *testing.T) {
	s := newSolver()
	in := &Intent{
		Outputs:     []string{"tokenA"},
		Constraints: []*Constraint{{Kind: LocalTransform, Name: "tokenA", Source: lambda.UnitType, Transform: "mint", From: "L0"}},
		Expression:  lambda.Consume(lambda.Var("tokenA")),
	}
	sol, err := s.Solve(in)
	require.NoError(t, err)
	require.Equal(t, 1, sol.Graph.Len())
	assert.Equal(t, in.ID(), sol.Graph.Meta.Intent)
	assert.Equal(t, "Resource(Unit)", sol.Analysis.Types["tokenA"].String())

	var tag value.Value
	consts := map[machine.Register]value.Value{}
	for _, c := range sol.Program.Program.Root.Constants {
		consts[c.Register] = c.Value
	}
	for _, insn := range sol.Program.Program.Root.Instructions {
		if insn.Type == machine.IAlloc {
			tag = consts[insn.Inputs[0]]
		}
	}
	assert.Equal(t, value.Symbol("tokenA"), tag)

	_, trace, err := machine.Execute(sol.Program.Program, nil, nil)
	require.NoError(t, err)
	assert.Len(t, trace.Nullifiers, 1)

	ex, err := Execute(context.Background(), sol)
	require.NoError(t, err)
	assert.Len(t, ex.Nullifiers, 1)
	assert.Equal(t, value.Unit{}, ex.Output)
	assert.Equal(t, 1, ex.Result.Stats.Completed)
}

func TestMissingCapability(t *testing.T) {
	a := local("a", "mint")
	a.Capability = &resource.Capability{ResourceType: "vault", Right: resource.Write}
	in := &Intent{Constraints: []*Constraint{local("b", "burn", "a"), a}}

	sol, err := newSolver().Solve(in)
	require.ErrorIs(t, err, ErrMissingCapability)
	assert.Nil(t, sol)
	se := errorOf(t, err)
	assert.Equal(t, "write:vault", se.Required)
	assert.Empty(t, se.Available)
	assert.Contains(t, err.Error(), "need write:vault")

	s := newSolver(WithCapabilities(resource.Capability{ResourceType: "vault", Right: resource.Delegate}))
	sol, err = s.Solve(in)
	require.NoError(t, err)
	require.Len(t, sol.Grants, 1)
	assert.Equal(t, resource.Write, sol.Grants[0].Granted.Right)

	edges := sol.Graph.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, teg.CausalityLink, edges[0].Kind)
	assert.Equal(t, "a", edges[0].Label)

	ex, err := Execute(context.Background(), sol)
	require.NoError(t, err)
	assert.Len(t, ex.Nullifiers, 1)
	assert.Equal(t, value.Unit{}, ex.Values["b"])
}

func TestAnalysisFailures(t *testing.T) {
	moved := local("a", "mint")
	moved.To = "L1"
	elsewhere := local("b", "burn", "a")
	elsewhere.From = "L1"

	tests := []struct {
		name   string
		intent *Intent
		kind   error
	}{
		{"unknown transform", &Intent{Constraints: []*Constraint{local("a", "forge")}}, ErrUnknownTransform},
		{"two producers", &Intent{Constraints: []*Constraint{local("a", "mint"), local("a", "mint5")}}, ErrInvalidConstraintCombination},
		{"two consumers", &Intent{Constraints: []*Constraint{local("a", "mint"), local("b", "burn", "a"), local("c", "burn", "a")}}, ErrInvalidConstraintCombination},
		{"nothing produces input", &Intent{Constraints: []*Constraint{local("b", "burn", "ghost")}}, ErrUnsatisfiableResource},
		{"output never produced", &Intent{Outputs: []string{"x"}, Constraints: []*Constraint{local("a", "mint")}}, ErrUnsatisfiableResource},
		{"output consumed", &Intent{Outputs: []string{"a"}, Constraints: []*Constraint{local("a", "mint"), local("b", "burn", "a")}}, ErrInvalidConstraintCombination},
		{"cycle", &Intent{Constraints: []*Constraint{local("a", "mint", "b"), local("b", "mint", "a")}}, ErrUnsolvableConstraints},
		{"local move", &Intent{Constraints: []*Constraint{moved}}, ErrInvalidLocation},
		{"input at other location", &Intent{Constraints: []*Constraint{local("a", "mint"), elsewhere}}, ErrInvalidLocation},
		{"reserved name", &Intent{Constraints: []*Constraint{local("Sum", "mint")}}, ErrInvalidConstraintCombination},
		{"wrong arity", &Intent{Constraints: []*Constraint{local("b", "burn")}}, ErrInvalidConstraintCombination},
		{"target type", &Intent{Constraints: []*Constraint{{Kind: LocalTransform, Name: "a", Transform: "mint5", Target: lambda.IntType}}}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSolver().Solve(tt.intent)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestRemoteTransform(t *testing.T) {
	move := &Constraint{
		Kind: RemoteTransform, Name: "b", Inputs: []string{"a"}, To: "L1",
		Protocol: session.Send(lambda.IntType, session.End()),
	}
	burn := local("c", "burn", "b")
	burn.From = "L1"
	in := &Intent{Outputs: []string{"c"}, Constraints: []*Constraint{local("a", "mint5"), move, burn}}

	s := newSolver()
	sol, err := s.Solve(in)
	require.NoError(t, err)
	kinds := map[string]teg.EdgeKind{}
	for _, e := range sol.Graph.Edges() {
		kinds[e.Label] = e.Kind
	}
	assert.Equal(t, map[string]teg.EdgeKind{"a": teg.ResourceLink, "b": teg.CausalityLink}, kinds)
	assert.Equal(t, 3, sol.Graph.Meta.CriticalPath)

	ex, err := Execute(context.Background(), sol)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(5), ex.Values["c"]))
	assert.Len(t, ex.Nullifiers, 2)
	var moved *resource.Resource
	for _, r := range ex.Heap.Resources() {
		if r.Name == "b" {
			moved = r
		}
	}
	require.NotNil(t, moved)
	assert.Equal(t, Location("L1").Domain(), moved.Domain)

	move.Protocol = session.Send(lambda.BoolType, session.End())
	_, err = s.Solve(in)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	move.Protocol = session.Receive(lambda.IntType, session.End())
	_, err = s.Solve(in)
	assert.ErrorIs(t, err, ErrInvalidConstraintCombination)
}

func accounts(t *testing.T) *schema.Registry {
	r, err := schema.NewRegistry(schema.New("Account",
		schema.Field{Name: "balance", Type: lambda.IntType},
		schema.Field{Name: "owner", Type: lambda.StringType},
	))
	require.NoError(t, err)
	return r
}

func TestFieldAccess(t *testing.T) {
	open := Definition{Kind: StateAllocation, Initial: value.NewRecord(
		value.Field{Key: "balance", Value: value.Int(10)},
		value.Field{Key: "owner", Value: value.String("al")},
	)}
	read := func(field string) *Intent {
		return &Intent{
			Outputs: []string{"bal"},
			Constraints: []*Constraint{
				local("acct", "open"),
				{Kind: CapabilityAccess, Name: "bal", Inputs: []string{"acct"}, Schema: "Account", Field: field, Access: schema.Read},
			},
		}
	}
	readCap := resource.Capability{ResourceType: "Account", Right: resource.Read}

	s := newSolver(WithDefinition("open", open), WithSchemas(accounts(t)), WithCapabilities(readCap))
	sol, err := s.Solve(read("balance"))
	require.NoError(t, err)
	require.Len(t, sol.FieldOps, 1)
	assert.Equal(t, "Account.balance:read", sol.FieldOps[0].String())

	ex, err := Execute(context.Background(), sol)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(10), ex.Values["bal"]))
	assert.Len(t, ex.Nullifiers, 1)

	_, err = s.Solve(read("nonce"))
	assert.ErrorIs(t, err, ErrUnknownField)

	in := read("balance")
	in.Constraints[1].Schema = "Vault"
	_, err = s.Solve(in)
	assert.ErrorIs(t, err, ErrUnknownSchema)

	// capabilities on undeclared types are not counted
	s = newSolver(WithDefinition("open", open), WithSchemas(accounts(t)),
		WithCapabilities(resource.Capability{ResourceType: "Other", Right: resource.Delegate}))
	_, err = s.Solve(read("balance"))
	require.ErrorIs(t, err, ErrMissingCapability)
	assert.Empty(t, errorOf(t, err).Available)
}

func TestNonCommutativeOrdering(t *testing.T) {
	ints := []Input{{"x1", lambda.IntType}, {"y1", lambda.IntType}, {"x2", lambda.IntType}, {"y2", lambda.IntType}}
	build := func(transform string) *Solution {
		in := &Intent{Inputs: ints, Constraints: []*Constraint{
			local("d1", transform, "x1", "y1"),
			local("d2", transform, "x2", "y2"),
		}}
		sol, err := newSolver().Solve(in)
		require.NoError(t, err)
		return sol
	}

	sol := build("sub")
	edges := sol.Graph.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, "order:sub", edges[0].Label)
	assert.Equal(t, 2, sol.Graph.Meta.CriticalPath)

	ex, err := Execute(context.Background(), sol, WithInputs(map[string]value.Value{
		"x1": value.Int(9), "y1": value.Int(4), "x2": value.Int(1), "y2": value.Int(3),
	}))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(5), ex.Values["d1"]))
	assert.True(t, value.Equal(value.Int(-2), ex.Values["d2"]))

	assert.Empty(t, build("add").Graph.Edges())

	_, err = Execute(context.Background(), sol)
	assert.Error(t, err)
}

func TestProperties(t *testing.T) {
	add := Definition{Kind: FunctionApplication, Function: "+"}
	assert.True(t, Verify(add, Associativity, Commutativity, Identity, Linearity))
	assert.False(t, Verify(add, Distributivity))
	assert.True(t, Properties(Definition{Kind: FunctionApplication, Function: "mul"}).Has(Distributivity))
	assert.Equal(t, "{linearity}", Properties(Definition{Kind: FunctionApplication, Function: "-"}).String())
	assert.False(t, Verify(Definition{Kind: CommunicationSend}, Commutativity))
	assert.True(t, Verify(Definition{Kind: StateAllocation}, Commutativity, Linearity))
	assert.False(t, Verify(Definition{Kind: ResourceConsumption}, Identity))
}

func TestHandlersAndWitness(t *testing.T) {
	double := lambda.Lam("x", lambda.IntType, lambda.Apps(lambda.Var("*"), lambda.Var("x"), lambda.Int(2)))
	s := newSolver(
		WithHandlers(map[string]*lambda.Term{"double": double}),
		WithDefinition("twice", Definition{Kind: FunctionApplication, Function: "double"}),
	)
	in := &Intent{
		Inputs:      []Input{{"n", lambda.IntType}},
		Outputs:     []string{"d"},
		Constraints: []*Constraint{local("d", "twice", "n")},
	}
	sol, err := s.Solve(in)
	require.NoError(t, err)

	inputs := map[string]value.Value{"n": value.Int(21)}
	w, err := sol.Witness(inputs)
	require.NoError(t, err)
	_, trace, err := machine.Execute(sol.Program.Program, nil, w)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(42), trace.Result))

	ex, err := Execute(context.Background(), sol, WithInputs(inputs))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.Int(42), ex.Values["d"]))

	_, err = sol.Witness(nil)
	assert.Error(t, err)

	s.Define("thrice", Definition{Kind: FunctionApplication, Function: "triple"})
	in.Constraints = []*Constraint{local("d", "thrice", "n")}
	_, err = s.Solve(in)
	require.ErrorIs(t, err, ErrUnknownTransform)
	assert.Equal(t, "triple", errorOf(t, err).Name)
}

func TestFaultCancelsDependents(t *testing.T) {
	in := &Intent{
		Inputs: []Input{{"x", lambda.IntType}, {"y", lambda.IntType}},
		Constraints: []*Constraint{
			local("q", "div", "x", "y"),
			local("r", "mint", "q"),
		},
		Expression: lambda.Consume(lambda.Var("r")),
	}
	sol, err := newSolver().Solve(in)
	require.NoError(t, err)
	ex, err := Execute(context.Background(), sol, WithInputs(map[string]value.Value{"x": value.Int(1), "y": value.Int(0)}))
	require.NoError(t, err)
	assert.Equal(t, 1, ex.Result.Stats.Failed)
	assert.Equal(t, 1, ex.Result.Stats.Cancelled)
	assert.Nil(t, ex.Output)
	assert.Len(t, ex.Result.Failures, 1)
}

func TestLateNodeLeavesNoNullifiers(t *testing.T) {
	burn := local("b", "burn", "a")
	burn.Deadline = time.Second
	sol, err := newSolver().Solve(&Intent{Constraints: []*Constraint{local("a", "mint5"), burn}})
	require.NoError(t, err)
	var late content.NodeID
	for id, st := range sol.steps {
		if st.constraint.Name == "b" {
			late = id
		}
	}
	// The clock jumps past the deadline while b is running.
	t0 := time.Unix(0, 0)
	now := func() time.Time {
		if n, _ := sol.Graph.Node(late); n.Status == teg.Executing {
			return t0.Add(time.Hour)
		}
		return t0
	}
	nullifiers := resource.NewMemNullifierSet()
	ex, err := Execute(context.Background(), sol, WithNow(now), WithNullifiers(nullifiers))
	require.NoError(t, err)
	assert.Equal(t, teg.TimeoutReason, ex.Result.Failures[late])
	assert.Equal(t, 1, ex.Result.Stats.Completed)
	assert.Empty(t, ex.Nullifiers)
	require.Len(t, ex.Heap.Resources(), 1)
	avail, err := ex.Heap.Available(ex.Heap.Resources()[0].ID, nullifiers)
	require.NoError(t, err)
	assert.True(t, avail)
}

func TestControlLinksAndSync(t *testing.T) {
	guarded := local("b", "burn", "a")
	guarded.Predicate = "approved?"
	sync := &Constraint{Kind: DistributedSync, Name: "s", Inputs: []string{"c"}, Locations: []Location{"L0"}}
	in := &Intent{Constraints: []*Constraint{local("a", "mint"), guarded, local("c", "mint"), sync, local("z", "mint5")}}

	sol, err := newSolver().Solve(in)
	require.NoError(t, err)
	labels := map[string]teg.EdgeKind{}
	for _, e := range sol.Graph.Edges() {
		labels[e.Label] = e.Kind
	}
	assert.Equal(t, teg.ControlLink, labels["approved?"])
	assert.Equal(t, teg.ResourceLink, labels["c"])
	assert.Equal(t, teg.CausalityLink, labels["sync"])
	// z, a and b all sit at L0, so the sync waits on each of them
	n := 0
	for _, e := range sol.Graph.Edges() {
		if e.Label == "sync" {
			n++
		}
	}
	assert.Equal(t, 3, n)
}

func TestParallelExecution(t *testing.T) {
	in := &Intent{Hint: HintParallel, Constraints: []*Constraint{
		local("a", "mint"), local("b", "mint5"), local("c", "burn", "a"),
	}}
	sol, err := newSolver().Solve(in)
	require.NoError(t, err)
	ex, err := Execute(context.Background(), sol, WithWorkers(4))
	require.NoError(t, err)
	assert.Equal(t, 3, ex.Result.Stats.Completed)
	assert.Len(t, ex.Nullifiers, 1)
}

func TestDeterminism(t *testing.T) {
	in := func(rev bool) *Intent {
		cs := []*Constraint{local("a", "mint5"), local("b", "burn", "a"), local("c", "mint")}
		if rev {
			cs[0], cs[2] = cs[2], cs[0]
		}
		return &Intent{Constraints: cs}
	}
	assert.Equal(t, in(false).ID(), in(true).ID())

	s1, err := newSolver().Solve(in(false))
	require.NoError(t, err)
	s2, err := newSolver().Solve(in(true))
	require.NoError(t, err)
	assert.Equal(t, s1.Graph.Topo(), s2.Graph.Topo())
	assert.Equal(t, s1.Program.Program.ID(), s2.Program.Program.ID())

	e1, err := Execute(context.Background(), s1)
	require.NoError(t, err)
	e2, err := Execute(context.Background(), s2, WithWorkers(3))
	require.NoError(t, err)
	assert.Equal(t, e1.Nullifiers, e2.Nullifiers)
}
