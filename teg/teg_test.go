package teg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
)

func spec(label string) NodeSpec {
	return NodeSpec{Label: label, Effect: Perform(label, lambda.Int(1))}
}

type diamond struct {
	g          *Graph
	a, b, c, d content.NodeID
}

// a -> b, a -> c, b -> d, c -> d
func buildDiamond(t *testing.T) diamond {
	t.Helper()
	bld := NewBuilder()
	var x diamond
	var err error
	x.a, err = bld.AddNode(spec("a"))
	require.NoError(t, err)
	x.b, _ = bld.AddNode(spec("b"))
	x.c, _ = bld.AddNode(spec("c"))
	x.d, _ = bld.AddNode(spec("d"))
	require.NoError(t, bld.AddEdge(Edge{Kind: CausalityLink, From: x.a, To: x.b}))
	require.NoError(t, bld.AddEdge(Edge{Kind: ResourceLink, From: x.a, To: x.c, Label: "tok"}))
	require.NoError(t, bld.AddEdge(Edge{Kind: CausalityLink, From: x.b, To: x.d}))
	require.NoError(t, bld.AddEdge(Edge{Kind: ControlLink, From: x.c, To: x.d, Label: "ok?"}))
	x.g, err = bld.Build()
	require.NoError(t, err)
	return x
}

func index(ids []content.NodeID, id content.NodeID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func TestBuildMetadata(t *testing.T) {
	x := buildDiamond(t)
	g := x.g
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 3, g.Meta.CriticalPath)
	assert.Equal(t, uint64(4*ParallelismScale/3), g.Meta.Parallelism)
	assert.Equal(t, uint64(4*21), g.Meta.TotalCost)
	assert.Equal(t, uint64(3*21), g.Meta.CriticalCost)

	topo := g.Topo()
	require.Len(t, topo, 4)
	assert.Equal(t, x.a, topo[0])
	assert.Equal(t, x.d, topo[3])

	waves := g.Waves()
	require.Len(t, waves, 3)
	assert.Equal(t, []content.NodeID{x.a}, waves[0])
	assert.ElementsMatch(t, []content.NodeID{x.b, x.c}, waves[1])
	assert.True(t, waves[1][0].Less(waves[1][1]))

	path := g.CriticalPath()
	require.Len(t, path, 3)
	assert.Equal(t, x.a, path[0])
	assert.Equal(t, x.d, path[2])

	d, _ := g.Node(x.d)
	assert.ElementsMatch(t, []content.NodeID{x.b, x.c}, d.Dependencies)

	nodes := g.Nodes()
	for i := 1; i < len(nodes); i++ {
		assert.True(t, nodes[i-1].ID.Less(nodes[i].ID))
	}
}

func TestReachability(t *testing.T) {
	x := buildDiamond(t)
	anc, err := x.g.Ancestors(x.d)
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.NodeID{x.a, x.b, x.c}, anc)
	desc, _ := x.g.Descendants(x.a)
	assert.ElementsMatch(t, []content.NodeID{x.b, x.c, x.d}, desc)

	ok, err := x.g.Independent(x.b, x.c)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = x.g.Independent(x.a, x.d)
	assert.False(t, ok)

	_, err = x.g.Ancestors(content.NodeID{1})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestDeterministicIDs(t *testing.T) {
	build := func(labels ...string) *Graph {
		b := NewBuilder()
		ids := map[string]content.NodeID{}
		for _, l := range labels {
			ids[l], _ = b.AddNode(spec(l))
		}
		require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: ids["x"], To: ids["y"]}))
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}
	g1 := build("x", "y", "z")
	g2 := build("z", "y", "x")
	assert.Equal(t, g1.Topo(), g2.Topo())
	assert.Equal(t, g1.Edges(), g2.Edges())
}

func TestCycleRejected(t *testing.T) {
	b := NewBuilder()
	a, _ := b.AddNode(spec("a"))
	c, _ := b.AddNode(spec("c"))
	require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: a, To: c}))
	require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: c, To: a}))
	_, err := b.Build()
	require.ErrorIs(t, err, ErrCycleFound)
	var ge *GraphError
	require.True(t, errors.As(err, &ge))
	require.Len(t, ge.Nodes, 3)
	assert.Equal(t, ge.Nodes[0], ge.Nodes[2])

	assert.ErrorIs(t, b.AddEdge(Edge{Kind: CausalityLink, From: a, To: a}), ErrCycleFound)
	assert.ErrorIs(t, b.AddEdge(Edge{Kind: CausalityLink, From: a, To: c}), ErrInvalidGraph)
	_, err = b.AddNode(spec("a"))
	assert.ErrorIs(t, err, ErrInvalidGraph)
	_, err = NewBuilder().Build()
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestResourceSatisfiability(t *testing.T) {
	needs := NodeSpec{Label: "use", Effect: Perform("use"), Requires: []string{"tok"}}

	b := NewBuilder()
	_, _ = b.AddNode(needs)
	_, err := b.Build()
	assert.ErrorIs(t, err, ErrUnsatisfiableResource)

	b = NewBuilder()
	_, _ = b.AddNode(needs)
	b.SystemInputs("tok")
	_, err = b.Build()
	assert.NoError(t, err)

	b = NewBuilder()
	p, _ := b.AddNode(NodeSpec{Label: "mint", Effect: Perform("mint"), Produces: []string{"tok"}})
	u, _ := b.AddNode(needs)
	require.NoError(t, b.AddEdge(Edge{Kind: ResourceLink, From: p, To: u, Label: "tok"}))
	_, err = b.Build()
	assert.NoError(t, err)

	b = NewBuilder()
	_, _ = b.AddNode(NodeSpec{
		Label:    "self",
		Effect:   Pure(lambda.Consume(lambda.AllocTagged("tok", lambda.Int(1)))),
		Requires: []string{"tok"},
	})
	_, err = b.Build()
	assert.NoError(t, err)
}

func TestReadyAndTransitions(t *testing.T) {
	x := buildDiamond(t)
	g := x.g
	assert.Equal(t, []content.NodeID{x.a}, g.Ready())
	assert.Equal(t, []content.NodeID{x.a}, g.Advance())
	assert.Error(t, g.Transition(x.a, Pending, Executing))
	require.NoError(t, g.Transition(x.a, Ready, Executing))
	assert.Empty(t, g.Ready())
	require.NoError(t, g.Complete(x.a, value.Int(1), 5))
	assert.ElementsMatch(t, []content.NodeID{x.b, x.c}, g.Ready())
	assert.ErrorIs(t, g.Transition(x.a, Completed, Pending), ErrInvalidTransition)

	s := g.Stats()
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 3, s.Pending)
	assert.Equal(t, uint64(5), s.TotalGas)
}

func TestCancelPropagates(t *testing.T) {
	x := buildDiamond(t)
	g := x.g
	g.Advance()
	require.NoError(t, g.Transition(x.a, Ready, Executing))
	_, err := g.Cancel(x.a)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, g.Complete(x.a, value.Unit{}, 0))

	cancelled, err := g.Cancel(x.b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.NodeID{x.b, x.d}, cancelled)
	c, _ := g.Node(x.c)
	assert.Equal(t, Pending, c.Status)
	d, _ := g.Node(x.d)
	assert.Equal(t, Cancelled, d.Status)
}

func TestFailPropagates(t *testing.T) {
	x := buildDiamond(t)
	g := x.g
	g.Advance()
	require.NoError(t, g.Transition(x.a, Ready, Executing))
	cancelled, err := g.Fail(x.a, "boom")
	require.NoError(t, err)
	assert.Len(t, cancelled, 3)
	a, _ := g.Node(x.a)
	assert.Equal(t, Failed, a.Status)
	assert.Equal(t, "boom", a.Reason)
	assert.True(t, g.Done())
}

func TestExpire(t *testing.T) {
	b := NewBuilder()
	s := spec("slow")
	s.Deadline = time.Second
	slow, _ := b.AddNode(s)
	next, _ := b.AddNode(spec("next"))
	require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: slow, To: next}))
	g, err := b.Build()
	require.NoError(t, err)

	assert.Empty(t, g.Expire(500*time.Millisecond))
	assert.Equal(t, []content.NodeID{slow}, g.Expire(2*time.Second))
	n, _ := g.Node(slow)
	assert.Equal(t, Failed, n.Status)
	assert.Equal(t, TimeoutReason, n.Reason)
	n, _ = g.Node(next)
	assert.Equal(t, Cancelled, n.Status)
}

func labelRunner(fail string) RunnerFunc {
	return func(_ context.Context, n Node) (*NodeResult, error) {
		if n.Label == fail {
			return &NodeResult{Failure: fmt.Errorf("%s failed", n.Label)}, nil
		}
		return &NodeResult{Value: value.String(n.Label), Gas: 1}, nil
	}
}

func TestRunSerial(t *testing.T) {
	x := buildDiamond(t)
	e, err := NewExecutor(x.g, labelRunner(""))
	require.NoError(t, err)
	res, err := e.RunSerial(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Order, 4)
	for _, edge := range x.g.Edges() {
		assert.Less(t, index(res.Order, edge.From), index(res.Order, edge.To))
	}
	assert.Equal(t, value.String("d"), res.Results[x.d])
	assert.Equal(t, 4, res.Stats.Completed)
	assert.Equal(t, uint64(4), res.Stats.TotalGas)

	// a second run over a fresh graph starts nodes in the same order
	y := buildDiamond(t)
	e2, _ := NewExecutor(y.g, labelRunner(""))
	res2, err := e2.RunSerial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Order, res2.Order)
}

func TestRunSerialFailure(t *testing.T) {
	x := buildDiamond(t)
	e, _ := NewExecutor(x.g, labelRunner("b"))
	res, err := e.RunSerial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b failed", res.Failures[x.b])
	assert.Contains(t, res.Results, x.c)
	d, _ := x.g.Node(x.d)
	assert.Equal(t, Cancelled, d.Status)
	assert.Equal(t, 1, res.Stats.Cancelled)
}

func TestRunAborts(t *testing.T) {
	x := buildDiamond(t)
	e, _ := NewExecutor(x.g, RunnerFunc(func(context.Context, Node) (*NodeResult, error) {
		return nil, errors.New("disk gone")
	}))
	_, err := e.RunSerial(context.Background())
	assert.ErrorContains(t, err, "disk gone")

	y := buildDiamond(t)
	e, _ = NewExecutor(y.g, RunnerFunc(func(context.Context, Node) (*NodeResult, error) {
		return nil, errors.New("disk gone")
	}))
	_, err = e.RunParallel(context.Background(), 2)
	assert.ErrorContains(t, err, "disk gone")
}

func TestRunParallelHappensBefore(t *testing.T) {
	for i := 0; i < 20; i++ {
		x := buildDiamond(t)
		var mu sync.Mutex
		var events []string
		runner := RunnerFunc(func(_ context.Context, n Node) (*NodeResult, error) {
			mu.Lock()
			events = append(events, "start "+n.Label)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			events = append(events, "end "+n.Label)
			mu.Unlock()
			return &NodeResult{Value: value.Int(1), Gas: 2}, nil
		})
		e, _ := NewExecutor(x.g, runner)
		res, err := e.RunParallel(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, 4, res.Stats.Completed)
		assert.Equal(t, uint64(8), res.Stats.TotalGas)

		pos := func(ev string) int {
			for k, e := range events {
				if e == ev {
					return k
				}
			}
			return -1
		}
		for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
			assert.Less(t, pos("end "+pair[0]), pos("start "+pair[1]), "%s before %s", pair[0], pair[1])
		}
	}
}

func TestRunParallelTimeout(t *testing.T) {
	b := NewBuilder()
	s := spec("slow")
	s.Deadline = 20 * time.Millisecond
	slow, _ := b.AddNode(s)
	next, _ := b.AddNode(spec("next"))
	other, _ := b.AddNode(spec("other"))
	require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: slow, To: next}))
	g, err := b.Build()
	require.NoError(t, err)

	runner := RunnerFunc(func(ctx context.Context, n Node) (*NodeResult, error) {
		if n.Label == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &NodeResult{Value: value.Unit{}}, nil
	})
	e, _ := NewExecutor(g, runner)
	res, err := e.RunParallel(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, TimeoutReason, res.Failures[slow])
	assert.Contains(t, res.Results, other)
	n, _ := g.Node(next)
	assert.Equal(t, Cancelled, n.Status)
}

func TestLateNodeDoesNotCommit(t *testing.T) {
	for _, workers := range []int{1, 2} {
		b := NewBuilder()
		s := spec("late")
		s.Deadline = time.Second
		late, _ := b.AddNode(s)
		next, _ := b.AddNode(spec("next"))
		other, _ := b.AddNode(spec("other"))
		require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: late, To: next}))
		g, err := b.Build()
		require.NoError(t, err)

		var mu sync.Mutex
		now := time.Unix(0, 0)
		committed := map[string]bool{}
		runner := RunnerFunc(func(_ context.Context, n Node) (*NodeResult, error) {
			if n.Label == "late" {
				mu.Lock()
				now = now.Add(2 * time.Second)
				mu.Unlock()
			}
			return &NodeResult{Value: value.Unit{}, Commit: func() error {
				committed[n.Label] = true
				return nil
			}}, nil
		})
		e, _ := NewExecutor(g, runner)
		e.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		var res *Result
		if workers == 1 {
			res, err = e.RunSerial(context.Background())
		} else {
			res, err = e.RunParallel(context.Background(), workers)
		}
		require.NoError(t, err)
		assert.Equal(t, TimeoutReason, res.Failures[late])
		assert.Contains(t, res.Results, other)
		assert.Equal(t, map[string]bool{"other": true}, committed)
		n, _ := g.Node(next)
		assert.Equal(t, Cancelled, n.Status)
	}
}

func TestCommitFailure(t *testing.T) {
	x := buildDiamond(t)
	runner := RunnerFunc(func(_ context.Context, n Node) (*NodeResult, error) {
		res := &NodeResult{Value: value.Int(1)}
		if n.Label == "b" {
			res.Commit = func() error { return errors.New("resource already nullified") }
		}
		return res, nil
	})
	e, _ := NewExecutor(x.g, runner)
	res, err := e.RunSerial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "commit: resource already nullified", res.Failures[x.b])
	assert.Contains(t, res.Results, x.c)
	d, _ := x.g.Node(x.d)
	assert.Equal(t, Cancelled, d.Status)
}

func TestMermaid(t *testing.T) {
	x := buildDiamond(t)
	m := Mermaid(x.g)
	assert.Contains(t, m, "graph TD\n")
	assert.Contains(t, m, fmt.Sprintf("%s -->|tok| %s", x.a.Short(), x.c.Short()))
	assert.Contains(t, m, fmt.Sprintf("%s -.->|ok?| %s", x.c.Short(), x.d.Short()))
	assert.Contains(t, m, fmt.Sprintf("%s --> %s", x.a.Short(), x.b.Short()))
	assert.Contains(t, m, "Pending")
}

func TestEffects(t *testing.T) {
	double := Handler{Tag: "double", Param: "x", ParamType: lambda.IntType, Body: lambda.Apps(lambda.Var("*"), lambda.Var("x"), lambda.Int(2))}
	e := Handle(Bind(Perform("double", lambda.Int(20)), "y", Pure(lambda.Apps(lambda.Var("+"), lambda.Var("y"), lambda.Int(2)))), double)
	assert.Empty(t, e.Tags())
	assert.Equal(t, []string{"double"}, Perform("double").Tags())

	term, err := LowerEffect(e)
	require.NoError(t, err)
	c, err := lambda.Compile(term)
	require.NoError(t, err)
	_, trace, err := machine.Execute(c.Program, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), trace.Result)

	assert.Equal(t, machine.GasApply+machine.GasMove, Perform("t", lambda.Int(1)).Cost())
	assert.Equal(t, Perform("t", lambda.Int(1)).ID(), Perform("t", lambda.Int(1)).ID())
	assert.NotEqual(t, Perform("t", lambda.Int(1)).ID(), Perform("u", lambda.Int(1)).ID())

	race, err := LowerEffect(Race(Pure(lambda.Int(1)), Pure(lambda.Int(2))))
	require.NoError(t, err)
	assert.Equal(t, lambda.Int(1).ID(), race.ID())
}

func TestLowerGraph(t *testing.T) {
	b := NewBuilder()
	one, _ := b.AddNode(NodeSpec{Label: "one", Effect: Pure(lambda.Int(1))})
	two, _ := b.AddNode(NodeSpec{Label: "two", Effect: Pure(lambda.Int(2))})
	require.NoError(t, b.AddEdge(Edge{Kind: CausalityLink, From: two, To: one}))
	g, err := b.Build()
	require.NoError(t, err)

	term, err := Lower(g)
	require.NoError(t, err)
	assert.Empty(t, lambda.FreeVars(term))
	c, err := lambda.Compile(term)
	require.NoError(t, err)
	assert.Equal(t, "(Int * Int)", c.Type.String())

	single := NewBuilder()
	_, _ = single.AddNode(NodeSpec{Label: "only", Effect: Pure(lambda.Int(7))})
	g, err = single.Build()
	require.NoError(t, err)
	term, err = Lower(g)
	require.NoError(t, err)
	assert.Equal(t, lambda.Int(7).ID(), term.ID())
}
