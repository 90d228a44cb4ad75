package solver

import (
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/teg"
)

// step is one node compiled on its own for the executor.
type step struct {
	constraint *Constraint
	compiled   *lambda.Compiled
	// index is the node's canonical position; it seeds the node's clock.
	index int
}

func tensor(vars []*lambda.Term) *lambda.Term {
	if len(vars) == 0 {
		return lambda.UnitVal()
	}
	body := vars[len(vars)-1]
	for i := len(vars) - 2; i >= 0; i-- {
		body = lambda.Tensor(vars[i], body)
	}
	return body
}

// Lower concatenates the graph into one term. Inputs are read from the
// witness in declaration order, then every node's result is bound to its
// name wave by wave. The term returns the expression, if any, paired with
// every value nothing consumed.
func (s *Solver) Lower(a *Analysis, g *teg.Graph, byNode map[content.NodeID]*Constraint) (*lambda.Term, error) {
	type binding struct {
		name string
		term *lambda.Term
	}
	var bs []binding
	for _, in := range a.Intent.Inputs {
		bs = append(bs, binding{in.Name, lambda.Witness(in.Type)})
	}
	for _, wave := range g.Waves() {
		for _, id := range wave {
			n, _ := g.Node(id)
			t, err := teg.LowerEffect(n.Effect)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", id.Short(), err)
			}
			bs = append(bs, binding{byNode[id].Name, t})
		}
	}
	skip := map[string]bool{}
	var parts []*lambda.Term
	if e := a.Intent.Expression; e != nil {
		for _, v := range lambda.FreeVars(e) {
			skip[v] = true
		}
		parts = append(parts, e)
	}
	for _, n := range a.sinks(skip) {
		parts = append(parts, lambda.Var(n))
	}
	body := tensor(parts)
	for i := len(bs) - 1; i >= 0; i-- {
		body = lambda.Let(bs[i].name, bs[i].term, body)
	}
	return body, nil
}

// lower is phase five: the whole graph as one program, plus each node and
// the expression compiled separately for execution.
func (s *Solver) lower(sol *Solution) error {
	a := sol.Analysis
	term, err := s.Lower(a, sol.Graph, sol.byNode)
	if err != nil {
		return err
	}
	compiled, err := lambda.Compile(term, lambda.WithHandlers(s.Handlers))
	if err != nil {
		return fmt.Errorf("lower: %w", err)
	}
	sol.Term = term
	sol.Program = compiled

	for i, n := range sol.Graph.Nodes() {
		c := sol.byNode[n.ID]
		t, err := teg.LowerEffect(n.Effect)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID.Short(), err)
		}
		cc, err := lambda.CompileOpen(t, a.inputsOf(c), lambda.WithHandlers(s.Handlers))
		if err != nil {
			return checkError(c, err)
		}
		sol.steps[n.ID] = &step{constraint: c, compiled: cc, index: i}
	}

	if e := a.Intent.Expression; e != nil {
		vars := lambda.FreeVars(e)
		sort.Strings(vars)
		inputs := make([]lambda.Input, len(vars))
		for i, v := range vars {
			inputs[i] = lambda.Input{Name: v, Type: a.Types[v]}
		}
		cc, err := lambda.CompileOpen(e, inputs, lambda.WithHandlers(s.Handlers))
		if err != nil {
			return fmt.Errorf("expression: %w", err)
		}
		sol.final = cc
	}
	logger.Logger().Debug().
		Int("nbInstructions", compiled.Program.NumInstructions()).
		Int("eliminated", compiled.Eliminated).
		Msg("intent lowered")
	return nil
}
