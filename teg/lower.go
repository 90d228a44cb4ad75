package teg

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/lambda"
)

// Lower concatenates the nodes' terms in scheduling order: wave by wave, by
// id within a wave. Each node's result is bound once and the program returns
// the right-nested tensor of all results, so no linear value is dropped.
func Lower(g *Graph) (*lambda.Term, error) {
	var terms []*lambda.Term
	for _, wave := range g.Waves() {
		for _, id := range wave {
			n := g.nodes[g.index[id]]
			t, err := LowerEffect(n.Effect)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", id.Short(), err)
			}
			terms = append(terms, t)
		}
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	names := make([]string, len(terms))
	for i := range terms {
		names[i] = fmt.Sprintf("_n%d", i)
	}
	body := lambda.Var(names[len(names)-1])
	for i := len(names) - 2; i >= 0; i-- {
		body = lambda.Tensor(lambda.Var(names[i]), body)
	}
	for i := len(terms) - 1; i >= 0; i-- {
		body = lambda.Let(names[i], terms[i], body)
	}
	return body, nil
}
