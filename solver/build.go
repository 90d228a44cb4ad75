package solver

import (
	"errors"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/teg"
)

// reach tracks the ancestors of each constraint in analysis order while
// extra ordering edges are added.
type reach struct {
	anc []*bitset.BitSet
}

func newReach(a *Analysis, index map[content.EntityID]int) *reach {
	r := &reach{anc: make([]*bitset.BitSet, len(a.Order))}
	for i, c := range a.Order {
		r.anc[i] = bitset.New(uint(len(a.Order)))
		for _, d := range a.deps[c.ID()] {
			if d.From == nil {
				continue
			}
			j := index[d.From.ID()]
			r.anc[i].InPlaceUnion(r.anc[j])
			r.anc[i].Set(uint(j))
		}
	}
	return r
}

func (r *reach) ordered(i, j int) bool {
	return r.anc[j].Test(uint(i)) || r.anc[i].Test(uint(j))
}

func (r *reach) add(from, to int) {
	for z := range r.anc {
		if z == to || r.anc[z].Test(uint(to)) {
			r.anc[z].InPlaceUnion(r.anc[from])
			r.anc[z].Set(uint(from))
		}
	}
}

func graphError(err error) error {
	var ge *teg.GraphError
	if !errors.As(err, &ge) {
		return err
	}
	switch ge.Kind {
	case teg.ErrCycleFound:
		return &Error{Kind: ErrCyclicDependency, Nodes: ge.Nodes, Err: err}
	case teg.ErrUnsatisfiableResource:
		return &Error{Kind: ErrUnsatisfiableResource, Name: ge.Msg, Nodes: ge.Nodes, Err: err}
	}
	return &Error{Kind: ErrInvalidConstraintCombination, Detail: ge.Msg, Nodes: ge.Nodes, Err: err}
}

// BuildTEG is phase four. Each constraint becomes a Pending node. Inputs
// become causality links, resource links when the constraint moves its value
// between locations, or control links when it carries a predicate.
// Non-commutative transforms at one location are chained in id order, and a
// distributed sync waits for every other constraint at its locations.
func (s *Solver) BuildTEG(a *Analysis) (*teg.Graph, map[content.NodeID]*Constraint, error) {
	b := teg.NewBuilder()
	index := make(map[content.EntityID]int, len(a.Order))
	nodes := make([]content.NodeID, len(a.Order))
	byNode := make(map[content.NodeID]*Constraint, len(a.Order))
	for i, c := range a.Order {
		index[c.ID()] = i
		id, err := b.AddNode(teg.NodeSpec{
			Label:    c.Name,
			Effect:   a.effects[c.ID()],
			Requires: c.Inputs,
			Produces: []string{c.Name},
			Deadline: s.deadline(c),
		})
		if err != nil {
			return nil, nil, graphError(err)
		}
		nodes[i] = id
		byNode[id] = c
	}
	edge := func(from, to int, kind teg.EdgeKind, label string) error {
		return b.AddEdge(teg.Edge{Kind: kind, From: nodes[from], To: nodes[to], Label: label})
	}

	for i, c := range a.Order {
		for _, d := range a.deps[c.ID()] {
			if d.From == nil {
				continue
			}
			kind, label := teg.CausalityLink, d.Resource
			switch {
			case c.Predicate != "":
				kind, label = teg.ControlLink, c.Predicate
			case c.Kind.crosses():
				kind = teg.ResourceLink
			}
			if err := edge(index[d.From.ID()], i, kind, label); err != nil {
				return nil, nil, graphError(err)
			}
		}
	}

	r := newReach(a, index)
	type site struct {
		loc       Location
		transform string
	}
	chains := map[site][]int{}
	var sites []site
	for i, c := range a.Order {
		if c.Kind != LocalTransform || Properties(s.Definitions[c.Transform]).Has(Commutativity) {
			continue
		}
		k := site{c.To, c.Transform}
		if _, ok := chains[k]; !ok {
			sites = append(sites, k)
		}
		chains[k] = append(chains[k], i)
	}
	for _, k := range sites {
		chain := chains[k]
		sortByID(a, chain)
		for n := 1; n < len(chain); n++ {
			x, y := chain[n-1], chain[n]
			if r.ordered(x, y) {
				continue
			}
			if err := edge(x, y, teg.CausalityLink, "order:"+k.transform); err != nil {
				return nil, nil, graphError(err)
			}
			r.add(x, y)
		}
	}

	for i, c := range a.Order {
		if c.Kind != DistributedSync {
			continue
		}
		at := map[Location]bool{}
		for _, l := range c.Locations {
			at[l] = true
		}
		for j, x := range a.Order {
			if j == i || !at[x.To] || r.ordered(i, j) {
				continue
			}
			if err := edge(j, i, teg.CausalityLink, "sync"); err != nil {
				return nil, nil, graphError(err)
			}
			r.add(j, i)
		}
	}

	names := make([]string, len(a.Intent.Inputs))
	for i, in := range a.Intent.Inputs {
		names[i] = in.Name
	}
	b.SystemInputs(names...)
	b.ForIntent(a.Intent.ID())
	b.CreatedAt(a.Intent.Timestamp)
	g, err := b.Build()
	if err != nil {
		return nil, nil, graphError(err)
	}
	logger.Logger().Info().
		Int("nodes", g.Len()).
		Int("edges", len(g.Edges())).
		Int("criticalPath", g.Meta.CriticalPath).
		Uint64("parallelism", g.Meta.Parallelism).
		Msg("effect graph built")
	return g, byNode, nil
}

func sortByID(a *Analysis, is []int) {
	for x := 1; x < len(is); x++ {
		for y := x; y > 0 && a.Order[is[y]].ID().Less(a.Order[is[y-1]].ID()); y-- {
			is[y], is[y-1] = is[y-1], is[y]
		}
	}
}

func (s *Solver) deadline(c *Constraint) time.Duration {
	if c.Deadline > 0 {
		return c.Deadline
	}
	return s.NodeTimeout
}
