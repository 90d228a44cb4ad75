package teg

import (
	"time"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/value"
)

func allowed(from, to Status) bool {
	switch from {
	case Pending:
		return to == Ready || to == Cancelled
	case Ready:
		return to == Executing || to == Cancelled
	case Executing:
		return to == Completed || to == Failed
	}
	return false
}

// Transition moves id from one status to another. The caller names the
// expected current status so that races surface as errors.
func (g *Graph) Transition(id content.NodeID, from, to Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transition(id, from, to)
}

func (g *Graph) transition(id content.NodeID, from, to Status) error {
	i, err := g.lookup(id)
	if err != nil {
		return err
	}
	n := g.nodes[i]
	if n.Status != from {
		return transitionf("%s: expected %s, got %s", id.Short(), from, n.Status)
	}
	if !allowed(from, to) {
		return transitionf("%s: %s -> %s", id.Short(), from, to)
	}
	n.Status = to
	return nil
}

func (g *Graph) depsCompleted(i int) bool {
	for _, p := range g.in[i] {
		if g.nodes[p].Status != Completed {
			return false
		}
	}
	return true
}

// Ready lists the Pending nodes whose dependencies have all completed, by id.
// It does not change any status.
func (g *Graph) Ready() []content.NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int
	for i, n := range g.nodes {
		if n.Status == Pending && g.depsCompleted(i) {
			out = append(out, i)
		}
	}
	return g.ids(out)
}

// Advance marks every node Ready returns as Ready and then lists all Ready
// nodes by id.
func (g *Graph) Advance() []content.NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int
	for i, n := range g.nodes {
		if n.Status == Pending && g.depsCompleted(i) {
			n.Status = Ready
		}
		if n.Status == Ready {
			out = append(out, i)
		}
	}
	return g.ids(out)
}

// Complete records the result of an Executing node.
func (g *Graph) Complete(id content.NodeID, result value.Value, gas uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.transition(id, Executing, Completed); err != nil {
		return err
	}
	n := g.nodes[g.index[id]]
	n.Result = result
	n.Gas = gas
	return nil
}

// Fail marks an Executing node Failed and cancels its descendants.
func (g *Graph) Fail(id content.NodeID, reason string) ([]content.NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.transition(id, Executing, Failed); err != nil {
		return nil, err
	}
	i := g.index[id]
	g.nodes[i].Reason = reason
	return g.cancelDescendants(i)
}

// Cancel cancels a node that has not started and all its descendants.
func (g *Graph) Cancel(id content.NodeID) ([]content.NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	n := g.nodes[i]
	if !allowed(n.Status, Cancelled) {
		return nil, transitionf("%s: cannot cancel a %s node", id.Short(), n.Status)
	}
	n.Status = Cancelled
	out, err := g.cancelDescendants(i)
	return append([]content.NodeID{id}, out...), err
}

// cancelDescendants cancels the non-terminal descendants of i. A descendant
// can only be Executing if its dependencies were mis-tracked.
func (g *Graph) cancelDescendants(i int) ([]content.NodeID, error) {
	var out []content.NodeID
	d := g.desc[i]
	for j, ok := d.NextSet(0); ok; j, ok = d.NextSet(j + 1) {
		n := g.nodes[j]
		switch n.Status {
		case Pending, Ready:
			n.Status = Cancelled
			out = append(out, n.ID)
		case Executing:
			return out, transitionf("descendant %s of %s is executing", n.ID.Short(), g.nodes[i].ID.Short())
		}
	}
	return out, nil
}

// Expire fails every waiting node whose deadline is at or before elapsed and
// cancels its descendants. Executing nodes are left to their executor.
func (g *Graph) Expire(elapsed time.Duration) []content.NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []content.NodeID
	for i, n := range g.nodes {
		if n.Deadline <= 0 || elapsed < n.Deadline {
			continue
		}
		if n.Status != Pending && n.Status != Ready {
			continue
		}
		n.Status = Failed
		n.Reason = TimeoutReason
		out = append(out, n.ID)
		// waiting nodes have no executing descendants
		_, _ = g.cancelDescendants(i)
	}
	return out
}

// Done reports whether every node is terminal.
func (g *Graph) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if !n.Status.Terminal() {
			return false
		}
	}
	return true
}

// Reset returns every node to Pending and clears results.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.Status, n.Reason, n.Result, n.Gas = Pending, "", nil, 0
	}
}

type ExecStats struct {
	Pending   int
	Ready     int
	Executing int
	Completed int
	Failed    int
	Cancelled int
	TotalGas  uint64
}

func (g *Graph) Stats() ExecStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var s ExecStats
	for _, n := range g.nodes {
		switch n.Status {
		case Pending:
			s.Pending++
		case Ready:
			s.Ready++
		case Executing:
			s.Executing++
		case Completed:
			s.Completed++
		case Failed:
			s.Failed++
		case Cancelled:
			s.Cancelled++
		}
		s.TotalGas += n.Gas
	}
	return s
}
