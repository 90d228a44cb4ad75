package teg

import (
	"container/heap"

	"github.com/timewave-computer/causality-sub016/content"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoIndices is Kahn's algorithm with the ready queue ordered by canonical
// index. It returns fewer than all nodes when there is a cycle.
func (g *Graph) topoIndices() []int {
	indeg := make([]int, len(g.nodes))
	for i := range g.nodes {
		indeg[i] = len(g.in[i])
	}
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.out[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// Topo returns a topological order with ties broken by id.
func (g *Graph) Topo() []content.NodeID { return g.ids(g.topoIndices()) }

// Waves partitions the graph into the successive ready sets a scheduler
// would see if every node completed: wave k holds the nodes whose
// dependencies all lie in earlier waves, ordered by id.
func (g *Graph) Waves() [][]content.NodeID {
	var out [][]content.NodeID
	for w := 1; ; w++ {
		var wave []int
		for i := range g.nodes {
			if g.depth[i] == w {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			return out
		}
		out = append(out, g.ids(wave))
	}
}

// findCycle extracts one cycle by depth-first search over canonical indices.
// The path starts and ends at the same node.
func (g *Graph) findCycle() []content.NodeID {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}
	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.out[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	for l, r := 0, len(cycle)-1; l < r; l, r = l+1, r-1 {
		cycle[l], cycle[r] = cycle[r], cycle[l]
	}
	return g.ids(cycle)
}
