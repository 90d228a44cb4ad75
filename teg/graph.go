// Package teg implements the Temporal Effect Graph: a DAG of effect nodes
// linked by causal, resource and control edges, with deterministic scheduling
// and executors that honour the graph's happens-before order.
package teg

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

type Status int

const (
	_              = 0
	Pending Status = iota
	Ready
	Executing
	Completed
	Failed
	Cancelled
)

var statusNames = map[Status]string{
	Pending:   "Pending",
	Ready:     "Ready",
	Executing: "Executing",
	Completed: "Completed",
	Failed:    "Failed",
	Cancelled: "Cancelled",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == Completed || s == Failed || s == Cancelled }

// TimeoutReason is the failure reason of a node whose deadline elapsed.
const TimeoutReason = "Timeout"

// ParallelismScale is the fixed-point scale of Metadata.Parallelism.
const ParallelismScale = 1000

type Node struct {
	ID     content.NodeID
	Label  string
	Effect *Effect
	Status Status
	// Reason is set when Status is Failed.
	Reason       string
	Dependencies []content.NodeID
	Result       value.Value
	Gas          uint64
	Cost         uint64
	Requires     []string
	Produces     []string
	// Deadline is measured from the start of execution; zero means none.
	Deadline time.Duration
}

type EdgeKind int

const (
	_                      = 0
	CausalityLink EdgeKind = iota
	ResourceLink
	ControlLink
)

func (k EdgeKind) String() string {
	switch k {
	case CausalityLink:
		return "CausalityLink"
	case ResourceLink:
		return "ResourceLink"
	case ControlLink:
		return "ControlLink"
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// Edge orders From before To. Label is the optional constraint of a
// CausalityLink, the resource name of a ResourceLink and the predicate of a
// ControlLink.
type Edge struct {
	Kind  EdgeKind
	From  content.NodeID
	To    content.NodeID
	Label string
}

func edgeLess(a, b Edge) bool {
	if c := content.EntityID(a.From).Compare(content.EntityID(b.From)); c != 0 {
		return c < 0
	}
	if c := content.EntityID(a.To).Compare(content.EntityID(b.To)); c != 0 {
		return c < 0
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Label < b.Label
}

type Metadata struct {
	CreatedAt timestamp.Timestamp
	TotalCost uint64
	// CriticalPath counts the nodes on the longest dependency chain and
	// CriticalCost sums their costs.
	CriticalPath int
	CriticalCost uint64
	// Parallelism is nodes / CriticalPath scaled by ParallelismScale.
	Parallelism uint64
	Intent      content.IntentID
}

// NodeSpec describes a node to add. Deadline does not contribute to the id.
type NodeSpec struct {
	Label    string
	Effect   *Effect
	Requires []string
	Produces []string
	Deadline time.Duration
}

func (s NodeSpec) id() content.NodeID {
	o := &utils.OutputBuf{}
	o.AppendString(s.Label)
	s.Effect.EncodeCanonical(o)
	for _, list := range [][]string{s.Requires, s.Produces} {
		o.AppendUint64(uint64(len(list)))
		for _, r := range list {
			o.AppendString(r)
		}
	}
	return content.NodeID(content.HashTagged("teg.node", o.Bytes()))
}

// Builder accumulates nodes and edges; Build validates them into a Graph.
type Builder struct {
	nodes  map[content.NodeID]*Node
	edges  []Edge
	inputs map[string]bool
	meta   Metadata
}

func NewBuilder() *Builder {
	return &Builder{nodes: map[content.NodeID]*Node{}, inputs: map[string]bool{}}
}

// AddNode adds a Pending node and returns its content id.
func (b *Builder) AddNode(s NodeSpec) (content.NodeID, error) {
	if s.Effect == nil {
		return content.NodeID{}, invalidf("node %q has no effect", s.Label)
	}
	id := s.id()
	if _, ok := b.nodes[id]; ok {
		return id, invalidf("duplicate node %s (%s)", id.Short(), s.Label)
	}
	b.nodes[id] = &Node{
		ID:       id,
		Label:    s.Label,
		Effect:   s.Effect,
		Status:   Pending,
		Cost:     s.Effect.Cost(),
		Requires: append([]string(nil), s.Requires...),
		Produces: append([]string(nil), s.Produces...),
		Deadline: s.Deadline,
	}
	return id, nil
}

func (b *Builder) AddEdge(e Edge) error {
	if _, ok := b.nodes[e.From]; !ok {
		return &GraphError{Kind: ErrNodeNotFound, Msg: "edge source", Nodes: []content.NodeID{e.From}}
	}
	if _, ok := b.nodes[e.To]; !ok {
		return &GraphError{Kind: ErrNodeNotFound, Msg: "edge target", Nodes: []content.NodeID{e.To}}
	}
	if e.From == e.To {
		return &GraphError{Kind: ErrCycleFound, Msg: "self-loop", Nodes: []content.NodeID{e.From, e.To}}
	}
	for _, x := range b.edges {
		if x == e {
			return invalidf("duplicate %s %s -> %s", e.Kind, e.From.Short(), e.To.Short())
		}
	}
	b.edges = append(b.edges, e)
	return nil
}

// SystemInputs declares resources available before any node runs.
func (b *Builder) SystemInputs(names ...string) {
	for _, n := range names {
		b.inputs[n] = true
	}
}

func (b *Builder) ForIntent(id content.IntentID) { b.meta.Intent = id }

func (b *Builder) CreatedAt(ts timestamp.Timestamp) { b.meta.CreatedAt = ts }

// Graph is a validated effect DAG. Structure is immutable after Build; node
// status and results change under the graph's lock.
type Graph struct {
	Meta Metadata

	mu     sync.Mutex
	nodes  []*Node // canonical order, by id
	index  map[content.NodeID]int
	edges  []Edge
	out    [][]int
	in     [][]int
	depth  []int // nodes on the longest chain ending here, counting itself
	desc   []*bitset.BitSet
	anc    []*bitset.BitSet
	inputs map[string]bool
}

// Build validates the accumulated graph: it rejects cycles and resources that
// no ancestor, system input or own allocation provides.
func (b *Builder) Build() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, invalidf("no nodes")
	}
	g := &Graph{Meta: b.meta, index: make(map[content.NodeID]int, len(b.nodes)), inputs: map[string]bool{}}
	for n := range b.inputs {
		g.inputs[n] = true
	}
	for _, n := range b.nodes {
		cp := *n
		g.nodes = append(g.nodes, &cp)
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i].ID.Less(g.nodes[j].ID) })
	for i, n := range g.nodes {
		g.index[n.ID] = i
	}
	g.edges = append([]Edge(nil), b.edges...)
	sort.Slice(g.edges, func(i, j int) bool { return edgeLess(g.edges[i], g.edges[j]) })

	g.out = make([][]int, len(g.nodes))
	g.in = make([][]int, len(g.nodes))
	linked := map[[2]int]bool{}
	for _, e := range g.edges {
		pair := [2]int{g.index[e.From], g.index[e.To]}
		if linked[pair] {
			continue
		}
		linked[pair] = true
		g.out[pair[0]] = append(g.out[pair[0]], pair[1])
		g.in[pair[1]] = append(g.in[pair[1]], pair[0])
	}
	for i := range g.nodes {
		sort.Ints(g.out[i])
		sort.Ints(g.in[i])
		deps := make([]content.NodeID, len(g.in[i]))
		for k, p := range g.in[i] {
			deps[k] = g.nodes[p].ID
		}
		g.nodes[i].Dependencies = deps
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.computeMetadata()
	return g, nil
}

// Validate checks acyclicity, resource satisfiability and canonical node order.
func (g *Graph) Validate() error {
	order := g.topoIndices()
	if len(order) != len(g.nodes) {
		return &GraphError{Kind: ErrCycleFound, Nodes: g.findCycle()}
	}
	for i := 1; i < len(g.nodes); i++ {
		if !g.nodes[i-1].ID.Less(g.nodes[i].ID) {
			return invalidf("node order is not canonical at %d", i)
		}
	}
	g.computeReach(order)
	for i, n := range g.nodes {
		for _, r := range n.Requires {
			if !g.provided(i, r) {
				return &GraphError{Kind: ErrUnsatisfiableResource, Msg: r, Nodes: []content.NodeID{n.ID}}
			}
		}
	}
	return nil
}

func (g *Graph) provided(i int, r string) bool {
	if g.inputs[r] || g.nodes[i].Effect.allocates(r) {
		return true
	}
	a := g.anc[i]
	for j, ok := a.NextSet(0); ok; j, ok = a.NextSet(j + 1) {
		for _, p := range g.nodes[j].Produces {
			if p == r {
				return true
			}
		}
	}
	return false
}

func (g *Graph) computeReach(order []int) {
	n := uint(len(g.nodes))
	g.desc = make([]*bitset.BitSet, n)
	g.anc = make([]*bitset.BitSet, n)
	for i := range g.nodes {
		g.desc[i] = bitset.New(n)
		g.anc[i] = bitset.New(n)
	}
	for k := len(order) - 1; k >= 0; k-- {
		u := order[k]
		for _, v := range g.out[u] {
			g.desc[u].Set(uint(v))
			g.desc[u].InPlaceUnion(g.desc[v])
		}
	}
	for _, u := range order {
		for _, p := range g.in[u] {
			g.anc[u].Set(uint(p))
			g.anc[u].InPlaceUnion(g.anc[p])
		}
	}
}

func (g *Graph) computeMetadata() {
	order := g.topoIndices()
	g.depth = make([]int, len(g.nodes))
	costTo := make([]uint64, len(g.nodes))
	var total uint64
	for _, u := range order {
		d, c := 0, uint64(0)
		for _, p := range g.in[u] {
			d = max(d, g.depth[p])
			c = max(c, costTo[p])
		}
		g.depth[u] = d + 1
		costTo[u] = c + g.nodes[u].Cost
		total += g.nodes[u].Cost
		g.Meta.CriticalPath = max(g.Meta.CriticalPath, g.depth[u])
		g.Meta.CriticalCost = max(g.Meta.CriticalCost, costTo[u])
	}
	g.Meta.TotalCost = total
	g.Meta.Parallelism = uint64(len(g.nodes)) * ParallelismScale / uint64(g.Meta.CriticalPath)
}

func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns copies of the nodes in canonical order.
func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = *n
	}
	return out
}

func (g *Graph) Node(id content.NodeID) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return *g.nodes[i], true
}

func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

func (g *Graph) ids(is []int) []content.NodeID {
	out := make([]content.NodeID, len(is))
	for k, i := range is {
		out[k] = g.nodes[i].ID
	}
	return out
}

func (g *Graph) setIDs(b *bitset.BitSet) []content.NodeID {
	var out []content.NodeID
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, g.nodes[i].ID)
	}
	return out
}

func (g *Graph) lookup(id content.NodeID) (int, error) {
	i, ok := g.index[id]
	if !ok {
		return 0, &GraphError{Kind: ErrNodeNotFound, Nodes: []content.NodeID{id}}
	}
	return i, nil
}

// Ancestors returns every node with a path to id, in canonical order.
func (g *Graph) Ancestors(id content.NodeID) ([]content.NodeID, error) {
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.setIDs(g.anc[i]), nil
}

// Descendants returns every node reachable from id, in canonical order.
func (g *Graph) Descendants(id content.NodeID) ([]content.NodeID, error) {
	i, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.setIDs(g.desc[i]), nil
}

// Independent reports whether neither node can reach the other, which is when
// they may run concurrently.
func (g *Graph) Independent(a, b content.NodeID) (bool, error) {
	i, err := g.lookup(a)
	if err != nil {
		return false, err
	}
	j, err := g.lookup(b)
	if err != nil {
		return false, err
	}
	return i != j && !g.desc[i].Test(uint(j)) && !g.desc[j].Test(uint(i)), nil
}

// CriticalPath returns one longest dependency chain. Ties go to the smallest id.
func (g *Graph) CriticalPath() []content.NodeID {
	end := 0
	for i := range g.nodes {
		if g.depth[i] > g.depth[end] {
			end = i
		}
	}
	path := []int{end}
	for cur := end; g.depth[cur] > 1; {
		for _, p := range g.in[cur] {
			if g.depth[p] == g.depth[cur]-1 {
				cur = p
				break
			}
		}
		path = append(path, cur)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return g.ids(path)
}
