package solver

import (
	"fmt"
	"time"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/schema"
	"github.com/timewave-computer/causality-sub016/teg"
	"github.com/timewave-computer/causality-sub016/value"
)

// DefaultLocation is where constraints without a location run.
const DefaultLocation Location = "local"

// Solver holds the context intents are solved in: the local location, the
// transform definitions, the schema registry, the capabilities held and the
// effect handlers function applications may name.
type Solver struct {
	Location     Location
	Definitions  map[string]Definition
	Schemas      *schema.Registry
	Capabilities []resource.Capability
	Handlers     map[string]*lambda.Term
	// NodeTimeout is the deadline of constraints that set none.
	NodeTimeout time.Duration
}

type Option func(*Solver)

func WithSchemas(r *schema.Registry) Option { return func(s *Solver) { s.Schemas = r } }

func WithCapabilities(cs ...resource.Capability) Option {
	return func(s *Solver) { s.Capabilities = append(s.Capabilities, cs...) }
}

// WithHandlers adds closed lambdas implementing effect tags.
func WithHandlers(hs map[string]*lambda.Term) Option {
	return func(s *Solver) {
		for tag, h := range hs {
			s.Handlers[tag] = h
		}
	}
}

func WithNodeTimeout(d time.Duration) Option { return func(s *Solver) { s.NodeTimeout = d } }

func WithDefinition(name string, def Definition) Option {
	return func(s *Solver) { s.Definitions[name] = def }
}

func New(loc Location, opts ...Option) *Solver {
	if loc == "" {
		loc = DefaultLocation
	}
	s := &Solver{
		Location:    loc,
		Definitions: map[string]Definition{},
		Handlers:    map[string]*lambda.Term{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Define adds or replaces a transform definition.
func (s *Solver) Define(name string, def Definition) { s.Definitions[name] = def }

// Solution is a solved intent: its effect graph, the single program it
// lowers to and the per-node programs the executor runs.
type Solution struct {
	Intent   *Intent
	Location Location
	Analysis *Analysis
	Grants   []Grant
	FieldOps []schema.FieldOp
	Graph    *teg.Graph
	Term     *lambda.Term
	Program  *lambda.Compiled

	byNode map[content.NodeID]*Constraint
	steps  map[content.NodeID]*step
	final  *lambda.Compiled
}

// Constraint returns the constraint a node was built from.
func (sol *Solution) Constraint(id content.NodeID) (*Constraint, bool) {
	c, ok := sol.byNode[id]
	return c, ok
}

// Witness orders input values into the witness stream Program reads.
func (sol *Solution) Witness(inputs map[string]value.Value) ([]value.Value, error) {
	out := make([]value.Value, len(sol.Intent.Inputs))
	for i, in := range sol.Intent.Inputs {
		v, ok := inputs[in.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", in.Name)
		}
		out[i] = v
	}
	return out, nil
}

// Solve runs the five phases. The first failing phase ends the solve; no
// graph is built when analysis, capabilities or schemas fail.
func (s *Solver) Solve(in *Intent) (*Solution, error) {
	a, err := s.Analyze(in)
	if err != nil {
		return nil, err
	}
	grants, err := s.ResolveCapabilities(a)
	if err != nil {
		return nil, err
	}
	ops, err := s.ResolveSchemas(a)
	if err != nil {
		return nil, err
	}
	g, byNode, err := s.BuildTEG(a)
	if err != nil {
		return nil, err
	}
	sol := &Solution{
		Intent:   in,
		Location: s.Location,
		Analysis: a,
		Grants:   grants,
		FieldOps: ops,
		Graph:    g,
		byNode:   byNode,
		steps:    map[content.NodeID]*step{},
	}
	if err := s.lower(sol); err != nil {
		return nil, err
	}
	logger.Logger().Info().
		Str("intent", content.EntityID(in.ID()).Short()).
		Int("nodes", g.Len()).
		Uint64("cost", g.Meta.TotalCost).
		Msg("intent solved")
	return sol, nil
}
