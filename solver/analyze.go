package solver

import (
	"sort"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/schema"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/teg"
	"github.com/timewave-computer/causality-sub016/value"
)

// Dependency is an input of a constraint. From is nil for intent inputs.
type Dependency struct {
	From     *Constraint
	Resource string
}

// Analysis is the dependency graph of an intent's constraints. Constraints
// are normalised copies: locations are filled in, duplicates dropped.
type Analysis struct {
	Intent *Intent
	// Order is topological with ties broken by constraint id.
	Order []*Constraint
	// Types of every input and produced name, filled by schema resolution.
	Types map[string]*lambda.Type

	deps     map[content.EntityID][]Dependency
	effects  map[content.EntityID]*teg.Effect
	producer map[string]*Constraint
	consumer map[string]*Constraint
	inputs   map[string]Input
}

func (a *Analysis) Dependencies(c *Constraint) []Dependency { return a.deps[c.ID()] }

func (a *Analysis) Effect(c *Constraint) *teg.Effect { return a.effects[c.ID()] }

// Producer returns the constraint that produces name, if any.
func (a *Analysis) Producer(name string) (*Constraint, bool) {
	c, ok := a.producer[name]
	return c, ok
}

// sinks are the names nothing consumes, inputs first, then produced names in
// order, excluding those in skip.
func (a *Analysis) sinks(skip map[string]bool) []string {
	var out []string
	for _, in := range a.Intent.Inputs {
		if a.consumer[in.Name] == nil && !skip[in.Name] {
			out = append(out, in.Name)
		}
	}
	for _, c := range a.Order {
		if a.consumer[c.Name] == nil && !skip[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

func sortIDs(ids []content.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func (s *Solver) normalize(c *Constraint) (*Constraint, error) {
	n := *c
	n.Inputs = append([]string(nil), c.Inputs...)
	n.Locations = append([]Location(nil), c.Locations...)
	if n.From == "" {
		n.From = s.Location
	}
	switch n.Kind {
	case RemoteTransform, DataMigration:
		if n.To == "" || n.To == n.From {
			return nil, &Error{Kind: ErrInvalidLocation, Op: n.Kind.String() + " " + n.Name, Location: n.To, Detail: "target must differ from source", Constraint: n.ID()}
		}
	case DistributedSync:
		if n.To == "" {
			n.To = n.From
		}
	default:
		if n.To == "" {
			n.To = n.From
		}
		if n.To != n.From {
			return nil, &Error{Kind: ErrInvalidLocation, Op: n.Kind.String() + " " + n.Name, Location: n.To, Detail: "local constraint cannot move its value", Constraint: n.ID()}
		}
	}
	return &n, nil
}

// Analyze is phase one: it normalises the constraints, links every input to
// its producer, detects conflicts and orders the constraints.
func (s *Solver) Analyze(in *Intent) (*Analysis, error) {
	a := &Analysis{
		Intent:   in,
		Types:    map[string]*lambda.Type{},
		deps:     map[content.EntityID][]Dependency{},
		effects:  map[content.EntityID]*teg.Effect{},
		producer: map[string]*Constraint{},
		consumer: map[string]*Constraint{},
		inputs:   map[string]Input{},
	}
	for _, i := range in.Inputs {
		if _, dup := a.inputs[i.Name]; dup || i.Name == "" {
			return nil, failf(ErrInvalidConstraintCombination, nil, "input %q declared twice or unnamed", i.Name)
		}
		if i.Type == nil {
			return nil, failf(ErrInvalidConstraintCombination, nil, "input %q has no type", i.Name)
		}
		a.inputs[i.Name] = i
	}

	seen := map[content.EntityID]bool{}
	var cs []*Constraint
	for _, c := range in.Constraints {
		n, err := s.normalize(c)
		if err != nil {
			return nil, err
		}
		if id := n.ID(); !seen[id] {
			seen[id] = true
			cs = append(cs, n)
		}
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID().Less(cs[j].ID()) })

	for _, c := range cs {
		if c.Name == "" {
			return nil, failf(ErrInvalidConstraintCombination, c, "constraint produces no name")
		}
		if machine.EphemeralTags[value.Symbol(c.Name)] {
			return nil, failf(ErrInvalidConstraintCombination, c, "%q is reserved", c.Name)
		}
		if other, ok := a.producer[c.Name]; ok {
			return nil, failf(ErrInvalidConstraintCombination, c, "%s is produced by both %s and %s", c.Name, other, c)
		}
		if _, ok := a.inputs[c.Name]; ok {
			return nil, failf(ErrInvalidConstraintCombination, c, "%s is both an input and produced by %s", c.Name, c)
		}
		if c.Kind == LocalTransform {
			if _, ok := s.Definitions[c.Transform]; !ok {
				return nil, &Error{Kind: ErrUnknownTransform, Name: c.Transform, Constraint: c.ID()}
			}
		}
		a.producer[c.Name] = c
	}

	for _, c := range cs {
		for _, r := range c.Inputs {
			if other, ok := a.consumer[r]; ok {
				return nil, failf(ErrInvalidConstraintCombination, c, "%s is consumed by both %s and %s", r, other, c)
			}
			a.consumer[r] = c
			var at Location
			if p, ok := a.producer[r]; ok {
				a.deps[c.ID()] = append(a.deps[c.ID()], Dependency{From: p, Resource: r})
				at = p.To
			} else if _, ok := a.inputs[r]; ok {
				a.deps[c.ID()] = append(a.deps[c.ID()], Dependency{Resource: r})
				at = s.Location
			} else {
				return nil, &Error{Kind: ErrUnsatisfiableResource, Name: r, Constraint: c.ID(), Detail: "nothing produces it"}
			}
			if at != c.From {
				return nil, &Error{Kind: ErrInvalidLocation, Op: c.String(), Location: at, Detail: "input " + r + " lives elsewhere", Constraint: c.ID()}
			}
		}
	}

	for _, o := range in.Outputs {
		if err := a.available(o, "output"); err != nil {
			return nil, err
		}
	}
	if in.Expression != nil {
		for _, v := range lambda.FreeVars(in.Expression) {
			if err := a.available(v, "expression variable"); err != nil {
				return nil, err
			}
		}
	}

	order, err := topoConstraints(cs, a)
	if err != nil {
		return nil, err
	}
	a.Order = order

	for _, c := range a.Order {
		e, err := s.effect(c)
		if err != nil {
			return nil, err
		}
		a.effects[c.ID()] = e
	}
	logger.Logger().Debug().
		Int("constraints", len(a.Order)).
		Int("inputs", len(in.Inputs)).
		Msg("constraints analyzed")
	return a, nil
}

// available checks that name is produced or given and left for the caller.
func (a *Analysis) available(name, what string) error {
	_, produced := a.producer[name]
	_, given := a.inputs[name]
	if !produced && !given {
		return &Error{Kind: ErrUnsatisfiableResource, Name: name, Detail: what + " is never produced"}
	}
	if c, ok := a.consumer[name]; ok {
		return failf(ErrInvalidConstraintCombination, c, "%s %s is consumed by %s", what, name, c)
	}
	return nil
}

// topoConstraints is Kahn's algorithm taking the smallest id among the ready
// constraints at each step.
func topoConstraints(cs []*Constraint, a *Analysis) ([]*Constraint, error) {
	index := make(map[content.EntityID]int, len(cs))
	for i, c := range cs {
		index[c.ID()] = i
	}
	indeg := make([]int, len(cs))
	out := make([][]int, len(cs))
	for i, c := range cs {
		for _, d := range a.deps[c.ID()] {
			if d.From == nil {
				continue
			}
			j := index[d.From.ID()]
			out[j] = append(out[j], i)
			indeg[i]++
		}
	}
	done := make([]bool, len(cs))
	order := make([]*Constraint, 0, len(cs))
	for len(order) < len(cs) {
		next := -1
		for i := range cs {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, c := range cs {
				if !done[i] {
					stuck = append(stuck, c.Name)
				}
			}
			return nil, failf(ErrUnsolvableConstraints, nil, "cycle among %s", strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, cs[next])
		for _, j := range out[next] {
			indeg[j]--
		}
	}
	return order, nil
}

func arity(c *Constraint, want ...int) error {
	for _, w := range want {
		if len(c.Inputs) == w {
			return nil
		}
	}
	return failf(ErrInvalidConstraintCombination, c, "%s takes %v inputs, got %d", c.Kind, want, len(c.Inputs))
}

// effect is the work a constraint's node performs. Inputs are free variables
// of the effect; the value it yields is bound to the constraint's name.
func (s *Solver) effect(c *Constraint) (*teg.Effect, error) {
	in := func(i int) *lambda.Term { return lambda.Var(c.Inputs[i]) }
	move := func() *teg.Effect {
		return teg.Bind(teg.Pure(lambda.Consume(in(0))), "_v", teg.Pure(lambda.AllocTagged(c.Name, lambda.Var("_v"))))
	}
	switch c.Kind {
	case LocalTransform:
		return s.transformEffect(c, s.Definitions[c.Transform])

	case RemoteTransform:
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		if c.Protocol == nil {
			return nil, failf(ErrInvalidConstraintCombination, c, "remote transform needs a protocol")
		}
		if session.Unfold(c.Protocol).Kind != session.KSend {
			return nil, failf(ErrInvalidConstraintCombination, c, "protocol %s does not start by sending", c.Protocol)
		}
		return move(), nil

	case DataMigration:
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		return move(), nil

	case DistributedSync:
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		if len(c.Locations) == 0 {
			return nil, &Error{Kind: ErrInvalidLocation, Op: c.String(), Detail: "sync over no locations", Constraint: c.ID()}
		}
		return move(), nil

	case ProtocolRequirement:
		if err := arity(c, 0); err != nil {
			return nil, err
		}
		if c.Protocol == nil {
			return nil, failf(ErrInvalidConstraintCombination, c, "protocol requirement names no protocol")
		}
		return teg.Pure(lambda.UnitVal()), nil

	case CapabilityAccess:
		if c.Schema == "" {
			if err := arity(c, 0, 1); err != nil {
				return nil, err
			}
			if len(c.Inputs) == 0 {
				return teg.Pure(lambda.UnitVal()), nil
			}
			return teg.Pure(in(0)), nil
		}
		if c.Access == schema.Write {
			if err := arity(c, 2); err != nil {
				return nil, err
			}
			return teg.Pure(lambda.AllocTagged(c.Name, lambda.RecordUpdate(lambda.Consume(in(0)), c.Field, in(1)))), nil
		}
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		return teg.Pure(lambda.RecordAccess(lambda.Consume(in(0)), c.Field)), nil
	}
	return nil, failf(ErrInvalidConstraintCombination, c, "unknown constraint kind %s", c.Kind)
}

func (s *Solver) transformEffect(c *Constraint, def Definition) (*teg.Effect, error) {
	args := make([]*lambda.Term, len(c.Inputs))
	for i, r := range c.Inputs {
		args[i] = lambda.Var(r)
	}
	switch def.Kind {
	case StateAllocation:
		var v *lambda.Term
		switch {
		case def.Initial != nil && len(args) == 0:
			v = lambda.Lit(def.Initial)
		case def.Initial == nil && len(args) == 0:
			v = lambda.UnitVal()
		case def.Initial == nil && len(args) == 1:
			v = args[0]
		default:
			return nil, failf(ErrInvalidConstraintCombination, c, "state allocation takes an initial value or one input")
		}
		return teg.Pure(lambda.AllocTagged(c.Name, v)), nil

	case ResourceConsumption:
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		return teg.Pure(lambda.Consume(args[0])), nil

	case FunctionApplication:
		if len(args) == 0 {
			return nil, failf(ErrInvalidConstraintCombination, c, "function application needs an argument")
		}
		if lambda.IsGlobal(def.Function) {
			return teg.Pure(lambda.Apps(lambda.Var(def.Function), args...)), nil
		}
		if _, ok := s.Handlers[def.Function]; ok {
			return teg.Perform(def.Function, args...), nil
		}
		return nil, &Error{Kind: ErrUnknownTransform, Name: def.Function, Detail: "no built-in or handler", Constraint: c.ID()}

	case CommunicationSend, CommunicationReceive:
		if err := arity(c, 1); err != nil {
			return nil, err
		}
		if def.Message == nil {
			return nil, failf(ErrInvalidConstraintCombination, c, "%s without a message type", def.Kind)
		}
		if def.Kind == CommunicationSend {
			return teg.Handle(teg.Perform("send", args[0]), teg.Handler{
				Tag: "send", Param: "m", ParamType: def.Message,
				Body: lambda.AllocTagged(c.Name, lambda.Var("m")),
			}), nil
		}
		return teg.Handle(teg.Perform("receive", args[0]), teg.Handler{
			Tag: "receive", Param: "m", ParamType: lambda.Resource(def.Message),
			Body: lambda.Consume(lambda.Var("m")),
		}), nil
	}
	return nil, failf(ErrInvalidConstraintCombination, c, "transform %s has unknown kind %s", c.Transform, def.Kind)
}
