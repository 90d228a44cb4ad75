package solver

import (
	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/resource"
)

// Grant records the capability that satisfied a requirement. Constraint is
// zero for requirements of the intent itself.
type Grant struct {
	Constraint content.EntityID
	Required   resource.Capability
	Granted    resource.Capability
}

// declared filters the context down to capabilities on registered schemas.
// Without a registry every capability is accepted.
func (s *Solver) declared() resource.Set {
	if s.Schemas == nil {
		return append(resource.Set(nil), s.Capabilities...)
	}
	var out resource.Set
	for _, c := range s.Capabilities {
		if s.Schemas.Has(c.ResourceType) {
			out = append(out, c)
		}
	}
	return out
}

// grant finds a capability in have that satisfies req. A delegable capability
// is narrowed to exactly the right required.
func (s *Solver) grant(have resource.Set, req resource.Capability, c *Constraint) (Grant, error) {
	g := Grant{Required: req}
	if c != nil {
		g.Constraint = c.ID()
	}
	if s.Schemas != nil && !s.Schemas.Has(req.ResourceType) {
		return g, &Error{Kind: ErrUnknownSchema, Name: req.ResourceType, Constraint: g.Constraint, Detail: "capability on an undeclared resource type"}
	}
	held, ok := have.Find(req)
	if !ok {
		avail := make([]string, len(have))
		for i, h := range have {
			avail[i] = h.String()
		}
		return g, &Error{Kind: ErrMissingCapability, Required: req.String(), Available: avail, Constraint: g.Constraint}
	}
	if held.Right == resource.Delegate && req.Right < resource.Delegate {
		narrowed, err := held.Delegate(req.Right)
		if err == nil {
			held = narrowed
		}
	}
	g.Granted = held
	return g, nil
}

// requirements lists what a constraint needs before schema resolution: its
// explicit capability and write access to the type a consumption spends.
func (s *Solver) requirements(c *Constraint) []resource.Capability {
	var out []resource.Capability
	if c.Capability != nil {
		out = append(out, *c.Capability)
	}
	if c.Kind == LocalTransform {
		def := s.Definitions[c.Transform]
		if def.Kind == ResourceConsumption && def.ResourceType != "" && s.Schemas != nil && s.Schemas.Has(def.ResourceType) {
			out = append(out, resource.Capability{ResourceType: def.ResourceType, Right: resource.Write})
		}
	}
	return out
}

// ResolveCapabilities is phase two. Requirements are checked in constraint
// order; the first one missing stops the solve.
func (s *Solver) ResolveCapabilities(a *Analysis) ([]Grant, error) {
	have := s.declared()
	var grants []Grant
	for _, req := range a.Intent.Capabilities {
		g, err := s.grant(have, req, nil)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	for _, c := range a.Order {
		for _, req := range s.requirements(c) {
			g, err := s.grant(have, req, c)
			if err != nil {
				return nil, err
			}
			grants = append(grants, g)
		}
	}
	logger.Logger().Debug().Int("grants", len(grants)).Msg("capabilities resolved")
	return grants, nil
}
