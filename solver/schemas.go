package solver

import (
	"errors"
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/schema"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/teg"
)

// ResolveSchemas is phase three. It resolves every field access against the
// registry, checks the capability each access needs, then infers the type of
// every name in constraint order. Operations come back sorted by schema,
// field and access.
func (s *Solver) ResolveSchemas(a *Analysis) ([]schema.FieldOp, error) {
	have := s.declared()
	var ops []schema.FieldOp
	for _, c := range a.Order {
		if c.Kind != CapabilityAccess || c.Schema == "" {
			continue
		}
		if s.Schemas == nil {
			return nil, &Error{Kind: ErrUnknownSchema, Name: c.Schema, Constraint: c.ID(), Detail: "no schema registry"}
		}
		op, err := s.Schemas.Resolve(c.Schema, c.Field, c.Access)
		switch {
		case errors.Is(err, schema.ErrUnknownSchema):
			return nil, &Error{Kind: ErrUnknownSchema, Name: c.Schema, Constraint: c.ID(), Err: err}
		case errors.Is(err, schema.ErrUnknownField):
			return nil, &Error{Kind: ErrUnknownField, Name: c.Schema + "." + c.Field, Constraint: c.ID(), Err: err}
		case err != nil:
			return nil, err
		}
		if _, err := s.grant(have, op.Requires, c); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Schema != ops[j].Schema {
			return ops[i].Schema < ops[j].Schema
		}
		if ops[i].Field != ops[j].Field {
			return ops[i].Field < ops[j].Field
		}
		return ops[i].Access < ops[j].Access
	})
	if err := s.inferTypes(a); err != nil {
		return nil, err
	}
	logger.Logger().Debug().Int("fieldOps", len(ops)).Msg("schemas resolved")
	return ops, nil
}

// effectTypes types the handler table for Perform.
func (s *Solver) effectTypes() (map[string]*lambda.Type, error) {
	out := make(map[string]*lambda.Type, len(s.Handlers))
	for tag, h := range s.Handlers {
		ch, err := lambda.Check(h, lambda.CheckOptions{})
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", tag, err)
		}
		out[tag] = ch.Type
	}
	return out, nil
}

func mismatch(c *Constraint, expected, found *lambda.Type) *Error {
	return &Error{Kind: ErrTypeMismatch, Expected: expected.String(), Found: found.String(), Constraint: c.ID()}
}

// inputsOf lists the typed free variables of a constraint's node.
func (a *Analysis) inputsOf(c *Constraint) []lambda.Input {
	out := make([]lambda.Input, len(c.Inputs))
	for i, r := range c.Inputs {
		out[i] = lambda.Input{Name: r, Type: a.Types[r]}
	}
	return out
}

func (s *Solver) inferTypes(a *Analysis) error {
	effects, err := s.effectTypes()
	if err != nil {
		return err
	}
	for _, in := range a.Intent.Inputs {
		a.Types[in.Name] = in.Type
	}
	for _, c := range a.Order {
		if c.Source != nil && len(c.Inputs) == 1 {
			if err := lambda.Unify(c.Source, a.Types[c.Inputs[0]]); err != nil {
				return mismatch(c, c.Source, a.Types[c.Inputs[0]])
			}
		}
		if c.Kind == CapabilityAccess && c.Schema != "" {
			sc, _ := s.Schemas.Lookup(c.Schema)
			want := lambda.Resource(sc.Type())
			if err := lambda.Unify(want, a.Types[c.Inputs[0]]); err != nil {
				return mismatch(c, want, a.Types[c.Inputs[0]])
			}
		}
		if c.Kind == RemoteTransform {
			if p, ok := c.Protocol.Payload.(*lambda.Type); ok {
				want := lambda.Resource(p)
				if session.Unfold(c.Protocol).Kind == session.KSend {
					if err := lambda.Unify(want, a.Types[c.Inputs[0]]); err != nil {
						return mismatch(c, want, a.Types[c.Inputs[0]])
					}
				}
			}
		}
		term, err := teg.LowerEffect(a.effects[c.ID()])
		if err != nil {
			return failf(ErrInvalidConstraintCombination, c, "%v", err)
		}
		ch, err := lambda.Check(term, lambda.CheckOptions{Inputs: a.inputsOf(c), Effects: effects})
		if err != nil {
			return checkError(c, err)
		}
		if c.Target != nil {
			if err := lambda.Unify(c.Target, ch.Type); err != nil {
				return mismatch(c, c.Target, ch.Type)
			}
		}
		a.Types[c.Name] = ch.Type
	}
	return nil
}

func checkError(c *Constraint, err error) error {
	var te *lambda.TypeError
	if errors.As(err, &te) {
		return &Error{Kind: ErrTypeMismatch, Expected: te.Expected, Found: te.Found, Detail: te.Detail, Constraint: c.ID(), Err: err}
	}
	var le *lambda.LinearityError
	if errors.As(err, &le) {
		return &Error{Kind: ErrInvalidConstraintCombination, Detail: le.Error(), Constraint: c.ID(), Err: err}
	}
	return &Error{Kind: ErrTypeMismatch, Detail: err.Error(), Constraint: c.ID(), Err: err}
}
