package solver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
)

// Failure kinds. Match with errors.Is; the *Error carries the payload.
var (
	ErrUnknownTransform             = errors.New("unknown transform")
	ErrInvalidConstraintCombination = errors.New("invalid constraint combination")
	ErrUnsolvableConstraints        = errors.New("unsolvable constraints")
	ErrTypeMismatch                 = errors.New("type mismatch")
	ErrMissingCapability            = errors.New("missing capability")
	ErrInvalidLocation              = errors.New("invalid location")
	ErrCyclicDependency             = errors.New("cyclic dependency")
	ErrUnsatisfiableResource        = errors.New("unsatisfiable resource")
	ErrUnknownSchema                = errors.New("unknown schema")
	ErrUnknownField                 = errors.New("unknown field")
)

// Error is a solver failure. Only the fields relevant to Kind are set.
type Error struct {
	Kind       error
	Detail     string
	Constraint content.EntityID
	Nodes      []content.NodeID
	Expected   string
	Found      string
	Required   string
	Available  []string
	Op         string
	Location   Location
	Name       string
	// Err is the underlying failure, if any.
	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	switch e.Kind {
	case ErrTypeMismatch:
		if e.Expected == "" && e.Found == "" {
			break
		}
		fmt.Fprintf(&sb, ": expected %s, found %s", e.Expected, e.Found)
	case ErrMissingCapability:
		fmt.Fprintf(&sb, ": need %s, have [%s]", e.Required, strings.Join(e.Available, ", "))
	case ErrInvalidLocation:
		fmt.Fprintf(&sb, ": %s at %q", e.Op, e.Location)
	case ErrUnknownTransform, ErrUnsatisfiableResource, ErrUnknownSchema, ErrUnknownField:
		fmt.Fprintf(&sb, ": %s", e.Name)
	}
	if e.Detail != "" {
		sb.WriteString(": " + e.Detail)
	}
	if !e.Constraint.IsZero() {
		sb.WriteString(" (constraint " + e.Constraint.Short() + ")")
	}
	if len(e.Nodes) > 0 {
		ids := make([]string, len(e.Nodes))
		for i, n := range e.Nodes {
			ids[i] = n.Short()
		}
		sb.WriteString(" [" + strings.Join(ids, " -> ") + "]")
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func failf(kind error, c *Constraint, format string, args ...any) *Error {
	e := &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
	if c != nil {
		e.Constraint = c.ID()
	}
	return e
}
