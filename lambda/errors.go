package lambda

import (
	"errors"
	"fmt"
)

var (
	ErrType      = errors.New("type error")
	ErrLinearity = errors.New("linearity error")
	ErrCompile   = errors.New("compile error")
)

// TypeError reports a term whose type disagrees with its context.
type TypeError struct {
	Pos      Pos
	Expected string
	Found    string
	Detail   string
}

func (e *TypeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: type error: %s", e.Pos, e.Detail)
	}
	return fmt.Sprintf("%s: type error: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

func (e *TypeError) Is(target error) bool { return target == ErrType }

type LinearityKind int

const (
	_                       = 0
	UsedTwice LinearityKind = iota
	Unused
	BranchMismatch
	DroppedField
)

func (k LinearityKind) String() string {
	switch k {
	case UsedTwice:
		return "used more than once"
	case Unused:
		return "never used"
	case BranchMismatch:
		return "used differently across branches"
	case DroppedField:
		return "dropped while holding a resource"
	}
	return "?"
}

// LinearityError reports a linear variable that is not used exactly once.
type LinearityError struct {
	Pos  Pos
	Kind LinearityKind
	Var  string
}

func (e *LinearityError) Error() string {
	if e.Kind == DroppedField {
		return fmt.Sprintf("%s: record field %q %s", e.Pos, e.Var, e.Kind)
	}
	return fmt.Sprintf("%s: linear variable %q %s", e.Pos, e.Var, e.Kind)
}

func (e *LinearityError) Is(target error) bool { return target == ErrLinearity }

// CompileError reports a well-typed term the lowering cannot express.
type CompileError struct {
	Pos    Pos
	Detail string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: compile error: %s", e.Pos, e.Detail)
}

func (e *CompileError) Is(target error) bool { return target == ErrCompile }
