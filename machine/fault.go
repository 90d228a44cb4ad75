package machine

import (
	"errors"
	"fmt"
)

type FaultKind int

const (
	_                          = 0
	ResourceNotFound FaultKind = iota
	ResourceAlreadyConsumed
	RegisterConsumed
	TypeMismatch
	WitnessExhausted
	ArityMismatch
	DivisionByZero
	DuplicateResource
	LimitExceeded
	StoreFailure
)

var faultNames = map[FaultKind]string{
	ResourceNotFound:        "ResourceNotFound",
	ResourceAlreadyConsumed: "ResourceAlreadyConsumed",
	RegisterConsumed:        "RegisterConsumed",
	TypeMismatch:            "TypeMismatch",
	WitnessExhausted:        "WitnessExhausted",
	ArityMismatch:           "ArityMismatch",
	DivisionByZero:          "DivisionByZero",
	DuplicateResource:       "DuplicateResource",
	LimitExceeded:           "LimitExceeded",
	StoreFailure:            "StoreFailure",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// ErrFault matches every *Fault with errors.Is.
var ErrFault = errors.New("machine fault")

// Fault halts a program. It is recorded in the trace and returned from Run.
type Fault struct {
	Kind        FaultKind
	Step        int
	PC          int
	Depth       int
	Instruction Instruction
	Detail      string
	// Err is the underlying error of a StoreFailure.
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at step %d (pc %d, depth %d, %s): %s", f.Kind, f.Step, f.PC, f.Depth, f.Instruction, f.Detail)
}

func (f *Fault) Is(target error) bool {
	if target == ErrFault {
		return true
	}
	if t, ok := target.(*Fault); ok {
		return t.Kind == f.Kind
	}
	return false
}

func (f *Fault) Unwrap() error { return f.Err }

// AsFault extracts the fault kind from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// faultError is raised below the step loop, which fills in the position.
type faultError struct {
	kind   FaultKind
	detail string
}

func (e *faultError) Error() string { return e.kind.String() + ": " + e.detail }

func fault(kind FaultKind, format string, args ...interface{}) error {
	return &faultError{kind: kind, detail: fmt.Sprintf(format, args...)}
}
