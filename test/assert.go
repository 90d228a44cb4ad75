// Package test holds helpers shared by the package tests: assertions over
// runs and proofs, and a generator of random well-formed programs.
package test

import (
	"context"
	"errors"
	"testing"

	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
	"github.com/timewave-computer/causality-sub016/zk"
)

type Assert struct {
	t *testing.T
}

func NewAssert(t *testing.T) *Assert {
	return &Assert{t: t}
}

func (a *Assert) RunSucceeded(p *machine.Program, witness []value.Value, opts ...machine.Option) *machine.Trace {
	a.t.Helper()
	st, tr, err := machine.Execute(p, nil, witness, opts...)
	if err != nil {
		a.t.Fatalf("should succeed: %v", err)
	}
	if st.Status() != machine.Halted {
		a.t.Fatalf("should halt, status %s", st.Status())
	}
	return tr
}

func (a *Assert) RunFaults(p *machine.Program, witness []value.Value, kind machine.FaultKind, opts ...machine.Option) *machine.Fault {
	a.t.Helper()
	_, _, err := machine.Execute(p, nil, witness, opts...)
	var f *machine.Fault
	if !errors.As(err, &f) {
		a.t.Fatalf("should fault with %s, got %v", kind, err)
	}
	if f.Kind != kind {
		a.t.Fatalf("should fault with %s, got %s", kind, f.Kind)
	}
	return f
}

// ProveSucceeded generates a proof and checks that it verifies against its
// own public inputs and against those derived from (c, w).
func (a *Assert) ProveSucceeded(b zk.Backend, c *zk.Circuit, w *zk.Witness) *zk.Proof {
	a.t.Helper()
	ctx := context.Background()
	p, err := b.Generate(ctx, c, w)
	if err != nil {
		a.t.Fatalf("should prove: %v", err)
	}
	pub, err := zk.PublicInputs(c, w)
	if err != nil {
		a.t.Fatal(err)
	}
	ok, err := b.Verify(ctx, p, pub.Encode())
	if err != nil || !ok {
		a.t.Fatalf("should verify: ok=%v err=%v", ok, err)
	}
	return p
}

func (a *Assert) ProveFailed(b zk.Backend, p *zk.Proof, public []byte) {
	a.t.Helper()
	ok, _ := b.Verify(context.Background(), p, public)
	if ok {
		a.t.Fatal("should fail")
	}
}
