// Package causality ties the layers together: source text is read into a
// Layer-1 term, checked and lowered to a Layer-0 program, run on a witness
// stream and proven through a zk backend.
package causality

import (
	"context"
	"errors"
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
	"github.com/timewave-computer/causality-sub016/zk"
)

var ErrVerificationFailed = errors.New("verification failed")

type CompileResult struct {
	Program *machine.Program
	ID      content.EntityID
	// Type is the printed Layer-1 type of the main term; empty for programs
	// decoded from an artifact without one.
	Type       string
	Eliminated int
}

// Compile reads a source file with its handler declarations and compiles
// the main expression.
func Compile(src string, opts ...lambda.Option) (*CompileResult, error) {
	p, err := lisp.ParseProgram(src)
	if err != nil {
		return nil, err
	}
	if len(p.Handlers) > 0 {
		opts = append([]lambda.Option{lambda.WithHandlers(p.Handlers)}, opts...)
	}
	return CompileTerm(p.Main, opts...)
}

func CompileTerm(t *lambda.Term, opts ...lambda.Option) (*CompileResult, error) {
	c, err := lambda.Compile(t, opts...)
	if err != nil {
		return nil, err
	}
	res := &CompileResult{
		Program:    c.Program,
		ID:         c.Program.ID(),
		Type:       c.Type.String(),
		Eliminated: c.Eliminated,
	}
	stats := c.Program.GetStats()
	logger.Logger().Info().
		Str("program", res.ID.Short()).
		Int("nbInstructions", stats.NbInstructions).
		Int("nbBlocks", stats.NbBlocks).
		Int("nbEliminated", c.Eliminated).
		Uint64("estimatedGas", stats.EstimatedGas).
		Msg("compiled")
	return res, nil
}

// Run executes the program on a witness stream. A fault is returned as a
// *machine.Fault together with the partial trace.
func (c *CompileResult) Run(witness []value.Value, opts ...machine.Option) (*machine.State, *machine.Trace, error) {
	return machine.Execute(c.Program, nil, witness, opts...)
}

func (c *CompileResult) Circuit(steps int) (*zk.Circuit, error) {
	return zk.NewCircuit(c.Program, steps)
}

// Prove runs the program on witness inside a circuit of the given step
// capacity and proves the run with b.
func Prove(ctx context.Context, b zk.Backend, c *CompileResult, steps int, witness []value.Value, opts ...machine.Option) (*zk.Proof, error) {
	circuit, err := c.Circuit(steps)
	if err != nil {
		return nil, err
	}
	w, _, err := circuit.Run(nil, witness, opts...)
	if err != nil {
		return nil, err
	}
	p, err := b.Generate(ctx, circuit, w)
	if err != nil {
		return nil, err
	}
	logger.Logger().Info().
		Str("proof", p.ID.Short()).
		Str("backend", p.Backend).
		Int("nbSteps", len(w.Trace.Steps)).
		Msg("proved")
	return p, nil
}

// Verify checks p against the encoded public inputs with the backend named
// in the proof. A proof that does not verify yields ErrVerificationFailed.
func Verify(ctx context.Context, reg *zk.Registry, p *zk.Proof, public []byte) error {
	ok, err := reg.Verify(ctx, p, public)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if !ok {
		return ErrVerificationFailed
	}
	return nil
}
