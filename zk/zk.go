// Package zk proves Layer-0 executions. A Circuit is a content-addressed
// compiled program with a bounded trace capacity, a Witness is the private
// witness stream plus the recorded trace, and a Backend turns the pair into a
// Proof that can later be checked against the public inputs alone.
package zk

import (
	"context"
	"errors"
)

var (
	ErrInvalidProof         = errors.New("invalid proof")
	ErrEmptyProofData       = errors.New("empty proof data")
	ErrEmptyVerificationKey = errors.New("empty verification key")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrCircuitMismatch      = errors.New("witness does not belong to circuit")
	ErrTraceTooLong         = errors.New("trace exceeds circuit capacity")
	ErrUnsatisfied          = errors.New("witness does not satisfy circuit")
)

// Backend produces and checks proofs. Generate must be a function of the
// circuit and witness. Verify reports false for a proof it can tell is wrong
// and an error for one it cannot interpret; it never reports true for a proof
// it did not check.
type Backend interface {
	Name() string
	Available() bool
	Generate(ctx context.Context, c *Circuit, w *Witness) (*Proof, error)
	Verify(ctx context.Context, p *Proof, public []byte) (bool, error)
}

// checkShape rejects proofs with missing parts before any backend work.
func checkShape(p *Proof) error {
	if p == nil {
		return ErrInvalidProof
	}
	if len(p.Data) == 0 {
		return ErrEmptyProofData
	}
	if len(p.VerificationKey) == 0 {
		return ErrEmptyVerificationKey
	}
	return nil
}
