package domain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/zk"
)

var (
	ErrNoVerifier   = errors.New("no verifier for fact")
	ErrFactRejected = errors.New("fact rejected")
)

// PublicInputsParam is the fact parameter holding hex-encoded public inputs
// for proof facts.
const PublicInputsParam = "public_inputs"

type Verifier interface {
	Verify(ctx context.Context, f *Fact) error
}

type VerifierFunc func(ctx context.Context, f *Fact) error

func (fn VerifierFunc) Verify(ctx context.Context, f *Fact) error { return fn(ctx, f) }

// VerifierRegistry maps fact names to verifiers. Custom facts register under
// their custom name.
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

func NewVerifierRegistry() *VerifierRegistry {
	return &VerifierRegistry{verifiers: make(map[string]Verifier)}
}

func (r *VerifierRegistry) Register(t FactType, v Verifier) {
	r.RegisterName(t.String(), v)
}

func (r *VerifierRegistry) RegisterName(name string, v Verifier) {
	r.mu.Lock()
	r.verifiers[name] = v
	r.mu.Unlock()
}

// Verify checks that f is intact and accepted by its verifier.
func (r *VerifierRegistry) Verify(ctx context.Context, f *Fact) error {
	if f.ID != f.ComputeID() {
		return fmt.Errorf("%w: %s id does not match content", ErrFactRejected, f.Name())
	}
	r.mu.RLock()
	v, ok := r.verifiers[f.Name()]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoVerifier, f.Name())
	}
	if err := v.Verify(ctx, f); err != nil {
		if errors.Is(err, ErrFactRejected) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrFactRejected, f.Name(), err)
	}
	return nil
}

// Observe asks a for a fact and returns it only if reg accepts it.
func Observe(ctx context.Context, a Adapter, reg *VerifierRegistry, q FactQuery) (*Fact, error) {
	if !a.CheckConnectivity(ctx) {
		return nil, ErrDisconnected
	}
	f, err := a.ObserveFact(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := reg.Verify(ctx, f); err != nil {
		logger.Logger().Warn().Str("fact", f.Name()).Str("id", f.ID.Short()).Err(err).Msg("fact rejected")
		return nil, err
	}
	return f, nil
}

// BlockVerifier accepts facts whose block is known to the adapter.
func BlockVerifier(a Adapter) Verifier {
	return VerifierFunc(func(ctx context.Context, f *Fact) error {
		ok, err := a.VerifyBlock(ctx, f.Height, f.BlockHash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: unknown block %d", ErrFactRejected, f.Height)
		}
		return nil
	})
}

// ProofVerifier accepts proof facts whose ProofData is an encoded proof that
// verifies against the public inputs carried in the fact's parameters.
func ProofVerifier(backends *zk.Registry) Verifier {
	return VerifierFunc(func(ctx context.Context, f *Fact) error {
		p, err := zk.DecodeProof(f.ProofData)
		if err != nil {
			return err
		}
		public, err := hex.DecodeString(f.Params[PublicInputsParam])
		if err != nil {
			return fmt.Errorf("public inputs: %w", err)
		}
		ok, err := backends.Verify(ctx, p, public)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: proof %s does not verify", ErrFactRejected, p.ID.Short())
		}
		return nil
	})
}

// ProofFact wraps a proof as a circuit-execution fact of domain d.
func ProofFact(d content.DomainID, p *zk.Proof) *Fact {
	return (&Fact{
		Domain:    d,
		Type:      FactZKCircuitExecution,
		Timestamp: p.Timestamp,
		Params:    map[string]string{PublicInputsParam: hex.EncodeToString(p.PublicInputs)},
		ProofData: p.Encode(),
	}).Seal()
}
