package zk

import (
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/timewave-computer/causality-sub016/utils"
)

// KeySize is the length of an attestation key.
const KeySize = 32

// NewKey draws a random attestation key.
func NewKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		return nil, fmt.Errorf("attestation key: %w", err)
	}
	return k, nil
}

// attestor signs the proofs of the attestation backends (mock and gnark
// without Groth16). Their proofs carry no knowledge argument, so only a
// holder of the key can produce or check one.
type attestor struct {
	key [KeySize]byte
}

// newAttestor derives the MAC key from secret, or draws one when secret is
// empty. A random key only verifies proofs made by the same backend value.
func newAttestor(secret []byte) attestor {
	if len(secret) == 0 {
		var err error
		if secret, err = NewKey(); err != nil {
			panic(err)
		}
	}
	return attestor{key: blake3.Sum256(secret)}
}

func (a attestor) tag(domain string, parts ...[]byte) []byte {
	o := &utils.OutputBuf{}
	o.AppendString(domain)
	for _, p := range parts {
		o.AppendBytes(p)
	}
	h := blake3.New(32, a.key[:])
	h.Write(o.Bytes())
	return h.Sum(nil)
}
