package causality

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
	"github.com/timewave-computer/causality-sub016/zk"
)

// FormatVersion is written into artifact and proof files. Readers accept
// any file with the same major version.
const FormatVersion = "1.0.0"

var ErrFormat = errors.New("unsupported file format")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

type artifactFile struct {
	Version string `cbor:"1,keyasint"`
	Program []byte `cbor:"2,keyasint"`
	ID      []byte `cbor:"3,keyasint"`
	Type    string `cbor:"4,keyasint,omitempty"`
}

type proofFile struct {
	Version string    `cbor:"1,keyasint"`
	Proof   *zk.Proof `cbor:"2,keyasint"`
}

func checkVersion(s string) error {
	v, err := semver.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrFormat, s, err)
	}
	cur := semver.MustParse(FormatVersion)
	if v.Major != cur.Major {
		return fmt.Errorf("%w: version %s, reader is %s", ErrFormat, v, cur)
	}
	return nil
}

func EncodeArtifact(c *CompileResult) ([]byte, error) {
	return encMode.Marshal(&artifactFile{
		Version: FormatVersion,
		Program: c.Program.Serialize(),
		ID:      c.ID[:],
		Type:    c.Type,
	})
}

// DecodeArtifact reads an artifact and checks that the program matches the
// id it was stored under.
func DecodeArtifact(b []byte) (*CompileResult, error) {
	var f artifactFile
	if err := cbor.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	p, err := machine.DeserializeProgram(f.Program)
	if err != nil {
		return nil, err
	}
	if err := machine.Validate(p); err != nil {
		return nil, err
	}
	res := &CompileResult{Program: p, ID: p.ID(), Type: f.Type}
	if string(res.ID[:]) != string(f.ID) {
		return nil, fmt.Errorf("%w: program id does not match content", ErrFormat)
	}
	return res, nil
}

func EncodeProof(p *zk.Proof) ([]byte, error) {
	return encMode.Marshal(&proofFile{Version: FormatVersion, Proof: p})
}

func DecodeProof(b []byte) (*zk.Proof, error) {
	var f proofFile
	if err := cbor.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := checkVersion(f.Version); err != nil {
		return nil, err
	}
	if f.Proof == nil {
		return nil, fmt.Errorf("%w: no proof", ErrFormat)
	}
	if f.Proof.ID != f.Proof.ComputeID() {
		return nil, fmt.Errorf("%w: id does not match content", zk.ErrInvalidProof)
	}
	return f.Proof, nil
}

// EncodePublicInputs is the text form of public inputs used by files.
func EncodePublicInputs(b []byte) []byte {
	return []byte(hex.EncodeToString(b) + "\n")
}

func DecodePublicInputs(b []byte) ([]byte, error) {
	out, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: public inputs: %v", ErrFormat, err)
	}
	return out, nil
}

type witnessFile struct {
	Witness []yaml.Node `yaml:"witness"`
}

// DecodeWitness reads a YAML witness file. Each entry of the witness list
// is a value literal; plain YAML scalars such as 5 or "abc" are read with
// the same literal syntax.
//
//	witness:
//	  - 5
//	  - '"alice"'
//	  - (record (amount 3))
func DecodeWitness(b []byte) ([]value.Value, error) {
	var f witnessFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("witness: %w", err)
	}
	var out []value.Value
	for i, n := range f.Witness {
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("witness entry %d (line %d) is not a scalar", i, n.Line)
		}
		vs, err := lisp.ParseValues(n.Value)
		if err != nil {
			return nil, fmt.Errorf("witness entry %d (line %d): %w", i, n.Line, err)
		}
		if len(vs) != 1 {
			return nil, fmt.Errorf("witness entry %d (line %d) holds %d values", i, n.Line, len(vs))
		}
		out = append(out, vs[0])
	}
	return out, nil
}
