package zk

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
)

// Proof is content-addressed: ID is the digest of every other field.
type Proof struct {
	ID              content.EntityID    `cbor:"1,keyasint"`
	CircuitID       content.EntityID    `cbor:"2,keyasint"`
	Backend         string              `cbor:"3,keyasint"`
	Data            []byte              `cbor:"4,keyasint"`
	VerificationKey []byte              `cbor:"5,keyasint"`
	PublicInputs    []byte              `cbor:"6,keyasint"`
	Timestamp       timestamp.Timestamp `cbor:"7,keyasint"`
}

func (p *Proof) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendFixed(p.CircuitID[:])
	o.AppendString(p.Backend)
	o.AppendBytes(p.Data)
	o.AppendBytes(p.VerificationKey)
	o.AppendBytes(p.PublicInputs)
	o.AppendUint64(uint64(p.Timestamp))
}

func (p *Proof) ComputeID() content.EntityID {
	o := &utils.OutputBuf{}
	p.EncodeCanonical(o)
	return content.HashTagged("proof", o.Bytes())
}

// Seal sets ID and returns p.
func (p *Proof) Seal() *Proof {
	p.ID = p.ComputeID()
	return p
}

// Encode is the canonical form followed by the id.
func (p *Proof) Encode() []byte {
	o := &utils.OutputBuf{}
	p.EncodeCanonical(o)
	o.AppendFixed(p.ID[:])
	return o.Bytes()
}

func DecodeProof(b []byte) (*Proof, error) {
	in := utils.NewInputBuf(b)
	p := &Proof{}
	copy(p.CircuitID[:], in.ReadFixed(content.Size))
	p.Backend = in.ReadString()
	p.Data = in.ReadBytes()
	p.VerificationKey = in.ReadBytes()
	p.PublicInputs = in.ReadBytes()
	p.Timestamp = timestamp.Timestamp(in.ReadUint64())
	copy(p.ID[:], in.ReadFixed(content.Size))
	if err := in.Finish(); err != nil {
		return nil, fmt.Errorf("proof: %w", err)
	}
	if p.ID != p.ComputeID() {
		return nil, fmt.Errorf("%w: id does not match content", ErrInvalidProof)
	}
	return p, nil
}

// Public decodes the proof's public inputs.
func (p *Proof) Public() (*Public, error) {
	return DecodePublic(p.PublicInputs)
}
