// Package resource defines linear resources, the capabilities that guard them,
// the append-only heap and the nullifier set.
package resource

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

// Resource is immutable once allocated. ID is the digest of every other field.
type Resource struct {
	ID             content.ResourceID
	Name           string
	Domain         content.DomainID
	Label          string
	Ephemeral      bool
	Quantity       uint64
	Timestamp      timestamp.Timestamp
	Capabilities   []Capability
	Data           value.Value
	CausalityProof []byte
	Budget         uint64
}

// New fills in the id.
func New(r Resource) *Resource {
	if r.Data == nil {
		r.Data = value.Unit{}
	}
	r.ID = r.ComputeID()
	return &r
}

// EncodeCanonical writes every field except ID.
func (r *Resource) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendString(r.Name)
	o.AppendFixed(r.Domain[:])
	o.AppendString(r.Label)
	o.AppendBool(r.Ephemeral)
	o.AppendUint64(r.Quantity)
	o.AppendUint64(uint64(r.Timestamp))
	o.AppendUint64(uint64(len(r.Capabilities)))
	for _, c := range r.Capabilities {
		c.EncodeCanonical(o)
	}
	data := r.Data
	if data == nil {
		data = value.Unit{}
	}
	data.EncodeCanonical(o)
	o.AppendBytes(r.CausalityProof)
	o.AppendUint64(r.Budget)
}

func (r *Resource) ComputeID() content.ResourceID {
	o := &utils.OutputBuf{}
	r.EncodeCanonical(o)
	return content.ResourceID(content.HashTagged("resource", o.Bytes()))
}

// Verify checks that ID matches the content.
func (r *Resource) Verify() error {
	if got := r.ComputeID(); got != r.ID {
		return fmt.Errorf("resource %s: content digest mismatch (computed %s)", r.ID, got)
	}
	return nil
}

// Encode returns ID followed by the canonical content.
func (r *Resource) Encode() []byte {
	o := &utils.OutputBuf{}
	o.AppendFixed(r.ID[:])
	r.EncodeCanonical(o)
	return o.Bytes()
}

func Decode(b []byte) (*Resource, error) {
	in := utils.NewInputBuf(b)
	r := &Resource{}
	copy(r.ID[:], in.ReadFixed(content.Size))
	r.Name = in.ReadString()
	copy(r.Domain[:], in.ReadFixed(content.Size))
	r.Label = in.ReadString()
	r.Ephemeral = in.ReadBool()
	r.Quantity = in.ReadUint64()
	r.Timestamp = timestamp.Timestamp(in.ReadUint64())
	n := in.ReadLen(content.Size + 1)
	for i := 0; i < n && in.Err() == nil; i++ {
		r.Capabilities = append(r.Capabilities, decodeCapability(in))
	}
	r.Data = value.DecodeFrom(in)
	r.CausalityProof = in.ReadBytes()
	r.Budget = in.ReadUint64()
	if err := in.Finish(); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if err := r.Verify(); err != nil {
		return nil, err
	}
	return r, nil
}
