package machine

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

func (b *Block) EncodeCanonical(o *utils.OutputBuf) {
	appendRegisters(o, b.Params)
	o.AppendUint64(uint64(len(b.Constants)))
	for _, c := range b.Constants {
		o.AppendUint32(uint32(c.Register))
		c.Value.EncodeCanonical(o)
	}
	o.AppendUint64(uint64(len(b.Instructions)))
	for _, insn := range b.Instructions {
		insn.EncodeCanonical(o)
	}
	o.AppendUint32(uint32(b.Result))
}

func (p *Program) EncodeCanonical(o *utils.OutputBuf) {
	p.Root.EncodeCanonical(o)
	ids := p.BlockIDs()
	o.AppendUint64(uint64(len(ids)))
	for _, id := range ids {
		o.AppendFixed(id[:])
		p.Blocks[id].EncodeCanonical(o)
	}
}

func (p *Program) Serialize() []byte {
	o := &utils.OutputBuf{}
	p.EncodeCanonical(o)
	return o.Bytes()
}

// ID is the content digest of the program. Equal programs share an id.
func (p *Program) ID() content.EntityID {
	return content.HashTagged("program", p.Serialize())
}

func readRegisters(in *utils.InputBuf) []Register {
	n := in.ReadLen(4)
	rs := make([]Register, 0, n)
	for i := 0; i < n && in.Err() == nil; i++ {
		rs = append(rs, Register(in.ReadUint32()))
	}
	return rs
}

func deserializeBlock(in *utils.InputBuf) *Block {
	b := &Block{Params: readRegisters(in)}
	n := in.ReadLen(5)
	for i := 0; i < n && in.Err() == nil; i++ {
		r := Register(in.ReadUint32())
		b.Constants = append(b.Constants, Constant{Register: r, Value: value.DecodeFrom(in)})
	}
	n = in.ReadLen(13)
	for i := 0; i < n && in.Err() == nil; i++ {
		t := InstructionType(in.ReadUint8())
		inputs := readRegisters(in)
		b.Instructions = append(b.Instructions, Instruction{Type: t, Inputs: inputs, Output: Register(in.ReadUint32())})
	}
	b.Result = Register(in.ReadUint32())
	return b
}

// DeserializeProgram decodes and validates a program.
func DeserializeProgram(buf []byte) (*Program, error) {
	in := utils.NewInputBuf(buf)
	p := NewProgram(deserializeBlock(in))
	n := in.ReadLen(content.Size)
	for i := 0; i < n && in.Err() == nil; i++ {
		var id content.ExprID
		copy(id[:], in.ReadFixed(content.Size))
		p.Blocks[id] = deserializeBlock(in)
	}
	if err := in.Finish(); err != nil {
		return nil, fmt.Errorf("deserialize program: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("deserialize program: %w", err)
	}
	return p, nil
}
