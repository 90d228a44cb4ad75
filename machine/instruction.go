// Package machine is the Layer-0 register machine: five instructions over a
// register file, a linear resource heap and a nullifier set.
package machine

import (
	"fmt"
)

// Register names a slot in a frame's register file.
type Register uint32

func (r Register) String() string { return fmt.Sprintf("r%d", uint32(r)) }

// InstructionType enumerates the Layer-0 instructions. There are no others.
type InstructionType int

const (
	_                     = 0
	IMove InstructionType = iota
	IAlloc
	IConsume
	IApply
	IWitness
)

var instructionNames = map[InstructionType]string{
	IMove:    "Move",
	IAlloc:   "Alloc",
	IConsume: "Consume",
	IApply:   "Apply",
	IWitness: "Witness",
}

func (t InstructionType) String() string {
	if s, ok := instructionNames[t]; ok {
		return s
	}
	return fmt.Sprintf("InstructionType(%d)", int(t))
}

// Gas costs. Advisory: they never change semantics.
const (
	GasMove    uint64 = 1
	GasAlloc   uint64 = 10
	GasConsume uint64 = 5
	GasWitness uint64 = 3
	GasApply   uint64 = 20
)

func (t InstructionType) Cost() uint64 {
	switch t {
	case IMove:
		return GasMove
	case IAlloc:
		return GasAlloc
	case IConsume:
		return GasConsume
	case IWitness:
		return GasWitness
	case IApply:
		return GasApply
	}
	return 0
}

// numInputs is the operand count of each instruction type.
func (t InstructionType) numInputs() int {
	switch t {
	case IMove, IConsume:
		return 1
	case IAlloc, IApply:
		return 2
	}
	return 0
}

// Instruction is one Layer-0 step:
//  1. Move copies Inputs[0] to Output
//  2. Alloc allocates a resource tagged Inputs[0] holding Inputs[1]
//  3. Consume nullifies the resource referenced by Inputs[0]
//  4. Apply applies the Lambda in Inputs[0] to Inputs[1]
//  5. Witness reads the next witness value
type Instruction struct {
	Type   InstructionType
	Inputs []Register
	Output Register
}

func NewMoveInstruction(src, dst Register) Instruction {
	return Instruction{Type: IMove, Inputs: []Register{src}, Output: dst}
}

func NewAllocInstruction(typeReg, valReg, out Register) Instruction {
	return Instruction{Type: IAlloc, Inputs: []Register{typeReg, valReg}, Output: out}
}

func NewConsumeInstruction(res, out Register) Instruction {
	return Instruction{Type: IConsume, Inputs: []Register{res}, Output: out}
}

func NewApplyInstruction(fn, arg, out Register) Instruction {
	return Instruction{Type: IApply, Inputs: []Register{fn, arg}, Output: out}
}

func NewWitnessInstruction(out Register) Instruction {
	return Instruction{Type: IWitness, Output: out}
}

func (in Instruction) String() string {
	switch in.Type {
	case IMove:
		return fmt.Sprintf("Move(%s, %s)", in.Inputs[0], in.Output)
	case IAlloc:
		return fmt.Sprintf("Alloc(%s, %s) -> %s", in.Inputs[0], in.Inputs[1], in.Output)
	case IConsume:
		return fmt.Sprintf("Consume(%s) -> %s", in.Inputs[0], in.Output)
	case IApply:
		return fmt.Sprintf("Apply(%s, %s) -> %s", in.Inputs[0], in.Inputs[1], in.Output)
	case IWitness:
		return fmt.Sprintf("Witness() -> %s", in.Output)
	}
	return in.Type.String()
}
