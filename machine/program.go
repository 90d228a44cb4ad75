package machine

import (
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/value"
)

// Static limits on programs.
const (
	MaxInstructions = 10000
	MaxRegisters    = 1024
)

// Constant preloads a register when a frame is entered.
type Constant struct {
	Register Register
	Value    value.Value
}

// Block is a straight-line instruction sequence. The root block is the program
// body; every other block is the body of a Lambda and receives the Lambda's
// arguments in Params order.
type Block struct {
	Params       []Register
	Constants    []Constant
	Instructions []Instruction
	Result       Register
}

// Program is a root block plus the lambda bodies it may apply, keyed by the
// ExprID the Lambda values carry.
type Program struct {
	Root   *Block
	Blocks map[content.ExprID]*Block
}

func NewProgram(root *Block) *Program {
	return &Program{Root: root, Blocks: make(map[content.ExprID]*Block)}
}

// BlockIDs returns the lambda body ids in byte order.
func (p *Program) BlockIDs() []content.ExprID {
	ids := make([]content.ExprID, 0, len(p.Blocks))
	for id := range p.Blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return content.EntityID(ids[i]).Less(content.EntityID(ids[j]))
	})
	return ids
}

// NumInstructions counts instructions over all blocks.
func (p *Program) NumInstructions() int {
	n := len(p.Root.Instructions)
	for _, b := range p.Blocks {
		n += len(b.Instructions)
	}
	return n
}

func checkRegister(r Register) error {
	if r >= MaxRegisters {
		return fmt.Errorf("register %s out of range", r)
	}
	return nil
}

func (b *Block) validate(p *Program) error {
	seen := make(map[Register]bool)
	for _, r := range b.Params {
		if err := checkRegister(r); err != nil {
			return err
		}
		if seen[r] {
			return fmt.Errorf("parameter register %s bound twice", r)
		}
		seen[r] = true
	}
	for _, c := range b.Constants {
		if err := checkRegister(c.Register); err != nil {
			return err
		}
		if seen[c.Register] {
			return fmt.Errorf("constant register %s already bound", c.Register)
		}
		seen[c.Register] = true
		if c.Value == nil {
			return fmt.Errorf("constant register %s has no value", c.Register)
		}
		if value.ContainsRef(c.Value) {
			return fmt.Errorf("constant register %s holds a resource reference", c.Register)
		}
		if l, ok := c.Value.(value.Lambda); ok {
			if _, prim := LookupPrimitive(l.Body); !prim {
				if _, ok := p.Blocks[l.Body]; !ok {
					return fmt.Errorf("constant register %s: lambda body %s not in program", c.Register, l.Body)
				}
			}
		}
	}
	for i, insn := range b.Instructions {
		if _, ok := instructionNames[insn.Type]; !ok {
			return fmt.Errorf("instruction %d: unknown type %d", i, int(insn.Type))
		}
		if len(insn.Inputs) != insn.Type.numInputs() {
			return fmt.Errorf("instruction %d: %s takes %d inputs, got %d", i, insn.Type, insn.Type.numInputs(), len(insn.Inputs))
		}
		for _, r := range insn.Inputs {
			if err := checkRegister(r); err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
		}
		if err := checkRegister(insn.Output); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return checkRegister(b.Result)
}

// Validate checks the static well-formedness of a program.
func Validate(p *Program) error {
	if p == nil || p.Root == nil {
		return fmt.Errorf("program has no root block")
	}
	if n := p.NumInstructions(); n > MaxInstructions {
		return fmt.Errorf("program has %d instructions, limit is %d", n, MaxInstructions)
	}
	if len(p.Root.Params) != 0 {
		return fmt.Errorf("root block cannot take parameters")
	}
	if err := p.Root.validate(p); err != nil {
		return fmt.Errorf("root block: %w", err)
	}
	for _, id := range p.BlockIDs() {
		if _, prim := LookupPrimitive(id); prim {
			return fmt.Errorf("block %s shadows a primitive", id)
		}
		if err := p.Blocks[id].validate(p); err != nil {
			return fmt.Errorf("block %s: %w", content.EntityID(id).Short(), err)
		}
	}
	return nil
}
