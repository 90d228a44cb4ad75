package machine

import (
	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/value"
)

// lambdaBodies lists the bodies of the lambdas a block's constants hold,
// including lambdas nested in lists and records.
func lambdaBodies(b *Block) []content.ExprID {
	var ids []content.ExprID
	var walk func(v value.Value)
	walk = func(v value.Value) {
		switch v := v.(type) {
		case value.Lambda:
			ids = append(ids, v.Body)
			for _, e := range v.Env {
				walk(e.Value)
			}
		case value.List:
			for _, x := range v {
				walk(x)
			}
		case value.Record:
			for _, f := range v.Fields() {
				walk(f.Value)
			}
		case value.Map:
			for _, f := range v.Fields() {
				walk(f.Value)
			}
		}
	}
	for _, c := range b.Constants {
		walk(c.Value)
	}
	return ids
}

// EliminateEphemeral removes allocations of ephemeral resources that are
// consumed in the same block. The pattern is Alloc(t, v, o) where t is a
// constant ephemeral tag and the only use of o is a later Consume(o, x); the
// pair becomes Move(v, x). It returns the number of pairs removed.
func EliminateEphemeral(p *Program) int {
	n := eliminateEphemeralBlock(p.Root)
	for _, id := range p.BlockIDs() {
		n += eliminateEphemeralBlock(p.Blocks[id])
	}
	return n
}

func eliminateEphemeralBlock(b *Block) int {
	consts := make(map[Register]value.Value, len(b.Constants))
	for _, c := range b.Constants {
		consts[c.Register] = c.Value
	}
	uses := make(map[Register]int)
	for _, insn := range b.Instructions {
		for _, r := range insn.Inputs {
			uses[r]++
		}
	}
	uses[b.Result]++

	removed := make(map[int]bool)
	replaced := make(map[int]Instruction)
	for i, insn := range b.Instructions {
		if insn.Type != IAlloc {
			continue
		}
		tag, ok := consts[insn.Inputs[0]].(value.Symbol)
		if !ok || !EphemeralTags[tag] {
			continue
		}
		o := insn.Output
		if uses[o] != 1 {
			continue
		}
		for j := i + 1; j < len(b.Instructions); j++ {
			next := b.Instructions[j]
			if next.Type == IConsume && next.Inputs[0] == o {
				removed[i] = true
				replaced[j] = NewMoveInstruction(insn.Inputs[1], next.Output)
				break
			}
			if next.Output == o {
				break
			}
		}
	}
	if len(removed) == 0 {
		return 0
	}
	out := make([]Instruction, 0, len(b.Instructions)-len(removed))
	for i, insn := range b.Instructions {
		if removed[i] {
			continue
		}
		if r, ok := replaced[i]; ok {
			insn = r
		}
		out = append(out, insn)
	}
	b.Instructions = out
	return len(removed)
}
