package machine

type Stats struct {
	// number of instructions in the root block
	NbRootInstructions int
	// number of instructions over all blocks
	NbInstructions int
	// number of lambda body blocks
	NbBlocks int
	// instructions per type over all blocks
	ByType map[InstructionType]int
	// distinct registers touched by the root block
	NbUniqueRegisters int
	// gas of the root block plus every block it can reach through constant lambdas, each counted once
	EstimatedGas uint64
}

type blockStats struct {
	gas       uint64
	reachable []*Block
}

type statsContext struct {
	p *Program
	m map[*Block]*blockStats
}

func (p *Program) GetStats() Stats {
	sc := &statsContext{p: p, m: make(map[*Block]*blockStats)}
	r := Stats{
		NbRootInstructions: len(p.Root.Instructions),
		NbInstructions:     p.NumInstructions(),
		NbBlocks:           len(p.Blocks),
		ByType:             make(map[InstructionType]int),
	}
	count := func(b *Block) {
		for _, insn := range b.Instructions {
			r.ByType[insn.Type]++
		}
	}
	count(p.Root)
	for _, id := range p.BlockIDs() {
		count(p.Blocks[id])
	}

	regs := make(map[Register]bool)
	for _, c := range p.Root.Constants {
		regs[c.Register] = true
	}
	for _, insn := range p.Root.Instructions {
		for _, in := range insn.Inputs {
			regs[in] = true
		}
		regs[insn.Output] = true
	}
	r.NbUniqueRegisters = len(regs)

	seen := make(map[*Block]bool)
	var visit func(b *Block)
	visit = func(b *Block) {
		if seen[b] {
			return
		}
		seen[b] = true
		bs := sc.calcBlockStats(b)
		r.EstimatedGas += bs.gas
		for _, c := range bs.reachable {
			visit(c)
		}
	}
	visit(p.Root)
	return r
}

func (sc *statsContext) calcBlockStats(b *Block) *blockStats {
	if bs, ok := sc.m[b]; ok {
		return bs
	}
	bs := &blockStats{}
	for _, insn := range b.Instructions {
		bs.gas += insn.Type.Cost()
	}
	for _, id := range lambdaBodies(b) {
		if callee, ok := sc.p.Blocks[id]; ok {
			bs.reachable = append(bs.reachable, callee)
		}
	}
	sc.m[b] = bs
	return bs
}
