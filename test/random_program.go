package test

import (
	"math/rand"

	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
)

type Range struct {
	Min int
	Max int
}

func (rr Range) sample(r *rand.Rand) int {
	return r.Intn(rr.Max-rr.Min+1) + rr.Min
}

// ProgramConfig shapes RandomProgram. The percentages are cumulative
// thresholds over [0, 100): an op below WitnessPercent reads the witness,
// below MovePercent moves, below AllocPercent allocates, below ConsumePercent
// consumes, and anything else applies an arithmetic primitive.
type ProgramConfig struct {
	Instructions   Range
	WitnessPercent int
	MovePercent    int
	AllocPercent   int
	ConsumePercent int
}

func DefaultProgramConfig() *ProgramConfig {
	return &ProgramConfig{
		Instructions:   Range{10, 60},
		WitnessPercent: 15,
		MovePercent:    30,
		AllocPercent:   55,
		ConsumePercent: 75,
	}
}

type programGenerator struct {
	rand    *rand.Rand
	conf    *ProgramConfig
	block   *machine.Block
	next    machine.Register
	ints    []machine.Register
	refs    []machine.Register
	tag     machine.Register
	prims   []machine.Register
	witness []value.Value
}

func (g *programGenerator) reg() machine.Register {
	r := g.next
	g.next++
	return r
}

func (g *programGenerator) constant(v value.Value) machine.Register {
	r := g.reg()
	g.block.Constants = append(g.block.Constants, machine.Constant{Register: r, Value: v})
	return r
}

func (g *programGenerator) emit(insn machine.Instruction) {
	g.block.Instructions = append(g.block.Instructions, insn)
}

// pick removes and returns a random element of rs.
func (g *programGenerator) pick(rs *[]machine.Register) machine.Register {
	i := g.rand.Intn(len(*rs))
	r := (*rs)[i]
	*rs = append((*rs)[:i], (*rs)[i+1:]...)
	return r
}

func (g *programGenerator) any(rs []machine.Register) machine.Register {
	return rs[g.rand.Intn(len(rs))]
}

func (g *programGenerator) witnessRead() {
	out := g.reg()
	g.emit(machine.NewWitnessInstruction(out))
	g.witness = append(g.witness, value.Int(g.rand.Int63n(1000)))
	g.ints = append(g.ints, out)
}

// RandomProgram builds a root-only program that runs to completion on the
// returned witness stream. The result is the value of the last live Int
// register. The output depends only on seed and conf.
func RandomProgram(seed int64, conf *ProgramConfig) (*machine.Program, []value.Value) {
	g := &programGenerator{
		rand:  rand.New(rand.NewSource(seed)),
		conf:  conf,
		block: &machine.Block{},
	}
	g.tag = g.constant(value.Symbol("coin"))
	for _, name := range []string{"add", "mul", "sub"} {
		g.prims = append(g.prims, g.constant(machine.PrimitiveValue(name)))
	}
	g.ints = append(g.ints, g.constant(value.Int(g.rand.Int63n(100))))

	n := conf.Instructions.sample(g.rand)
	for len(g.block.Instructions) < n && int(g.next) < machine.MaxRegisters-2 {
		op := g.rand.Intn(100)
		switch {
		case op < conf.WitnessPercent:
			g.witnessRead()
		case op < conf.MovePercent:
			out := g.reg()
			g.emit(machine.NewMoveInstruction(g.any(g.ints), out))
			g.ints = append(g.ints, out)
		case op < conf.AllocPercent:
			if len(g.ints) < 2 {
				g.witnessRead()
				continue
			}
			out := g.reg()
			g.emit(machine.NewAllocInstruction(g.tag, g.pick(&g.ints), out))
			g.refs = append(g.refs, out)
		case op < conf.ConsumePercent:
			if len(g.refs) == 0 {
				continue
			}
			out := g.reg()
			g.emit(machine.NewConsumeInstruction(g.pick(&g.refs), out))
			g.ints = append(g.ints, out)
		default:
			partial, out := g.reg(), g.reg()
			g.emit(machine.NewApplyInstruction(g.any(g.prims), g.any(g.ints), partial))
			g.emit(machine.NewApplyInstruction(partial, g.any(g.ints), out))
			g.ints = append(g.ints, out)
		}
	}
	g.block.Result = g.ints[len(g.ints)-1]
	return machine.NewProgram(g.block), g.witness
}
