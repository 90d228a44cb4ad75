package lambda

import (
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
)

type compileOptions struct {
	handlers    map[string]*Term
	inputs      []Input
	noEliminate bool
}

type Option func(*compileOptions)

// WithHandlers supplies the closed lambda that implements each effect tag
// used by Perform.
func WithHandlers(h map[string]*Term) Option {
	return func(o *compileOptions) { o.handlers = h }
}

// WithInputs declares free variables of the term. Input i is read from
// register i of the root block.
func WithInputs(in ...Input) Option {
	return func(o *compileOptions) { o.inputs = in }
}

// WithoutEphemeralElimination keeps every Alloc/Consume pair of ephemeral
// sum and product resources.
func WithoutEphemeralElimination() Option {
	return func(o *compileOptions) { o.noEliminate = true }
}

// Compiled is a checked term lowered to a Layer-0 program.
type Compiled struct {
	Program *machine.Program
	Type    *Type
	Inputs  []Input
	// Eliminated counts ephemeral Alloc/Consume pairs removed.
	Eliminated int
}

// Compile type checks t and lowers it to a register machine program.
func Compile(t *Term, opts ...Option) (*Compiled, error) {
	o := &compileOptions{}
	for _, f := range opts {
		f(o)
	}
	effects, handlerTypes, err := checkHandlers(o.handlers)
	if err != nil {
		return nil, err
	}
	checked, err := Check(t, CheckOptions{Inputs: o.inputs, Effects: effects})
	if err != nil {
		return nil, err
	}
	p := machine.NewProgram(&machine.Block{})
	c := &compiler{
		program:  p,
		checked:  append([]*Checked{checked}, handlerTypes...),
		handlers: o.handlers,
	}
	root := c.newBlock(0)
	for i, in := range o.inputs {
		root.bind(in.Name, machine.Register(i))
	}
	root.next = machine.Register(len(o.inputs))
	res, err := root.compile(t)
	if err != nil {
		return nil, err
	}
	root.block.Result = res
	p.Root = root.block
	if err := root.err(); err != nil {
		return nil, err
	}
	out := &Compiled{Program: p, Type: checked.Type, Inputs: o.inputs}
	if !o.noEliminate {
		out.Eliminated = machine.EliminateEphemeral(p)
	}
	if err := machine.Validate(p); err != nil {
		return nil, &CompileError{Pos: t.Pos, Detail: err.Error()}
	}
	return out, nil
}

// CompileOpen compiles a term with free inputs; input i is read from root
// register i.
func CompileOpen(t *Term, inputs []Input, opts ...Option) (*Compiled, error) {
	return Compile(t, append([]Option{WithInputs(inputs...)}, opts...)...)
}

// checkHandlers types each handler as a closed term and returns the effect
// table for Perform.
func checkHandlers(hs map[string]*Term) (map[string]*Type, []*Checked, error) {
	tags := make([]string, 0, len(hs))
	for tag := range hs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	effects := make(map[string]*Type, len(hs))
	var all []*Checked
	for _, tag := range tags {
		h := hs[tag]
		if h.Kind != KLambda {
			return nil, nil, &TypeError{Pos: h.Pos, Detail: fmt.Sprintf("handler for %q is not a lambda", tag)}
		}
		ch, err := Check(h, CheckOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("handler %q: %w", tag, err)
		}
		effects[tag] = ch.Type
		all = append(all, ch)
	}
	return effects, all, nil
}

type compiler struct {
	program  *machine.Program
	checked  []*Checked
	handlers map[string]*Term
}

func (c *compiler) typeOf(t *Term) (*Type, bool) {
	for _, ch := range c.checked {
		if ty, ok := ch.TypeOf(t); ok {
			return ty, true
		}
	}
	return nil, false
}

// checkDrops rejects a record access or update that would discard a field
// holding a resource.
func (c *compiler) checkDrops(t *Term) error {
	rt, ok := c.typeOf(t.A)
	if !ok || rt.Kind != TRecord {
		return nil
	}
	for _, f := range droppedFields(rt, t) {
		if !IsData(f.Type) {
			return &LinearityError{Pos: t.Pos, Kind: DroppedField, Var: f.Name}
		}
	}
	return nil
}

type scoped struct {
	name string
	reg  machine.Register
}

// blockBuilder emits one block. Variables map to the register holding their
// value; every emitted instruction writes a fresh register.
type blockBuilder struct {
	c        *compiler
	block    *machine.Block
	env      []scoped
	next     machine.Register
	overflow bool
}

func (c *compiler) newBlock(params int) *blockBuilder {
	b := &blockBuilder{c: c, block: &machine.Block{}}
	for i := 0; i < params; i++ {
		b.block.Params = append(b.block.Params, b.fresh())
	}
	return b
}

func (b *blockBuilder) err() error {
	if b.overflow {
		return &CompileError{Detail: fmt.Sprintf("block needs more than %d registers", machine.MaxRegisters)}
	}
	return nil
}

func (b *blockBuilder) fresh() machine.Register {
	r := b.next
	b.next++
	if b.next > machine.MaxRegisters {
		b.overflow = true
	}
	return r
}

func (b *blockBuilder) bind(name string, r machine.Register) {
	b.env = append(b.env, scoped{name: name, reg: r})
}

func (b *blockBuilder) unbind(n int) { b.env = b.env[:len(b.env)-n] }

func (b *blockBuilder) lookup(name string) (machine.Register, bool) {
	for i := len(b.env) - 1; i >= 0; i-- {
		if b.env[i].name == name {
			return b.env[i].reg, true
		}
	}
	return 0, false
}

func (b *blockBuilder) constant(v value.Value) machine.Register {
	r := b.fresh()
	b.block.Constants = append(b.block.Constants, machine.Constant{Register: r, Value: v})
	return r
}

func (b *blockBuilder) emit(insn machine.Instruction) machine.Register {
	b.block.Instructions = append(b.block.Instructions, insn)
	return insn.Output
}

func (b *blockBuilder) move(src machine.Register) machine.Register {
	return b.emit(machine.NewMoveInstruction(src, b.fresh()))
}

func (b *blockBuilder) alloc(tag string, v machine.Register) machine.Register {
	t := b.constant(value.Symbol(tag))
	return b.emit(machine.NewAllocInstruction(t, v, b.fresh()))
}

func (b *blockBuilder) consume(r machine.Register) machine.Register {
	return b.emit(machine.NewConsumeInstruction(r, b.fresh()))
}

func (b *blockBuilder) apply(fn machine.Register, args ...machine.Register) machine.Register {
	for _, a := range args {
		fn = b.emit(machine.NewApplyInstruction(fn, a, b.fresh()))
	}
	return fn
}

// call applies the named primitive to args.
func (b *blockBuilder) call(prim string, args ...machine.Register) machine.Register {
	return b.apply(b.constant(machine.PrimitiveValue(prim)), args...)
}

// captured lists the variables of this block that occur free in any of ts,
// excluding the names in bound, in sorted order.
func (b *blockBuilder) captured(bound []string, ts ...*Term) []string {
	skip := map[string]bool{}
	for _, n := range bound {
		skip[n] = true
	}
	set := map[string]bool{}
	for _, t := range ts {
		for _, n := range FreeVars(t) {
			if skip[n] {
				continue
			}
			if _, ok := b.lookup(n); ok {
				set[n] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// closure lowers body as a block and returns the Lambda that enters it.
// The block takes the captured names fvs and the arm's own binders; own
// comes first when ownFirst is set, as for arms selected by a primitive that
// supplies the bound value before the captures are applied. Own binders
// shadow captured names. Blocks are keyed by the ExprID of the equivalent
// closed lambda, so α-equivalent closures share one block.
func (b *blockBuilder) closure(fvs, own []string, ownFirst bool, body *Term) (value.Lambda, error) {
	closed := body
	for i := len(own) - 1; i >= 0; i-- {
		closed = Lam(own[i], nil, closed)
	}
	for i := len(fvs) - 1; i >= 0; i-- {
		closed = Lam(fvs[i], nil, closed)
	}
	id := closed.ID()
	if ownFirst {
		id = content.ExprID(content.HashTagged("closure.own-first", id[:]))
	}
	n := len(fvs) + len(own)
	if _, ok := b.c.program.Blocks[id]; !ok {
		inner := b.c.newBlock(n)
		ownAt, fvAt := len(fvs), 0
		if ownFirst {
			ownAt, fvAt = 0, len(own)
		}
		for i, name := range fvs {
			inner.bind(name, inner.block.Params[fvAt+i])
		}
		for i, name := range own {
			inner.bind(name, inner.block.Params[ownAt+i])
		}
		res, err := inner.compile(body)
		if err != nil {
			return value.Lambda{}, err
		}
		if err := inner.err(); err != nil {
			return value.Lambda{}, err
		}
		inner.block.Result = res
		b.c.program.Blocks[id] = inner.block
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("$%d", i)
	}
	return value.Lambda{Params: names, Body: id}, nil
}

// applyCaptured applies fn to the current registers of the captured names.
func (b *blockBuilder) applyCaptured(fn machine.Register, names []string) machine.Register {
	for _, n := range names {
		r, _ := b.lookup(n)
		fn = b.apply(fn, r)
	}
	return fn
}

func (b *blockBuilder) global(t *Term, g global) machine.Register {
	if g.wrap == "" {
		return b.constant(machine.PrimitiveValue(g.prim))
	}
	id := content.ExprID(content.HashTagged("global", []byte(t.Name)))
	if _, ok := b.c.program.Blocks[id]; !ok {
		w := b.c.newBlock(1)
		w.block.Result = w.alloc(g.wrap, w.call(g.prim, w.block.Params[0]))
		b.c.program.Blocks[id] = w.block
	}
	return b.constant(value.Lambda{Params: []string{"$0"}, Body: id})
}

func (b *blockBuilder) compileAll(ts ...*Term) ([]machine.Register, error) {
	out := make([]machine.Register, len(ts))
	for i, t := range ts {
		r, err := b.compile(t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (b *blockBuilder) compile(t *Term) (machine.Register, error) {
	switch t.Kind {
	case KVar:
		if r, ok := b.lookup(t.Name); ok {
			return r, nil
		}
		if g, ok := globals[t.Name]; ok {
			return b.global(t, g), nil
		}
		return 0, &CompileError{Pos: t.Pos, Detail: fmt.Sprintf("unbound variable %q", t.Name)}

	case KLambda:
		fvs := b.captured([]string{t.Name}, t.A)
		fn, err := b.closure(fvs, []string{t.Name}, false, t.A)
		if err != nil {
			return 0, err
		}
		return b.applyCaptured(b.constant(fn), fvs), nil

	case KApply:
		rs, err := b.compileAll(t.A, t.B)
		if err != nil {
			return 0, err
		}
		return b.apply(rs[0], rs[1]), nil

	case KLet:
		v, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		b.bind(t.Name, v)
		defer b.unbind(1)
		return b.compile(t.B)

	case KAlloc:
		v, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		tag := t.Name
		if tag == "" {
			tag = "Value"
			if ty, ok := b.c.typeOf(t.A); ok {
				tag = ty.String()
			}
		}
		return b.alloc(tag, v), nil

	case KConsume:
		r, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		return b.consume(r), nil

	case KInl, KInr:
		v, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		prim := "inl"
		if t.Kind == KInr {
			prim = "inr"
		}
		return b.alloc("Sum", b.call(prim, v)), nil

	case KCase:
		s, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		sv := b.consume(s)
		fvs := b.captured(nil, Lam(t.Name, nil, t.B), Lam(t.Name2, nil, t.C))
		left, err := b.closure(fvs, []string{t.Name}, true, t.B)
		if err != nil {
			return 0, err
		}
		right, err := b.closure(fvs, []string{t.Name2}, true, t.C)
		if err != nil {
			return 0, err
		}
		return b.applyCaptured(b.call("case", sv, b.constant(left), b.constant(right)), fvs), nil

	case KTensor:
		rs, err := b.compileAll(t.A, t.B)
		if err != nil {
			return 0, err
		}
		return b.alloc("Tensor", b.call("pair", rs...)), nil

	case KLetTensor:
		p, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		pv := b.consume(p)
		fvs := b.captured([]string{t.Name, t.Name2}, t.B)
		k, err := b.closure(fvs, []string{t.Name, t.Name2}, true, t.B)
		if err != nil {
			return 0, err
		}
		return b.applyCaptured(b.call("letpair", pv, b.constant(k)), fvs), nil

	case KUnitVal:
		return b.move(b.constant(value.Unit{})), nil

	case KLetUnit:
		if _, err := b.compile(t.A); err != nil {
			return 0, err
		}
		return b.compile(t.B)

	case KRecord:
		r := b.constant(value.NewRecord())
		for _, f := range t.Fields {
			v, err := b.compile(f.Value)
			if err != nil {
				return 0, err
			}
			r = b.call("record.set", r, b.constant(value.Symbol(f.Name)), v)
		}
		return r, nil

	case KRecordAccess:
		if err := b.c.checkDrops(t); err != nil {
			return 0, err
		}
		r, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		return b.call("record.get", r, b.constant(value.Symbol(t.Name))), nil

	case KRecordUpdate:
		if err := b.c.checkDrops(t); err != nil {
			return 0, err
		}
		rs, err := b.compileAll(t.A, t.B)
		if err != nil {
			return 0, err
		}
		return b.call("record.set", rs[0], b.constant(value.Symbol(t.Name)), rs[1]), nil

	case KLiteral:
		return b.move(b.constant(t.Value)), nil

	case KWitness:
		return b.emit(machine.NewWitnessInstruction(b.fresh())), nil

	case KPerform:
		h, ok := b.c.handlers[t.Name]
		if !ok {
			return 0, &CompileError{Pos: t.Pos, Detail: fmt.Sprintf("no handler for effect %q", t.Name)}
		}
		fn, err := b.compile(h)
		if err != nil {
			return 0, err
		}
		arg, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		return b.apply(fn, arg), nil

	case KNewChannel:
		proto := b.constant(value.Symbol(t.Session.String()))
		return b.alloc("Channel", b.call("chan.new", proto)), nil

	case KSend:
		ch, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		st := b.consume(ch)
		v, err := b.compile(t.B)
		if err != nil {
			return 0, err
		}
		return b.alloc("Channel", b.call("chan.send", st, v)), nil

	case KReceive:
		ch, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		st := b.consume(ch)
		w := b.emit(machine.NewWitnessInstruction(b.fresh()))
		v := b.move(w)
		next := b.alloc("Channel", b.call("chan.recv", st, w))
		return b.alloc("Tensor", b.call("pair", v, next)), nil

	case KSelect:
		ch, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		st := b.consume(ch)
		label := b.constant(value.Symbol(t.Name))
		return b.alloc("Channel", b.call("chan.send", st, label)), nil

	case KBranch:
		return b.compileBranch(t)

	case KClose:
		ch, err := b.compile(t.A)
		if err != nil {
			return 0, err
		}
		b.consume(ch)
		return b.move(b.constant(value.Unit{})), nil
	}
	return 0, &CompileError{Pos: t.Pos, Detail: fmt.Sprintf("cannot lower %s", t.Kind)}
}

// compileBranch reads the chosen label from the witness and dispatches
// through a constant record mapping each label to its arm.
func (b *blockBuilder) compileBranch(t *Term) (machine.Register, error) {
	ch, err := b.compile(t.A)
	if err != nil {
		return 0, err
	}
	st := b.consume(ch)
	w := b.emit(machine.NewWitnessInstruction(b.fresh()))
	label := b.move(w)
	next := b.alloc("Channel", b.call("chan.recv", st, w))

	arms := make([]*Term, len(t.Branches))
	for i, br := range t.Branches {
		arms[i] = Lam(br.Var, nil, br.Body)
	}
	fvs := b.captured(nil, arms...)
	table := make([]value.Field, 0, len(t.Branches))
	for _, br := range t.Branches {
		k, err := b.closure(fvs, []string{br.Var}, true, br.Body)
		if err != nil {
			return 0, err
		}
		table = append(table, value.Field{Key: value.Symbol(br.Label), Value: k})
	}
	k := b.call("record.get", b.constant(value.NewRecord(table...)), label)
	return b.applyCaptured(b.apply(k, next), fvs), nil
}
