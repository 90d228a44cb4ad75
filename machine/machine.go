package machine

import (
	"errors"
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/value"
)

// Limits bound a single run.
type Limits struct {
	MaxSteps     int
	MaxCallDepth int
	MaxResources int
}

func DefaultLimits() Limits {
	return Limits{MaxSteps: 100000, MaxCallDepth: 256, MaxResources: 2048}
}

// EphemeralTags are the allocation tags the compiler introduces for sums and
// products. Resources with these tags are marked ephemeral.
var EphemeralTags = map[value.Symbol]bool{
	"Tensor": true,
	"Sum":    true,
}

type Status int

const (
	Running Status = iota
	Halted
	Faulted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Halted:
		return "Halted"
	case Faulted:
		return "Faulted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// slot is a register. A consumed slot keeps its last value as a tombstone so a
// second Consume can tell a spent resource from a moved one.
type slot struct {
	v        value.Value
	consumed bool
}

type frame struct {
	block *Block
	regs  map[Register]*slot
	pc    int
	// out is where the caller wants this frame's result.
	out Register
}

// State is a loaded program. It is not safe for concurrent use; the heap and
// nullifier set it points to may be shared.
type State struct {
	program    *Program
	frames     []*frame
	heap       *resource.Heap
	nullifiers resource.NullifierSet
	domain     content.DomainID
	clock      *timestamp.Clock
	limits     Limits
	witness    []value.Value
	witnessPos int
	steps      int
	status     Status
	fault      *Fault
	trace      *Trace
}

type Option func(*State)

func WithHeap(h *resource.Heap) Option { return func(s *State) { s.heap = h } }

func WithNullifiers(n resource.NullifierSet) Option {
	return func(s *State) { s.nullifiers = n }
}

func WithDomain(d content.DomainID) Option { return func(s *State) { s.domain = d } }

// WithClock supplies the logical clock used to timestamp allocations. Runs that
// share a heap must share a clock.
func WithClock(c *timestamp.Clock) Option { return func(s *State) { s.clock = c } }

func WithLimits(l Limits) Option { return func(s *State) { s.limits = l } }

// DefaultDomain is used when no domain is configured.
var DefaultDomain = content.DomainFromName("local")

// Load validates the program and prepares a state ready to Step.
func Load(p *Program, initial map[Register]value.Value, witness []value.Value, opts ...Option) (*State, error) {
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	s := &State{
		program: p,
		domain:  DefaultDomain,
		limits:  DefaultLimits(),
		witness: append([]value.Value(nil), witness...),
	}
	for _, o := range opts {
		o(s)
	}
	if s.heap == nil {
		s.heap = resource.NewHeap()
	}
	if s.nullifiers == nil {
		s.nullifiers = resource.NewMemNullifierSet()
	}
	if s.clock == nil {
		s.clock = timestamp.NewClock(0)
	}
	root := &frame{block: p.Root, regs: make(map[Register]*slot)}
	for r, v := range initial {
		if err := checkRegister(r); err != nil {
			return nil, fmt.Errorf("load: initial %w", err)
		}
		if v == nil {
			return nil, fmt.Errorf("load: initial register %s has no value", r)
		}
		root.regs[r] = &slot{v: v}
	}
	for _, c := range p.Root.Constants {
		if _, ok := root.regs[c.Register]; ok {
			return nil, fmt.Errorf("load: initial register %s collides with a constant", c.Register)
		}
		root.regs[c.Register] = &slot{v: c.Value}
	}
	s.frames = []*frame{root}
	s.trace = &Trace{ProgramID: p.ID(), Result: value.Unit{}}
	return s, nil
}

func (s *State) Status() Status           { return s.status }
func (s *State) Fault() *Fault            { return s.fault }
func (s *State) Trace() *Trace            { return s.trace }
func (s *State) Heap() *resource.Heap     { return s.heap }
func (s *State) Domain() content.DomainID { return s.domain }
func (s *State) Nullifiers() resource.NullifierSet {
	return s.nullifiers
}

// Register returns the root frame's register; consumed reports the tombstone state.
func (s *State) Register(r Register) (v value.Value, consumed bool) {
	sl, ok := s.frames[0].regs[r]
	if !ok {
		return value.Unit{}, false
	}
	return sl.v, sl.consumed
}

// Registers returns the root register file, consumed registers excluded.
func (s *State) Registers() map[Register]value.Value {
	out := make(map[Register]value.Value)
	for r, sl := range s.frames[0].regs {
		if !sl.consumed {
			out[r] = sl.v
		}
	}
	return out
}

// WitnessRemaining is the number of unread witness values. A non-zero value
// after halting means the program under-read its witness.
func (s *State) WitnessRemaining() int { return len(s.witness) - s.witnessPos }

func (f *frame) slot(r Register) *slot {
	sl, ok := f.regs[r]
	if !ok {
		sl = &slot{v: value.Unit{}}
		f.regs[r] = sl
	}
	return sl
}

// read returns a register's value without consuming it.
func (f *frame) read(r Register) (value.Value, error) {
	sl := f.slot(r)
	if sl.consumed {
		return nil, fault(RegisterConsumed, "register %s is consumed", r)
	}
	return sl.v, nil
}

// take reads a register and consumes it when the value is linear.
func (f *frame) take(r Register) (value.Value, error) {
	v, err := f.read(r)
	if err != nil {
		return nil, err
	}
	if value.ContainsRef(v) {
		f.regs[r].consumed = true
	}
	return v, nil
}

func (f *frame) write(r Register, v value.Value) error {
	sl := f.slot(r)
	if sl.consumed {
		return fault(RegisterConsumed, "write to consumed register %s", r)
	}
	sl.v = v
	return nil
}

func (s *State) top() *frame { return s.frames[len(s.frames)-1] }

// Step executes one instruction. It returns Halted once the root block has
// run to completion and Faulted with the *Fault as error on failure.
func (s *State) Step() (Status, error) {
	if s.status != Running {
		if s.fault != nil {
			return s.status, s.fault
		}
		return s.status, nil
	}
	f := s.top()
	for f.pc >= len(f.block.Instructions) {
		if len(s.frames) == 1 {
			res, _ := s.Register(f.block.Result)
			s.trace.Result = res
			s.status = Halted
			s.finishTrace()
			return Halted, nil
		}
		res, err := f.take(f.block.Result)
		s.frames = s.frames[:len(s.frames)-1]
		caller := s.top()
		if err == nil {
			err = caller.write(f.out, res)
		}
		if err != nil {
			insn := caller.block.Instructions[caller.pc]
			return s.raise(err, caller, insn)
		}
		caller.pc++
		f = caller
	}

	insn := f.block.Instructions[f.pc]
	if s.limits.MaxSteps > 0 && s.steps >= s.limits.MaxSteps {
		return s.raise(fault(LimitExceeded, "step limit %d reached", s.limits.MaxSteps), f, insn)
	}
	step := TraceStep{
		Step:        s.steps,
		PC:          f.pc,
		Depth:       len(s.frames) - 1,
		Instruction: insn,
		Gas:         insn.Type.Cost(),
	}
	if err := s.exec(f, insn, &step); err != nil {
		return s.raise(err, f, insn)
	}
	step.Time = s.clock.Now()
	s.steps++
	s.trace.Steps = append(s.trace.Steps, step)
	s.trace.TotalGas += step.Gas
	return Running, nil
}

func (s *State) raise(err error, f *frame, insn Instruction) (Status, error) {
	var fe *faultError
	// Anything not raised as a fault comes from the heap or nullifier set.
	flt := &Fault{
		Kind:        StoreFailure,
		Step:        s.steps,
		PC:          f.pc,
		Depth:       len(s.frames) - 1,
		Instruction: insn,
		Detail:      err.Error(),
		Err:         err,
	}
	if errors.As(err, &fe) {
		flt.Kind = fe.kind
		flt.Detail = fe.detail
		flt.Err = nil
	}
	s.status = Faulted
	s.fault = flt
	s.trace.Fault = flt
	s.finishTrace()
	return Faulted, flt
}

func (s *State) finishTrace() {
	s.trace.WitnessConsumed = s.witnessPos
	s.trace.WitnessRemaining = s.WitnessRemaining()
}

func (s *State) exec(f *frame, insn Instruction, step *TraceStep) error {
	step.Reads = append(step.Reads, insn.Inputs...)
	switch insn.Type {
	case IMove:
		v, err := f.take(insn.Inputs[0])
		if err != nil {
			return err
		}
		if err := f.write(insn.Output, v); err != nil {
			return err
		}
	case IAlloc:
		tag, err := f.read(insn.Inputs[0])
		if err != nil {
			return err
		}
		sym, ok := tag.(value.Symbol)
		if !ok {
			return fault(TypeMismatch, "alloc type tag is %s, want Symbol", tag.Kind())
		}
		v, err := f.read(insn.Inputs[1])
		if err != nil {
			return err
		}
		f.regs[insn.Inputs[1]].consumed = true
		id, err := s.alloc(sym, v)
		if err != nil {
			return err
		}
		step.Allocated = append(step.Allocated, id)
		if err := f.write(insn.Output, value.Ref(id)); err != nil {
			return err
		}
	case IConsume:
		v, err := s.consume(f, insn.Inputs[0])
		if err != nil {
			return err
		}
		step.Consumed = append(step.Consumed, s.trace.Nullifiers[len(s.trace.Nullifiers)-1])
		if err := f.write(insn.Output, v); err != nil {
			return err
		}
	case IApply:
		fv, err := f.read(insn.Inputs[0])
		if err != nil {
			return err
		}
		fn, ok := fv.(value.Lambda)
		if !ok {
			return fault(TypeMismatch, "apply target is %s, want Lambda", fv.Kind())
		}
		if value.ContainsRef(fn) {
			f.regs[insn.Inputs[0]].consumed = true
		}
		arg, err := f.take(insn.Inputs[1])
		if err != nil {
			return err
		}
		step.Writes = append(step.Writes, insn.Output)
		return s.apply(f, fn, arg, insn.Output, step)
	case IWitness:
		if s.witnessPos >= len(s.witness) {
			return fault(WitnessExhausted, "witness stream has %d values", len(s.witness))
		}
		v := s.witness[s.witnessPos]
		s.witnessPos++
		if err := f.write(insn.Output, v); err != nil {
			return err
		}
	default:
		panic(fmt.Sprintf("unknown instruction type %d", int(insn.Type)))
	}
	step.Writes = append(step.Writes, insn.Output)
	f.pc++
	return nil
}

func (s *State) alloc(tag value.Symbol, v value.Value) (content.ResourceID, error) {
	if s.limits.MaxResources > 0 && s.heap.Len() >= s.limits.MaxResources {
		return content.ResourceID{}, fault(LimitExceeded, "resource limit %d reached", s.limits.MaxResources)
	}
	r := resource.New(resource.Resource{
		Name:      string(tag),
		Domain:    s.domain,
		Label:     string(tag),
		Ephemeral: EphemeralTags[tag],
		Quantity:  1,
		Timestamp: s.clock.Tick(),
		Data:      v,
	})
	spent, err := s.nullifiers.Contains(r.ID)
	if err != nil {
		return content.ResourceID{}, err
	}
	if spent {
		return content.ResourceID{}, fault(ResourceAlreadyConsumed, "resource %s was already nullified", r.ID)
	}
	if err := s.heap.Alloc(r); err != nil {
		return content.ResourceID{}, fault(DuplicateResource, "%v", err)
	}
	s.trace.Allocated = append(s.trace.Allocated, r.ID)
	return r.ID, nil
}

func (s *State) consume(f *frame, reg Register) (value.Value, error) {
	sl := f.slot(reg)
	ref, isRef := sl.v.(value.Ref)
	if sl.consumed {
		if isRef {
			spent, err := s.nullifiers.Contains(content.ResourceID(ref))
			if err != nil {
				return nil, err
			}
			if spent {
				return nil, fault(ResourceAlreadyConsumed, "resource %s already consumed", content.ResourceID(ref))
			}
		}
		return nil, fault(RegisterConsumed, "register %s is consumed", reg)
	}
	if !isRef {
		return nil, fault(TypeMismatch, "consume of %s, want Ref", sl.v.Kind())
	}
	id := content.ResourceID(ref)
	r, ok := s.heap.Get(id)
	if !ok {
		return nil, fault(ResourceNotFound, "resource %s not in heap", id)
	}
	if err := s.nullifiers.Nullify(id); err != nil {
		if errors.Is(err, resource.ErrAlreadyNullified) {
			return nil, fault(ResourceAlreadyConsumed, "resource %s already consumed", id)
		}
		return nil, err
	}
	sl.consumed = true
	s.trace.Nullifiers = append(s.trace.Nullifiers, id)
	return r.Data, nil
}

// apply performs one application. Partial applications produce a new Lambda;
// a saturated primitive runs immediately; a saturated block pushes a frame
// whose result is written to out when it finishes.
func (s *State) apply(f *frame, fn value.Lambda, arg value.Value, out Register, step *TraceStep) error {
	for {
		if len(fn.Params) == 0 {
			return fault(ArityMismatch, "lambda takes no further arguments")
		}
		env := make([]value.Binding, len(fn.Env), len(fn.Env)+1)
		copy(env, fn.Env)
		env = append(env, value.Binding{Name: fn.Params[0], Value: arg})
		if len(fn.Params) > 1 {
			partial := value.Lambda{Params: fn.Params[1:], Body: fn.Body, Env: env}
			if err := f.write(out, partial); err != nil {
				return err
			}
			f.pc++
			return nil
		}
		if prim, ok := LookupPrimitive(fn.Body); ok {
			if len(env) != prim.Arity {
				return fault(ArityMismatch, "primitive %s takes %d arguments, got %d", prim.Name, prim.Arity, len(env))
			}
			args := make([]value.Value, len(env))
			for i, b := range env {
				args[i] = b.Value
			}
			res, tail, err := prim.Fn(args)
			if err != nil {
				return err
			}
			if tail != nil {
				fn, arg = tail.fn, tail.arg
				continue
			}
			if err := f.write(out, res); err != nil {
				return err
			}
			f.pc++
			return nil
		}
		block, ok := s.program.Blocks[fn.Body]
		if !ok {
			return fault(TypeMismatch, "lambda body %s is not in the program", fn.Body)
		}
		if len(env) != len(block.Params) {
			return fault(ArityMismatch, "block takes %d arguments, got %d", len(block.Params), len(env))
		}
		if s.limits.MaxCallDepth > 0 && len(s.frames) > s.limits.MaxCallDepth {
			return fault(LimitExceeded, "call depth limit %d reached", s.limits.MaxCallDepth)
		}
		callee := &frame{block: block, regs: make(map[Register]*slot, len(block.Params)+len(block.Constants)), out: out}
		for i, r := range block.Params {
			callee.regs[r] = &slot{v: env[i].Value}
		}
		for _, c := range block.Constants {
			callee.regs[c.Register] = &slot{v: c.Value}
		}
		s.frames = append(s.frames, callee)
		return nil
	}
}

// Run steps until the program halts or faults.
func Run(s *State) (*State, *Trace, error) {
	for {
		st, err := s.Step()
		if err != nil {
			return s, s.trace, err
		}
		if st == Halted {
			return s, s.trace, nil
		}
	}
}

// Execute loads and runs in one call.
func Execute(p *Program, initial map[Register]value.Value, witness []value.Value, opts ...Option) (*State, *Trace, error) {
	s, err := Load(p, initial, witness, opts...)
	if err != nil {
		return nil, nil, err
	}
	return Run(s)
}
