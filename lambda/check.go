package lambda

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/value"
)

// Input is a free variable supplied from outside the term.
type Input struct {
	Name string
	Type *Type
}

type CheckOptions struct {
	Inputs []Input
	// Effects types each Perform tag as a function from argument to result.
	Effects map[string]*Type
}

// Checked is the result of type checking: the term's type and the type of
// every subterm.
type Checked struct {
	Term  *Term
	Type  *Type
	types map[*Term]*Type
}

// TypeOf returns the inferred type of a subterm of the checked term.
func (c *Checked) TypeOf(t *Term) (*Type, bool) {
	ty, ok := c.types[t]
	return ty, ok
}

type binding struct {
	name string
	ty   *Type
	uses int
	pos  Pos
}

// drop is a record field discarded by an access or update. Its type is
// checked once inference has finished.
type drop struct {
	pos   Pos
	field string
	ty    *Type
}

type checker struct {
	u       *unifier
	scope   []*binding
	types   map[*Term]*Type
	effects map[string]*Type
	drops   []drop
}

// Check infers the type of t and verifies that every linear variable is used
// exactly once. Bindings of type Unit may go unused.
func Check(t *Term, opts CheckOptions) (*Checked, error) {
	c := &checker{u: newUnifier(), types: make(map[*Term]*Type), effects: opts.Effects}
	for _, in := range opts.Inputs {
		ty := in.Type
		if ty == nil {
			ty = c.u.fresh()
		}
		c.scope = append(c.scope, &binding{name: in.Name, ty: ty})
	}
	ty, err := c.infer(t)
	if err != nil {
		return nil, err
	}
	if err := c.pop(len(opts.Inputs), t.Pos); err != nil {
		return nil, err
	}
	for _, d := range c.drops {
		if !c.isData(d.ty) {
			return nil, &LinearityError{Pos: d.pos, Kind: DroppedField, Var: d.field}
		}
	}
	out := &Checked{Term: t, Type: c.u.zonk(ty), types: make(map[*Term]*Type, len(c.types))}
	for k, v := range c.types {
		out.types[k] = c.u.zonk(v)
	}
	return out, nil
}

func (c *checker) typeError(t *Term, m *mismatch) error {
	return &TypeError{Pos: t.Pos, Expected: m.expected.String(), Found: m.found.String()}
}

func (c *checker) errorf(t *Term, format string, args ...any) error {
	return &TypeError{Pos: t.Pos, Detail: fmt.Sprintf(format, args...)}
}

func (c *checker) push(name string, ty *Type, pos Pos) {
	c.scope = append(c.scope, &binding{name: name, ty: ty, pos: pos})
}

// pop closes the innermost n bindings, rejecting any that went unused.
func (c *checker) pop(n int, pos Pos) error {
	for i := 0; i < n; i++ {
		b := c.scope[len(c.scope)-1]
		c.scope = c.scope[:len(c.scope)-1]
		if b.uses == 0 && c.u.resolve(b.ty).Kind != TUnit {
			p := b.pos
			if p.Line == 0 {
				p = pos
			}
			return &LinearityError{Pos: p, Kind: Unused, Var: b.name}
		}
	}
	return nil
}

func (c *checker) lookup(name string) *binding {
	for i := len(c.scope) - 1; i >= 0; i-- {
		if c.scope[i].name == name {
			return c.scope[i]
		}
	}
	return nil
}

func (c *checker) snapshot() []int {
	s := make([]int, len(c.scope))
	for i, b := range c.scope {
		s[i] = b.uses
	}
	return s
}

func (c *checker) restore(s []int) {
	for i, u := range s {
		c.scope[i].uses = u
	}
}

// additive checks each arm from the same starting context and requires the
// arms to consume the same outer bindings.
func (c *checker) additive(t *Term, arms []func() (*Type, error)) (*Type, error) {
	start := c.snapshot()
	var result *Type
	var after []int
	for i, arm := range arms {
		c.restore(start)
		ty, err := arm()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = ty
			after = c.snapshot()
			continue
		}
		for j, u := range c.snapshot() {
			if u != after[j] {
				return nil, &LinearityError{Pos: t.Pos, Kind: BranchMismatch, Var: c.scope[j].name}
			}
		}
		if m := c.u.unify(result, ty); m != nil {
			return nil, c.typeError(t, m)
		}
	}
	return result, nil
}

func (c *checker) infer(t *Term) (*Type, error) {
	ty, err := c.inferKind(t)
	if err != nil {
		return nil, err
	}
	c.types[t] = ty
	return ty, nil
}

func (c *checker) bindIn(name string, ty *Type, body *Term, pos Pos) (*Type, error) {
	c.push(name, ty, pos)
	bt, err := c.infer(body)
	if err != nil {
		return nil, err
	}
	return bt, c.pop(1, pos)
}

// channel resolves t to a channel and unfolds recursion at the head of its
// session.
func (c *checker) channel(t *Term, ty *Type) (*session.Type, error) {
	r := c.u.resolve(ty)
	if r.Kind != TChannel {
		return nil, c.errorf(t, "expected a channel, found %s", c.u.zonk(r))
	}
	s := r.Session
	for s.Kind == session.KRec {
		s = session.Unfold(s)
	}
	return s, nil
}

func payloadType(t *Term, s *session.Type) (*Type, error) {
	p, ok := s.Payload.(*Type)
	if !ok {
		return nil, &TypeError{Pos: t.Pos, Detail: fmt.Sprintf("session payload %s is not a term type", s.Payload)}
	}
	return p, nil
}

func (c *checker) inferKind(t *Term) (*Type, error) {
	switch t.Kind {
	case KVar:
		if b := c.lookup(t.Name); b != nil {
			if b.uses > 0 {
				return nil, &LinearityError{Pos: t.Pos, Kind: UsedTwice, Var: t.Name}
			}
			b.uses++
			return b.ty, nil
		}
		if g, ok := globals[t.Name]; ok {
			return c.u.instantiate(g.scheme), nil
		}
		return nil, c.errorf(t, "unbound variable %q", t.Name)

	case KLambda:
		pt := t.Type
		if pt == nil {
			pt = c.u.fresh()
		}
		bt, err := c.bindIn(t.Name, pt, t.A, t.Pos)
		if err != nil {
			return nil, err
		}
		return Function(pt, bt), nil

	case KApply:
		ft, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		at, err := c.infer(t.B)
		if err != nil {
			return nil, err
		}
		f := c.u.resolve(ft)
		if f.Kind == TFunction {
			if m := c.u.unify(f.Left, at); m != nil {
				return nil, c.typeError(t.B, m)
			}
			return f.Right, nil
		}
		rt := c.u.fresh()
		if m := c.u.unify(Function(at, rt), ft); m != nil {
			return nil, c.typeError(t.A, m)
		}
		return rt, nil

	case KLet:
		vt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		return c.bindIn(t.Name, vt, t.B, t.Pos)

	case KAlloc:
		vt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		return Resource(vt), nil

	case KConsume:
		rt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		e := c.u.fresh()
		if m := c.u.unify(Resource(e), rt); m != nil {
			return nil, c.typeError(t.A, m)
		}
		return e, nil

	case KInl, KInr:
		vt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		other := t.Type
		if other == nil {
			other = c.u.fresh()
		}
		if t.Kind == KInl {
			return Sum(vt, other), nil
		}
		return Sum(other, vt), nil

	case KCase:
		st, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		l, r := c.u.fresh(), c.u.fresh()
		if m := c.u.unify(Sum(l, r), st); m != nil {
			return nil, c.typeError(t.A, m)
		}
		return c.additive(t, []func() (*Type, error){
			func() (*Type, error) { return c.bindIn(t.Name, l, t.B, t.Pos) },
			func() (*Type, error) { return c.bindIn(t.Name2, r, t.C, t.Pos) },
		})

	case KTensor:
		a, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		b, err := c.infer(t.B)
		if err != nil {
			return nil, err
		}
		return Product(a, b), nil

	case KLetTensor:
		pt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		a, b := c.u.fresh(), c.u.fresh()
		if m := c.u.unify(Product(a, b), pt); m != nil {
			return nil, c.typeError(t.A, m)
		}
		c.push(t.Name, a, t.Pos)
		c.push(t.Name2, b, t.Pos)
		bt, err := c.infer(t.B)
		if err != nil {
			return nil, err
		}
		return bt, c.pop(2, t.Pos)

	case KUnitVal:
		return UnitType, nil

	case KLetUnit:
		ut, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		if m := c.u.unify(UnitType, ut); m != nil {
			return nil, c.typeError(t.A, m)
		}
		return c.infer(t.B)

	case KRecord:
		fields := make([]FieldType, 0, len(t.Fields))
		seen := map[string]bool{}
		for _, f := range t.Fields {
			if seen[f.Name] {
				return nil, c.errorf(t, "duplicate field %q", f.Name)
			}
			seen[f.Name] = true
			ft, err := c.infer(f.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, FieldType{Name: f.Name, Type: ft})
		}
		return Record(fields...), nil

	case KRecordAccess, KRecordUpdate:
		rt, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		r := c.u.resolve(rt)
		if r.Kind != TRecord {
			return nil, c.errorf(t.A, "expected a record, found %s", c.u.zonk(r))
		}
		ft, ok := r.Field(t.Name)
		if !ok {
			return nil, c.errorf(t, "record %s has no field %q", c.u.zonk(r), t.Name)
		}
		for _, f := range droppedFields(r, t) {
			c.drops = append(c.drops, drop{pos: t.Pos, field: f.Name, ty: f.Type})
		}
		if t.Kind == KRecordAccess {
			return ft, nil
		}
		vt, err := c.infer(t.B)
		if err != nil {
			return nil, err
		}
		if m := c.u.unify(ft, vt); m != nil {
			return nil, c.typeError(t.B, m)
		}
		return r, nil

	case KLiteral:
		return c.literalType(t, t.Value)

	case KWitness:
		if t.Type == nil {
			return c.u.fresh(), nil
		}
		return t.Type, nil

	case KPerform:
		et, ok := c.effects[t.Name]
		if !ok {
			return nil, c.errorf(t, "unknown effect %q", t.Name)
		}
		at, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		et = c.freshen(et, map[int]*Type{})
		rt := c.u.fresh()
		if m := c.u.unify(et, Function(at, rt)); m != nil {
			return nil, c.typeError(t.A, m)
		}
		return rt, nil

	case KNewChannel:
		if t.Session == nil {
			return nil, c.errorf(t, "channel has no session type")
		}
		return Channel(t.Session), nil

	case KSend, KReceive, KSelect, KBranch, KClose:
		ct, err := c.infer(t.A)
		if err != nil {
			return nil, err
		}
		s, err := c.channel(t.A, ct)
		if err != nil {
			return nil, err
		}
		return c.sessionOp(t, s)
	}
	return nil, c.errorf(t, "unknown term kind %s", t.Kind)
}

func (c *checker) sessionOp(t *Term, s *session.Type) (*Type, error) {
	switch t.Kind {
	case KSend:
		if s.Kind != session.KSend {
			return nil, c.errorf(t, "send on channel with session %s", s)
		}
		pt, err := payloadType(t, s)
		if err != nil {
			return nil, err
		}
		vt, err := c.infer(t.B)
		if err != nil {
			return nil, err
		}
		if m := c.u.unify(pt, vt); m != nil {
			return nil, c.typeError(t.B, m)
		}
		if !c.isData(pt) {
			return nil, c.errorf(t, "channel payload %s is not a data type", c.u.zonk(pt))
		}
		return Channel(s.Next), nil

	case KReceive:
		if s.Kind != session.KReceive {
			return nil, c.errorf(t, "receive on channel with session %s", s)
		}
		pt, err := payloadType(t, s)
		if err != nil {
			return nil, err
		}
		if !c.isData(pt) {
			return nil, c.errorf(t, "channel payload %s is not a data type", c.u.zonk(pt))
		}
		return Product(pt, Channel(s.Next)), nil

	case KSelect:
		if s.Kind != session.KInternalChoice {
			return nil, c.errorf(t, "select on channel with session %s", s)
		}
		next, ok := s.Branch(t.Name)
		if !ok {
			return nil, c.errorf(t, "session %s has no branch %q", s, t.Name)
		}
		return Channel(next), nil

	case KBranch:
		if s.Kind != session.KExternalChoice {
			return nil, c.errorf(t, "branch on channel with session %s", s)
		}
		if len(t.Branches) != len(s.Branches) {
			return nil, c.errorf(t, "branch covers %d of %d labels", len(t.Branches), len(s.Branches))
		}
		arms := make([]func() (*Type, error), len(t.Branches))
		for i, b := range t.Branches {
			next, ok := s.Branch(b.Label)
			if !ok {
				return nil, c.errorf(t, "session %s has no branch %q", s, b.Label)
			}
			b := b
			arms[i] = func() (*Type, error) { return c.bindIn(b.Var, Channel(next), b.Body, t.Pos) }
		}
		return c.additive(t, arms)

	case KClose:
		if s.Kind != session.KEnd {
			return nil, c.errorf(t, "close on channel with session %s", s)
		}
		return UnitType, nil
	}
	return nil, c.errorf(t, "not a session operation")
}

func (c *checker) literalType(t *Term, v value.Value) (*Type, error) {
	switch v := v.(type) {
	case value.Unit:
		return UnitType, nil
	case value.Bool:
		return BoolType, nil
	case value.Int:
		return IntType, nil
	case value.Number:
		return NumberType, nil
	case value.String:
		return StringType, nil
	case value.Symbol:
		return SymbolType, nil
	case value.List:
		elem := c.u.fresh()
		for _, x := range v {
			xt, err := c.literalType(t, x)
			if err != nil {
				return nil, err
			}
			if m := c.u.unify(elem, xt); m != nil {
				return nil, c.typeError(t, m)
			}
		}
		return List(elem), nil
	case value.Record:
		fs := v.Fields()
		out := make([]FieldType, len(fs))
		for i, f := range fs {
			ft, err := c.literalType(t, f.Value)
			if err != nil {
				return nil, err
			}
			out[i] = FieldType{Name: string(f.Key), Type: ft}
		}
		return Record(out...), nil
	}
	return nil, c.errorf(t, "literal of kind %s is not supported", v.Kind())
}

// isData reports whether values of ty are plain data with no resource
// behind them. Products, sums and channels are heap resources at runtime.
func (c *checker) isData(ty *Type) bool {
	return IsData(c.u.zonk(ty))
}

// droppedFields lists the fields of record type r that the access or update
// t discards: every other field for an access, the replaced one for an
// update.
func droppedFields(r *Type, t *Term) []FieldType {
	var out []FieldType
	for _, f := range r.Fields {
		if (f.Name == t.Name) == (t.Kind == KRecordAccess) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// freshen renames the variables of an effect type to fresh ones, so each
// Perform uses its handler at an independent instance.
func (c *checker) freshen(t *Type, seen map[int]*Type) *Type {
	switch t.Kind {
	case TVar:
		v, ok := seen[t.Var]
		if !ok {
			v = c.u.fresh()
			seen[t.Var] = v
		}
		return v
	case TProduct, TSum, TFunction:
		return &Type{Kind: t.Kind, Left: c.freshen(t.Left, seen), Right: c.freshen(t.Right, seen)}
	case TList, TResource:
		return &Type{Kind: t.Kind, Elem: c.freshen(t.Elem, seen)}
	case TRecord:
		fs := make([]FieldType, len(t.Fields))
		for i, f := range t.Fields {
			fs[i] = FieldType{Name: f.Name, Type: c.freshen(f.Type, seen)}
		}
		return &Type{Kind: TRecord, Fields: fs}
	case TUnion:
		ms := make([]*Type, len(t.Members))
		for i, m := range t.Members {
			ms[i] = c.freshen(m, seen)
		}
		return &Type{Kind: TUnion, Members: ms}
	}
	return t
}
