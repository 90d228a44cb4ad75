package lambda

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/utils"
)

type TypeKind int

const (
	_              = 0
	TUnit TypeKind = iota
	TBool
	TInt
	TNumber
	TString
	TSymbol
	TProduct
	TSum
	TFunction
	TList
	TRecord
	TUnion
	TResource
	TChannel
	TVar
)

type FieldType struct {
	Name string
	Type *Type
}

// Type is a Layer-1 type. Product, Sum and Function use Left and Right; List
// and Resource use Elem; Record uses Fields sorted by name; Union uses
// Members; Channel carries a session type; Var is an inference variable.
type Type struct {
	Kind    TypeKind
	Left    *Type
	Right   *Type
	Elem    *Type
	Fields  []FieldType
	Members []*Type
	Session *session.Type
	Var     int
}

var (
	UnitType   = &Type{Kind: TUnit}
	BoolType   = &Type{Kind: TBool}
	IntType    = &Type{Kind: TInt}
	NumberType = &Type{Kind: TNumber}
	StringType = &Type{Kind: TString}
	SymbolType = &Type{Kind: TSymbol}
)

func Product(l, r *Type) *Type  { return &Type{Kind: TProduct, Left: l, Right: r} }
func Sum(l, r *Type) *Type      { return &Type{Kind: TSum, Left: l, Right: r} }
func Function(a, b *Type) *Type { return &Type{Kind: TFunction, Left: a, Right: b} }
func List(e *Type) *Type        { return &Type{Kind: TList, Elem: e} }
func Resource(e *Type) *Type    { return &Type{Kind: TResource, Elem: e} }
func Union(ms ...*Type) *Type   { return &Type{Kind: TUnion, Members: ms} }

func Channel(s *session.Type) *Type { return &Type{Kind: TChannel, Session: s} }

func Record(fields ...FieldType) *Type {
	fs := append([]FieldType(nil), fields...)
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	return &Type{Kind: TRecord, Fields: fs}
}

func (t *Type) Field(name string) (*Type, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

func (t *Type) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(t.Kind))
	switch t.Kind {
	case TProduct, TSum, TFunction:
		t.Left.EncodeCanonical(o)
		t.Right.EncodeCanonical(o)
	case TList, TResource:
		t.Elem.EncodeCanonical(o)
	case TRecord:
		o.AppendUint64(uint64(len(t.Fields)))
		for _, f := range t.Fields {
			o.AppendString(f.Name)
			f.Type.EncodeCanonical(o)
		}
	case TUnion:
		o.AppendUint64(uint64(len(t.Members)))
		for _, m := range t.Members {
			m.EncodeCanonical(o)
		}
	case TChannel:
		t.Session.EncodeCanonical(o)
	case TVar:
		o.AppendUint64(uint64(t.Var))
	}
}

func (t *Type) Encode() []byte {
	o := &utils.OutputBuf{}
	t.EncodeCanonical(o)
	return o.Bytes()
}

// IsData reports whether values of t hold no resources, channels or
// functions, and so may be discarded. Unresolved variables are not data.
func IsData(t *Type) bool {
	switch t.Kind {
	case TUnit, TBool, TInt, TNumber, TString, TSymbol:
		return true
	case TList:
		return IsData(t.Elem)
	case TRecord:
		for _, f := range t.Fields {
			if !IsData(f.Type) {
				return false
			}
		}
		return true
	}
	return false
}

// TypeEqual is structural equality without inference.
func TypeEqual(a, b *Type) bool {
	return bytes.Equal(a.Encode(), b.Encode())
}

func (t *Type) String() string {
	switch t.Kind {
	case TUnit:
		return "Unit"
	case TBool:
		return "Bool"
	case TInt:
		return "Int"
	case TNumber:
		return "Number"
	case TString:
		return "String"
	case TSymbol:
		return "Symbol"
	case TProduct:
		return fmt.Sprintf("(%s * %s)", t.Left, t.Right)
	case TSum:
		return fmt.Sprintf("(%s + %s)", t.Left, t.Right)
	case TFunction:
		return fmt.Sprintf("(%s -> %s)", t.Left, t.Right)
	case TList:
		return fmt.Sprintf("List(%s)", t.Elem)
	case TResource:
		return fmt.Sprintf("Resource(%s)", t.Elem)
	case TRecord:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ": " + f.Type.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case TUnion:
		parts := make([]string, len(t.Members))
		for i, m := range t.Members {
			parts[i] = m.String()
		}
		return "Union(" + strings.Join(parts, " | ") + ")"
	case TChannel:
		return fmt.Sprintf("Chan(%s)", t.Session)
	case TVar:
		return fmt.Sprintf("t%d", t.Var)
	}
	return "?"
}

// unifier holds the inference substitution.
type unifier struct {
	next  int
	subst map[int]*Type
}

func newUnifier() *unifier {
	return &unifier{subst: make(map[int]*Type)}
}

func (u *unifier) fresh() *Type {
	u.next++
	return &Type{Kind: TVar, Var: u.next}
}

// resolve follows variable bindings at the head of t.
func (u *unifier) resolve(t *Type) *Type {
	for t.Kind == TVar {
		b, ok := u.subst[t.Var]
		if !ok {
			return t
		}
		t = b
	}
	return t
}

// zonk resolves every variable in t.
func (u *unifier) zonk(t *Type) *Type {
	t = u.resolve(t)
	switch t.Kind {
	case TProduct, TSum, TFunction:
		return &Type{Kind: t.Kind, Left: u.zonk(t.Left), Right: u.zonk(t.Right)}
	case TList, TResource:
		return &Type{Kind: t.Kind, Elem: u.zonk(t.Elem)}
	case TRecord:
		fs := make([]FieldType, len(t.Fields))
		for i, f := range t.Fields {
			fs[i] = FieldType{Name: f.Name, Type: u.zonk(f.Type)}
		}
		return &Type{Kind: TRecord, Fields: fs}
	case TUnion:
		ms := make([]*Type, len(t.Members))
		for i, m := range t.Members {
			ms[i] = u.zonk(m)
		}
		return &Type{Kind: TUnion, Members: ms}
	}
	return t
}

func (u *unifier) occurs(v int, t *Type) bool {
	t = u.resolve(t)
	switch t.Kind {
	case TVar:
		return t.Var == v
	case TProduct, TSum, TFunction:
		return u.occurs(v, t.Left) || u.occurs(v, t.Right)
	case TList, TResource:
		return u.occurs(v, t.Elem)
	case TRecord:
		for _, f := range t.Fields {
			if u.occurs(v, f.Type) {
				return true
			}
		}
	case TUnion:
		for _, m := range t.Members {
			if u.occurs(v, m) {
				return true
			}
		}
	}
	return false
}

type mismatch struct {
	expected, found *Type
}

func (u *unifier) unify(expected, found *Type) *mismatch {
	a := u.resolve(expected)
	b := u.resolve(found)
	if a.Kind == TVar && b.Kind == TVar && a.Var == b.Var {
		return nil
	}
	if a.Kind == TVar {
		if u.occurs(a.Var, b) {
			return &mismatch{u.zonk(a), u.zonk(b)}
		}
		u.subst[a.Var] = b
		return nil
	}
	if b.Kind == TVar {
		if u.occurs(b.Var, a) {
			return &mismatch{u.zonk(a), u.zonk(b)}
		}
		u.subst[b.Var] = a
		return nil
	}
	fail := &mismatch{u.zonk(a), u.zonk(b)}
	if a.Kind != b.Kind {
		return fail
	}
	switch a.Kind {
	case TProduct, TSum, TFunction:
		if m := u.unify(a.Left, b.Left); m != nil {
			return m
		}
		return u.unify(a.Right, b.Right)
	case TList, TResource:
		return u.unify(a.Elem, b.Elem)
	case TRecord:
		if len(a.Fields) != len(b.Fields) {
			return fail
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name {
				return fail
			}
			if m := u.unify(a.Fields[i].Type, b.Fields[i].Type); m != nil {
				return m
			}
		}
	case TUnion:
		if len(a.Members) != len(b.Members) {
			return fail
		}
		for i := range a.Members {
			if m := u.unify(a.Members[i], b.Members[i]); m != nil {
				return m
			}
		}
	case TChannel:
		if !session.Equal(a.Session, b.Session) {
			return fail
		}
	}
	return nil
}

// scheme is a type with quantified variables, instantiated at each use.
type scheme struct {
	vars int
	body func(vs []*Type) *Type
}

func (u *unifier) instantiate(s scheme) *Type {
	vs := make([]*Type, s.vars)
	for i := range vs {
		vs[i] = u.fresh()
	}
	return s.body(vs)
}

// Unify reports whether a and b are equal up to their type variables.
func Unify(a, b *Type) error {
	u := newUnifier()
	for _, t := range []*Type{a, b} {
		if n := maxVar(t); n > u.next {
			u.next = n
		}
	}
	if m := u.unify(a, b); m != nil {
		return &TypeError{Expected: m.expected.String(), Found: m.found.String()}
	}
	return nil
}

func maxVar(t *Type) int {
	n := 0
	switch t.Kind {
	case TVar:
		n = t.Var
	case TProduct, TSum, TFunction:
		n = max(maxVar(t.Left), maxVar(t.Right))
	case TList, TResource:
		n = maxVar(t.Elem)
	case TRecord:
		for _, f := range t.Fields {
			n = max(n, maxVar(f.Type))
		}
	case TUnion:
		for _, m := range t.Members {
			n = max(n, maxVar(m))
		}
	}
	return n
}
