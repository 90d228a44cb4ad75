// Package lambda is Layer-1: a linear λ-calculus with sum, product, record
// and session types, its type checker, and its lowering to Layer-0 programs.
package lambda

import (
	"fmt"

	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/value"
)

type Kind int

const (
	_         = 0
	KVar Kind = iota
	KLambda
	KApply
	KLet
	KAlloc
	KConsume
	KInl
	KInr
	KCase
	KTensor
	KLetTensor
	KUnitVal
	KLetUnit
	KRecord
	KRecordAccess
	KRecordUpdate
	KLiteral
	KWitness
	KPerform
	KNewChannel
	KSend
	KReceive
	KSelect
	KBranch
	KClose
)

var kindNames = map[Kind]string{
	KVar: "Var", KLambda: "Lambda", KApply: "Apply", KLet: "Let", KAlloc: "Alloc",
	KConsume: "Consume", KInl: "Inl", KInr: "Inr", KCase: "Case", KTensor: "Tensor",
	KLetTensor: "LetTensor", KUnitVal: "UnitVal", KLetUnit: "LetUnit", KRecord: "Record",
	KRecordAccess: "RecordAccess", KRecordUpdate: "RecordUpdate", KLiteral: "Literal",
	KWitness: "Witness", KPerform: "Perform", KNewChannel: "NewChannel", KSend: "Send",
	KReceive: "Receive", KSelect: "Select", KBranch: "Branch", KClose: "Close",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pos is a source position. It is not part of a term's identity.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

type FieldTerm struct {
	Name  string
	Value *Term
}

// BranchTerm is one arm of a session Branch: on Label, bind the continued
// channel to Var and run Body.
type BranchTerm struct {
	Label string
	Var   string
	Body  *Term
}

// Term is a Layer-1 expression. Children are stored in A, B, C by kind:
//
//	Lambda        Name=param Type=annotation A=body
//	Apply         A=fn B=arg
//	Let           Name A=value B=body
//	Alloc         A=value Name=optional resource tag
//	Consume       A=resource
//	Inl, Inr      A=value Type=optional other side
//	Case          A=scrutinee Name,B=left Name2,C=right
//	Tensor        A,B
//	LetTensor     A=tensor Name,Name2 B=body
//	LetUnit       A=unit B=body
//	Record        Fields
//	RecordAccess  A=record Name=field
//	RecordUpdate  A=record Name=field B=value
//	Literal       Value
//	Witness       Type
//	Perform       Name=effect tag A=argument
//	NewChannel    Session
//	Send          A=channel B=value
//	Receive, Close A=channel
//	Select        A=channel Name=label
//	Branch        A=channel Branches
type Term struct {
	Kind     Kind
	Name     string
	Name2    string
	Type     *Type
	Session  *session.Type
	Value    value.Value
	A, B, C  *Term
	Fields   []FieldTerm
	Branches []BranchTerm
	Pos      Pos
}

// At returns t with its position set.
func (t *Term) At(line, col int) *Term {
	t.Pos = Pos{Line: line, Col: col}
	return t
}

func Var(name string) *Term { return &Term{Kind: KVar, Name: name} }

func Lam(param string, ty *Type, body *Term) *Term {
	return &Term{Kind: KLambda, Name: param, Type: ty, A: body}
}

func App(fn, arg *Term) *Term { return &Term{Kind: KApply, A: fn, B: arg} }

// Apps applies fn to args left to right.
func Apps(fn *Term, args ...*Term) *Term {
	for _, a := range args {
		fn = App(fn, a)
	}
	return fn
}

func Let(name string, v, body *Term) *Term { return &Term{Kind: KLet, Name: name, A: v, B: body} }
func Alloc(v *Term) *Term                  { return &Term{Kind: KAlloc, A: v} }

// AllocTagged allocates with an explicit resource tag instead of the value's type name.
func AllocTagged(tag string, v *Term) *Term { return &Term{Kind: KAlloc, Name: tag, A: v} }

func Consume(r *Term) *Term { return &Term{Kind: KConsume, A: r} }

func Inl(v *Term, right *Type) *Term { return &Term{Kind: KInl, A: v, Type: right} }
func Inr(v *Term, left *Type) *Term  { return &Term{Kind: KInr, A: v, Type: left} }

func Case(scrut *Term, lv string, left *Term, rv string, right *Term) *Term {
	return &Term{Kind: KCase, A: scrut, Name: lv, B: left, Name2: rv, C: right}
}

func Tensor(l, r *Term) *Term { return &Term{Kind: KTensor, A: l, B: r} }

func LetTensor(t *Term, x, y string, body *Term) *Term {
	return &Term{Kind: KLetTensor, A: t, Name: x, Name2: y, B: body}
}

func UnitVal() *Term { return &Term{Kind: KUnitVal} }

func LetUnit(u, body *Term) *Term { return &Term{Kind: KLetUnit, A: u, B: body} }

func RecordLit(fields ...FieldTerm) *Term { return &Term{Kind: KRecord, Fields: fields} }

func RecordAccess(r *Term, field string) *Term {
	return &Term{Kind: KRecordAccess, A: r, Name: field}
}

func RecordUpdate(r *Term, field string, v *Term) *Term {
	return &Term{Kind: KRecordUpdate, A: r, Name: field, B: v}
}

func Lit(v value.Value) *Term { return &Term{Kind: KLiteral, Value: v} }
func Int(i int64) *Term       { return Lit(value.Int(i)) }
func Witness(ty *Type) *Term  { return &Term{Kind: KWitness, Type: ty} }
func Close(ch *Term) *Term    { return &Term{Kind: KClose, A: ch} }
func Receive(ch *Term) *Term  { return &Term{Kind: KReceive, A: ch} }
func Send(ch, v *Term) *Term  { return &Term{Kind: KSend, A: ch, B: v} }
func Perform(tag string, arg *Term) *Term {
	return &Term{Kind: KPerform, Name: tag, A: arg}
}

func NewChannel(s *session.Type) *Term { return &Term{Kind: KNewChannel, Session: s} }

func Select(ch *Term, label string) *Term { return &Term{Kind: KSelect, A: ch, Name: label} }

func Branch(ch *Term, arms ...BranchTerm) *Term {
	return &Term{Kind: KBranch, A: ch, Branches: arms}
}

// Children returns the direct subterms in evaluation order.
func (t *Term) Children() []*Term {
	var out []*Term
	for _, c := range []*Term{t.A, t.B, t.C} {
		if c != nil {
			out = append(out, c)
		}
	}
	for _, f := range t.Fields {
		out = append(out, f.Value)
	}
	for _, b := range t.Branches {
		out = append(out, b.Body)
	}
	return out
}

// Walk visits t and its subterms depth-first, stopping below a node when f returns false.
func Walk(t *Term, f func(*Term) bool) {
	if !f(t) {
		return
	}
	for _, c := range t.Children() {
		Walk(c, f)
	}
}

// Size is the number of nodes.
func (t *Term) Size() int {
	n := 0
	Walk(t, func(*Term) bool { n++; return true })
	return n
}
