// Package value defines the closed set of runtime values held in registers and
// resources, and their canonical byte encoding.
package value

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
)

type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindInt
	KindNumber
	KindSymbol
	KindString
	KindList
	KindMap
	KindRecord
	KindRef
	KindLambda
)

var kindNames = [...]string{"Unit", "Bool", "Int", "Number", "Symbol", "String", "List", "Map", "Record", "Ref", "Lambda"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is implemented only by the types in this package.
type Value interface {
	Kind() Kind
	EncodeCanonical(o *utils.OutputBuf)
	String() string
	isValue()
}

type Unit struct{}

type Bool bool

type Int int64

// Number is an exact rational. A Number whose denominator is 1 is in integer form.
type Number struct {
	rat *big.Rat
}

type Symbol string

type String string

type List []Value

type Field struct {
	Key   Symbol
	Value Value
}

// Map and Record keep their fields sorted by key bytes.
type Map struct {
	fields []Field
}

type Record struct {
	fields []Field
}

type Ref content.ResourceID

// Binding is a captured or partially applied argument of a Lambda.
type Binding struct {
	Name  string
	Value Value
}

// Lambda is a closure. Params are the parameters still expected; Env holds
// the arguments already supplied, in parameter order.
type Lambda struct {
	Params []string
	Body   content.ExprID
	Env    []Binding
}

func (Unit) Kind() Kind   { return KindUnit }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Number) Kind() Kind { return KindNumber }
func (Symbol) Kind() Kind { return KindSymbol }
func (String) Kind() Kind { return KindString }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }
func (Record) Kind() Kind { return KindRecord }
func (Ref) Kind() Kind    { return KindRef }
func (Lambda) Kind() Kind { return KindLambda }

func (Unit) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Number) isValue() {}
func (Symbol) isValue() {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}
func (Record) isValue() {}
func (Ref) isValue()    {}
func (Lambda) isValue() {}

// NewNumber returns a normalised copy of r.
func NewNumber(r *big.Rat) Number {
	return Number{rat: new(big.Rat).Set(r)}
}

func NewRational(num, den int64) Number {
	return Number{rat: big.NewRat(num, den)}
}

func NewInteger(x *big.Int) Number {
	return Number{rat: new(big.Rat).SetInt(x)}
}

// Rat returns a copy of the rational.
func (n Number) Rat() *big.Rat {
	if n.rat == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(n.rat)
}

func (n Number) IsInteger() bool {
	return n.rat == nil || n.rat.IsInt()
}

func (n Number) r() *big.Rat {
	if n.rat == nil {
		return new(big.Rat)
	}
	return n.rat
}

func sortFields(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	idx := make(map[Symbol]int, len(fields))
	for _, f := range fields {
		if i, ok := idx[f.Key]; ok {
			out[i] = f
			continue
		}
		idx[f.Key] = len(out)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// NewRecord builds a record; a repeated key keeps its last value.
func NewRecord(fields ...Field) Record {
	return Record{fields: sortFields(fields)}
}

func NewMap(fields ...Field) Map {
	return Map{fields: sortFields(fields)}
}

func lookup(fields []Field, key Symbol) (Value, bool) {
	i := sort.Search(len(fields), func(i int) bool { return fields[i].Key >= key })
	if i < len(fields) && fields[i].Key == key {
		return fields[i].Value, true
	}
	return nil, false
}

func with(fields []Field, key Symbol, v Value) []Field {
	out := make([]Field, len(fields), len(fields)+1)
	copy(out, fields)
	i := sort.Search(len(out), func(i int) bool { return out[i].Key >= key })
	if i < len(out) && out[i].Key == key {
		out[i].Value = v
		return out
	}
	out = append(out, Field{})
	copy(out[i+1:], out[i:])
	out[i] = Field{Key: key, Value: v}
	return out
}

func (r Record) Get(key Symbol) (Value, bool) { return lookup(r.fields, key) }
func (r Record) With(key Symbol, v Value) Record {
	return Record{fields: with(r.fields, key, v)}
}
func (r Record) Fields() []Field { return append([]Field(nil), r.fields...) }
func (r Record) Len() int        { return len(r.fields) }

func (m Map) Get(key Symbol) (Value, bool) { return lookup(m.fields, key) }
func (m Map) With(key Symbol, v Value) Map {
	return Map{fields: with(m.fields, key, v)}
}
func (m Map) Fields() []Field { return append([]Field(nil), m.fields...) }
func (m Map) Len() int        { return len(m.fields) }

// Arity is the number of arguments still expected.
func (l Lambda) Arity() int { return len(l.Params) }

// Equal compares canonical encodings.
func Equal(a, b Value) bool {
	return bytes.Equal(Encode(a), Encode(b))
}

// Compare orders values by canonical encoding.
func Compare(a, b Value) int {
	return bytes.Compare(Encode(a), Encode(b))
}

// ID is the content digest of the canonical encoding.
func ID(v Value) content.EntityID {
	return content.Hash(Encode(v))
}

// ContainsRef reports whether v holds a linear resource reference anywhere.
func ContainsRef(v Value) bool {
	switch x := v.(type) {
	case Ref:
		return true
	case List:
		for _, e := range x {
			if ContainsRef(e) {
				return true
			}
		}
	case Record:
		for _, f := range x.fields {
			if ContainsRef(f.Value) {
				return true
			}
		}
	case Map:
		for _, f := range x.fields {
			if ContainsRef(f.Value) {
				return true
			}
		}
	case Lambda:
		for _, b := range x.Env {
			if ContainsRef(b.Value) {
				return true
			}
		}
	}
	return false
}

// Refs lists every resource reference inside v, in encoding order.
func Refs(v Value) []content.ResourceID {
	var out []content.ResourceID
	var walk func(Value)
	walk = func(v Value) {
		switch x := v.(type) {
		case Ref:
			out = append(out, content.ResourceID(x))
		case List:
			for _, e := range x {
				walk(e)
			}
		case Record:
			for _, f := range x.fields {
				walk(f.Value)
			}
		case Map:
			for _, f := range x.fields {
				walk(f.Value)
			}
		case Lambda:
			for _, b := range x.Env {
				walk(b.Value)
			}
		}
	}
	walk(v)
	return out
}

func (Unit) String() string { return "unit" }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}
func (i Int) String() string    { return fmt.Sprintf("%d", int64(i)) }
func (n Number) String() string { return n.r().RatString() }
func (s Symbol) String() string { return "'" + string(s) }
func (s String) String() string { return fmt.Sprintf("%q", string(s)) }
func (r Ref) String() string    { return "#ref:" + content.EntityID(r).Short() }

func (l List) String() string {
	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = e.String()
	}
	return "(list " + strings.Join(parts, " ") + ")"
}

func fieldsString(open string, fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f.Key) + ": " + f.Value.String()
	}
	return open + strings.Join(parts, ", ") + "}"
}

func (m Map) String() string    { return fieldsString("#{", m.fields) }
func (r Record) String() string { return fieldsString("{", r.fields) }

func (l Lambda) String() string {
	return fmt.Sprintf("<lambda/%d %s>", len(l.Params), content.EntityID(l.Body).Short())
}
