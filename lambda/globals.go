package lambda

import "sort"

// global is a built-in name: the primitive it lowers to and its type scheme.
type global struct {
	prim   string
	scheme scheme
	// wrap, when set, allocates the primitive's result as a resource with
	// this tag so the global yields a heap-backed sum.
	wrap string
}

func binop(ret func(a *Type) *Type) scheme {
	return scheme{vars: 1, body: func(v []*Type) *Type {
		return Function(v[0], Function(v[0], ret(v[0])))
	}}
}

func same(a *Type) *Type { return a }
func toBool(*Type) *Type { return BoolType }
func monoBool() scheme {
	return scheme{body: func([]*Type) *Type { return Function(BoolType, Function(BoolType, BoolType)) }}
}
func unary(t *Type) scheme { return scheme{body: func([]*Type) *Type { return Function(t, t) }} }

var globals = map[string]global{
	"+":   {prim: "add", scheme: binop(same)},
	"-":   {prim: "sub", scheme: binop(same)},
	"*":   {prim: "mul", scheme: binop(same)},
	"/":   {prim: "div", scheme: binop(same)},
	"=":   {prim: "eq", scheme: binop(toBool)},
	"<":   {prim: "lt", scheme: binop(toBool)},
	"<=":  {prim: "le", scheme: binop(toBool)},
	"and": {prim: "and", scheme: monoBool()},
	"or":  {prim: "or", scheme: monoBool()},
	"not": {prim: "not", scheme: unary(BoolType)},
	"neg": {prim: "neg", scheme: scheme{vars: 1, body: func(v []*Type) *Type { return Function(v[0], v[0]) }}},
	"id":  {prim: "identity", scheme: scheme{vars: 1, body: func(v []*Type) *Type { return Function(v[0], v[0]) }}},
	"bool->sum": {prim: "bool.sum", wrap: "Sum", scheme: scheme{body: func([]*Type) *Type {
		return Function(BoolType, Sum(UnitType, UnitType))
	}}},
	"cons": {prim: "list.cons", scheme: scheme{vars: 1, body: func(v []*Type) *Type {
		return Function(v[0], Function(List(v[0]), List(v[0])))
	}}},
}

// Globals lists the built-in names visible to every term.
func Globals() []string {
	out := make([]string, 0, len(globals))
	for n := range globals {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsGlobal reports whether name is a built-in.
func IsGlobal(name string) bool {
	_, ok := globals[name]
	return ok
}

// GlobalArity is the number of arguments a built-in takes before it
// produces a non-function value.
func GlobalArity(name string) (int, bool) {
	g, ok := globals[name]
	if !ok {
		return 0, false
	}
	n := 0
	for t := newUnifier().instantiate(g.scheme); t.Kind == TFunction; t = t.Right {
		n++
	}
	return n, true
}

// GlobalPrimitive names the machine primitive a built-in lowers to.
func GlobalPrimitive(name string) (string, bool) {
	g, ok := globals[name]
	return g.prim, ok
}
