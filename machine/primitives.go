package machine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/value"
)

type call struct {
	fn  value.Lambda
	arg value.Value
}

// Primitive is a built-in function reachable through a Lambda whose body id
// is PrimitiveID(Name). A primitive may hand control to another lambda by
// returning a tail call instead of a value.
type Primitive struct {
	Name  string
	Arity int
	Fn    func(args []value.Value) (value.Value, *call, error)
}

var (
	primitiveTable []*Primitive
	primitiveByID  = map[content.ExprID]*Primitive{}
)

func PrimitiveID(name string) content.ExprID {
	return content.ExprID(content.HashTagged("primitive", []byte(name)))
}

// PrimitiveValue is the Lambda value that invokes the named primitive.
func PrimitiveValue(name string) value.Lambda {
	p, ok := primitiveByID[PrimitiveID(name)]
	if !ok {
		panic(fmt.Sprintf("unknown primitive %q", name))
	}
	params := make([]string, p.Arity)
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i)
	}
	return value.Lambda{Params: params, Body: PrimitiveID(name)}
}

func LookupPrimitive(id content.ExprID) (*Primitive, bool) {
	p, ok := primitiveByID[id]
	return p, ok
}

func LookupPrimitiveByName(name string) (*Primitive, bool) {
	return LookupPrimitive(PrimitiveID(name))
}

// Primitives lists the table in name order.
func Primitives() []*Primitive {
	return append([]*Primitive(nil), primitiveTable...)
}

func register(name string, arity int, fn func(args []value.Value) (value.Value, *call, error)) {
	p := &Primitive{Name: name, Arity: arity, Fn: fn}
	primitiveTable = append(primitiveTable, p)
	primitiveByID[PrimitiveID(name)] = p
}

func pure(f func(args []value.Value) (value.Value, error)) func(args []value.Value) (value.Value, *call, error) {
	return func(args []value.Value) (value.Value, *call, error) {
		v, err := f(args)
		return v, nil, err
	}
}

func arith(f func(a, b value.Value) (value.Value, error)) func(args []value.Value) (value.Value, *call, error) {
	return pure(func(args []value.Value) (value.Value, error) {
		v, err := f(args[0], args[1])
		if errors.Is(err, value.ErrDivisionByZero) {
			return nil, fault(DivisionByZero, "%v", err)
		}
		if err != nil {
			return nil, fault(TypeMismatch, "%v", err)
		}
		return v, nil
	})
}

func compare(pred func(c int) bool) func(args []value.Value) (value.Value, *call, error) {
	return pure(func(args []value.Value) (value.Value, error) {
		c, ok := value.NumericCompare(args[0], args[1])
		if !ok {
			return nil, fault(TypeMismatch, "compare %s with %s", args[0].Kind(), args[1].Kind())
		}
		return value.Bool(pred(c)), nil
	})
}

func asBool(v value.Value) (bool, error) {
	b, ok := v.(value.Bool)
	if !ok {
		return false, fault(TypeMismatch, "got %s, want Bool", v.Kind())
	}
	return bool(b), nil
}

func asLambda(v value.Value) (value.Lambda, error) {
	l, ok := v.(value.Lambda)
	if !ok {
		return value.Lambda{}, fault(TypeMismatch, "got %s, want Lambda", v.Kind())
	}
	return l, nil
}

func asSymbol(v value.Value) (value.Symbol, error) {
	s, ok := v.(value.Symbol)
	if !ok {
		return "", fault(TypeMismatch, "got %s, want Symbol", v.Kind())
	}
	return s, nil
}

// Sum values are records tagged inl or inr.
const (
	SumLeft  value.Symbol = "inl"
	SumRight value.Symbol = "inr"
)

func MakeSum(tag value.Symbol, v value.Value) value.Record {
	return value.NewRecord(value.Field{Key: "tag", Value: tag}, value.Field{Key: "value", Value: v})
}

func SplitSum(v value.Value) (value.Symbol, value.Value, error) {
	r, ok := v.(value.Record)
	if !ok {
		return "", nil, fault(TypeMismatch, "case of %s, want sum", v.Kind())
	}
	t, _ := r.Get("tag")
	tag, ok := t.(value.Symbol)
	payload, has := r.Get("value")
	if !ok || !has || (tag != SumLeft && tag != SumRight) {
		return "", nil, fault(TypeMismatch, "record is not a sum")
	}
	return tag, payload, nil
}

// partial applies a lambda that still expects at least two arguments.
func partial(l value.Lambda, arg value.Value) (value.Lambda, error) {
	if len(l.Params) < 2 {
		return value.Lambda{}, fault(ArityMismatch, "continuation expects %d arguments, need at least 2", len(l.Params))
	}
	env := append(append([]value.Binding(nil), l.Env...), value.Binding{Name: l.Params[0], Value: arg})
	return value.Lambda{Params: l.Params[1:], Body: l.Body, Env: env}, nil
}

// Channel state kept inside channel resources.
func NewChannelState(protocol value.Symbol) value.Record {
	return value.NewRecord(
		value.Field{Key: "protocol", Value: protocol},
		value.Field{Key: "received", Value: value.List{}},
		value.Field{Key: "sent", Value: value.List{}},
	)
}

func channelAppend(state value.Value, key value.Symbol, v value.Value) (value.Value, error) {
	r, ok := state.(value.Record)
	if !ok {
		return nil, fault(TypeMismatch, "channel state is %s, want Record", state.Kind())
	}
	cur, _ := r.Get(key)
	l, ok := cur.(value.List)
	if !ok {
		return nil, fault(TypeMismatch, "channel state has no %s log", key)
	}
	next := append(append(value.List(nil), l...), v)
	return r.With(key, next), nil
}

func init() {
	register("add", 2, arith(value.Add))
	register("sub", 2, arith(value.Sub))
	register("mul", 2, arith(value.Mul))
	register("div", 2, arith(value.Div))
	register("neg", 1, pure(func(a []value.Value) (value.Value, error) {
		v, err := value.Neg(a[0])
		if err != nil {
			return nil, fault(TypeMismatch, "%v", err)
		}
		return v, nil
	}))
	register("eq", 2, pure(func(a []value.Value) (value.Value, error) {
		if c, ok := value.NumericCompare(a[0], a[1]); ok {
			return value.Bool(c == 0), nil
		}
		return value.Bool(value.Equal(a[0], a[1])), nil
	}))
	register("lt", 2, compare(func(c int) bool { return c < 0 }))
	register("le", 2, compare(func(c int) bool { return c <= 0 }))
	register("not", 1, pure(func(a []value.Value) (value.Value, error) {
		b, err := asBool(a[0])
		return value.Bool(!b), err
	}))
	register("and", 2, pure(func(a []value.Value) (value.Value, error) {
		x, err := asBool(a[0])
		if err != nil {
			return nil, err
		}
		y, err := asBool(a[1])
		return value.Bool(x && y), err
	}))
	register("or", 2, pure(func(a []value.Value) (value.Value, error) {
		x, err := asBool(a[0])
		if err != nil {
			return nil, err
		}
		y, err := asBool(a[1])
		return value.Bool(x || y), err
	}))
	register("identity", 1, pure(func(a []value.Value) (value.Value, error) { return a[0], nil }))
	register("pair", 2, pure(func(a []value.Value) (value.Value, error) { return value.List{a[0], a[1]}, nil }))
	register("letpair", 2, func(a []value.Value) (value.Value, *call, error) {
		p, ok := a[0].(value.List)
		if !ok || len(p) != 2 {
			return nil, nil, fault(TypeMismatch, "letpair of %s, want pair", a[0].Kind())
		}
		k, err := asLambda(a[1])
		if err != nil {
			return nil, nil, err
		}
		k, err = partial(k, p[0])
		if err != nil {
			return nil, nil, err
		}
		return nil, &call{fn: k, arg: p[1]}, nil
	})
	register("inl", 1, pure(func(a []value.Value) (value.Value, error) { return MakeSum(SumLeft, a[0]), nil }))
	register("inr", 1, pure(func(a []value.Value) (value.Value, error) { return MakeSum(SumRight, a[0]), nil }))
	register("case", 3, func(a []value.Value) (value.Value, *call, error) {
		tag, payload, err := SplitSum(a[0])
		if err != nil {
			return nil, nil, err
		}
		branch := a[1]
		if tag == SumRight {
			branch = a[2]
		}
		k, err := asLambda(branch)
		if err != nil {
			return nil, nil, err
		}
		return nil, &call{fn: k, arg: payload}, nil
	})
	register("bool.sum", 1, pure(func(a []value.Value) (value.Value, error) {
		b, err := asBool(a[0])
		if err != nil {
			return nil, err
		}
		if b {
			return MakeSum(SumLeft, value.Unit{}), nil
		}
		return MakeSum(SumRight, value.Unit{}), nil
	}))
	register("label.is", 2, pure(func(a []value.Value) (value.Value, error) {
		want, err := asSymbol(a[0])
		if err != nil {
			return nil, err
		}
		got, err := asSymbol(a[1])
		if err != nil {
			return nil, err
		}
		if want == got {
			return MakeSum(SumLeft, value.Unit{}), nil
		}
		return MakeSum(SumRight, value.Unit{}), nil
	}))
	register("record.get", 2, pure(func(a []value.Value) (value.Value, error) {
		key, err := asSymbol(a[1])
		if err != nil {
			return nil, err
		}
		var v value.Value
		var ok bool
		switch r := a[0].(type) {
		case value.Record:
			v, ok = r.Get(key)
		case value.Map:
			v, ok = r.Get(key)
		default:
			return nil, fault(TypeMismatch, "field access on %s", a[0].Kind())
		}
		if !ok {
			return nil, fault(TypeMismatch, "no field %s", key)
		}
		return v, nil
	}))
	register("record.set", 3, pure(func(a []value.Value) (value.Value, error) {
		key, err := asSymbol(a[1])
		if err != nil {
			return nil, err
		}
		switch r := a[0].(type) {
		case value.Record:
			return r.With(key, a[2]), nil
		case value.Map:
			return r.With(key, a[2]), nil
		}
		return nil, fault(TypeMismatch, "field update on %s", a[0].Kind())
	}))
	register("list.cons", 2, pure(func(a []value.Value) (value.Value, error) {
		l, ok := a[1].(value.List)
		if !ok {
			return nil, fault(TypeMismatch, "cons onto %s", a[1].Kind())
		}
		return append(value.List{a[0]}, l...), nil
	}))
	register("chan.new", 1, pure(func(a []value.Value) (value.Value, error) {
		p, err := asSymbol(a[0])
		if err != nil {
			return nil, err
		}
		return NewChannelState(p), nil
	}))
	register("chan.send", 2, pure(func(a []value.Value) (value.Value, error) {
		return channelAppend(a[0], "sent", a[1])
	}))
	register("chan.recv", 2, pure(func(a []value.Value) (value.Value, error) {
		return channelAppend(a[0], "received", a[1])
	}))
	sort.Slice(primitiveTable, func(i, j int) bool { return primitiveTable[i].Name < primitiveTable[j].Name })
}
