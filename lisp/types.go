package lisp

import (
	"fmt"
	"math/big"

	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/value"
)

func errorf(n *Node, format string, args ...any) error {
	return &ParseError{Pos: n.Pos, Msg: fmt.Sprintf(format, args...)}
}

var baseTypes = map[string]*lambda.Type{
	"Unit":   lambda.UnitType,
	"Bool":   lambda.BoolType,
	"Int":    lambda.IntType,
	"Number": lambda.NumberType,
	"String": lambda.StringType,
	"Symbol": lambda.SymbolType,
}

// ParseType reads a type:
//
//	Unit Bool Int Number String Symbol
//	(* A B) (+ A B) (-> A B ...) (List A) (Resource A)
//	(Record (name T) ...) (Union T ...) (Chan S)
func ParseType(n *Node) (*lambda.Type, error) {
	if n.Kind == NSymbol {
		if t, ok := baseTypes[n.Text]; ok {
			return t, nil
		}
		return nil, errorf(n, "unknown type %q", n.Text)
	}
	head, ok := n.Head()
	if !ok {
		return nil, errorf(n, "expected a type, found %s", n)
	}
	args := n.Children[1:]
	types := func(want int) ([]*lambda.Type, error) {
		if want >= 0 && len(args) != want {
			return nil, errorf(n, "%s takes %d types, got %d", head, want, len(args))
		}
		out := make([]*lambda.Type, len(args))
		for i, a := range args {
			t, err := ParseType(a)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
	switch head {
	case "*", "+":
		ts, err := types(2)
		if err != nil {
			return nil, err
		}
		if head == "*" {
			return lambda.Product(ts[0], ts[1]), nil
		}
		return lambda.Sum(ts[0], ts[1]), nil
	case "->":
		ts, err := types(-1)
		if err != nil {
			return nil, err
		}
		if len(ts) < 2 {
			return nil, errorf(n, "-> needs at least two types")
		}
		out := ts[len(ts)-1]
		for i := len(ts) - 2; i >= 0; i-- {
			out = lambda.Function(ts[i], out)
		}
		return out, nil
	case "List", "Resource":
		ts, err := types(1)
		if err != nil {
			return nil, err
		}
		if head == "List" {
			return lambda.List(ts[0]), nil
		}
		return lambda.Resource(ts[0]), nil
	case "Union":
		ts, err := types(-1)
		if err != nil {
			return nil, err
		}
		return lambda.Union(ts...), nil
	case "Record":
		fields := make([]lambda.FieldType, len(args))
		for i, a := range args {
			if a.Kind != NList || len(a.Children) != 2 || a.Children[0].Kind != NSymbol {
				return nil, errorf(a, "record field must be (name Type)")
			}
			t, err := ParseType(a.Children[1])
			if err != nil {
				return nil, err
			}
			fields[i] = lambda.FieldType{Name: a.Children[0].Text, Type: t}
		}
		return lambda.Record(fields...), nil
	case "Chan":
		if len(args) != 1 {
			return nil, errorf(n, "Chan takes one session type")
		}
		s, err := ParseSession(args[0])
		if err != nil {
			return nil, err
		}
		return lambda.Channel(s), nil
	}
	return nil, errorf(n, "unknown type constructor %q", head)
}

// ParseSession reads a session type:
//
//	end  X  (send T S)  (recv T S)  (choose (l S) ...)  (offer (l S) ...)  (rec X S)
func ParseSession(n *Node) (*session.Type, error) {
	return parseSession(n, map[string]bool{})
}

func parseSession(n *Node, vars map[string]bool) (*session.Type, error) {
	if n.Kind == NSymbol {
		if n.Text == "end" {
			return session.End(), nil
		}
		if vars[n.Text] {
			return session.Var(n.Text), nil
		}
		return nil, errorf(n, "unbound session variable %q", n.Text)
	}
	head, ok := n.Head()
	if !ok {
		return nil, errorf(n, "expected a session type, found %s", n)
	}
	args := n.Children[1:]
	switch head {
	case "send", "recv":
		if len(args) != 2 {
			return nil, errorf(n, "%s takes a payload type and a continuation", head)
		}
		p, err := ParseType(args[0])
		if err != nil {
			return nil, err
		}
		next, err := parseSession(args[1], vars)
		if err != nil {
			return nil, err
		}
		if head == "send" {
			return session.Send(p, next), nil
		}
		return session.Receive(p, next), nil
	case "choose", "offer":
		branches := make([]session.Branch, len(args))
		for i, a := range args {
			if a.Kind != NList || len(a.Children) != 2 || a.Children[0].Kind != NSymbol {
				return nil, errorf(a, "choice branch must be (label Session)")
			}
			s, err := parseSession(a.Children[1], vars)
			if err != nil {
				return nil, err
			}
			branches[i] = session.Branch{Label: a.Children[0].Text, Session: s}
		}
		if head == "choose" {
			return session.InternalChoice(branches...), nil
		}
		return session.ExternalChoice(branches...), nil
	case "rec":
		if len(args) != 2 || args[0].Kind != NSymbol {
			return nil, errorf(n, "rec takes a variable and a body")
		}
		inner := make(map[string]bool, len(vars)+1)
		for k := range vars {
			inner[k] = true
		}
		inner[args[0].Text] = true
		body, err := parseSession(args[1], inner)
		if err != nil {
			return nil, err
		}
		return session.Rec(args[0].Text, body), nil
	}
	return nil, errorf(n, "unknown session constructor %q", head)
}

// ParseValue reads a literal value: numbers, rationals, booleans, strings,
// 'symbols, unit, (list v ...), (record (k v) ...) and (map (k v) ...).
func ParseValue(n *Node) (value.Value, error) {
	switch n.Kind {
	case NInt:
		return value.Int(n.Int), nil
	case NRational:
		r, ok := new(big.Rat).SetString(n.Text)
		if !ok {
			return nil, errorf(n, "invalid rational %q", n.Text)
		}
		if r.IsInt() {
			if r.Num().IsInt64() {
				return value.Int(r.Num().Int64()), nil
			}
		}
		return value.NewNumber(r), nil
	case NBool:
		return value.Bool(n.Bool), nil
	case NString:
		return value.String(n.Text), nil
	case NQuote:
		return value.Symbol(n.Text), nil
	case NSymbol:
		if n.Text == "unit" {
			return value.Unit{}, nil
		}
		return nil, errorf(n, "expected a value, found symbol %q", n.Text)
	}
	head, ok := n.Head()
	if !ok {
		return nil, errorf(n, "expected a value, found %s", n)
	}
	args := n.Children[1:]
	switch head {
	case "list":
		out := make(value.List, len(args))
		for i, a := range args {
			v, err := ParseValue(a)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "record", "map":
		fields := make([]value.Field, len(args))
		for i, a := range args {
			if a.Kind != NList || len(a.Children) != 2 || a.Children[0].Kind != NSymbol {
				return nil, errorf(a, "field must be (name value)")
			}
			v, err := ParseValue(a.Children[1])
			if err != nil {
				return nil, err
			}
			fields[i] = value.Field{Key: value.Symbol(a.Children[0].Text), Value: v}
		}
		if head == "map" {
			return value.NewMap(fields...), nil
		}
		return value.NewRecord(fields...), nil
	}
	return nil, errorf(n, "unknown value form %q", head)
}

// ParseValues reads a whitespace-separated sequence of values, the format
// of witness files.
func ParseValues(src string) ([]value.Value, error) {
	nodes, err := Parse(src)
	if err != nil {
		return nil, err
	}
	out := make([]value.Value, len(nodes))
	for i, n := range nodes {
		v, err := ParseValue(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
