package lisp

import (
	"github.com/timewave-computer/causality-sub016/lambda"
)

// Program is a parsed source file: a main expression plus the effect
// handlers declared with (handler tag (lambda ...)).
type Program struct {
	Main     *lambda.Term
	Handlers map[string]*lambda.Term
}

// Forms lists the special forms the reader recognises.
var Forms = []string{
	"alloc", "alloc-as", "branch", "case", "close", "consume", "get", "handler",
	"if", "inl", "inr", "lambda", "let", "let-tensor", "let-unit", "new-channel",
	"perform", "recv", "record", "select", "send", "set", "tensor", "unit", "witness",
}

// ParseProgram reads src into a main term and its handlers.
func ParseProgram(src string) (*Program, error) {
	nodes, err := Parse(src)
	if err != nil {
		return nil, err
	}
	p := &Program{Handlers: map[string]*lambda.Term{}}
	var main *Node
	for _, n := range nodes {
		if head, ok := n.Head(); ok && head == "handler" {
			if len(n.Children) != 3 || n.Children[1].Kind != NSymbol {
				return nil, errorf(n, "handler takes a tag and a lambda")
			}
			h, err := ToTerm(n.Children[2])
			if err != nil {
				return nil, err
			}
			p.Handlers[n.Children[1].Text] = h
			continue
		}
		if main != nil {
			return nil, errorf(n, "more than one main expression")
		}
		main = n
	}
	if main == nil {
		return nil, &ParseError{Pos: lambda.Pos{Line: 1, Col: 1}, Msg: "no main expression"}
	}
	p.Main, err = ToTerm(main)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ToTerm converts one datum to a Layer-1 term.
func ToTerm(n *Node) (*lambda.Term, error) {
	t, err := toTerm(n)
	if err != nil {
		return nil, err
	}
	if t.Pos.Line == 0 {
		t.Pos = n.Pos
	}
	return t, nil
}

func at(t *lambda.Term, n *Node) *lambda.Term {
	t.Pos = n.Pos
	return t
}

func symbol(n *Node, what string) (string, error) {
	if n.Kind != NSymbol {
		return "", errorf(n, "expected %s name, found %s", what, n)
	}
	return n.Text, nil
}

func terms(ns []*Node) ([]*lambda.Term, error) {
	out := make([]*lambda.Term, len(ns))
	for i, n := range ns {
		t, err := ToTerm(n)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func toTerm(n *Node) (*lambda.Term, error) {
	switch n.Kind {
	case NSymbol:
		if n.Text == "unit" {
			return at(lambda.UnitVal(), n), nil
		}
		return at(lambda.Var(n.Text), n), nil
	case NInt, NRational, NBool, NString, NQuote:
		v, err := ParseValue(n)
		if err != nil {
			return nil, err
		}
		return at(lambda.Lit(v), n), nil
	}
	if len(n.Children) == 0 {
		return at(lambda.UnitVal(), n), nil
	}
	head, ok := n.Head()
	if !ok {
		return application(n)
	}
	args := n.Children[1:]
	arity := func(want int) error {
		if len(args) != want {
			return errorf(n, "%s takes %d arguments, got %d", head, want, len(args))
		}
		return nil
	}
	switch head {
	case "lambda":
		if len(args) != 2 {
			return nil, errorf(n, "lambda takes a parameter list and a body")
		}
		return lambdaForm(n, args[0], args[1])

	case "let":
		return letForm(n, args)

	case "alloc", "consume", "inl", "inr", "close", "recv":
		if len(args) < 1 || len(args) > 2 || (len(args) == 2 && head != "inl" && head != "inr") {
			return nil, errorf(n, "%s takes one argument, got %d", head, len(args))
		}
		a, err := ToTerm(args[0])
		if err != nil {
			return nil, err
		}
		var other *lambda.Type
		if len(args) == 2 {
			if other, err = ParseType(args[1]); err != nil {
				return nil, err
			}
		}
		switch head {
		case "alloc":
			return at(lambda.Alloc(a), n), nil
		case "consume":
			return at(lambda.Consume(a), n), nil
		case "inl":
			return at(lambda.Inl(a, other), n), nil
		case "inr":
			return at(lambda.Inr(a, other), n), nil
		case "close":
			return at(lambda.Close(a), n), nil
		}
		return at(lambda.Receive(a), n), nil

	case "alloc-as":
		if err := arity(2); err != nil {
			return nil, err
		}
		tag, err := symbol(args[0], "resource tag")
		if err != nil {
			return nil, err
		}
		a, err := ToTerm(args[1])
		if err != nil {
			return nil, err
		}
		return at(lambda.AllocTagged(tag, a), n), nil

	case "tensor", "send", "let-unit":
		if err := arity(2); err != nil {
			return nil, err
		}
		ts, err := terms(args)
		if err != nil {
			return nil, err
		}
		switch head {
		case "tensor":
			return at(lambda.Tensor(ts[0], ts[1]), n), nil
		case "send":
			return at(lambda.Send(ts[0], ts[1]), n), nil
		}
		return at(lambda.LetUnit(ts[0], ts[1]), n), nil

	case "unit":
		if err := arity(0); err != nil {
			return nil, err
		}
		return at(lambda.UnitVal(), n), nil

	case "let-tensor":
		// (let-tensor e x y body)
		if err := arity(4); err != nil {
			return nil, err
		}
		x, err := symbol(args[1], "variable")
		if err != nil {
			return nil, err
		}
		y, err := symbol(args[2], "variable")
		if err != nil {
			return nil, err
		}
		ts, err := terms([]*Node{args[0], args[3]})
		if err != nil {
			return nil, err
		}
		return at(lambda.LetTensor(ts[0], x, y, ts[1]), n), nil

	case "case":
		// (case e x left y right)
		if err := arity(5); err != nil {
			return nil, err
		}
		x, err := symbol(args[1], "variable")
		if err != nil {
			return nil, err
		}
		y, err := symbol(args[3], "variable")
		if err != nil {
			return nil, err
		}
		ts, err := terms([]*Node{args[0], args[2], args[4]})
		if err != nil {
			return nil, err
		}
		return at(lambda.Case(ts[0], x, ts[1], y, ts[2]), n), nil

	case "if":
		if err := arity(3); err != nil {
			return nil, err
		}
		ts, err := terms(args)
		if err != nil {
			return nil, err
		}
		cond := at(lambda.App(at(lambda.Var("bool->sum"), n), ts[0]), n)
		return at(lambda.Case(cond, "_then", ts[1], "_else", ts[2]), n), nil

	case "record":
		fields := make([]lambda.FieldTerm, len(args))
		for i, a := range args {
			if a.Kind != NList || len(a.Children) != 2 || a.Children[0].Kind != NSymbol {
				return nil, errorf(a, "record field must be (name expr)")
			}
			v, err := ToTerm(a.Children[1])
			if err != nil {
				return nil, err
			}
			fields[i] = lambda.FieldTerm{Name: a.Children[0].Text, Value: v}
		}
		return at(lambda.RecordLit(fields...), n), nil

	case "get":
		if err := arity(2); err != nil {
			return nil, err
		}
		field, err := fieldName(args[1])
		if err != nil {
			return nil, err
		}
		r, err := ToTerm(args[0])
		if err != nil {
			return nil, err
		}
		return at(lambda.RecordAccess(r, field), n), nil

	case "set":
		if err := arity(3); err != nil {
			return nil, err
		}
		field, err := fieldName(args[1])
		if err != nil {
			return nil, err
		}
		ts, err := terms([]*Node{args[0], args[2]})
		if err != nil {
			return nil, err
		}
		return at(lambda.RecordUpdate(ts[0], field, ts[1]), n), nil

	case "witness":
		if len(args) > 1 {
			return nil, errorf(n, "witness takes at most a type")
		}
		var ty *lambda.Type
		if len(args) == 1 {
			var err error
			if ty, err = ParseType(args[0]); err != nil {
				return nil, err
			}
		}
		return at(lambda.Witness(ty), n), nil

	case "perform":
		if err := arity(2); err != nil {
			return nil, err
		}
		tag, err := fieldName(args[0])
		if err != nil {
			return nil, err
		}
		a, err := ToTerm(args[1])
		if err != nil {
			return nil, err
		}
		return at(lambda.Perform(tag, a), n), nil

	case "new-channel":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, err := ParseSession(args[0])
		if err != nil {
			return nil, err
		}
		return at(lambda.NewChannel(s), n), nil

	case "select":
		if err := arity(2); err != nil {
			return nil, err
		}
		label, err := fieldName(args[1])
		if err != nil {
			return nil, err
		}
		ch, err := ToTerm(args[0])
		if err != nil {
			return nil, err
		}
		return at(lambda.Select(ch, label), n), nil

	case "branch":
		// (branch ch (label var body) ...)
		if len(args) < 1 {
			return nil, errorf(n, "branch takes a channel and arms")
		}
		ch, err := ToTerm(args[0])
		if err != nil {
			return nil, err
		}
		arms := make([]lambda.BranchTerm, 0, len(args)-1)
		for _, a := range args[1:] {
			if a.Kind != NList || len(a.Children) != 3 {
				return nil, errorf(a, "branch arm must be (label var body)")
			}
			label, err := fieldName(a.Children[0])
			if err != nil {
				return nil, err
			}
			v, err := symbol(a.Children[1], "variable")
			if err != nil {
				return nil, err
			}
			body, err := ToTerm(a.Children[2])
			if err != nil {
				return nil, err
			}
			arms = append(arms, lambda.BranchTerm{Label: label, Var: v, Body: body})
		}
		return at(lambda.Branch(ch, arms...), n), nil

	case "handler":
		return nil, errorf(n, "handler is only allowed at top level")
	}
	return application(n)
}

// fieldName accepts a bare or quoted symbol.
func fieldName(n *Node) (string, error) {
	if n.Kind == NSymbol || n.Kind == NQuote {
		return n.Text, nil
	}
	return "", errorf(n, "expected a name, found %s", n)
}

func application(n *Node) (*lambda.Term, error) {
	ts, err := terms(n.Children)
	if err != nil {
		return nil, err
	}
	if len(ts) == 1 {
		return at(lambda.App(ts[0], at(lambda.UnitVal(), n)), n), nil
	}
	out := ts[0]
	for _, a := range ts[1:] {
		out = at(lambda.App(out, a), n)
	}
	return out, nil
}

// lambdaForm reads (lambda (x (y T) ...) body) into curried lambdas. A
// parameter is a name or a (name Type) pair; (x : T) is also accepted.
func lambdaForm(n, params, body *Node) (*lambda.Term, error) {
	var ps []*Node
	switch params.Kind {
	case NSymbol:
		ps = []*Node{params}
	case NList:
		ps = params.Children
	default:
		return nil, errorf(params, "expected a parameter list")
	}
	b, err := ToTerm(body)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return at(lambda.Lam("_", lambda.UnitType, b), n), nil
	}
	type param struct {
		name string
		ty   *lambda.Type
		node *Node
	}
	var list []param
	for _, p := range ps {
		switch {
		case p.Kind == NSymbol:
			list = append(list, param{name: p.Text, node: p})
		case p.Kind == NList && (len(p.Children) == 2 || (len(p.Children) == 3 && p.Children[1].Kind == NSymbol && p.Children[1].Text == ":")):
			name, err := symbol(p.Children[0], "parameter")
			if err != nil {
				return nil, err
			}
			ty, err := ParseType(p.Children[len(p.Children)-1])
			if err != nil {
				return nil, err
			}
			list = append(list, param{name: name, ty: ty, node: p})
		default:
			return nil, errorf(p, "parameter must be a name or (name Type)")
		}
	}
	out := b
	for i := len(list) - 1; i >= 0; i-- {
		out = lambda.Lam(list[i].name, list[i].ty, out)
		if i == 0 {
			out.Pos = n.Pos
		} else {
			out.Pos = list[i].node.Pos
		}
	}
	return out, nil
}

// letForm reads (let x e body) and (let ((x e) ...) body).
func letForm(n *Node, args []*Node) (*lambda.Term, error) {
	if len(args) == 3 && args[0].Kind == NSymbol {
		ts, err := terms([]*Node{args[1], args[2]})
		if err != nil {
			return nil, err
		}
		return at(lambda.Let(args[0].Text, ts[0], ts[1]), n), nil
	}
	if len(args) != 2 || args[0].Kind != NList {
		return nil, errorf(n, "let takes a name, a value and a body")
	}
	body, err := ToTerm(args[1])
	if err != nil {
		return nil, err
	}
	binds := args[0].Children
	for i := len(binds) - 1; i >= 0; i-- {
		b := binds[i]
		if b.Kind != NList || len(b.Children) != 2 || b.Children[0].Kind != NSymbol {
			return nil, errorf(b, "binding must be (name expr)")
		}
		v, err := ToTerm(b.Children[1])
		if err != nil {
			return nil, err
		}
		body = lambda.Let(b.Children[0].Text, v, body)
		body.Pos = b.Pos
	}
	body.Pos = n.Pos
	return body, nil
}
