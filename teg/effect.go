package teg

import (
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/utils"
)

type EffectKind int

const (
	_                = 0
	EPure EffectKind = iota
	EPerform
	EBind
	EHandle
	EParallel
	ERace
)

var effectKindNames = map[EffectKind]string{
	EPure:     "Pure",
	EPerform:  "Perform",
	EBind:     "Bind",
	EHandle:   "Handle",
	EParallel: "Parallel",
	ERace:     "Race",
}

func (k EffectKind) String() string {
	if s, ok := effectKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EffectKind(%d)", int(k))
}

// Handler interprets one effect tag inside a Handle.
type Handler struct {
	Tag       string
	Param     string
	ParamType *lambda.Type
	Body      *lambda.Term
}

// Effect is an effect expression. Pure uses Term; Perform uses Tag and Args;
// Bind runs Inner, binds its result to Var and continues with Body; Handle
// interprets the performs of Inner with Handlers; Parallel and Race use Left
// and Right.
type Effect struct {
	Kind     EffectKind
	Term     *lambda.Term
	Tag      string
	Args     []*lambda.Term
	Inner    *Effect
	Var      string
	Body     *Effect
	Handlers []Handler
	Left     *Effect
	Right    *Effect
}

func Pure(t *lambda.Term) *Effect { return &Effect{Kind: EPure, Term: t} }

func Perform(tag string, args ...*lambda.Term) *Effect {
	return &Effect{Kind: EPerform, Tag: tag, Args: args}
}

func Bind(e *Effect, v string, body *Effect) *Effect {
	return &Effect{Kind: EBind, Inner: e, Var: v, Body: body}
}

func Handle(e *Effect, hs ...Handler) *Effect {
	return &Effect{Kind: EHandle, Inner: e, Handlers: hs}
}

func Parallel(l, r *Effect) *Effect { return &Effect{Kind: EParallel, Left: l, Right: r} }
func Race(l, r *Effect) *Effect     { return &Effect{Kind: ERace, Left: l, Right: r} }

func (e *Effect) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(e.Kind))
	switch e.Kind {
	case EPure:
		e.Term.EncodeCanonical(o)
	case EPerform:
		o.AppendString(e.Tag)
		o.AppendUint64(uint64(len(e.Args)))
		for _, a := range e.Args {
			a.EncodeCanonical(o)
		}
	case EBind:
		e.Inner.EncodeCanonical(o)
		o.AppendString(e.Var)
		e.Body.EncodeCanonical(o)
	case EHandle:
		e.Inner.EncodeCanonical(o)
		o.AppendUint64(uint64(len(e.Handlers)))
		for _, h := range e.Handlers {
			o.AppendString(h.Tag)
			h.lambda().EncodeCanonical(o)
		}
	case EParallel, ERace:
		e.Left.EncodeCanonical(o)
		e.Right.EncodeCanonical(o)
	}
}

func (e *Effect) ID() content.EffectID {
	o := &utils.OutputBuf{}
	e.EncodeCanonical(o)
	return content.EffectID(content.HashTagged("effect", o.Bytes()))
}

func (h Handler) lambda() *lambda.Term { return lambda.Lam(h.Param, h.ParamType, h.Body) }

// Tags lists the effect tags performed by e and not handled inside it.
func (e *Effect) Tags() []string {
	seen := map[string]bool{}
	var out []string
	var walk func(e *Effect, handled map[string]bool)
	walk = func(e *Effect, handled map[string]bool) {
		switch e.Kind {
		case EPerform:
			if !handled[e.Tag] && !seen[e.Tag] {
				seen[e.Tag] = true
				out = append(out, e.Tag)
			}
		case EBind:
			walk(e.Inner, handled)
			walk(e.Body, handled)
		case EHandle:
			inner := make(map[string]bool, len(handled)+len(e.Handlers))
			for k := range handled {
				inner[k] = true
			}
			for _, h := range e.Handlers {
				inner[h.Tag] = true
			}
			walk(e.Inner, inner)
		case EParallel, ERace:
			walk(e.Left, handled)
			walk(e.Right, handled)
		}
	}
	walk(e, map[string]bool{})
	return out
}

func termCost(t *lambda.Term) uint64 { return uint64(t.Size()) * machine.GasMove }

// Cost estimates the Layer-0 gas of running e.
func (e *Effect) Cost() uint64 {
	switch e.Kind {
	case EPure:
		return termCost(e.Term)
	case EPerform:
		c := machine.GasApply
		for _, a := range e.Args {
			c += termCost(a)
		}
		return c
	case EBind:
		return e.Inner.Cost() + e.Body.Cost() + machine.GasMove
	case EHandle:
		return e.Inner.Cost()
	case EParallel:
		return e.Left.Cost() + e.Right.Cost() + machine.GasAlloc + machine.GasConsume
	case ERace:
		return e.Left.Cost()
	}
	return 0
}

func (e *Effect) String() string {
	switch e.Kind {
	case EPure:
		return fmt.Sprintf("pure(%s)", e.Term.Kind)
	case EPerform:
		return fmt.Sprintf("perform %s/%d", e.Tag, len(e.Args))
	case EBind:
		return fmt.Sprintf("bind %s = %s in %s", e.Var, e.Inner, e.Body)
	case EHandle:
		tags := make([]string, len(e.Handlers))
		for i, h := range e.Handlers {
			tags[i] = h.Tag
		}
		return fmt.Sprintf("handle %s with {%s}", e.Inner, strings.Join(tags, ", "))
	case EParallel:
		return fmt.Sprintf("parallel(%s, %s)", e.Left, e.Right)
	case ERace:
		return fmt.Sprintf("race(%s, %s)", e.Left, e.Right)
	}
	return "?"
}

// allocates reports whether e introduces an Alloc tagged name.
func (e *Effect) allocates(name string) bool {
	found := false
	visit := func(t *lambda.Term) {
		lambda.Walk(t, func(t *lambda.Term) bool {
			if t.Kind == lambda.KAlloc && t.Name == name {
				found = true
			}
			return !found
		})
	}
	var walk func(e *Effect)
	walk = func(e *Effect) {
		if e == nil || found {
			return
		}
		switch e.Kind {
		case EPure:
			visit(e.Term)
		case EPerform:
			for _, a := range e.Args {
				visit(a)
			}
		case EHandle:
			for _, h := range e.Handlers {
				visit(h.Body)
			}
		}
		walk(e.Inner)
		walk(e.Body)
		walk(e.Left)
		walk(e.Right)
	}
	walk(e)
	return found
}

// LowerEffect translates e to a Layer-1 term. Performs inside a Handle apply
// the handler directly; the rest stay Perform terms for the compile-time
// handler table. Several arguments are passed as a right-nested tensor.
// Parallel becomes a tensor of both branches and Race its first branch.
func LowerEffect(e *Effect) (*lambda.Term, error) {
	return lowerEffect(e, map[string]*lambda.Term{})
}

func lowerEffect(e *Effect, handlers map[string]*lambda.Term) (*lambda.Term, error) {
	switch e.Kind {
	case EPure:
		if e.Term == nil {
			return nil, fmt.Errorf("pure effect has no term")
		}
		return e.Term, nil
	case EPerform:
		arg := argTerm(e.Args)
		if h, ok := handlers[e.Tag]; ok {
			return lambda.App(h, arg), nil
		}
		return lambda.Perform(e.Tag, arg), nil
	case EBind:
		v, err := lowerEffect(e.Inner, handlers)
		if err != nil {
			return nil, err
		}
		b, err := lowerEffect(e.Body, handlers)
		if err != nil {
			return nil, err
		}
		return lambda.Let(e.Var, v, b), nil
	case EHandle:
		inner := make(map[string]*lambda.Term, len(handlers)+len(e.Handlers))
		for k, v := range handlers {
			inner[k] = v
		}
		for _, h := range e.Handlers {
			if h.Body == nil {
				return nil, fmt.Errorf("handler %s has no body", h.Tag)
			}
			inner[h.Tag] = h.lambda()
		}
		return lowerEffect(e.Inner, inner)
	case EParallel:
		l, err := lowerEffect(e.Left, handlers)
		if err != nil {
			return nil, err
		}
		r, err := lowerEffect(e.Right, handlers)
		if err != nil {
			return nil, err
		}
		return lambda.Tensor(l, r), nil
	case ERace:
		return lowerEffect(e.Left, handlers)
	}
	return nil, fmt.Errorf("unknown effect kind %s", e.Kind)
}

func argTerm(args []*lambda.Term) *lambda.Term {
	if len(args) == 0 {
		return lambda.UnitVal()
	}
	out := args[len(args)-1]
	for i := len(args) - 2; i >= 0; i-- {
		out = lambda.Tensor(args[i], out)
	}
	return out
}
