package diagnostics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/value"
)

// Run parses, checks and compiles src and collects every finding. Static
// passes that need a well-formed term are skipped after a parse error; the
// compiler is skipped after an unknown symbol.
func Run(src string) *Report {
	r := &Report{Source: src}
	defer r.sort()

	prog, err := lisp.ParseProgram(src)
	if err != nil {
		d := Diagnostic{Code: ParseError, Severity: SevError, Message: err.Error()}
		var pe *lisp.ParseError
		if errors.As(err, &pe) {
			d.Pos, d.Message = pe.Pos, pe.Msg
		}
		r.add(d)
		return r
	}

	tags := make([]string, 0, len(prog.Handlers))
	for tag := range prog.Handlers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	unknown := 0
	for _, tag := range tags {
		unknown += r.scan(prog.Handlers[tag])
	}
	unknown += r.scan(prog.Main)
	r.linearity(prog.Main)
	if unknown > 0 {
		return r
	}

	c, err := lambda.Compile(prog.Main, lambda.WithHandlers(prog.Handlers))
	if err != nil {
		r.add(fromError(err))
		return r
	}
	r.Type = c.Type.String()
	stats := c.Program.GetStats()
	r.Stats = &stats
	r.lifetimes(c.Program)
	return r
}

func fromError(err error) Diagnostic {
	var te *lambda.TypeError
	var le *lambda.LinearityError
	var ce *lambda.CompileError
	switch {
	case errors.As(err, &te):
		d := Diagnostic{Code: TypeError, Severity: SevError, Pos: te.Pos, Expected: te.Expected, Found: te.Found, Message: te.Detail}
		if d.Message == "" {
			d.Message = fmt.Sprintf("expected %s, found %s", te.Expected, te.Found)
		}
		return d
	case errors.As(err, &le):
		d := Diagnostic{Code: LinearityViolation, Severity: SevError, Pos: le.Pos, Subject: le.Var,
			Message: fmt.Sprintf("linear variable %q %s", le.Var, le.Kind)}
		if le.Kind == lambda.DroppedField {
			d.Message = fmt.Sprintf("record field %q %s", le.Var, le.Kind)
		}
		switch le.Kind {
		case lambda.UsedTwice:
			d.Fix = "bind a copy before the first use, or restructure so the value flows through once"
		case lambda.Unused:
			d.Fix = fmt.Sprintf("consume %s or pass it on", le.Var)
		case lambda.BranchMismatch:
			d.Fix = fmt.Sprintf("use %s in every branch", le.Var)
		case lambda.DroppedField:
			d.Fix = fmt.Sprintf("take field %s out of the record and consume it first", le.Var)
		}
		return d
	case errors.As(err, &ce):
		return Diagnostic{Code: CompileError, Severity: SevError, Pos: ce.Pos, Message: ce.Detail}
	}
	return Diagnostic{Code: CompileError, Severity: SevError, Message: err.Error()}
}

type scope struct {
	names map[string]int
	// arity of let-bound lambdas
	arity map[string][]int
}

func (s *scope) push(names ...string) {
	for _, n := range names {
		s.names[n]++
	}
}

func (s *scope) pop(names ...string) {
	for _, n := range names {
		s.names[n]--
		if as := s.arity[n]; len(as) > 0 {
			s.arity[n] = as[:len(as)-1]
		}
	}
}

func (s *scope) candidates() []string {
	var out []string
	for n, c := range s.names {
		if c > 0 {
			out = append(out, n)
		}
	}
	out = append(out, lambda.Globals()...)
	out = append(out, lisp.Forms...)
	sort.Strings(out)
	return out
}

func lambdaArity(t *lambda.Term) int {
	n := 0
	for t.Kind == lambda.KLambda {
		n++
		t = t.A
	}
	return n
}

// spine splits nested applications into head and arguments.
func spine(t *lambda.Term) (*lambda.Term, []*lambda.Term) {
	var args []*lambda.Term
	for t.Kind == lambda.KApply {
		args = append([]*lambda.Term{t.B}, args...)
		t = t.A
	}
	return t, args
}

// scan reports unknown symbols and over-applied functions. It returns the
// number of unknown symbols.
func (r *Report) scan(t *lambda.Term) int {
	s := &scope{names: map[string]int{}, arity: map[string][]int{}}
	unknown := 0
	var walk func(t *lambda.Term)
	under := func(t *lambda.Term, names ...string) {
		s.push(names...)
		walk(t)
		s.pop(names...)
	}
	walk = func(t *lambda.Term) {
		switch t.Kind {
		case lambda.KVar:
			if s.names[t.Name] > 0 || lambda.IsGlobal(t.Name) {
				return
			}
			unknown++
			r.add(Diagnostic{
				Code: UnknownSymbol, Severity: SevError, Pos: t.Pos, Subject: t.Name,
				Message:     fmt.Sprintf("unknown symbol %q", t.Name),
				Suggestions: Suggest(t.Name, s.candidates()),
			})
		case lambda.KApply:
			head, args := spine(t)
			if head.Kind == lambda.KVar {
				want, known := -1, false
				if as := s.arity[head.Name]; s.names[head.Name] > 0 && len(as) > 0 && as[len(as)-1] > 0 {
					want, known = as[len(as)-1], true
				} else if s.names[head.Name] == 0 {
					want, known = lambda.GlobalArity(head.Name)
				}
				if known && len(args) > want {
					r.add(Diagnostic{
						Code: ArityMismatch, Severity: SevError, Pos: t.Pos, Subject: head.Name,
						Expected: fmt.Sprint(want), Found: fmt.Sprint(len(args)),
						Message: fmt.Sprintf("%s takes %d arguments, got %d", head.Name, want, len(args)),
					})
				}
			}
			walk(head)
			for _, a := range args {
				walk(a)
			}
		case lambda.KLambda:
			s.arity[t.Name] = append(s.arity[t.Name], 0)
			under(t.A, t.Name)
		case lambda.KLet:
			walk(t.A)
			s.arity[t.Name] = append(s.arity[t.Name], lambdaArity(t.A))
			under(t.B, t.Name)
		case lambda.KCase:
			walk(t.A)
			s.arity[t.Name] = append(s.arity[t.Name], 0)
			under(t.B, t.Name)
			s.arity[t.Name2] = append(s.arity[t.Name2], 0)
			under(t.C, t.Name2)
		case lambda.KLetTensor:
			walk(t.A)
			s.arity[t.Name] = append(s.arity[t.Name], 0)
			s.arity[t.Name2] = append(s.arity[t.Name2], 0)
			under(t.B, t.Name, t.Name2)
		case lambda.KBranch:
			walk(t.A)
			for _, b := range t.Branches {
				s.arity[b.Var] = append(s.arity[b.Var], 0)
				under(b.Body, b.Var)
			}
		default:
			for _, c := range t.Children() {
				walk(c)
			}
		}
	}
	walk(t)
	return unknown
}

// track follows one resource binder through its body.
type track struct {
	name     string
	pos      lambda.Pos
	uses     int
	consumed bool
	consAt   lambda.Pos
}

// linearity reports resource-handling smells ahead of the checker: resources
// never touched, consumed twice, or used after their consumption. Case arms
// are walked from the same starting state.
func (r *Report) linearity(t *lambda.Term) {
	seen := map[string]bool{}
	report := func(d Diagnostic) {
		key := fmt.Sprintf("%s|%s|%s", d.Code, d.Subject, d.Pos)
		if !seen[key] {
			seen[key] = true
			r.add(d)
		}
	}
	var live []*track
	lookup := func(name string) *track {
		for i := len(live) - 1; i >= 0; i-- {
			if live[i].name == name {
				return live[i]
			}
		}
		return nil
	}
	snapshot := func() []track {
		out := make([]track, len(live))
		for i, tr := range live {
			out[i] = *tr
		}
		return out
	}
	restore := func(s []track) {
		for i := range s {
			*live[i] = s[i]
		}
	}
	var walk func(t *lambda.Term)
	shadow := func(t *lambda.Term, names ...string) {
		// binders that shadow a tracked resource hide it for the body
		var hidden []*track
		for _, n := range names {
			if tr := lookup(n); tr != nil {
				hidden = append(hidden, &track{name: n, uses: -1})
			}
		}
		live = append(live, hidden...)
		walk(t)
		live = live[:len(live)-len(hidden)]
	}
	use := func(v *lambda.Term, consuming bool) {
		tr := lookup(v.Name)
		if tr == nil || tr.uses < 0 {
			return
		}
		if tr.consumed {
			code := PotentialUseAfterConsume
			msg := fmt.Sprintf("resource %q used after it was consumed at %s", tr.name, tr.consAt)
			if consuming {
				code = MultipleConsumption
				msg = fmt.Sprintf("resource %q consumed again, first consumed at %s", tr.name, tr.consAt)
			}
			report(Diagnostic{Code: code, Severity: SevWarning, Pos: v.Pos, Subject: tr.name, Message: msg})
		}
		tr.uses++
		if consuming && !tr.consumed {
			tr.consumed, tr.consAt = true, v.Pos
		}
	}
	bindResource := func(name string, pos lambda.Pos, body *lambda.Term) {
		tr := &track{name: name, pos: pos}
		live = append(live, tr)
		walk(body)
		live = live[:len(live)-1]
		if tr.uses == 0 {
			report(Diagnostic{
				Code: UnusedResource, Severity: SevWarning, Pos: pos, Subject: name,
				Message: fmt.Sprintf("resource %q is never used", name),
				Fix:     fmt.Sprintf("(consume %s)", name),
			})
		}
	}
	walk = func(t *lambda.Term) {
		switch t.Kind {
		case lambda.KVar:
			use(t, false)
		case lambda.KConsume:
			if t.A.Kind == lambda.KVar {
				use(t.A, true)
				return
			}
			walk(t.A)
		case lambda.KLet:
			walk(t.A)
			if t.A.Kind == lambda.KAlloc {
				bindResource(t.Name, t.Pos, t.B)
				return
			}
			shadow(t.B, t.Name)
		case lambda.KLambda:
			if t.Type != nil && t.Type.Kind == lambda.TResource {
				bindResource(t.Name, t.Pos, t.A)
				return
			}
			shadow(t.A, t.Name)
		case lambda.KCase:
			walk(t.A)
			start := snapshot()
			shadow(t.B, t.Name)
			left := snapshot()
			restore(start)
			shadow(t.C, t.Name2)
			for i := range left {
				tr := live[i]
				tr.uses = max(tr.uses, left[i].uses)
				if left[i].consumed && !tr.consumed {
					tr.consumed, tr.consAt = true, left[i].consAt
				}
			}
		case lambda.KLetTensor:
			walk(t.A)
			shadow(t.B, t.Name, t.Name2)
		case lambda.KBranch:
			walk(t.A)
			start := snapshot()
			var merged []track
			for _, b := range t.Branches {
				restore(start)
				shadow(b.Body, b.Var)
				cur := snapshot()
				if merged == nil {
					merged = cur
					continue
				}
				for i := range cur {
					merged[i].uses = max(merged[i].uses, cur[i].uses)
					if cur[i].consumed && !merged[i].consumed {
						merged[i].consumed, merged[i].consAt = true, cur[i].consAt
					}
				}
			}
			if merged != nil {
				restore(merged)
			}
		default:
			for _, c := range t.Children() {
				walk(c)
			}
		}
	}
	walk(t)
}

// lifetimes builds the allocation graph of every block: each Alloc output is
// followed to the first instruction that reads it.
func (r *Report) lifetimes(p *machine.Program) {
	visit := func(name string, b *machine.Block) {
		for i, insn := range b.Instructions {
			if insn.Type != machine.IAlloc {
				continue
			}
			l := Lifetime{Block: name, Register: insn.Output, AllocatedAt: i, EndedAt: -1, Status: Leaked}
			if tag := constantSymbol(b, insn.Inputs[0]); tag != "" {
				l.Tag = tag
			}
		scan:
			for j := i + 1; j < len(b.Instructions); j++ {
				next := b.Instructions[j]
				for _, in := range next.Inputs {
					if in != insn.Output {
						continue
					}
					l.EndedAt = j
					l.Status = Moved
					if next.Type == machine.IConsume {
						l.Status = Consumed
					}
					break scan
				}
				if next.Output == insn.Output {
					break
				}
			}
			if l.Status == Leaked && b.Result == insn.Output {
				l.Status = Returned
			}
			r.Lifetimes = append(r.Lifetimes, l)
			if l.Status == Leaked {
				r.add(Diagnostic{
					Code: ResourceLeak, Severity: SevWarning, Subject: insn.Output.String(),
					Message: fmt.Sprintf("block %s: %s resource in %s is allocated at instruction %d and never consumed", name, l.Tag, insn.Output, i),
				})
			}
		}
	}
	visit("root", p.Root)
	for _, id := range p.BlockIDs() {
		visit(content.EntityID(id).Short(), p.Blocks[id])
	}
}

func constantSymbol(b *machine.Block, reg machine.Register) string {
	for _, c := range b.Constants {
		if c.Register != reg {
			continue
		}
		if s, ok := c.Value.(value.Symbol); ok {
			return string(s)
		}
		return c.Value.String()
	}
	return ""
}
