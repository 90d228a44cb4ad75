package lambda

import (
	"fmt"
	"sort"
)

// FreeVars returns the free variable names of t in sorted order.
func FreeVars(t *Term) []string {
	set := map[string]bool{}
	freeVars(t, map[string]int{}, set)
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func freeVars(t *Term, bound map[string]int, out map[string]bool) {
	under := func(c *Term, names ...string) {
		for _, n := range names {
			bound[n]++
		}
		freeVars(c, bound, out)
		for _, n := range names {
			bound[n]--
		}
	}
	switch t.Kind {
	case KVar:
		if bound[t.Name] == 0 {
			out[t.Name] = true
		}
	case KLambda:
		under(t.A, t.Name)
	case KLet:
		freeVars(t.A, bound, out)
		under(t.B, t.Name)
	case KCase:
		freeVars(t.A, bound, out)
		under(t.B, t.Name)
		under(t.C, t.Name2)
	case KLetTensor:
		freeVars(t.A, bound, out)
		under(t.B, t.Name, t.Name2)
	case KBranch:
		freeVars(t.A, bound, out)
		for _, b := range t.Branches {
			under(b.Body, b.Var)
		}
	default:
		for _, c := range t.Children() {
			freeVars(c, bound, out)
		}
	}
}

func occursFree(name string, t *Term) bool {
	for _, n := range FreeVars(t) {
		if n == name {
			return true
		}
	}
	return false
}

// fresh picks a name based on base that is not in avoid.
func fresh(base string, avoid map[string]bool) string {
	for i := 1; ; i++ {
		n := fmt.Sprintf("%s_%d", base, i)
		if !avoid[n] {
			return n
		}
	}
}

// Subst replaces the free occurrences of name in t with r, renaming binders
// that would capture a free variable of r.
func Subst(t *Term, name string, r *Term) *Term {
	avoid := map[string]bool{name: true}
	for _, n := range FreeVars(r) {
		avoid[n] = true
	}
	return subst(t, name, r, avoid)
}

// rebind handles one binder x scoping over body: it stops at shadowing and
// renames x when it would capture r.
func rebind(x string, body *Term, name string, r *Term, avoid map[string]bool) (string, *Term, bool) {
	if x == name {
		return x, body, false
	}
	if avoid[x] && occursFree(name, body) {
		all := map[string]bool{}
		for k := range avoid {
			all[k] = true
		}
		for _, n := range FreeVars(body) {
			all[n] = true
		}
		nx := fresh(x, all)
		body = subst(body, x, Var(nx), map[string]bool{x: true, nx: true})
		x = nx
	}
	return x, body, true
}

func subst(t *Term, name string, r *Term, avoid map[string]bool) *Term {
	c := *t
	switch t.Kind {
	case KVar:
		if t.Name == name {
			return r
		}
		return t
	case KLambda:
		x, body, ok := rebind(t.Name, t.A, name, r, avoid)
		c.Name = x
		if ok {
			c.A = subst(body, name, r, avoid)
		}
		return &c
	case KLet:
		c.A = subst(t.A, name, r, avoid)
		x, body, ok := rebind(t.Name, t.B, name, r, avoid)
		c.Name = x
		if ok {
			c.B = subst(body, name, r, avoid)
		}
		return &c
	case KCase:
		c.A = subst(t.A, name, r, avoid)
		x, b, goB := rebind(t.Name, t.B, name, r, avoid)
		c.Name = x
		if goB {
			c.B = subst(b, name, r, avoid)
		}
		y, cc, goC := rebind(t.Name2, t.C, name, r, avoid)
		c.Name2 = y
		if goC {
			c.C = subst(cc, name, r, avoid)
		}
		return &c
	case KLetTensor:
		c.A = subst(t.A, name, r, avoid)
		x, body, goX := rebind(t.Name, t.B, name, r, avoid)
		if !goX {
			c.Name = x
			return &c
		}
		y, body, goY := rebind(t.Name2, body, name, r, avoid)
		c.Name, c.Name2, c.B = x, y, body
		if goY {
			c.B = subst(body, name, r, avoid)
		}
		return &c
	case KBranch:
		c.A = subst(t.A, name, r, avoid)
		c.Branches = make([]BranchTerm, len(t.Branches))
		for i, b := range t.Branches {
			x, body, ok := rebind(b.Var, b.Body, name, r, avoid)
			if ok {
				body = subst(body, name, r, avoid)
			}
			c.Branches[i] = BranchTerm{Label: b.Label, Var: x, Body: body}
		}
		return &c
	case KRecord:
		c.Fields = make([]FieldTerm, len(t.Fields))
		for i, f := range t.Fields {
			c.Fields[i] = FieldTerm{Name: f.Name, Value: subst(f.Value, name, r, avoid)}
		}
		return &c
	}
	if t.A != nil {
		c.A = subst(t.A, name, r, avoid)
	}
	if t.B != nil {
		c.B = subst(t.B, name, r, avoid)
	}
	if t.C != nil {
		c.C = subst(t.C, name, r, avoid)
	}
	return &c
}

// Beta contracts (λx.body) arg to body[x := arg]. It reports false when t
// is not a redex.
func Beta(t *Term) (*Term, bool) {
	if t.Kind != KApply || t.A.Kind != KLambda {
		return t, false
	}
	return Subst(t.A.A, t.A.Name, t.B), true
}

// Reduce contracts redexes whose argument is a variable or a literal, the
// cases where substitution cannot duplicate or drop effects.
func Reduce(t *Term) *Term {
	c := *t
	if t.A != nil {
		c.A = Reduce(t.A)
	}
	if t.B != nil {
		c.B = Reduce(t.B)
	}
	if t.C != nil {
		c.C = Reduce(t.C)
	}
	if len(t.Fields) > 0 {
		c.Fields = make([]FieldTerm, len(t.Fields))
		for i, f := range t.Fields {
			c.Fields[i] = FieldTerm{Name: f.Name, Value: Reduce(f.Value)}
		}
	}
	if len(t.Branches) > 0 {
		c.Branches = make([]BranchTerm, len(t.Branches))
		for i, b := range t.Branches {
			c.Branches[i] = BranchTerm{Label: b.Label, Var: b.Var, Body: Reduce(b.Body)}
		}
	}
	if c.Kind == KApply && c.A.Kind == KLambda && (c.B.Kind == KVar || c.B.Kind == KLiteral) {
		r, _ := Beta(&c)
		return Reduce(r)
	}
	return &c
}
