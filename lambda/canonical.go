package lambda

import (
	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
)

// binders is the stack of bound names, innermost last.
type binders []string

func (b binders) index(name string) (int, bool) {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == name {
			return len(b) - 1 - i, true
		}
	}
	return 0, false
}

// EncodeCanonical writes t with bound variables replaced by de Bruijn
// indices, so α-equivalent terms encode identically. Positions are omitted.
func (t *Term) EncodeCanonical(o *utils.OutputBuf) {
	encodeTerm(o, t, nil)
}

func encodeOptType(o *utils.OutputBuf, ty *Type) {
	o.AppendBool(ty != nil)
	if ty != nil {
		ty.EncodeCanonical(o)
	}
}

func encodeTerm(o *utils.OutputBuf, t *Term, env binders) {
	o.AppendUint8(uint8(t.Kind))
	switch t.Kind {
	case KVar:
		if i, ok := env.index(t.Name); ok {
			o.AppendUint8(1)
			o.AppendUint32(uint32(i))
		} else {
			o.AppendUint8(0)
			o.AppendString(t.Name)
		}
	case KLambda:
		encodeOptType(o, t.Type)
		encodeTerm(o, t.A, append(env, t.Name))
	case KLet:
		encodeTerm(o, t.A, env)
		encodeTerm(o, t.B, append(env, t.Name))
	case KCase:
		encodeTerm(o, t.A, env)
		encodeTerm(o, t.B, append(env, t.Name))
		encodeTerm(o, t.C, append(env, t.Name2))
	case KLetTensor:
		encodeTerm(o, t.A, env)
		encodeTerm(o, t.B, append(env, t.Name, t.Name2))
	case KAlloc, KSelect, KRecordAccess, KPerform:
		o.AppendString(t.Name)
		encodeTerm(o, t.A, env)
	case KInl, KInr:
		encodeOptType(o, t.Type)
		encodeTerm(o, t.A, env)
	case KRecordUpdate:
		o.AppendString(t.Name)
		encodeTerm(o, t.A, env)
		encodeTerm(o, t.B, env)
	case KRecord:
		o.AppendUint32(uint32(len(t.Fields)))
		for _, f := range t.Fields {
			o.AppendString(f.Name)
			encodeTerm(o, f.Value, env)
		}
	case KLiteral:
		t.Value.EncodeCanonical(o)
	case KWitness:
		encodeOptType(o, t.Type)
	case KNewChannel:
		t.Session.EncodeCanonical(o)
	case KBranch:
		encodeTerm(o, t.A, env)
		o.AppendUint32(uint32(len(t.Branches)))
		for _, b := range t.Branches {
			o.AppendString(b.Label)
			encodeTerm(o, b.Body, append(env, b.Var))
		}
	case KUnitVal:
	default:
		// Apply, Consume, Tensor, LetUnit, Send, Receive, Close
		for _, c := range []*Term{t.A, t.B} {
			if c != nil {
				encodeTerm(o, c, env)
			}
		}
	}
}

// ID is the content address of the term. α-equivalent terms share an ID.
func (t *Term) ID() content.ExprID {
	o := &utils.OutputBuf{}
	t.EncodeCanonical(o)
	return content.ExprID(content.HashTagged("expr", o.Bytes()))
}

// AlphaEqual reports whether a and b differ only in bound variable names.
func AlphaEqual(a, b *Term) bool {
	return a.ID() == b.ID()
}
