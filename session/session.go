// Package session implements session types, their duality, and projection of
// two-party choreographies onto a single role.
package session

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
)

// Payload is the type of a value carried by Send or Receive.
type Payload interface {
	fmt.Stringer
	EncodeCanonical(o *utils.OutputBuf)
}

type Kind int

const (
	_          = 0
	KSend Kind = iota
	KReceive
	KInternalChoice
	KExternalChoice
	KEnd
	KRec
	KVar
)

type Branch struct {
	Label   string
	Session *Type
}

// Type is a session type. Fields are used according to Kind.
type Type struct {
	Kind     Kind
	Payload  Payload
	Next     *Type
	Branches []Branch
	Name     string
	Body     *Type
}

var endType = &Type{Kind: KEnd}

func Send(p Payload, next *Type) *Type    { return &Type{Kind: KSend, Payload: p, Next: next} }
func Receive(p Payload, next *Type) *Type { return &Type{Kind: KReceive, Payload: p, Next: next} }
func End() *Type                          { return endType }
func Rec(name string, body *Type) *Type   { return &Type{Kind: KRec, Name: name, Body: body} }
func Var(name string) *Type               { return &Type{Kind: KVar, Name: name} }

func InternalChoice(branches ...Branch) *Type {
	return &Type{Kind: KInternalChoice, Branches: branches}
}

func ExternalChoice(branches ...Branch) *Type {
	return &Type{Kind: KExternalChoice, Branches: branches}
}

// Dual maps a protocol to its peer's protocol.
func Dual(s *Type) *Type {
	switch s.Kind {
	case KSend:
		return Receive(s.Payload, Dual(s.Next))
	case KReceive:
		return Send(s.Payload, Dual(s.Next))
	case KInternalChoice:
		return ExternalChoice(dualBranches(s.Branches)...)
	case KExternalChoice:
		return InternalChoice(dualBranches(s.Branches)...)
	case KEnd:
		return End()
	case KRec:
		return Rec(s.Name, Dual(s.Body))
	case KVar:
		return Var(s.Name)
	}
	panic(fmt.Sprintf("unknown session kind %d", int(s.Kind)))
}

func dualBranches(bs []Branch) []Branch {
	out := make([]Branch, len(bs))
	for i, b := range bs {
		out[i] = Branch{Label: b.Label, Session: Dual(b.Session)}
	}
	return out
}

// Unfold replaces the bound variable of a Rec by the Rec itself, one level deep.
func Unfold(s *Type) *Type {
	if s.Kind != KRec {
		return s
	}
	return subst(s.Body, s.Name, s)
}

func subst(s *Type, name string, with *Type) *Type {
	switch s.Kind {
	case KSend, KReceive:
		return &Type{Kind: s.Kind, Payload: s.Payload, Next: subst(s.Next, name, with)}
	case KInternalChoice, KExternalChoice:
		bs := make([]Branch, len(s.Branches))
		for i, b := range s.Branches {
			bs[i] = Branch{Label: b.Label, Session: subst(b.Session, name, with)}
		}
		return &Type{Kind: s.Kind, Branches: bs}
	case KRec:
		if s.Name == name {
			return s
		}
		return Rec(s.Name, subst(s.Body, name, with))
	case KVar:
		if s.Name == name {
			return with
		}
	}
	return s
}

// Branch looks up a choice branch by label.
func (s *Type) Branch(label string) (*Type, bool) {
	for _, b := range s.Branches {
		if b.Label == label {
			return b.Session, true
		}
	}
	return nil, false
}

func (s *Type) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(s.Kind))
	switch s.Kind {
	case KSend, KReceive:
		s.Payload.EncodeCanonical(o)
		s.Next.EncodeCanonical(o)
	case KInternalChoice, KExternalChoice:
		o.AppendUint64(uint64(len(s.Branches)))
		for _, b := range s.Branches {
			o.AppendString(b.Label)
			b.Session.EncodeCanonical(o)
		}
	case KRec:
		o.AppendString(s.Name)
		s.Body.EncodeCanonical(o)
	case KVar:
		o.AppendString(s.Name)
	}
}

func (s *Type) Encode() []byte {
	o := &utils.OutputBuf{}
	s.EncodeCanonical(o)
	return o.Bytes()
}

func (s *Type) ID() content.EntityID {
	return content.HashTagged("session", s.Encode())
}

// Equal is structural equality.
func Equal(a, b *Type) bool {
	return bytes.Equal(a.Encode(), b.Encode())
}

func (s *Type) String() string {
	switch s.Kind {
	case KSend:
		return fmt.Sprintf("Send(%s, %s)", s.Payload, s.Next)
	case KReceive:
		return fmt.Sprintf("Receive(%s, %s)", s.Payload, s.Next)
	case KInternalChoice, KExternalChoice:
		parts := make([]string, len(s.Branches))
		for i, b := range s.Branches {
			parts[i] = b.Label + ": " + b.Session.String()
		}
		name := "InternalChoice"
		if s.Kind == KExternalChoice {
			name = "ExternalChoice"
		}
		return name + "[" + strings.Join(parts, ", ") + "]"
	case KEnd:
		return "End"
	case KRec:
		return fmt.Sprintf("Rec(%s, %s)", s.Name, s.Body)
	case KVar:
		return s.Name
	}
	return "?"
}
