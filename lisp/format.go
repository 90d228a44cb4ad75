package lisp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/value"
)

// Format prints a term in the syntax ToTerm reads.
func Format(t *lambda.Term) string {
	var b strings.Builder
	format(&b, t)
	return b.String()
}

func list(b *strings.Builder, head string, parts ...func()) {
	b.WriteString("(" + head)
	for _, p := range parts {
		b.WriteByte(' ')
		p()
	}
	b.WriteByte(')')
}

func word(b *strings.Builder, s string) func()      { return func() { b.WriteString(s) } }
func sub(b *strings.Builder, t *lambda.Term) func() { return func() { format(b, t) } }

func format(b *strings.Builder, t *lambda.Term) {
	switch t.Kind {
	case lambda.KVar:
		b.WriteString(t.Name)
	case lambda.KLambda:
		param := t.Name
		if t.Type != nil {
			param = "(" + t.Name + " " + FormatType(t.Type) + ")"
		}
		list(b, "lambda", word(b, "("+param+")"), sub(b, t.A))
	case lambda.KApply:
		b.WriteByte('(')
		format(b, t.A)
		b.WriteByte(' ')
		format(b, t.B)
		b.WriteByte(')')
	case lambda.KLet:
		list(b, "let", word(b, t.Name), sub(b, t.A), sub(b, t.B))
	case lambda.KAlloc:
		if t.Name != "" {
			list(b, "alloc-as", word(b, t.Name), sub(b, t.A))
			return
		}
		list(b, "alloc", sub(b, t.A))
	case lambda.KConsume:
		list(b, "consume", sub(b, t.A))
	case lambda.KInl, lambda.KInr:
		head := "inl"
		if t.Kind == lambda.KInr {
			head = "inr"
		}
		if t.Type != nil {
			list(b, head, sub(b, t.A), word(b, FormatType(t.Type)))
			return
		}
		list(b, head, sub(b, t.A))
	case lambda.KCase:
		list(b, "case", sub(b, t.A), word(b, t.Name), sub(b, t.B), word(b, t.Name2), sub(b, t.C))
	case lambda.KTensor:
		list(b, "tensor", sub(b, t.A), sub(b, t.B))
	case lambda.KLetTensor:
		list(b, "let-tensor", sub(b, t.A), word(b, t.Name), word(b, t.Name2), sub(b, t.B))
	case lambda.KUnitVal:
		b.WriteString("unit")
	case lambda.KLetUnit:
		list(b, "let-unit", sub(b, t.A), sub(b, t.B))
	case lambda.KRecord:
		parts := make([]func(), len(t.Fields))
		for i, f := range t.Fields {
			f := f
			parts[i] = func() { list(b, f.Name, sub(b, f.Value)) }
		}
		list(b, "record", parts...)
	case lambda.KRecordAccess:
		list(b, "get", sub(b, t.A), word(b, t.Name))
	case lambda.KRecordUpdate:
		list(b, "set", sub(b, t.A), word(b, t.Name), sub(b, t.B))
	case lambda.KLiteral:
		b.WriteString(FormatValue(t.Value))
	case lambda.KWitness:
		if t.Type != nil {
			list(b, "witness", word(b, FormatType(t.Type)))
			return
		}
		list(b, "witness")
	case lambda.KPerform:
		list(b, "perform", word(b, t.Name), sub(b, t.A))
	case lambda.KNewChannel:
		list(b, "new-channel", word(b, FormatSession(t.Session)))
	case lambda.KSend:
		list(b, "send", sub(b, t.A), sub(b, t.B))
	case lambda.KReceive:
		list(b, "recv", sub(b, t.A))
	case lambda.KSelect:
		list(b, "select", sub(b, t.A), word(b, t.Name))
	case lambda.KBranch:
		parts := []func(){sub(b, t.A)}
		for _, a := range t.Branches {
			a := a
			parts = append(parts, func() { list(b, a.Label, word(b, a.Var), sub(b, a.Body)) })
		}
		list(b, "branch", parts...)
	case lambda.KClose:
		list(b, "close", sub(b, t.A))
	default:
		fmt.Fprintf(b, "#<%s>", t.Kind)
	}
}

// FormatValue prints a value in the syntax ParseValue reads.
func FormatValue(v value.Value) string {
	switch v := v.(type) {
	case value.Unit:
		return "unit"
	case value.String:
		return strconv.Quote(string(v))
	case value.List:
		parts := []string{"list"}
		for _, x := range v {
			parts = append(parts, FormatValue(x))
		}
		return "(" + strings.Join(parts, " ") + ")"
	case value.Record:
		return formatFields("record", v.Fields())
	case value.Map:
		return formatFields("map", v.Fields())
	}
	return v.String()
}

func formatFields(head string, fs []value.Field) string {
	parts := []string{head}
	for _, f := range fs {
		parts = append(parts, "("+string(f.Key)+" "+FormatValue(f.Value)+")")
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// FormatType prints a type in the syntax ParseType reads.
func FormatType(t *lambda.Type) string {
	switch t.Kind {
	case lambda.TProduct:
		return "(* " + FormatType(t.Left) + " " + FormatType(t.Right) + ")"
	case lambda.TSum:
		return "(+ " + FormatType(t.Left) + " " + FormatType(t.Right) + ")"
	case lambda.TFunction:
		return "(-> " + FormatType(t.Left) + " " + FormatType(t.Right) + ")"
	case lambda.TList:
		return "(List " + FormatType(t.Elem) + ")"
	case lambda.TResource:
		return "(Resource " + FormatType(t.Elem) + ")"
	case lambda.TRecord:
		parts := []string{"Record"}
		for _, f := range t.Fields {
			parts = append(parts, "("+f.Name+" "+FormatType(f.Type)+")")
		}
		return "(" + strings.Join(parts, " ") + ")"
	case lambda.TUnion:
		parts := []string{"Union"}
		for _, m := range t.Members {
			parts = append(parts, FormatType(m))
		}
		return "(" + strings.Join(parts, " ") + ")"
	case lambda.TChannel:
		return "(Chan " + FormatSession(t.Session) + ")"
	}
	return t.String()
}

// FormatSession prints a session type in the syntax ParseSession reads.
func FormatSession(s *session.Type) string {
	payload := func() string {
		if t, ok := s.Payload.(*lambda.Type); ok {
			return FormatType(t)
		}
		return s.Payload.String()
	}
	switch s.Kind {
	case session.KSend:
		return "(send " + payload() + " " + FormatSession(s.Next) + ")"
	case session.KReceive:
		return "(recv " + payload() + " " + FormatSession(s.Next) + ")"
	case session.KInternalChoice, session.KExternalChoice:
		head := "choose"
		if s.Kind == session.KExternalChoice {
			head = "offer"
		}
		parts := []string{head}
		for _, br := range s.Branches {
			parts = append(parts, "("+br.Label+" "+FormatSession(br.Session)+")")
		}
		return "(" + strings.Join(parts, " ") + ")"
	case session.KEnd:
		return "end"
	case session.KRec:
		return "(rec " + s.Name + " " + FormatSession(s.Body) + ")"
	case session.KVar:
		return s.Name
	}
	return s.String()
}
