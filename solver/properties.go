package solver

import (
	"strings"

	"github.com/timewave-computer/causality-sub016/lambda"
)

type Property uint8

const (
	Associativity Property = 1 << iota
	Commutativity
	Identity
	Linearity
	Distributivity
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{Associativity, "associativity"},
	{Commutativity, "commutativity"},
	{Identity, "identity"},
	{Linearity, "linearity"},
	{Distributivity, "distributivity"},
}

// PropertySet is a bit set of properties.
type PropertySet uint8

func (s PropertySet) Has(p Property) bool { return uint8(s)&uint8(p) != 0 }

func (s PropertySet) String() string {
	var names []string
	for _, pn := range propertyNames {
		if s.Has(pn.p) {
			names = append(names, pn.name)
		}
	}
	return "{" + strings.Join(names, ", ") + "}"
}

func set(ps ...Property) PropertySet {
	var s PropertySet
	for _, p := range ps {
		s |= PropertySet(p)
	}
	return s
}

// functionProperties is keyed by machine primitive.
var functionProperties = map[string]PropertySet{
	"add":      set(Associativity, Commutativity, Identity, Linearity),
	"mul":      set(Associativity, Commutativity, Identity, Linearity, Distributivity),
	"identity": set(Associativity, Commutativity, Identity, Linearity),
}

// Properties looks a definition up in the rule table.
func Properties(def Definition) PropertySet {
	switch def.Kind {
	case StateAllocation, ResourceConsumption:
		return set(Associativity, Commutativity, Linearity)
	case CommunicationSend, CommunicationReceive:
		return set(Associativity, Linearity)
	case FunctionApplication:
		name := def.Function
		if prim, ok := lambda.GlobalPrimitive(name); ok {
			name = prim
		}
		if s, ok := functionProperties[name]; ok {
			return s
		}
		return set(Linearity)
	}
	return 0
}

// Verify reports whether def has every property in ps.
func Verify(def Definition, ps ...Property) bool {
	have := Properties(def)
	for _, p := range ps {
		if !have.Has(p) {
			return false
		}
	}
	return true
}
