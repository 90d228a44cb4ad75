package session

import (
	"errors"
	"fmt"
)

var ErrProjection = errors.New("choreography cannot be projected")

type choreoKind int

const (
	cMessage choreoKind = iota
	cChoice
	cEnd
)

// Choreography is a global protocol between named roles.
type Choreography struct {
	kind    choreoKind
	from    string
	to      string
	payload Payload
	next    *Choreography
	options []Option
}

// Option is one branch of a choice: the label the chooser sends and the rest
// of the protocol.
type Option struct {
	Label string
	Then  *Choreography
}

// Message is "from -> to : payload; next".
func Message(from, to string, payload Payload, next *Choreography) *Choreography {
	return &Choreography{kind: cMessage, from: from, to: to, payload: payload, next: next}
}

// Choice lets chooser pick an option and tell peer which one.
func Choice(chooser, peer string, options ...Option) *Choreography {
	return &Choreography{kind: cChoice, from: chooser, to: peer, options: options}
}

func Done() *Choreography { return &Choreography{kind: cEnd} }

// Roles lists roles in order of first appearance.
func (c *Choreography) Roles() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(c *Choreography)
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	walk = func(c *Choreography) {
		switch c.kind {
		case cMessage:
			add(c.from)
			add(c.to)
			walk(c.next)
		case cChoice:
			add(c.from)
			add(c.to)
			for _, o := range c.options {
				walk(o.Then)
			}
		}
	}
	walk(c)
	return out
}

// Project computes role's local session type.
func Project(c *Choreography, role string) (*Type, error) {
	switch c.kind {
	case cEnd:
		return End(), nil
	case cMessage:
		if c.from == c.to {
			return nil, fmt.Errorf("%w: %s sends to itself", ErrProjection, c.from)
		}
		next, err := Project(c.next, role)
		if err != nil {
			return nil, err
		}
		switch role {
		case c.from:
			return Send(c.payload, next), nil
		case c.to:
			return Receive(c.payload, next), nil
		}
		return next, nil
	case cChoice:
		if len(c.options) == 0 {
			return nil, fmt.Errorf("%w: choice by %s has no options", ErrProjection, c.from)
		}
		branches := make([]Branch, len(c.options))
		seen := map[string]bool{}
		for i, o := range c.options {
			if seen[o.Label] {
				return nil, fmt.Errorf("%w: duplicate label %q", ErrProjection, o.Label)
			}
			seen[o.Label] = true
			s, err := Project(o.Then, role)
			if err != nil {
				return nil, err
			}
			branches[i] = Branch{Label: o.Label, Session: s}
		}
		switch role {
		case c.from:
			return InternalChoice(branches...), nil
		case c.to:
			return ExternalChoice(branches...), nil
		}
		// A role outside the choice must behave the same in every branch.
		for _, b := range branches[1:] {
			if !Equal(b.Session, branches[0].Session) {
				return nil, fmt.Errorf("%w: %s behaves differently across branches of %s's choice", ErrProjection, role, c.from)
			}
		}
		return branches[0].Session, nil
	}
	panic("unknown choreography kind")
}
