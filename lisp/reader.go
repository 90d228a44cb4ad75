// Package lisp reads the S-expression surface syntax of Layer-1 terms.
package lisp

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/timewave-computer/causality-sub016/lambda"
)

type NodeKind int

const (
	_              = 0
	NList NodeKind = iota
	NSymbol
	NInt
	NRational
	NString
	NBool
	NQuote
)

// Node is one datum of source text.
type Node struct {
	Kind     NodeKind
	Text     string
	Int      int64
	Bool     bool
	Children []*Node
	Pos      lambda.Pos
}

// Head returns the symbol at the head of a list, if any.
func (n *Node) Head() (string, bool) {
	if n.Kind != NList || len(n.Children) == 0 || n.Children[0].Kind != NSymbol {
		return "", false
	}
	return n.Children[0].Text, true
}

func (n *Node) String() string {
	switch n.Kind {
	case NList:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	case NString:
		return strconv.Quote(n.Text)
	case NQuote:
		return "'" + n.Text
	case NBool:
		if n.Bool {
			return "true"
		}
		return "false"
	}
	return n.Text
}

type ParseError struct {
	Pos lambda.Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %s", e.Pos, e.Msg)
}

type reader struct {
	src  []rune
	i    int
	line int
	col  int
}

func (r *reader) pos() lambda.Pos { return lambda.Pos{Line: r.line, Col: r.col} }

func (r *reader) peek() (rune, bool) {
	if r.i >= len(r.src) {
		return 0, false
	}
	return r.src[r.i], true
}

func (r *reader) next() rune {
	c := r.src[r.i]
	r.i++
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

func (r *reader) skipSpace() {
	for {
		c, ok := r.peek()
		if !ok {
			return
		}
		switch {
		case c == ';':
			for ok && c != '\n' {
				r.next()
				c, ok = r.peek()
			}
		case unicode.IsSpace(c):
			r.next()
		default:
			return
		}
	}
}

func isDelim(c rune) bool {
	return unicode.IsSpace(c) || c == '(' || c == ')' || c == '"' || c == ';' || c == '\''
}

// Parse reads every datum in src.
func Parse(src string) ([]*Node, error) {
	r := &reader{src: []rune(src), line: 1, col: 1}
	var out []*Node
	for {
		r.skipSpace()
		if _, ok := r.peek(); !ok {
			return out, nil
		}
		n, err := r.datum()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
}

// ParseOne reads exactly one datum.
func ParseOne(src string) (*Node, error) {
	nodes, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, &ParseError{Pos: lambda.Pos{Line: 1, Col: 1}, Msg: fmt.Sprintf("expected one expression, found %d", len(nodes))}
	}
	return nodes[0], nil
}

func (r *reader) datum() (*Node, error) {
	start := r.pos()
	c, _ := r.peek()
	switch c {
	case '(', '[':
		end := ')'
		if c == '[' {
			end = ']'
		}
		r.next()
		n := &Node{Kind: NList, Pos: start}
		for {
			r.skipSpace()
			c, ok := r.peek()
			if !ok {
				return nil, &ParseError{Pos: start, Msg: "unclosed parenthesis"}
			}
			if c == end {
				r.next()
				return n, nil
			}
			if c == ')' || c == ']' {
				return nil, &ParseError{Pos: r.pos(), Msg: fmt.Sprintf("mismatched %q", c)}
			}
			child, err := r.datum()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	case ')', ']':
		return nil, &ParseError{Pos: start, Msg: fmt.Sprintf("unexpected %q", c)}
	case '"':
		return r.str(start)
	case '\'':
		r.next()
		tok := r.token()
		if tok == "" {
			return nil, &ParseError{Pos: start, Msg: "empty quoted symbol"}
		}
		return &Node{Kind: NQuote, Text: tok, Pos: start}, nil
	}
	tok := r.token()
	return atom(tok, start)
}

func (r *reader) token() string {
	var b strings.Builder
	for {
		c, ok := r.peek()
		if !ok || isDelim(c) || c == '[' || c == ']' {
			return b.String()
		}
		b.WriteRune(r.next())
	}
}

func (r *reader) str(start lambda.Pos) (*Node, error) {
	r.next()
	var b strings.Builder
	for {
		c, ok := r.peek()
		if !ok {
			return nil, &ParseError{Pos: start, Msg: "unclosed string"}
		}
		r.next()
		switch c {
		case '"':
			return &Node{Kind: NString, Text: b.String(), Pos: start}, nil
		case '\\':
			e, ok := r.peek()
			if !ok {
				return nil, &ParseError{Pos: start, Msg: "unclosed string"}
			}
			r.next()
			switch e {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(e)
			default:
				return nil, &ParseError{Pos: r.pos(), Msg: fmt.Sprintf("unknown escape \\%c", e)}
			}
		default:
			b.WriteRune(c)
		}
	}
}

func atom(tok string, pos lambda.Pos) (*Node, error) {
	switch tok {
	case "true", "#t":
		return &Node{Kind: NBool, Bool: true, Text: tok, Pos: pos}, nil
	case "false", "#f":
		return &Node{Kind: NBool, Bool: false, Text: tok, Pos: pos}, nil
	}
	if looksNumeric(tok) {
		if num, den, ok := strings.Cut(tok, "/"); ok {
			if _, err := strconv.ParseInt(num, 10, 64); err != nil {
				return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("invalid number %q", tok)}
			}
			d, err := strconv.ParseInt(den, 10, 64)
			if err != nil || d <= 0 {
				return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("invalid rational %q", tok)}
			}
			return &Node{Kind: NRational, Text: tok, Pos: pos}, nil
		}
		i, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, &ParseError{Pos: pos, Msg: fmt.Sprintf("invalid number %q", tok)}
		}
		return &Node{Kind: NInt, Int: i, Text: tok, Pos: pos}, nil
	}
	return &Node{Kind: NSymbol, Text: tok, Pos: pos}, nil
}

// looksNumeric is true for tokens that start with a digit, or a sign
// followed by a digit.
func looksNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	if tok[0] == '-' || tok[0] == '+' {
		tok = tok[1:]
	}
	return tok != "" && tok[0] >= '0' && tok[0] <= '9'
}
