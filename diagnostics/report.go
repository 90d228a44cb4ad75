// Package diagnostics analyses source programs and reports errors,
// linearity warnings, resource lifetimes and static cost.
package diagnostics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
)

type Severity int

const (
	_                 = 0
	SevError Severity = iota
	SevWarning
	SevInfo
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	}
	return "info"
}

type Code string

const (
	ParseError               Code = "ParseError"
	UnknownSymbol            Code = "UnknownSymbol"
	ArityMismatch            Code = "ArityMismatch"
	TypeError                Code = "TypeError"
	LinearityViolation       Code = "LinearityViolation"
	CompileError             Code = "CompileError"
	UnusedResource           Code = "UnusedResource"
	MultipleConsumption      Code = "MultipleConsumption"
	ResourceLeak             Code = "ResourceLeak"
	PotentialUseAfterConsume Code = "PotentialUseAfterConsume"
)

type Diagnostic struct {
	Code     Code
	Severity Severity
	Pos      lambda.Pos
	Message  string
	// Subject is the variable or register the finding is about.
	Subject     string
	Expected    string
	Found       string
	Suggestions []string
	Fix         string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s[%s]: %s", d.Pos, d.Severity, d.Code, d.Message)
	if len(d.Suggestions) > 0 {
		fmt.Fprintf(&b, " (did you mean %s?)", strings.Join(d.Suggestions, ", "))
	}
	if d.Fix != "" {
		fmt.Fprintf(&b, "\n    fix: %s", d.Fix)
	}
	return b.String()
}

type LifetimeStatus int

const (
	_                       = 0
	Consumed LifetimeStatus = iota
	Moved                   // passed to a call or returned from a lambda body
	Returned                // left live as the program result
	Leaked
)

func (s LifetimeStatus) String() string {
	return [...]string{"", "consumed", "moved", "returned", "leaked"}[s]
}

// Lifetime is one edge of the resource-lifetime graph: a resource register
// from its Alloc to the instruction that ends its life in the block.
type Lifetime struct {
	Block       string
	Register    machine.Register
	Tag         string
	AllocatedAt int
	EndedAt     int
	Status      LifetimeStatus
}

type Report struct {
	Source      string
	Diagnostics []Diagnostic
	Lifetimes   []Lifetime
	// Stats is nil when the program did not compile.
	Stats *machine.Stats
	Type  string
}

func (r *Report) add(d Diagnostic) { r.Diagnostics = append(r.Diagnostics, d) }

// HasErrors reports whether any diagnostic is an error.
func (r *Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SevError {
			return true
		}
	}
	return false
}

// ByCode returns the diagnostics with the given code.
func (r *Report) ByCode(c Code) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Code == c {
			out = append(out, d)
		}
	}
	return out
}

func (r *Report) sort() {
	sort.SliceStable(r.Diagnostics, func(i, j int) bool {
		a, b := r.Diagnostics[i].Pos, r.Diagnostics[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Col < b.Col
	})
}

// Print writes the report in human-readable form.
func (r *Report) Print(w io.Writer) {
	for _, d := range r.Diagnostics {
		fmt.Fprintln(w, d)
	}
	if len(r.Lifetimes) > 0 {
		fmt.Fprintln(w, "resource lifetimes:")
		for _, l := range r.Lifetimes {
			end := "-"
			if l.EndedAt >= 0 {
				end = fmt.Sprint(l.EndedAt)
			}
			fmt.Fprintf(w, "  %s %s %s: alloc@%d end@%s %s\n", l.Block, l.Register, l.Tag, l.AllocatedAt, end, l.Status)
		}
	}
	if r.Stats != nil {
		fmt.Fprintf(w, "type: %s\n", r.Type)
		fmt.Fprintf(w, "instructions: %d (root %d, blocks %d)\n", r.Stats.NbInstructions, r.Stats.NbRootInstructions, r.Stats.NbBlocks)
		fmt.Fprintf(w, "unique registers: %d\n", r.Stats.NbUniqueRegisters)
		fmt.Fprintf(w, "estimated gas: %d\n", r.Stats.EstimatedGas)
	}
}
