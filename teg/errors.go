package teg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
)

var (
	ErrInvalidGraph          = errors.New("invalid effect graph")
	ErrCycleFound            = errors.New("cyclic dependency")
	ErrNodeNotFound          = errors.New("node not found")
	ErrUnsatisfiableResource = errors.New("unsatisfiable resource")
	ErrInvalidTransition     = errors.New("invalid status transition")
)

// GraphError carries the kind of a graph failure and the nodes involved.
type GraphError struct {
	Kind  error
	Msg   string
	Nodes []content.NodeID
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if len(e.Nodes) > 0 {
		ids := make([]string, len(e.Nodes))
		for i, n := range e.Nodes {
			ids[i] = n.Short()
		}
		msg += " [" + strings.Join(ids, " -> ") + "]"
	}
	return msg
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func transitionf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}
