package teg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/value"
)

// NodeResult is what running one node produced. A non-nil Failure fails the
// node and cancels its descendants; the run goes on.
type NodeResult struct {
	Value   value.Value
	Gas     uint64
	Failure error
	// Commit publishes the node's staged side effects. It is called once,
	// only for a node that succeeded within its deadline, and never
	// concurrently with another Commit. An error fails the node.
	Commit func() error
}

// Runner executes a single node. A returned error is an infrastructure
// failure and aborts the whole run.
type Runner interface {
	Run(ctx context.Context, n Node) (*NodeResult, error)
}

type RunnerFunc func(ctx context.Context, n Node) (*NodeResult, error)

func (f RunnerFunc) Run(ctx context.Context, n Node) (*NodeResult, error) { return f(ctx, n) }

// Executor drives a graph to completion. Nodes start only once every
// dependency has completed, so a path A -> B means A completes before B starts.
type Executor struct {
	Graph  *Graph
	Runner Runner
	// Now defaults to time.Now and only feeds deadlines.
	Now func() time.Time
}

type Result struct {
	// Order lists nodes in the order they started.
	Order    []content.NodeID
	Results  map[content.NodeID]value.Value
	Failures map[content.NodeID]string
	Stats    ExecStats
}

func NewExecutor(g *Graph, r Runner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if r == nil {
		return nil, fmt.Errorf("nil runner")
	}
	return &Executor{Graph: g, Runner: r, Now: time.Now}, nil
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

type outcome struct {
	id  content.NodeID
	res *NodeResult
	err error
}

func (e *Executor) execute(ctx context.Context, start time.Time, id content.NodeID) outcome {
	n, _ := e.Graph.Node(id)
	nctx := ctx
	if n.Deadline > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithDeadline(ctx, start.Add(n.Deadline))
		defer cancel()
	}
	res, err := e.Runner.Run(nctx, n)
	late := n.Deadline > 0 && e.now().Sub(start) > n.Deadline
	if ctx.Err() == nil && (late || errors.Is(nctx.Err(), context.DeadlineExceeded)) {
		return outcome{id: id, res: &NodeResult{Failure: errors.New(TimeoutReason)}}
	}
	if err == nil && res == nil {
		err = fmt.Errorf("nil result")
	}
	if err != nil {
		err = fmt.Errorf("executing %s: %w", id.Short(), err)
	}
	return outcome{id: id, res: res, err: err}
}

func (e *Executor) apply(o outcome) error {
	if o.err != nil {
		return o.err
	}
	if o.res.Failure != nil {
		cancelled, err := e.Graph.Fail(o.id, o.res.Failure.Error())
		logger.Logger().Debug().
			Str("node", o.id.Short()).
			Str("reason", o.res.Failure.Error()).
			Int("cancelled", len(cancelled)).
			Msg("node failed")
		return err
	}
	if o.res.Commit != nil {
		if err := o.res.Commit(); err != nil {
			return e.apply(outcome{id: o.id, res: &NodeResult{Failure: fmt.Errorf("commit: %w", err)}})
		}
	}
	return e.Graph.Complete(o.id, o.res.Value, o.res.Gas)
}

func (e *Executor) result(order []content.NodeID) *Result {
	r := &Result{
		Order:    order,
		Results:  map[content.NodeID]value.Value{},
		Failures: map[content.NodeID]string{},
		Stats:    e.Graph.Stats(),
	}
	for _, n := range e.Graph.Nodes() {
		switch n.Status {
		case Completed:
			r.Results[n.ID] = n.Result
		case Failed:
			r.Failures[n.ID] = n.Reason
		}
	}
	logger.Logger().Info().
		Int("completed", r.Stats.Completed).
		Int("failed", r.Stats.Failed).
		Int("cancelled", r.Stats.Cancelled).
		Uint64("gas", r.Stats.TotalGas).
		Msg("graph executed")
	return r
}

func (e *Executor) start(id content.NodeID) error {
	return e.Graph.Transition(id, Ready, Executing)
}

// RunSerial runs one node at a time, always the smallest ready id.
func (e *Executor) RunSerial(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := e.now()
	var order []content.NodeID
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}
		e.Graph.Expire(e.now().Sub(start))
		ready := e.Graph.Advance()
		if len(ready) == 0 {
			if e.Graph.Done() {
				return e.result(order), nil
			}
			return nil, fmt.Errorf("no ready nodes but graph not finished")
		}
		next := ready[0]
		if err := e.start(next); err != nil {
			return nil, err
		}
		order = append(order, next)
		if err := e.apply(e.execute(ctx, start, next)); err != nil {
			return nil, err
		}
	}
}

// RunParallel runs up to workers independent nodes at once. Dispatch order
// is by id within each ready set; completion order may vary, results do not.
func (e *Executor) RunParallel(ctx context.Context, workers int) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	done := make(chan outcome, e.Graph.Len())
	start := e.now()
	var order []content.NodeID
	inFlight := 0

	fail := func(err error) (*Result, error) {
		_ = eg.Wait()
		return nil, err
	}
	for {
		e.Graph.Expire(e.now().Sub(start))
		for _, id := range e.Graph.Advance() {
			if err := e.start(id); err != nil {
				return fail(err)
			}
			order = append(order, id)
			inFlight++
			id := id
			eg.Go(func() error {
				o := e.execute(gctx, start, id)
				done <- o
				return o.err
			})
		}
		if inFlight == 0 {
			if e.Graph.Done() {
				break
			}
			return fail(fmt.Errorf("no ready nodes but graph not finished"))
		}
		select {
		case <-gctx.Done():
			if err := eg.Wait(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		case o := <-done:
			inFlight--
			if err := e.apply(o); err != nil {
				return fail(err)
			}
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return e.result(order), nil
}
