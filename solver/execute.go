package solver

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/logger"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/teg"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/value"
)

type execOptions struct {
	inputs     map[string]value.Value
	heap       *resource.Heap
	nullifiers resource.NullifierSet
	workers    int
	limits     machine.Limits
	now        func() time.Time
}

type ExecOption func(*execOptions)

func WithInputs(in map[string]value.Value) ExecOption {
	return func(o *execOptions) { o.inputs = in }
}

func WithHeap(h *resource.Heap) ExecOption { return func(o *execOptions) { o.heap = h } }

func WithNullifiers(n resource.NullifierSet) ExecOption {
	return func(o *execOptions) { o.nullifiers = n }
}

// WithWorkers runs independent nodes concurrently. The intent's hint still
// wins: HintSerial forces one worker.
func WithWorkers(n int) ExecOption { return func(o *execOptions) { o.workers = n } }

func WithLimits(l machine.Limits) ExecOption { return func(o *execOptions) { o.limits = l } }

// WithNow replaces the clock node deadlines are measured on.
func WithNow(now func() time.Time) ExecOption { return func(o *execOptions) { o.now = now } }

// Execution is the outcome of running a solution.
type Execution struct {
	Result *teg.Result
	// Values maps every input and every produced name to its value.
	Values map[string]value.Value
	// Output is the expression's value; nil without an expression or when a
	// node did not complete.
	Output     value.Value
	Nullifiers []content.ResourceID
	Heap       *resource.Heap
	Gas        uint64
}

type compiledRun struct {
	what    string
	program *machine.Program
	inputs  []string
	loc     Location
	index   int
}

func inputNames(c *lambda.Compiled) []string {
	out := make([]string, len(c.Inputs))
	for i, in := range c.Inputs {
		out[i] = in.Name
	}
	return out
}

func (st *step) run() *compiledRun {
	return &compiledRun{
		what:    "node " + st.constraint.Name,
		program: st.compiled.Program,
		inputs:  inputNames(st.compiled),
		loc:     st.constraint.To,
		index:   st.index,
	}
}

// clockBase spaces the logical clocks of nodes so allocations never depend
// on scheduling.
func clockBase(index int) *timestamp.Clock {
	return timestamp.NewClock(timestamp.Timestamp(uint64(index) << 32))
}

// Execute runs each node's program over a shared heap and nullifier set,
// feeding it the values its inputs name. A machine fault fails the node and
// cancels what depends on it; other errors abort the run. A node's
// allocations and nullifiers are published only once it completes within its
// deadline. A solution must not be executed concurrently with itself.
func Execute(ctx context.Context, sol *Solution, opts ...ExecOption) (*Execution, error) {
	o := &execOptions{limits: machine.DefaultLimits()}
	for _, f := range opts {
		f(o)
	}
	if o.heap == nil {
		o.heap = resource.NewHeap()
	}
	if o.nullifiers == nil {
		o.nullifiers = resource.NewMemNullifierSet()
	}
	values := map[string]value.Value{}
	for _, in := range sol.Intent.Inputs {
		v, ok := o.inputs[in.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", in.Name)
		}
		values[in.Name] = v
	}
	var mu sync.Mutex
	run := func(c *compiledRun, heap *resource.Heap, nullifiers resource.NullifierSet) (*machine.Trace, error) {
		initial := make(map[machine.Register]value.Value, len(c.inputs))
		mu.Lock()
		for i, name := range c.inputs {
			v, ok := values[name]
			if !ok {
				mu.Unlock()
				return nil, fmt.Errorf("%s: no value for %q", c.what, name)
			}
			initial[machine.Register(i)] = v
		}
		mu.Unlock()
		_, trace, err := machine.Execute(c.program, initial, nil,
			machine.WithHeap(heap),
			machine.WithNullifiers(nullifiers),
			machine.WithDomain(c.loc.Domain()),
			machine.WithClock(clockBase(c.index)),
			machine.WithLimits(o.limits),
		)
		return trace, err
	}

	runner := teg.RunnerFunc(func(ctx context.Context, n teg.Node) (*teg.NodeResult, error) {
		st, ok := sol.steps[n.ID]
		if !ok {
			return nil, fmt.Errorf("node %s has no program", n.ID.Short())
		}
		// Effects stay staged until the executor commits the node.
		heap, nullifiers := o.heap.Stage(), resource.StageNullifiers(o.nullifiers)
		trace, err := run(st.run(), heap, nullifiers)
		var fault *machine.Fault
		if errors.As(err, &fault) {
			res := &teg.NodeResult{Failure: err}
			if trace != nil {
				res.Gas = trace.TotalGas
			}
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		commit := func() error {
			if err := nullifiers.Commit(); err != nil {
				return err
			}
			if err := heap.Commit(); err != nil {
				return err
			}
			mu.Lock()
			values[st.constraint.Name] = trace.Result
			mu.Unlock()
			return nil
		}
		return &teg.NodeResult{Value: trace.Result, Gas: trace.TotalGas, Commit: commit}, nil
	})

	sol.Graph.Reset()
	ex, err := teg.NewExecutor(sol.Graph, runner)
	if err != nil {
		return nil, err
	}
	if o.now != nil {
		ex.Now = o.now
	}
	workers := o.workers
	switch sol.Intent.Hint {
	case HintSerial:
		workers = 1
	case HintParallel:
		if workers <= 1 {
			workers = runtime.GOMAXPROCS(0)
		}
	}
	var res *teg.Result
	if workers > 1 {
		res, err = ex.RunParallel(ctx, workers)
	} else {
		res, err = ex.RunSerial(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := &Execution{Result: res, Values: values, Heap: o.heap, Gas: res.Stats.TotalGas}
	if sol.final != nil && res.Stats.Completed == sol.Graph.Len() {
		trace, err := run(&compiledRun{
			what:    "expression",
			program: sol.final.Program,
			inputs:  inputNames(sol.final),
			loc:     sol.Location,
			index:   sol.Graph.Len(),
		}, o.heap, o.nullifiers)
		if err != nil {
			return nil, fmt.Errorf("expression: %w", err)
		}
		out.Output = trace.Result
		out.Gas += trace.TotalGas
	}
	if out.Nullifiers, err = o.nullifiers.List(); err != nil {
		return nil, err
	}
	logger.Logger().Info().
		Int("completed", res.Stats.Completed).
		Int("failed", res.Stats.Failed).
		Int("cancelled", res.Stats.Cancelled).
		Uint64("gas", out.Gas).
		Msg("intent executed")
	return out, nil
}
