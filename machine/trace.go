package machine

import (
	"fmt"
	"strings"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

// TraceStep records one executed instruction.
type TraceStep struct {
	Step        int
	PC          int
	Depth       int
	Instruction Instruction
	Gas         uint64
	Time        timestamp.Timestamp
	Reads       []Register
	Writes      []Register
	Allocated   []content.ResourceID
	Consumed    []content.ResourceID
}

// Trace is the record of one run. Two runs of the same program on the same
// witness produce byte-identical encodings.
type Trace struct {
	ProgramID        content.EntityID
	Steps            []TraceStep
	TotalGas         uint64
	Fault            *Fault
	Result           value.Value
	Allocated        []content.ResourceID
	Nullifiers       []content.ResourceID
	WitnessConsumed  int
	WitnessRemaining int
}

func appendRegisters(o *utils.OutputBuf, rs []Register) {
	o.AppendUint64(uint64(len(rs)))
	for _, r := range rs {
		o.AppendUint32(uint32(r))
	}
}

func appendIDs(o *utils.OutputBuf, ids []content.ResourceID) {
	o.AppendUint64(uint64(len(ids)))
	for _, id := range ids {
		o.AppendFixed(id[:])
	}
}

func (in Instruction) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(in.Type))
	appendRegisters(o, in.Inputs)
	o.AppendUint32(uint32(in.Output))
}

func (st *TraceStep) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint64(uint64(st.Step))
	o.AppendUint64(uint64(st.PC))
	o.AppendUint64(uint64(st.Depth))
	st.Instruction.EncodeCanonical(o)
	o.AppendUint64(st.Gas)
	o.AppendUint64(uint64(st.Time))
	appendRegisters(o, st.Reads)
	appendRegisters(o, st.Writes)
	appendIDs(o, st.Allocated)
	appendIDs(o, st.Consumed)
}

// EncodeStep returns the canonical bytes of one step.
func EncodeStep(st *TraceStep) []byte {
	o := &utils.OutputBuf{}
	st.EncodeCanonical(o)
	return o.Bytes()
}

func (t *Trace) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendFixed(t.ProgramID[:])
	o.AppendUint64(uint64(len(t.Steps)))
	for i := range t.Steps {
		t.Steps[i].EncodeCanonical(o)
	}
	o.AppendUint64(t.TotalGas)
	if t.Fault == nil {
		o.AppendUint8(0)
	} else {
		o.AppendUint8(1)
		o.AppendUint8(uint8(t.Fault.Kind))
		o.AppendUint64(uint64(t.Fault.Step))
		o.AppendUint64(uint64(t.Fault.PC))
		o.AppendUint64(uint64(t.Fault.Depth))
		o.AppendString(t.Fault.Detail)
	}
	res := t.Result
	if res == nil {
		res = value.Unit{}
	}
	res.EncodeCanonical(o)
	appendIDs(o, t.Allocated)
	appendIDs(o, t.Nullifiers)
	o.AppendUint64(uint64(t.WitnessConsumed))
	o.AppendUint64(uint64(t.WitnessRemaining))
}

func (t *Trace) Encode() []byte {
	o := &utils.OutputBuf{}
	t.EncodeCanonical(o)
	return o.Bytes()
}

func (t *Trace) Hash() content.EntityID {
	return content.HashTagged("trace", t.Encode())
}

// Print renders the trace one step per line.
func (t *Trace) Print() string {
	var sb strings.Builder
	for _, st := range t.Steps {
		fmt.Fprintf(&sb, "%4d %s%s gas=%d\n", st.Step, strings.Repeat("  ", st.Depth), st.Instruction, st.Gas)
	}
	if t.Fault != nil {
		fmt.Fprintf(&sb, "fault: %s\n", t.Fault)
	}
	fmt.Fprintf(&sb, "total gas: %d\n", t.TotalGas)
	return sb.String()
}
