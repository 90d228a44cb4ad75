// Package domain is the boundary to external chains. Adapters are untrusted
// oracles: every fact they return passes through a VerifierRegistry before the
// core may use it.
package domain

import (
	"fmt"
	"sort"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

type FactType int

const (
	_                    = 0
	FactBalance FactType = iota
	FactTransaction
	FactOracle
	FactBlock
	FactTime
	FactRegisterCreation
	FactRegisterUpdate
	FactRegisterTransfer
	FactRegisterMerge
	FactRegisterSplit
	FactZKVerification
	FactZKBatch
	FactZKCircuitExecution
	FactZKComposition
	FactCustom
)

var factTypeNames = map[FactType]string{
	FactBalance:            "balance",
	FactTransaction:        "transaction",
	FactOracle:             "oracle",
	FactBlock:              "block",
	FactTime:               "time",
	FactRegisterCreation:   "register.creation",
	FactRegisterUpdate:     "register.update",
	FactRegisterTransfer:   "register.transfer",
	FactRegisterMerge:      "register.merge",
	FactRegisterSplit:      "register.split",
	FactZKVerification:     "zk.verification",
	FactZKBatch:            "zk.batch",
	FactZKCircuitExecution: "zk.circuit_execution",
	FactZKComposition:      "zk.composition",
	FactCustom:             "custom",
}

func (t FactType) String() string {
	if s, ok := factTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FactType(%d)", int(t))
}

func ParseFactType(s string) (FactType, error) {
	for t, n := range factTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown fact type %q", s)
}

// IsRegister reports whether t is one of the register lifecycle facts.
func (t FactType) IsRegister() bool { return t >= FactRegisterCreation && t <= FactRegisterSplit }

// IsZK reports whether t is one of the proof facts.
func (t FactType) IsZK() bool { return t >= FactZKVerification && t <= FactZKComposition }

// FactQuery selects a fact. Custom names the fact when Type is FactCustom.
type FactQuery struct {
	Domain content.DomainID
	Type   FactType
	Custom string
	Params map[string]string
	Height uint64
}

// Fact is an observation about a domain. ProofData is opaque here; the
// verifier registered for Type interprets it.
type Fact struct {
	ID        content.EntityID
	Domain    content.DomainID
	Type      FactType
	Custom    string
	Height    uint64
	BlockHash [32]byte
	Timestamp timestamp.Timestamp
	Params    map[string]string
	Data      value.Value
	ProofData []byte
}

func (f *Fact) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendFixed(f.Domain[:])
	o.AppendUint8(uint8(f.Type))
	o.AppendString(f.Custom)
	o.AppendUint64(f.Height)
	o.AppendFixed(f.BlockHash[:])
	o.AppendUint64(uint64(f.Timestamp))
	keys := make([]string, 0, len(f.Params))
	for k := range f.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	o.AppendUint64(uint64(len(keys)))
	for _, k := range keys {
		o.AppendString(k)
		o.AppendString(f.Params[k])
	}
	data := f.Data
	if data == nil {
		data = value.Unit{}
	}
	data.EncodeCanonical(o)
	o.AppendBytes(f.ProofData)
}

func (f *Fact) ComputeID() content.EntityID {
	o := &utils.OutputBuf{}
	f.EncodeCanonical(o)
	return content.HashTagged("fact", o.Bytes())
}

// Seal sets ID and returns f.
func (f *Fact) Seal() *Fact {
	f.ID = f.ComputeID()
	return f
}

// Name is the type name, or the custom name for custom facts.
func (f *Fact) Name() string {
	if f.Type == FactCustom && f.Custom != "" {
		return f.Custom
	}
	return f.Type.String()
}
