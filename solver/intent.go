// Package solver turns intents into temporal effect graphs. Solving runs five
// phases in order and stops at the first failure: constraint analysis,
// capability resolution, schema resolution, graph construction and lowering.
package solver

import (
	"fmt"
	"time"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/schema"
	"github.com/timewave-computer/causality-sub016/session"
	"github.com/timewave-computer/causality-sub016/timestamp"
	"github.com/timewave-computer/causality-sub016/utils"
	"github.com/timewave-computer/causality-sub016/value"
)

// Location names the domain a value lives in.
type Location string

func (l Location) Domain() content.DomainID { return content.DomainFromName(string(l)) }

type ConstraintKind int

const (
	_                             = 0
	LocalTransform ConstraintKind = iota
	RemoteTransform
	DataMigration
	DistributedSync
	ProtocolRequirement
	CapabilityAccess
)

var constraintKindNames = map[ConstraintKind]string{
	LocalTransform:      "LocalTransform",
	RemoteTransform:     "RemoteTransform",
	DataMigration:       "DataMigration",
	DistributedSync:     "DistributedSync",
	ProtocolRequirement: "ProtocolRequirement",
	CapabilityAccess:    "CapabilityAccess",
}

func (k ConstraintKind) String() string {
	if n, ok := constraintKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ConstraintKind(%d)", int(k))
}

// crosses reports whether constraints of kind k move a value between locations.
func (k ConstraintKind) crosses() bool {
	return k == RemoteTransform || k == DataMigration || k == DistributedSync
}

type DefinitionKind int

const (
	_                              = 0
	StateAllocation DefinitionKind = iota
	ResourceConsumption
	FunctionApplication
	CommunicationSend
	CommunicationReceive
)

var definitionKindNames = map[DefinitionKind]string{
	StateAllocation:      "StateAllocation",
	ResourceConsumption:  "ResourceConsumption",
	FunctionApplication:  "FunctionApplication",
	CommunicationSend:    "CommunicationSend",
	CommunicationReceive: "CommunicationReceive",
}

func (k DefinitionKind) String() string {
	if n, ok := definitionKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("DefinitionKind(%d)", int(k))
}

// Definition is a named transform a LocalTransform applies.
type Definition struct {
	Kind DefinitionKind
	// Initial is the value a StateAllocation stores when it has no input.
	Initial value.Value
	// ResourceType is what a ResourceConsumption spends. Consuming a type
	// declared in the schema registry needs write access to it.
	ResourceType string
	// Function is a built-in or an effect handler for FunctionApplication.
	Function string
	// Message is the payload type of CommunicationSend and CommunicationReceive.
	Message *lambda.Type
}

// Constraint asks for the value Name to be produced from Inputs. From is
// where the inputs live and To where Name ends up; local constraints have
// To == From.
type Constraint struct {
	Kind   ConstraintKind
	Name   string
	Inputs []string
	// Source and Target, when set, are checked against the input and output
	// types the solver infers.
	Source *lambda.Type
	Target *lambda.Type
	From   Location
	To     Location

	// Transform names the Definition of a LocalTransform.
	Transform string
	// Protocol is the session a RemoteTransform or ProtocolRequirement runs.
	Protocol *session.Type
	// Strategy of a DataMigration and consistency model of a DistributedSync.
	Strategy string
	// Locations a DistributedSync waits on.
	Locations []Location
	// Capability, if set, must be held for the constraint to run.
	Capability *resource.Capability
	// Schema, Field and Access make a CapabilityAccess a field access.
	Schema string
	Field  string
	Access schema.Access
	// Predicate makes the incoming dependency edges control links.
	Predicate string
	Deadline  time.Duration
}

func appendType(o *utils.OutputBuf, t *lambda.Type) {
	o.AppendBool(t != nil)
	if t != nil {
		t.EncodeCanonical(o)
	}
}

func appendStrings(o *utils.OutputBuf, ss []string) {
	o.AppendUint64(uint64(len(ss)))
	for _, s := range ss {
		o.AppendString(s)
	}
}

// EncodeCanonical covers every field except Deadline.
func (c *Constraint) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(c.Kind))
	o.AppendString(c.Name)
	appendStrings(o, c.Inputs)
	appendType(o, c.Source)
	appendType(o, c.Target)
	o.AppendString(string(c.From))
	o.AppendString(string(c.To))
	o.AppendString(c.Transform)
	o.AppendBool(c.Protocol != nil)
	if c.Protocol != nil {
		c.Protocol.EncodeCanonical(o)
	}
	o.AppendString(c.Strategy)
	o.AppendUint64(uint64(len(c.Locations)))
	for _, l := range c.Locations {
		o.AppendString(string(l))
	}
	o.AppendBool(c.Capability != nil)
	if c.Capability != nil {
		c.Capability.EncodeCanonical(o)
	}
	o.AppendString(c.Schema)
	o.AppendString(c.Field)
	o.AppendUint8(uint8(c.Access))
	o.AppendString(c.Predicate)
}

func (c *Constraint) ID() content.EntityID {
	o := &utils.OutputBuf{}
	c.EncodeCanonical(o)
	return content.HashTagged("constraint", o.Bytes())
}

func (c *Constraint) String() string {
	if c.From == c.To {
		return fmt.Sprintf("%s %s@%s", c.Kind, c.Name, c.From)
	}
	return fmt.Sprintf("%s %s@%s->%s", c.Kind, c.Name, c.From, c.To)
}

// Input is a value the intent is given, read from the witness stream.
type Input struct {
	Name string
	Type *lambda.Type
}

type Hint int

const (
	HintNone Hint = iota
	HintSerial
	HintParallel
)

func ParseHint(s string) (Hint, error) {
	switch s {
	case "", "none":
		return HintNone, nil
	case "serial":
		return HintSerial, nil
	case "parallel":
		return HintParallel, nil
	}
	return 0, fmt.Errorf("unknown hint %q", s)
}

// Intent is a goal: produce Outputs from Inputs subject to Constraints.
// Expression, when set, is evaluated over the outputs once every node has run.
type Intent struct {
	Expression   *lambda.Term
	Capabilities []resource.Capability
	Inputs       []Input
	Outputs      []string
	Constraints  []*Constraint
	Timestamp    timestamp.Timestamp
	Hint         Hint
}

func (in *Intent) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendBool(in.Expression != nil)
	if in.Expression != nil {
		id := in.Expression.ID()
		o.AppendFixed(id[:])
	}
	o.AppendUint64(uint64(len(in.Capabilities)))
	for _, c := range in.Capabilities {
		c.EncodeCanonical(o)
	}
	o.AppendUint64(uint64(len(in.Inputs)))
	for _, i := range in.Inputs {
		o.AppendString(i.Name)
		appendType(o, i.Type)
	}
	appendStrings(o, in.Outputs)
	ids := make([]content.EntityID, len(in.Constraints))
	for i, c := range in.Constraints {
		ids[i] = c.ID()
	}
	sortIDs(ids)
	o.AppendUint64(uint64(len(ids)))
	for _, id := range ids {
		o.AppendFixed(id[:])
	}
	o.AppendUint64(uint64(in.Timestamp))
	o.AppendUint8(uint8(in.Hint))
}

// ID ignores constraint order.
func (in *Intent) ID() content.IntentID {
	o := &utils.OutputBuf{}
	in.EncodeCanonical(o)
	return content.IntentID(content.HashTagged("intent", o.Bytes()))
}
