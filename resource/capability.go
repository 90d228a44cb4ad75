package resource

import (
	"errors"
	"fmt"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
)

// Right is ordered by power: Delegate implies Write implies Read.
type Right uint8

const (
	Read Right = iota + 1
	Write
	Delegate
)

func (r Right) String() string {
	switch r {
	case Read:
		return "read"
	case Write:
		return "write"
	case Delegate:
		return "delegate"
	}
	return fmt.Sprintf("Right(%d)", uint8(r))
}

func ParseRight(s string) (Right, error) {
	switch s {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "delegate":
		return Delegate, nil
	}
	return 0, fmt.Errorf("unknown capability right %q", s)
}

var ErrDelegation = errors.New("capability cannot be delegated")

// Capability ties a right to one resource. A zero Resource matches any resource
// of ResourceType, which is how requirements are written before ids exist.
type Capability struct {
	Resource     content.ResourceID
	ResourceType string
	Right        Right
}

func (c Capability) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendFixed(c.Resource[:])
	o.AppendString(c.ResourceType)
	o.AppendUint8(uint8(c.Right))
}

func decodeCapability(in *utils.InputBuf) Capability {
	var c Capability
	copy(c.Resource[:], in.ReadFixed(content.Size))
	c.ResourceType = in.ReadString()
	c.Right = Right(in.ReadUint8())
	return c
}

func (c Capability) String() string {
	target := c.ResourceType
	if !content.EntityID(c.Resource).IsZero() {
		target += "@" + content.EntityID(c.Resource).Short()
	}
	return c.Right.String() + ":" + target
}

// Allows reports whether holding c satisfies the requirement req.
func (c Capability) Allows(req Capability) bool {
	if c.ResourceType != req.ResourceType {
		return false
	}
	if !content.EntityID(req.Resource).IsZero() && c.Resource != req.Resource {
		return false
	}
	return c.Right >= req.Right
}

// Delegate synthesises a capability of equal or lesser power on the same resource.
func (c Capability) Delegate(to Right) (Capability, error) {
	if c.Right != Delegate {
		return Capability{}, fmt.Errorf("%w: holder has %s", ErrDelegation, c.Right)
	}
	if to < Read || to > c.Right {
		return Capability{}, fmt.Errorf("%w: cannot grant %s", ErrDelegation, to)
	}
	return Capability{Resource: c.Resource, ResourceType: c.ResourceType, Right: to}, nil
}

// Set is an ordered capability set.
type Set []Capability

// Find returns the first capability satisfying req.
func (s Set) Find(req Capability) (Capability, bool) {
	for _, c := range s {
		if c.Allows(req) {
			return c, true
		}
	}
	return Capability{}, false
}
