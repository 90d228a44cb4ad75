// Package content provides the 32-byte content digests that identify every
// content-addressed object, and the object store interface built on them.
package content

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/timewave-computer/causality-sub016/utils"
)

const Size = 32

// EntityID is the BLAKE3 digest of a canonical byte encoding.
type EntityID [Size]byte

// Typed wrappers. They share a representation but are not assignable to one another.
type (
	DomainID   EntityID
	ResourceID EntityID
	NodeID     EntityID
	EdgeID     EntityID
	EffectID   EntityID
	IntentID   EntityID
	ExprID     EntityID
	HandlerID  EntityID
)

// Canonical is implemented by every content-addressable type.
type Canonical interface {
	EncodeCanonical(o *utils.OutputBuf)
}

func Hash(b []byte) EntityID {
	return EntityID(blake3.Sum256(b))
}

func HashCanonical(c Canonical) EntityID {
	o := &utils.OutputBuf{}
	c.EncodeCanonical(o)
	return Hash(o.Bytes())
}

// HashTagged hashes a domain-separation tag followed by the payload, so that
// ids of different object kinds never collide on equal payloads.
func HashTagged(tag string, payload []byte) EntityID {
	o := &utils.OutputBuf{}
	o.AppendString(tag)
	o.AppendFixed(payload)
	return Hash(o.Bytes())
}

func ParseEntityID(s string) (EntityID, error) {
	var id EntityID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse entity id: %w", err)
	}
	if len(b) != Size {
		return id, fmt.Errorf("parse entity id: want %d bytes, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id EntityID) String() string       { return hex.EncodeToString(id[:]) }
func (id EntityID) Short() string        { return hex.EncodeToString(id[:4]) }
func (id EntityID) IsZero() bool         { return id == EntityID{} }
func (id EntityID) Less(o EntityID) bool { return bytes.Compare(id[:], o[:]) < 0 }
func (id EntityID) Compare(o EntityID) int {
	return bytes.Compare(id[:], o[:])
}

func (id DomainID) String() string   { return EntityID(id).String() }
func (id ResourceID) String() string { return EntityID(id).String() }
func (id NodeID) String() string     { return EntityID(id).String() }
func (id EdgeID) String() string     { return EntityID(id).String() }
func (id EffectID) String() string   { return EntityID(id).String() }
func (id IntentID) String() string   { return EntityID(id).String() }
func (id ExprID) String() string     { return EntityID(id).String() }
func (id HandlerID) String() string  { return EntityID(id).String() }

func (id ResourceID) Less(o ResourceID) bool { return EntityID(id).Less(EntityID(o)) }
func (id NodeID) Less(o NodeID) bool         { return EntityID(id).Less(EntityID(o)) }
func (id NodeID) Short() string              { return EntityID(id).Short() }

// DomainFromName derives a stable domain id from a human-readable name.
func DomainFromName(name string) DomainID {
	return DomainID(HashTagged("domain", []byte(name)))
}
