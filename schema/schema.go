// Package schema is the registry of record schemas the solver resolves field
// accesses and capability resource types against.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/resource"
	"github.com/timewave-computer/causality-sub016/utils"
)

var (
	ErrUnknownSchema = errors.New("unknown schema")
	ErrUnknownField  = errors.New("unknown field")
	ErrDuplicate     = errors.New("schema already registered")
)

type Access int

const (
	_           = 0
	Read Access = iota
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

func ParseAccess(s string) (Access, error) {
	switch s {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	}
	return 0, fmt.Errorf("unknown access %q", s)
}

// Field is one record field and the capability rights its accesses need.
type Field struct {
	Name  string
	Type  *lambda.Type
	Read  resource.Right
	Write resource.Right
}

// Schema is a record layout. Its name doubles as the resource type that
// capabilities on such records name.
type Schema struct {
	Name   string
	Fields []Field
}

// New sorts fields by name and fills default rights.
func New(name string, fields ...Field) *Schema {
	fs := append([]Field(nil), fields...)
	for i := range fs {
		if fs[i].Read == 0 {
			fs[i].Read = resource.Read
		}
		if fs[i].Write == 0 {
			fs[i].Write = resource.Write
		}
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	return &Schema{Name: name, Fields: fs}
}

func (s *Schema) Field(name string) (Field, bool) {
	i := sort.Search(len(s.Fields), func(i int) bool { return s.Fields[i].Name >= name })
	if i < len(s.Fields) && s.Fields[i].Name == name {
		return s.Fields[i], true
	}
	return Field{}, false
}

// Type is the record type of the schema.
func (s *Schema) Type() *lambda.Type {
	fs := make([]lambda.FieldType, len(s.Fields))
	for i, f := range s.Fields {
		fs[i] = lambda.FieldType{Name: f.Name, Type: f.Type}
	}
	return lambda.Record(fs...)
}

func (s *Schema) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendString(s.Name)
	o.AppendUint64(uint64(len(s.Fields)))
	for _, f := range s.Fields {
		o.AppendString(f.Name)
		f.Type.EncodeCanonical(o)
		o.AppendUint8(uint8(f.Read))
		o.AppendUint8(uint8(f.Write))
	}
}

func (s *Schema) ID() content.EntityID { return content.HashCanonical(s) }

func (s *Schema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field %d has no name", s.Name, i)
		}
		if f.Type == nil {
			return fmt.Errorf("schema %s: field %s has no type", s.Name, f.Name)
		}
		if i > 0 && s.Fields[i-1].Name == f.Name {
			return fmt.Errorf("schema %s: field %s declared twice", s.Name, f.Name)
		}
	}
	return nil
}

// FieldOp is a resolved primitive field access.
type FieldOp struct {
	Schema string
	Field  string
	Access Access
	Type   *lambda.Type
	// Requires is the capability the access needs on a record of the schema.
	Requires resource.Capability
}

func (op FieldOp) String() string {
	return fmt.Sprintf("%s.%s:%s", op.Schema, op.Field, op.Access)
}

// Registry maps schema names to schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: map[string]*Schema{}}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s *Schema) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.schemas[s.Name]; ok {
		if old.ID() == s.ID() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, s.Name)
	}
	r.schemas[s.Name] = s
	return nil
}

func (r *Registry) Lookup(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	return s, nil
}

// Has reports whether name is a registered schema, and so a declared
// resource type.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

func (r *Registry) Field(schema, field string) (Field, error) {
	s, err := r.Lookup(schema)
	if err != nil {
		return Field{}, err
	}
	f, ok := s.Field(field)
	if !ok {
		return Field{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, schema, field)
	}
	return f, nil
}

// Resolve turns an access request into a primitive field operation.
func (r *Registry) Resolve(schema, field string, access Access) (FieldOp, error) {
	f, err := r.Field(schema, field)
	if err != nil {
		return FieldOp{}, err
	}
	right := f.Read
	if access == Write {
		right = f.Write
	}
	return FieldOp{
		Schema:   schema,
		Field:    field,
		Access:   access,
		Type:     f.Type,
		Requires: resource.Capability{ResourceType: schema, Right: right},
	}, nil
}

// Names lists the registered schemas in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
