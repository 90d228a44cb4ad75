package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/timewave-computer/causality-sub016/lisp"
	"github.com/timewave-computer/causality-sub016/resource"
)

type yamlField struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Read  string `yaml:"read,omitempty"`
	Write string `yaml:"write,omitempty"`
}

type yamlSchema struct {
	Name   string      `yaml:"name"`
	Fields []yamlField `yaml:"fields"`
}

// ParseYAML reads a list of schemas. Field types use the source type syntax,
// e.g. "Int" or "(List Int)"; rights default to read and write.
func ParseYAML(data []byte) ([]*Schema, error) {
	var raw []yamlSchema
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("schemas: %w", err)
	}
	out := make([]*Schema, 0, len(raw))
	for _, rs := range raw {
		fields := make([]Field, 0, len(rs.Fields))
		for _, rf := range rs.Fields {
			n, err := lisp.ParseOne(rf.Type)
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", rs.Name, rf.Name, err)
			}
			ty, err := lisp.ParseType(n)
			if err != nil {
				return nil, fmt.Errorf("schema %s field %s: %w", rs.Name, rf.Name, err)
			}
			f := Field{Name: rf.Name, Type: ty}
			if rf.Read != "" {
				if f.Read, err = resource.ParseRight(rf.Read); err != nil {
					return nil, fmt.Errorf("schema %s field %s: %w", rs.Name, rf.Name, err)
				}
			}
			if rf.Write != "" {
				if f.Write, err = resource.ParseRight(rf.Write); err != nil {
					return nil, fmt.Errorf("schema %s field %s: %w", rs.Name, rf.Name, err)
				}
			}
			fields = append(fields, f)
		}
		s := New(rs.Name, fields...)
		if err := s.validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
