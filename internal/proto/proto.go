package proto

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
)

// Proto is a parsed schema file. Each of its sections lists the fields
// allowed in the configuration section of the same name; architecture and
// optimizer protos use a single [proto] section.
type Proto struct {
	Name     string
	Filename string
	Schemas  []*Schema
}

// Schema is the set of typed fields of one section.
type Schema struct {
	Name   string
	Fields []*Field
	Range  hcl.Range
}

// Field is a typed key.
type Field struct {
	Name  string
	Type  FieldType
	Range hcl.Range
}

// Parse parses a proto file.
func Parse(src []byte, filename string) (*Proto, hcl.Diagnostics) {
	f, diags := cfgfile.Parse(src, filename)
	if f == nil {
		return nil, diags
	}

	p := &Proto{Name: baseName(filename), Filename: filename}
	for _, s := range f.Sections {
		schema := &Schema{Name: s.Name, Range: s.Range}
		for _, e := range s.Entries {
			ft, err := ParseFieldType(e.Value)
			if err != nil {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid field type",
					Detail:   fmt.Sprintf("The type of %q in [%s] is invalid: %s.", e.Key, s.Name, err),
					Subject:  e.ValueRange().Ptr(),
				})
				continue
			}
			schema.Fields = append(schema.Fields, &Field{Name: e.Key, Type: ft, Range: e.KeyRange})
		}
		p.Schemas = append(p.Schemas, schema)
	}
	return p, diags
}

// Schema returns the schema for a section, or nil.
func (p *Proto) Schema(section string) *Schema {
	for _, s := range p.Schemas {
		if s.Name == section {
			return s
		}
	}
	return nil
}

// Field returns the field definition for key (case-insensitive).
func (s *Schema) Field(key string) (*Field, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, key) {
			return f, true
		}
	}
	return nil, false
}

// Required lists the names of the non-optional fields.
func (s *Schema) Required() []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Type.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimSuffix(path, ".proto")
}
