package experiment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// item is a key/value pair from either a section entry or a block field.
type item struct {
	key        string
	value      string
	keyRange   hcl.Range
	valueRange hcl.Range
}

func sectionItems(s *cfgfile.Section) []item {
	out := make([]item, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, item{key: e.Key, value: e.Value, keyRange: e.KeyRange, valueRange: e.ValueRange()})
	}
	return out
}

func blockItems(b *cfgfile.Block) []item {
	out := make([]item, 0, len(b.Fields))
	for _, f := range b.Fields {
		out = append(out, item{key: f.Key, value: f.Value, keyRange: f.Range, valueRange: f.Range})
	}
	return out
}

// scope describes what is being decoded, for diagnostics.
type scope struct {
	name  string
	rng   hcl.Range
	typed map[string]proto.FieldType
}

// decodeItems converts items against the schemas, first match wins. Keys
// no schema knows are kept as strings and reported as warnings.
func (sc *scope) decodeItems(items []item, schemas ...*proto.Schema) (map[string]cty.Value, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	vals := make(map[string]cty.Value, len(items))

	for _, it := range items {
		key := strings.ToLower(it.key)
		field := lookupField(key, schemas)
		if field == nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Unknown key",
				Detail:   fmt.Sprintf("The key %q is not defined by any proto that applies to %s.", it.key, sc.name),
				Subject:  it.keyRange.Ptr(),
			})
			vals[key] = cty.StringVal(it.value)
			continue
		}
		if sc.typed != nil {
			sc.typed[key] = field.Type
		}
		v, err := field.Type.Convert(it.value)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid value",
				Detail:   fmt.Sprintf("The value of %q in %s must be %s: %s.", it.key, sc.name, field.Type, err),
				Subject:  it.valueRange.Ptr(),
			})
			continue
		}
		vals[key] = v
	}

	for _, schema := range schemas {
		if schema == nil {
			continue
		}
		for _, f := range schema.Fields {
			key := strings.ToLower(f.Name)
			if f.Type.Optional || hasItem(items, key) {
				continue
			}
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Missing required key",
				Detail:   fmt.Sprintf("%s must define %q (%s).", capitalize(sc.name), f.Name, f.Type),
				Subject:  sc.rng.Ptr(),
			})
		}
	}
	return vals, diags
}

func lookupField(key string, schemas []*proto.Schema) *proto.Field {
	for _, s := range schemas {
		if s == nil {
			continue
		}
		if f, ok := s.Field(key); ok {
			return f
		}
	}
	return nil
}

func hasItem(items []item, key string) bool {
	for _, it := range items {
		if strings.EqualFold(it.key, key) {
			return true
		}
	}
	return false
}

// populate fills the cty-tagged fields of target from vals. Attributes that
// are absent (optional or invalid keys) take the zero value of their type.
func populate(vals map[string]cty.Value, target any, sc *scope) hcl.Diagnostics {
	ty, err := gocty.ImpliedType(target)
	if err != nil {
		panic(fmt.Sprintf("experiment: %T cannot hold cty values: %s", target, err))
	}

	var diags hcl.Diagnostics
	attrs := make(map[string]cty.Value, len(ty.AttributeTypes()))
	for name, aty := range ty.AttributeTypes() {
		v, ok := vals[name]
		if !ok {
			attrs[name] = zeroValue(aty)
			continue
		}
		cv, err := convert.Convert(v, aty)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Incompatible proto type",
				Detail:   fmt.Sprintf("The proto type of %q in %s does not fit %s: %s.", name, sc.name, aty.FriendlyName(), err),
				Subject:  sc.rng.Ptr(),
			})
			attrs[name] = zeroValue(aty)
			continue
		}
		attrs[name] = cv
	}

	if err := gocty.FromCtyValue(cty.ObjectVal(attrs), target); err != nil {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid value",
			Detail:   fmt.Sprintf("Cannot decode %s: %s.", sc.name, err),
			Subject:  sc.rng.Ptr(),
		})
	}
	return diags
}

func zeroValue(ty cty.Type) cty.Value {
	switch {
	case ty.Equals(cty.String):
		return cty.StringVal("")
	case ty.Equals(cty.Number):
		return cty.Zero
	case ty.Equals(cty.Bool):
		return cty.False
	case ty.IsListType():
		return cty.ListValEmpty(ty.ElementType())
	}
	return cty.NullVal(ty)
}

// pick returns the values whose keys schema defines.
func pick(vals map[string]cty.Value, schema *proto.Schema) map[string]cty.Value {
	out := make(map[string]cty.Value)
	if schema == nil {
		return out
	}
	for k, v := range vals {
		if _, ok := schema.Field(k); ok {
			out[k] = v
		}
	}
	return out
}

func objectOf(vals map[string]cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vals)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
