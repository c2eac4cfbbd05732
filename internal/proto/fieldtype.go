package proto

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/zclconf/go-cty/cty"
)

// Kind is the scalar kind of a field.
type Kind int

const (
	KindString Kind = iota
	KindPath
	KindBool
	KindInt
	KindFloat
	KindCategory
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "str"
	case KindPath:
		return "path"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindCategory:
		return "category"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// FieldType is a parsed field spec such as `int_list(1,inf)` or
// `{relu,tanh,softmax}?`.
type FieldType struct {
	Kind Kind
	// List means the value is a comma separated list of Kind.
	List bool
	// Schedule means the value is a per-epoch schedule of Kind
	// (value*epochs|value*epochs). Only int and float support it.
	Schedule bool
	Optional bool
	Min, Max float64
	Choices  []string
}

// ParseFieldType parses a field spec.
func ParseFieldType(spec string) (FieldType, error) {
	s := strings.TrimSpace(spec)
	ft := FieldType{Min: math.Inf(-1), Max: math.Inf(1)}

	if strings.HasSuffix(s, "?") {
		ft.Optional = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "?"))
	}
	if s == "" {
		return ft, fmt.Errorf("empty field type")
	}

	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return ft, fmt.Errorf("unterminated category in %q", spec)
		}
		ft.Kind = KindCategory
		for _, c := range cfgfile.SplitList(s[1:end]) {
			if c == "" {
				return ft, fmt.Errorf("empty category choice in %q", spec)
			}
			ft.Choices = append(ft.Choices, c)
		}
		if len(ft.Choices) == 0 {
			return ft, fmt.Errorf("category without choices in %q", spec)
		}
		switch rest := s[end+1:]; rest {
		case "":
		case "_list":
			ft.List = true
		default:
			return ft, fmt.Errorf("unexpected %q after category in %q", rest, spec)
		}
		return ft, nil
	}

	name, args := s, ""
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return ft, fmt.Errorf("unterminated bounds in %q", spec)
		}
		name, args = s[:open], s[open+1:len(s)-1]
	}
	switch {
	case strings.HasSuffix(name, "_list"):
		ft.List = true
		name = strings.TrimSuffix(name, "_list")
	case strings.HasSuffix(name, "_schedule"):
		ft.Schedule = true
		name = strings.TrimSuffix(name, "_schedule")
	}

	switch name {
	case "str":
		ft.Kind = KindString
	case "path":
		ft.Kind = KindPath
	case "bool":
		ft.Kind = KindBool
	case "int":
		ft.Kind = KindInt
	case "float":
		ft.Kind = KindFloat
	default:
		return ft, fmt.Errorf("unknown field type %q", name)
	}

	if ft.Schedule && ft.Kind != KindInt && ft.Kind != KindFloat {
		return ft, fmt.Errorf("%s does not support schedules", ft.Kind)
	}

	if args != "" {
		if ft.Kind != KindInt && ft.Kind != KindFloat {
			return ft, fmt.Errorf("%s does not take bounds", ft.Kind)
		}
		bounds := cfgfile.SplitList(args)
		if len(bounds) != 2 {
			return ft, fmt.Errorf("bounds of %q must be (min,max)", spec)
		}
		var err error
		if ft.Min, err = parseBound(bounds[0]); err != nil {
			return ft, err
		}
		if ft.Max, err = parseBound(bounds[1]); err != nil {
			return ft, err
		}
		if ft.Min > ft.Max {
			return ft, fmt.Errorf("lower bound %s exceeds upper bound %s", bounds[0], bounds[1])
		}
	}
	return ft, nil
}

func parseBound(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bound %q", s)
	}
	return f, nil
}

// String renders the spec back in its source form.
func (t FieldType) String() string {
	var b strings.Builder
	if t.Kind == KindCategory {
		b.WriteString("{" + strings.Join(t.Choices, ",") + "}")
	} else {
		b.WriteString(t.Kind.String())
	}
	if t.List {
		b.WriteString("_list")
	}
	if t.Schedule {
		b.WriteString("_schedule")
	}
	if (t.Kind == KindInt || t.Kind == KindFloat) && (!math.IsInf(t.Min, -1) || !math.IsInf(t.Max, 1)) {
		b.WriteString("(" + formatBound(t.Min) + "," + formatBound(t.Max) + ")")
	}
	if t.Optional {
		b.WriteString("?")
	}
	return b.String()
}

func formatBound(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CtyType is the cty type values of this field convert to. Schedules keep
// their compact source string.
func (t FieldType) CtyType() cty.Type {
	var elem cty.Type
	switch t.Kind {
	case KindBool:
		elem = cty.Bool
	case KindInt, KindFloat:
		elem = cty.Number
	default:
		elem = cty.String
	}
	switch {
	case t.Schedule:
		return cty.String
	case t.List:
		return cty.List(elem)
	}
	return elem
}

// Convert parses raw according to the field type, applying range and
// category checks.
func (t FieldType) Convert(raw string) (cty.Value, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case t.Schedule:
		sched, err := ParseSchedule(raw)
		if err != nil {
			return cty.NilVal, err
		}
		for _, step := range sched {
			if _, err := t.scalar(step.Raw); err != nil {
				return cty.NilVal, err
			}
		}
		return cty.StringVal(raw), nil
	case t.List:
		parts := cfgfile.SplitList(raw)
		if len(parts) == 0 {
			return cty.ListValEmpty(t.CtyType().ElementType()), nil
		}
		vals := make([]cty.Value, len(parts))
		for i, p := range parts {
			v, err := t.scalar(p)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i+1, err)
			}
			vals[i] = v
		}
		return cty.ListVal(vals), nil
	}
	return t.scalar(raw)
}

func (t FieldType) scalar(raw string) (cty.Value, error) {
	switch t.Kind {
	case KindBool:
		b, err := cfgfile.ParseBool(raw)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.BoolVal(b), nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cty.NilVal, fmt.Errorf("invalid integer %q", raw)
		}
		if err := t.checkRange(float64(n), raw); err != nil {
			return cty.NilVal, err
		}
		return cty.NumberIntVal(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) {
			return cty.NilVal, fmt.Errorf("invalid number %q", raw)
		}
		if err := t.checkRange(f, raw); err != nil {
			return cty.NilVal, err
		}
		if math.IsInf(f, 0) {
			return cty.NilVal, fmt.Errorf("invalid number %q", raw)
		}
		return cty.NumberFloatVal(f), nil
	case KindCategory:
		for _, c := range t.Choices {
			if c == raw {
				return cty.StringVal(raw), nil
			}
		}
		return cty.NilVal, fmt.Errorf("%q is not one of {%s}", raw, strings.Join(t.Choices, ","))
	case KindPath:
		if raw == "" {
			return cty.NilVal, fmt.Errorf("empty path")
		}
	}
	return cty.StringVal(raw), nil
}

func (t FieldType) checkRange(f float64, raw string) error {
	if f < t.Min || f > t.Max {
		return fmt.Errorf("%s is outside the range [%s, %s]", raw, formatBound(t.Min), formatBound(t.Max))
	}
	return nil
}
