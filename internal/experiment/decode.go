package experiment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/zclconf/go-cty/cty"
)

const (
	// DefaultProto is used when the file has no [cfg_proto] section.
	DefaultProto = "global.proto"

	DatasetPrefix      = "dataset"
	ArchitecturePrefix = "architecture"
)

// RequiredSections must appear exactly once in every file.
var RequiredSections = []string{"exp", "data_use", "batches", "model", "forward", "decoding"}

type decoder struct {
	file   *cfgfile.File
	protos *proto.Set
	global *proto.Proto
	x      *Experiment
	diags  hcl.Diagnostics
}

// Decode builds the typed experiment from a parsed file. The returned
// experiment is never nil; when diagnostics contain errors it is only
// partially populated.
func Decode(f *cfgfile.File, protos *proto.Set) (*Experiment, hcl.Diagnostics) {
	d := &decoder{
		file:   f,
		protos: protos,
		x: &Experiment{
			File:   f,
			Values: make(map[string]map[string]cty.Value),
			types:  make(map[string]map[string]proto.FieldType),
		},
	}
	d.run()
	return d.x, d.diags
}

// ProtoRef returns the global proto named by [cfg_proto] cfg_proto, or
// DefaultProto, and the range to report lookup problems at.
func ProtoRef(f *cfgfile.File) (string, hcl.Range) {
	if s := f.Section("cfg_proto"); s != nil {
		if e := s.Get("cfg_proto"); e != nil && e.Value != "" {
			return e.Value, e.ValueRange()
		}
	}
	return DefaultProto, fileStart(f.Filename)
}

// SchemaFor returns the schema of g that types section: the family schema
// for numbered sections, the schema of the same name otherwise.
func SchemaFor(g *proto.Proto, section string) *proto.Schema {
	for _, prefix := range []string{DatasetPrefix, ArchitecturePrefix} {
		if isFamily(section, prefix) {
			return g.Schema(prefix)
		}
	}
	return g.Schema(section)
}

func (d *decoder) run() {
	ref, refRange := ProtoRef(d.file)
	g, diags := d.protos.Lookup(ref)
	d.diags = append(d.diags, withSubject(diags, refRange)...)
	if g == nil {
		return
	}
	d.global = g

	d.checkStructure()

	for _, s := range d.file.Sections {
		switch {
		case s.Name == "cfg_proto":
			d.decodeSection(s, &d.x.CfgProto)
		case s.Name == "exp":
			d.decodeSection(s, &d.x.Exp)
		case s.Name == "data_use":
			d.decodeSection(s, &d.x.DataUse)
		case s.Name == "batches":
			d.decodeSection(s, &d.x.Batches)
			d.x.Batches.BatchSizeTrain = schedule(d.x.Batches.BatchSizeTrainRaw)
			d.x.Batches.MaxSeqLengthTrain = schedule(d.x.Batches.MaxSeqLengthTrainRaw)
		case s.Name == "model":
			d.decodeSection(s, &d.x.Model)
			d.x.Model.Entry = s.Get("model")
		case s.Name == "forward":
			d.decodeSection(s, &d.x.Forward)
		case s.Name == "decoding":
			d.decodeSection(s, &d.x.Decoding)
		case isFamily(s.Name, DatasetPrefix):
			d.decodeDataset(s)
		case isFamily(s.Name, ArchitecturePrefix):
			d.decodeArchitecture(s)
		case g.Schema(s.Name) != nil:
			d.decodeSection(s, nil)
		default:
			d.diags = append(d.diags, &hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Unknown section",
				Detail:   fmt.Sprintf("The section [%s] is not defined by %s.", s.Name, g.Name),
				Subject:  s.Range.Ptr(),
			})
		}
	}
}

func (d *decoder) checkStructure() {
	for _, name := range RequiredSections {
		if d.file.Section(name) == nil {
			d.diags = append(d.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Missing section",
				Detail:   fmt.Sprintf("The configuration must contain a [%s] section.", name),
				Subject:  fileStart(d.file.Filename).Ptr(),
			})
		}
	}
	for _, prefix := range []string{DatasetPrefix, ArchitecturePrefix} {
		family := d.file.Family(prefix)
		if len(family) == 0 {
			d.diags = append(d.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Missing section",
				Detail:   fmt.Sprintf("The configuration must contain at least one [%s1] section.", prefix),
				Subject:  fileStart(d.file.Filename).Ptr(),
			})
			continue
		}
		for i, s := range family {
			n, _ := cfgfile.FamilyIndex(s.Name, prefix)
			if n != i+1 {
				d.diags = append(d.diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Non-contiguous numbering",
					Detail:   fmt.Sprintf("Expected [%s%d] but found [%s]; %s sections must be numbered 1, 2, 3, ...", prefix, i+1, s.Name, prefix),
					Subject:  s.Range.Ptr(),
				})
				break
			}
		}
	}
}

func (d *decoder) scope(s *cfgfile.Section) *scope {
	typed := make(map[string]proto.FieldType)
	d.x.types[s.Name] = typed
	return &scope{name: "[" + s.Name + "]", rng: s.Range, typed: typed}
}

// decodeSection decodes s against the global schema of the same name and,
// when target is non-nil, populates it.
func (d *decoder) decodeSection(s *cfgfile.Section, target any) map[string]cty.Value {
	sc := d.scope(s)
	vals, diags := sc.decodeItems(sectionItems(s), d.global.Schema(s.Name))
	d.diags = append(d.diags, diags...)
	if target != nil {
		d.diags = append(d.diags, populate(vals, target, sc)...)
	}
	d.x.Values[s.Name] = vals
	return vals
}

func (d *decoder) decodeDataset(s *cfgfile.Section) {
	sc := d.scope(s)
	ds := &Dataset{Section: s.Name, Range: s.Range}
	vals, diags := sc.decodeItems(sectionItems(s), d.global.Schema(DatasetPrefix))
	d.diags = append(d.diags, diags...)
	d.diags = append(d.diags, populate(vals, ds, sc)...)

	if e := s.Get("fea"); e != nil {
		var tuple []cty.Value
		ds.Features, tuple = decodeBlocks[Feature](d, s, e, "fea_name", "feature", d.global.Schema(DatasetPrefix+".fea"))
		vals["fea"] = tupleOf(tuple)
	}
	if e := s.Get("lab"); e != nil {
		var tuple []cty.Value
		ds.Labels, tuple = decodeBlocks[Label](d, s, e, "lab_name", "label", d.global.Schema(DatasetPrefix+".lab"))
		vals["lab"] = tupleOf(tuple)
	}

	d.x.Values[s.Name] = vals
	d.x.Datasets = append(d.x.Datasets, ds)
}

// decodeBlocks decodes each block of a compound value into a T. Block names
// must be unique within the value.
func decodeBlocks[T any](d *decoder, s *cfgfile.Section, e *cfgfile.Entry, lead, what string, schema *proto.Schema) ([]*T, []cty.Value) {
	blocks, diags := cfgfile.ParseBlocks(e, lead)
	d.diags = append(d.diags, diags...)

	var out []*T
	var objs []cty.Value
	seen := make(map[string]hcl.Range)
	for _, b := range blocks {
		if prev, dup := seen[b.Name]; dup {
			d.diags = append(d.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate " + what,
				Detail:   fmt.Sprintf("The %s %q is defined twice in [%s] (first at line %d).", what, b.Name, s.Name, prev.Start.Line),
				Subject:  b.Range.Ptr(),
			})
			continue
		}
		seen[b.Name] = b.Range

		sc := &scope{name: fmt.Sprintf("%s %q of [%s]", what, b.Name, s.Name), rng: b.Range}
		vals, bd := sc.decodeItems(blockItems(b), schema)
		d.diags = append(d.diags, bd...)

		t := new(T)
		d.diags = append(d.diags, populate(vals, t, sc)...)
		setRange(t, b.Range)
		out = append(out, t)
		objs = append(objs, objectOf(vals))
	}
	return out, objs
}

func setRange(v any, rng hcl.Range) {
	switch t := v.(type) {
	case *Feature:
		t.Range = rng
	case *Label:
		t.Range = rng
	}
}

func (d *decoder) decodeArchitecture(s *cfgfile.Section) {
	sc := d.scope(s)
	arch := &Architecture{Section: s.Name, Range: s.Range}
	archSchema := d.lookupSchema(s, "arch_proto", "")
	optSchema := d.lookupSchema(s, "arch_opt", ".proto")

	vals, diags := sc.decodeItems(sectionItems(s), d.global.Schema(ArchitecturePrefix), archSchema, optSchema)
	d.diags = append(d.diags, diags...)
	d.diags = append(d.diags, populate(vals, arch, sc)...)

	arch.LR = schedule(arch.LRRaw)
	arch.Params = pick(vals, archSchema)
	arch.OptParams = pick(vals, optSchema)

	d.x.Values[s.Name] = vals
	d.x.Architectures = append(d.x.Architectures, arch)
}

// lookupSchema resolves the proto named by key (plus suffix) and returns
// its [proto] schema. Values that already fail the global type check are
// not looked up, so they are reported once.
func (d *decoder) lookupSchema(s *cfgfile.Section, key, suffix string) *proto.Schema {
	e := s.Get(key)
	if e == nil || strings.TrimSpace(e.Value) == "" {
		return nil
	}
	if gs := d.global.Schema(ArchitecturePrefix); gs != nil {
		if f, ok := gs.Field(key); ok {
			if _, err := f.Type.Convert(e.Value); err != nil {
				return nil
			}
		}
	}
	p, diags := d.protos.Lookup(strings.TrimSpace(e.Value) + suffix)
	d.diags = append(d.diags, withSubject(diags, e.ValueRange())...)
	if p == nil {
		return nil
	}
	return p.Schema("proto")
}

func schedule(raw string) proto.Schedule {
	if raw == "" {
		return nil
	}
	s, err := proto.ParseSchedule(raw)
	if err != nil {
		return nil
	}
	return s
}

func isFamily(name, prefix string) bool {
	_, ok := cfgfile.FamilyIndex(name, prefix)
	return ok
}

func tupleOf(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vals)
}

// withSubject copies diags, pointing those without a subject at rng. The
// originals may be shared through the proto cache and are not modified.
func withSubject(diags hcl.Diagnostics, rng hcl.Range) hcl.Diagnostics {
	out := make(hcl.Diagnostics, 0, len(diags))
	for _, diag := range diags {
		c := *diag
		if c.Subject == nil {
			c.Subject = rng.Ptr()
		}
		out = append(out, &c)
	}
	return out
}

func fileStart(filename string) hcl.Range {
	return hcl.Range{
		Filename: filename,
		Start:    hcl.InitialPos,
		End:      hcl.InitialPos,
	}
}

// sortedUnique returns the distinct non-empty strings of in, sorted.
func sortedUnique(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
