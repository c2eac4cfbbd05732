package validate

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/envexpand"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/proto"
)

// envKeys are expanded although their proto type is str, because they
// also accept a keyword (none, auto) instead of a path.
var envKeys = map[string]bool{
	"arch_pretrain_file": true,
	"lab_count_file":     true,
}

// expandEnv returns a copy of f whose path values have their environment
// variable references substituted. Source ranges are kept, so diagnostics
// still point into f.
func (v *Validator) expandEnv(f *cfgfile.File) (*cfgfile.File, hcl.Diagnostics) {
	ref, _ := experiment.ProtoRef(f)
	g, _ := v.Protos.Lookup(ref)
	if g == nil {
		return f, nil
	}

	var diags hcl.Diagnostics
	out := f.Clone()
	for _, s := range out.Sections {
		schema := experiment.SchemaFor(g, s.Name)
		_, isDataset := cfgfile.FamilyIndex(s.Name, experiment.DatasetPrefix)
		for _, e := range s.Entries {
			key := strings.ToLower(e.Key)
			if isDataset && (key == "fea" || key == "lab") {
				diags = append(diags, v.expandBlocks(e, g.Schema(experiment.DatasetPrefix+"."+key))...)
				continue
			}
			if expandable(schema, key) {
				diags = append(diags, v.expandLines(e, func(text string) (string, string) { return "", text })...)
			}
		}
	}
	return out, diags
}

// expandBlocks expands the path fields of a compound fea/lab value.
func (v *Validator) expandBlocks(e *cfgfile.Entry, schema *proto.Schema) hcl.Diagnostics {
	return v.expandLines(e, func(text string) (string, string) {
		k, val, ok := strings.Cut(text, "=")
		if !ok || !expandable(schema, strings.ToLower(strings.TrimSpace(k))) {
			return text, ""
		}
		return k + "=", val
	})
}

// expandLines substitutes variables in every line of e. split separates
// the part of a line kept verbatim from the part to expand.
func (v *Validator) expandLines(e *cfgfile.Entry, split func(string) (string, string)) hcl.Diagnostics {
	var diags hcl.Diagnostics
	changed := false
	for i := range e.Lines {
		l := &e.Lines[i]
		head, val := split(l.Text)
		if !envexpand.HasRefs(val) {
			continue
		}
		expanded, missing := v.Env.Expand(val)
		for _, name := range missing {
			rng := l.Range
			if rng.Filename == "" {
				rng = e.KeyRange
			}
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Undefined environment variable",
				Detail:   fmt.Sprintf("$%s is not set; it expands to an empty string in %s.", name, e.Key),
				Subject:  rng.Ptr(),
			})
		}
		l.Text = head + expanded
		changed = true
	}
	if changed {
		texts := make([]string, len(e.Lines))
		for i, l := range e.Lines {
			texts[i] = l.Text
		}
		e.Value = strings.Join(texts, "\n")
	}
	return diags
}

func expandable(schema *proto.Schema, key string) bool {
	if envKeys[key] {
		return true
	}
	if schema == nil {
		return false
	}
	f, ok := schema.Field(key)
	return ok && f.Type.Kind == proto.KindPath
}
