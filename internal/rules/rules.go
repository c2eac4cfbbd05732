// Package rules checks that related list-valued keys have matching
// lengths. Rules are declared in TOML rule packs; a default pack is
// embedded and users can append their own.
package rules

import (
	_ "embed"
	"fmt"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
)

//go:embed default.toml
var defaultPack string

// Pack is a set of rules.
type Pack struct {
	Arity []ArityRule `toml:"arity"`
}

// ArityRule ties the length of member lists to the length of a lead list.
//
// Section and Lead are glob patterns (path.Match syntax). When Members is
// empty, the members are every list-valued key sharing the lead key's
// prefix up to and including its last underscore.
type ArityRule struct {
	Section     string   `toml:"section"`
	Lead        string   `toml:"lead"`
	Members     []string `toml:"members"`
	Description string   `toml:"description"`
}

// ListFunc reports whether key holds a list in section.
type ListFunc func(section *cfgfile.Section, key string) bool

// Default returns the embedded rule pack.
func Default() *Pack {
	p, err := parse(defaultPack, "default.toml")
	if err != nil {
		panic(err)
	}
	return p
}

// LoadFile reads a rule pack. Unknown keys are rejected.
func LoadFile(filename string) (*Pack, error) {
	var p Pack
	md, err := toml.DecodeFile(filename, &p)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", filename, err)
	}
	if err := checkPack(&p, md, filename); err != nil {
		return nil, err
	}
	return &p, nil
}

func parse(src, name string) (*Pack, error) {
	var p Pack
	md, err := toml.Decode(src, &p)
	if err != nil {
		return nil, fmt.Errorf("reading rules %s: %w", name, err)
	}
	if err := checkPack(&p, md, name); err != nil {
		return nil, err
	}
	return &p, nil
}

func checkPack(p *Pack, md toml.MetaData, name string) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("rules %s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	for i, r := range p.Arity {
		if r.Section == "" || r.Lead == "" {
			return fmt.Errorf("rules %s: arity rule %d needs section and lead", name, i+1)
		}
		for _, pat := range append([]string{r.Section, r.Lead}, r.Members...) {
			if _, err := path.Match(pat, ""); err != nil {
				return fmt.Errorf("rules %s: arity rule %d: bad pattern %q", name, i+1, pat)
			}
		}
	}
	return nil
}

// Merge returns a pack containing the rules of p followed by other's.
func (p *Pack) Merge(other *Pack) *Pack {
	out := &Pack{}
	out.Arity = append(append(out.Arity, p.Arity...), other.Arity...)
	return out
}

// Check applies every arity rule to f.
func (p *Pack) Check(f *cfgfile.File, isList ListFunc) hcl.Diagnostics {
	var diags hcl.Diagnostics
	for _, r := range p.Arity {
		for _, s := range f.Sections {
			if ok, _ := path.Match(r.Section, s.Name); !ok {
				continue
			}
			diags = append(diags, r.check(s, isList)...)
		}
	}
	return diags
}

func (r ArityRule) check(s *cfgfile.Section, isList ListFunc) hcl.Diagnostics {
	var diags hcl.Diagnostics
	for _, lead := range s.Entries {
		if !matchKey(r.Lead, lead.Key) {
			continue
		}
		want := len(cfgfile.SplitList(lead.Value))
		for _, m := range r.members(s, lead.Key, isList) {
			got := len(cfgfile.SplitList(m.Value))
			if got == want {
				continue
			}
			detail := fmt.Sprintf("%q has %d elements but %q has %d.", m.Key, got, lead.Key, want)
			if r.Description != "" {
				detail = fmt.Sprintf("%s In [%s], %s.", detail, s.Name, r.Description)
			}
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "List length mismatch",
				Detail:   detail,
				Subject:  m.ValueRange().Ptr(),
				Context:  hcl.RangeOver(lead.Range, m.Range).Ptr(),
			})
		}
	}
	return diags
}

func (r ArityRule) members(s *cfgfile.Section, leadKey string, isList ListFunc) []*cfgfile.Entry {
	var out []*cfgfile.Entry
	if len(r.Members) > 0 {
		for _, e := range s.Entries {
			if strings.EqualFold(e.Key, leadKey) {
				continue
			}
			for _, pat := range r.Members {
				if matchKey(pat, e.Key) {
					out = append(out, e)
					break
				}
			}
		}
		return out
	}

	i := strings.LastIndexByte(leadKey, '_')
	if i < 0 {
		return nil
	}
	prefix := strings.ToLower(leadKey[:i+1])
	for _, e := range s.Entries {
		if strings.EqualFold(e.Key, leadKey) || !strings.HasPrefix(strings.ToLower(e.Key), prefix) {
			continue
		}
		if isList == nil || isList(s, e.Key) {
			out = append(out, e)
		}
	}
	return out
}

// matchKey matches a key against a pattern ignoring case, as key lookups do.
func matchKey(pattern, key string) bool {
	ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(key))
	return ok
}
