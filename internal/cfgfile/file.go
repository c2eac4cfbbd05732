package cfgfile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// File is an ordered, position-annotated configuration file.
type File struct {
	Filename string
	Sections []*Section
	// Trailing holds comment lines found after the last entry.
	Trailing []string

	src []byte
}

// Section is a `[name]` block and the entries that follow it.
type Section struct {
	Name     string
	Comments []string
	Range    hcl.Range
	Entries  []*Entry
}

// Entry is a single key/value pair. Multi-line values keep one Line per
// physical line so that each of them can be addressed in diagnostics.
type Entry struct {
	Key      string
	Value    string
	Comments []string

	Range    hcl.Range
	KeyRange hcl.Range
	Lines    []Line
}

// Line is one physical line of a value.
type Line struct {
	Text  string
	Range hcl.Range
}

// HCLFile wraps the source bytes so diagnostics can be rendered with
// source snippets by hcl.NewDiagnosticTextWriter.
func (f *File) HCLFile() *hcl.File {
	return &hcl.File{Bytes: f.src}
}

// Section returns the section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddSection appends a new empty section, or returns the existing one.
func (f *File) AddSection(name string) *Section {
	if s := f.Section(name); s != nil {
		return s
	}
	s := &Section{Name: name}
	f.Sections = append(f.Sections, s)
	return s
}

// RemoveSection deletes the named section and reports whether it existed.
func (f *File) RemoveSection(name string) bool {
	for i, s := range f.Sections {
		if s.Name == name {
			f.Sections = append(f.Sections[:i], f.Sections[i+1:]...)
			return true
		}
	}
	return false
}

// Family returns the numbered sections sharing a prefix (dataset1,
// dataset2, ...) ordered by their numeric suffix.
func (f *File) Family(prefix string) []*Section {
	var out []*Section
	for _, s := range f.Sections {
		if _, ok := FamilyIndex(s.Name, prefix); ok {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := FamilyIndex(out[i].Name, prefix)
		b, _ := FamilyIndex(out[j].Name, prefix)
		return a < b
	})
	return out
}

// FamilyIndex extracts N from a section name of the form <prefix>N.
func FamilyIndex(name, prefix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy of the file. Source ranges are preserved.
func (f *File) Clone() *File {
	out := &File{
		Filename: f.Filename,
		Trailing: append([]string(nil), f.Trailing...),
		src:      f.src,
	}
	for _, s := range f.Sections {
		cs := &Section{
			Name:     s.Name,
			Comments: append([]string(nil), s.Comments...),
			Range:    s.Range,
		}
		for _, e := range s.Entries {
			ce := *e
			ce.Comments = append([]string(nil), e.Comments...)
			ce.Lines = append([]Line(nil), e.Lines...)
			cs.Entries = append(cs.Entries, &ce)
		}
		out.Sections = append(out.Sections, cs)
	}
	return out
}

// Get returns the entry for key (case-insensitive), or nil.
func (s *Section) Get(key string) *Entry {
	for _, e := range s.Entries {
		if strings.EqualFold(e.Key, key) {
			return e
		}
	}
	return nil
}

// Value returns the value for key and whether it is present.
func (s *Section) Value(key string) (string, bool) {
	e := s.Get(key)
	if e == nil {
		return "", false
	}
	return e.Value, true
}

// Set replaces the value of an existing key or appends a new entry.
// Blank lines in value are dropped, as they would be when parsing.
func (s *Section) Set(key, value string) *Entry {
	lines := splitValueLines(value)
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}

	e := s.Get(key)
	if e == nil {
		e = &Entry{Key: key}
		s.Entries = append(s.Entries, e)
	}
	e.Value = strings.Join(texts, "\n")
	e.Lines = lines
	return e
}

// Delete removes key and reports whether it was present.
func (s *Section) Delete(key string) bool {
	for i, e := range s.Entries {
		if strings.EqualFold(e.Key, key) {
			s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Keys returns the keys in file order.
func (s *Section) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// ValueRange is the range covering every line of the value, or the key
// range when the value is empty.
func (e *Entry) ValueRange() hcl.Range {
	if len(e.Lines) == 0 {
		return e.KeyRange
	}
	first, last := e.Lines[0].Range, e.Lines[len(e.Lines)-1].Range
	if first.Filename == "" {
		return e.KeyRange
	}
	return hcl.RangeBetween(first, last)
}

func splitValueLines(value string) []Line {
	var out []Line
	for _, raw := range strings.Split(value, "\n") {
		if t := strings.TrimSpace(raw); t != "" {
			out = append(out, Line{Text: t})
		}
	}
	return out
}
