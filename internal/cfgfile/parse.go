package cfgfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
)

// ParseFile reads and parses the configuration file at path.
func ParseFile(path string) (*File, hcl.Diagnostics) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Failed to read file",
			Detail:   fmt.Sprintf("The configuration file %q could not be read: %s.", path, err),
		}}
	}
	return Parse(src, path)
}

// Parse parses src into a File. The returned file is usable even when
// diagnostics contain errors; malformed lines are skipped.
func Parse(src []byte, filename string) (*File, hcl.Diagnostics) {
	p := &parser{
		file:     &File{Filename: filename, src: src},
		filename: filename,
	}
	p.run(src)
	return p.file, p.diags
}

type parser struct {
	file     *File
	filename string
	diags    hcl.Diagnostics

	section  *Section
	entry    *Entry
	comments []string

	// raw is the line being parsed; columns count its runes.
	raw string
}

func (p *parser) run(src []byte) {
	offset := 0
	lineNo := 0
	for offset <= len(src) {
		lineNo++
		end := bytes.IndexByte(src[offset:], '\n')
		var raw []byte
		next := 0
		if end < 0 {
			raw = src[offset:]
			next = len(src) + 1
		} else {
			raw = src[offset : offset+end]
			next = offset + end + 1
		}
		raw = bytes.TrimSuffix(raw, []byte{'\r'})
		p.raw = string(raw)
		p.line(p.raw, lineNo, offset)
		offset = next
	}
	p.file.Trailing = p.comments
}

func (p *parser) line(raw string, lineNo, offset int) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return
	}
	lead := len(raw) - len(strings.TrimLeft(raw, " \t"))
	textRange := p.rangeOf(lineNo, offset, lead, lead+len(trimmed))

	if trimmed[0] == '#' || trimmed[0] == ';' {
		p.comments = append(p.comments, trimmed)
		return
	}

	if lead > 0 && p.entry != nil {
		p.entry.Lines = append(p.entry.Lines, Line{Text: trimmed, Range: textRange})
		p.entry.Value = joinLines(p.entry.Lines)
		p.entry.Range = hcl.RangeBetween(p.entry.Range, textRange)
		return
	}

	if trimmed[0] == '[' {
		p.header(trimmed, textRange)
		return
	}

	p.keyValue(trimmed, lead, lineNo, offset, textRange)
}

func (p *parser) header(trimmed string, rng hcl.Range) {
	p.entry = nil
	if !strings.HasSuffix(trimmed, "]") {
		p.errorf(rng, "Invalid section header", "A section header must have the form [name], got %q.", trimmed)
		p.section = nil
		return
	}
	name := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if name == "" {
		p.errorf(rng, "Invalid section header", "Section names must not be empty.")
		p.section = nil
		return
	}
	if prev := p.file.Section(name); prev != nil {
		p.errorf(rng, "Duplicate section", "The section [%s] was already defined at line %d.", name, prev.Range.Start.Line)
		p.section = nil
		return
	}
	p.section = &Section{Name: name, Range: rng, Comments: p.takeComments()}
	p.file.Sections = append(p.file.Sections, p.section)
}

func (p *parser) keyValue(trimmed string, lead, lineNo, offset int, rng hcl.Range) {
	p.entry = nil
	if p.section == nil {
		if len(p.file.Sections) == 0 {
			p.errorf(rng, "Missing section header", "Entries must follow a [section] header.")
		}
		// Entries of a rejected section are dropped silently; the header
		// already produced a diagnostic.
		return
	}

	idx := strings.IndexAny(trimmed, "=:")
	if idx < 0 {
		p.errorf(rng, "Invalid entry", "Expected key=value or key:value, got %q.", trimmed)
		return
	}
	key := strings.TrimSpace(trimmed[:idx])
	if key == "" {
		p.errorf(rng, "Invalid entry", "The key before %q must not be empty.", string(trimmed[idx]))
		return
	}
	if prev := p.section.Get(key); prev != nil {
		p.errorf(rng, "Duplicate key", "The key %q is already defined in [%s] at line %d.", key, p.section.Name, prev.KeyRange.Start.Line)
		return
	}

	rest := trimmed[idx+1:]
	value := strings.TrimSpace(rest)
	keyStart := lead
	keyEnd := keyStart + len(strings.TrimRight(trimmed[:idx], " \t"))

	e := &Entry{
		Key:      key,
		Comments: p.takeComments(),
		KeyRange: p.rangeOf(lineNo, offset, keyStart, keyEnd),
		Range:    rng,
	}
	if value != "" {
		valueStart := lead + idx + 1 + (len(rest) - len(strings.TrimLeft(rest, " \t")))
		e.Lines = []Line{{Text: value, Range: p.rangeOf(lineNo, offset, valueStart, valueStart+len(value))}}
		e.Value = value
	}
	p.section.Entries = append(p.section.Entries, e)
	p.entry = e
}

func (p *parser) takeComments() []string {
	c := p.comments
	p.comments = nil
	return c
}

// rangeOf returns the range of the byte offsets [start, end) of the current
// line.
func (p *parser) rangeOf(lineNo, lineOffset, start, end int) hcl.Range {
	return hcl.Range{
		Filename: p.filename,
		Start:    hcl.Pos{Line: lineNo, Column: utf8.RuneCountInString(p.raw[:start]) + 1, Byte: lineOffset + start},
		End:      hcl.Pos{Line: lineNo, Column: utf8.RuneCountInString(p.raw[:end]) + 1, Byte: lineOffset + end},
	}
}

func (p *parser) errorf(rng hcl.Range, summary, detail string, args ...any) {
	p.diags = append(p.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(detail, args...),
		Subject:  rng.Ptr(),
	})
}

func joinLines(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}
