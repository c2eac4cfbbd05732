package cfgfile

import (
	"bufio"
	"bytes"
	"io"
)

// Write serializes f in canonical form: `key = value`, continuation lines
// indented with a tab, and a blank line between sections. Comments are
// written back above the section or entry they preceded.
//
// Parsing the output of Write yields the same sections, keys and values.
func Write(w io.Writer, f *File) error {
	bw := bufio.NewWriter(w)
	for i, s := range f.Sections {
		if i > 0 {
			bw.WriteByte('\n')
		}
		writeComments(bw, s.Comments)
		bw.WriteString("[" + s.Name + "]\n")
		for _, e := range s.Entries {
			writeComments(bw, e.Comments)
			writeEntry(bw, e)
		}
	}
	if len(f.Trailing) > 0 {
		if len(f.Sections) > 0 {
			bw.WriteByte('\n')
		}
		writeComments(bw, f.Trailing)
	}
	return bw.Flush()
}

// Bytes returns the canonical serialization of f.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	_ = Write(&buf, f)
	return buf.Bytes()
}

func writeComments(w *bufio.Writer, comments []string) {
	for _, c := range comments {
		w.WriteString(c)
		w.WriteByte('\n')
	}
}

func writeEntry(w *bufio.Writer, e *Entry) {
	lines := e.Lines
	if len(lines) == 0 && e.Value != "" {
		lines = splitValueLines(e.Value)
	}
	if len(lines) == 0 {
		w.WriteString(e.Key + " =\n")
		return
	}
	w.WriteString(e.Key + " = " + lines[0].Text + "\n")
	for _, l := range lines[1:] {
		w.WriteString("\t" + l.Text + "\n")
	}
}
