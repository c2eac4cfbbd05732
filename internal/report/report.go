// Package report renders validation reports for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/validate"
)

// Diagnostic is the JSON form of an hcl.Diagnostic.
type Diagnostic struct {
	Severity string `json:"severity"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail,omitempty"`
	Range    *Range `json:"range,omitempty"`
}

// Range locates a diagnostic in its file. Lines and columns are 1-based.
type Range struct {
	Filename    string `json:"filename"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
}

// Summary is the JSON form of a validation report.
type Summary struct {
	File        string       `json:"file"`
	Valid       bool         `json:"valid"`
	Errors      int          `json:"errors"`
	Warnings    int          `json:"warnings"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Summarize converts r to its JSON form.
func Summarize(r *validate.Report) Summary {
	errs, warnings := r.Counts()
	s := Summary{
		File:        r.Filename,
		Valid:       errs == 0,
		Errors:      errs,
		Warnings:    warnings,
		Diagnostics: make([]Diagnostic, 0, len(r.Diagnostics)),
	}
	for _, d := range r.Diagnostics {
		s.Diagnostics = append(s.Diagnostics, convert(d))
	}
	return s
}

func convert(d *hcl.Diagnostic) Diagnostic {
	out := Diagnostic{
		Severity: Severity(d.Severity),
		Summary:  d.Summary,
		Detail:   d.Detail,
	}
	if d.Subject != nil {
		out.Range = &Range{
			Filename:    d.Subject.Filename,
			StartLine:   d.Subject.Start.Line,
			StartColumn: d.Subject.Start.Column,
			EndLine:     d.Subject.End.Line,
			EndColumn:   d.Subject.End.Column,
		}
	}
	return out
}

// Severity names a diagnostic severity.
func Severity(s hcl.DiagnosticSeverity) string {
	switch s {
	case hcl.DiagError:
		return "error"
	case hcl.DiagWarning:
		return "warning"
	}
	return "invalid"
}

// WriteJSON writes the reports as a JSON array.
func WriteJSON(w io.Writer, reports []*validate.Report) error {
	out := make([]Summary, len(reports))
	for i, r := range reports {
		out[i] = Summarize(r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// TextOptions controls WriteText.
type TextOptions struct {
	// Width wraps diagnostic details; 0 disables wrapping.
	Width uint
	Color bool
	// Quiet suppresses warnings.
	Quiet bool
}

// WriteText writes each diagnostic with a source snippet, followed by one
// summary line per report.
func WriteText(w io.Writer, reports []*validate.Report, opts TextOptions) error {
	files := make(map[string]*hcl.File, len(reports))
	for _, r := range reports {
		if r.File != nil {
			files[r.File.Filename] = r.File.HCLFile()
		}
	}
	dw := hcl.NewDiagnosticTextWriter(w, files, opts.Width, opts.Color)

	for _, r := range reports {
		diags := r.Diagnostics
		if opts.Quiet {
			diags = errorsOnly(diags)
		}
		if err := dw.WriteDiagnostics(diags); err != nil {
			return err
		}
	}
	for _, r := range reports {
		errs, warnings := r.Counts()
		status := "ok"
		if errs > 0 {
			status = "invalid"
		}
		if _, err := fmt.Fprintf(w, "%s: %s (%s, %s)\n", r.Filename, status, plural(errs, "error"), plural(warnings, "warning")); err != nil {
			return err
		}
	}
	return nil
}

func errorsOnly(diags hcl.Diagnostics) hcl.Diagnostics {
	var out hcl.Diagnostics
	for _, d := range diags {
		if d.Severity == hcl.DiagError {
			out = append(out, d)
		}
	}
	return out
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
