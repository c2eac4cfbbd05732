package netgraph

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/pkcfg/internal/cfgfile"
)

// Statement is one `out=op(args)` line of the wiring program.
type Statement struct {
	Out      string
	Expr     hclsyntax.Expression
	Text     string
	Range    hcl.Range
	OutRange hcl.Range
}

// Ref is a name used by a statement.
type Ref struct {
	Name  string
	Range hcl.Range
}

// ParseProgram parses the lines of the model entry.
func ParseProgram(e *cfgfile.Entry) ([]*Statement, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	var stmts []*Statement
	for _, l := range e.Lines {
		rng := l.Range
		if rng.Start.Line == 0 {
			rng = e.KeyRange
		}
		idx := strings.IndexByte(l.Text, '=')
		if idx < 0 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid model statement",
				Detail:   fmt.Sprintf("Expected out=operation(arguments), got %q.", l.Text),
				Subject:  rng.Ptr(),
			})
			continue
		}
		out := strings.TrimSpace(l.Text[:idx])
		outRange := subRange(rng, l.Text, 0, len(strings.TrimRight(l.Text[:idx], " \t")))
		if !hclsyntax.ValidIdentifier(out) {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid output name",
				Detail:   fmt.Sprintf("%q is not a valid name; use letters, digits, underscores and dashes, starting with a letter.", out),
				Subject:  outRange.Ptr(),
			})
			continue
		}

		rhs := l.Text[idx+1:]
		lead := len(rhs) - len(strings.TrimLeft(rhs, " \t"))
		exprStart := subRange(rng, l.Text, idx+1+lead, idx+1+lead).Start
		expr, exprDiags := hclsyntax.ParseExpression([]byte(strings.TrimSpace(rhs)), rng.Filename, exprStart)
		diags = append(diags, exprDiags...)
		if exprDiags.HasErrors() {
			continue
		}
		if _, ok := expr.(*hclsyntax.FunctionCallExpr); !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid model statement",
				Detail:   fmt.Sprintf("The right-hand side of %q must be an operation such as compute(ARCH,INPUT).", out),
				Subject:  expr.Range().Ptr(),
			})
			continue
		}
		stmts = append(stmts, &Statement{Out: out, Expr: expr, Text: l.Text, Range: rng, OutRange: outRange})
	}
	return stmts, diags
}

// References returns the names used by the statement, sorted, with the
// range of their first use.
func (s *Statement) References() []Ref {
	byName := make(map[string]hcl.Range)
	for _, t := range s.Expr.Variables() {
		name := t.RootName()
		if _, ok := byName[name]; !ok {
			byName[name] = t.SourceRange()
		}
	}
	refs := make([]Ref, 0, len(byName))
	for name, rng := range byName {
		refs = append(refs, Ref{Name: name, Range: rng})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// Operations returns the operator names called by the statement, sorted.
func (s *Statement) Operations() []string {
	set := make(map[string]struct{})
	walkForFunctions(s.Expr, set)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// walkForFunctions collects the function names called anywhere in expr.
func walkForFunctions(expr hclsyntax.Expression, functions map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		functions[e.Name] = struct{}{}
		for _, arg := range e.Args {
			walkForFunctions(arg, functions)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, functions)
		walkForFunctions(e.RHS, functions)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, functions)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, functions)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkForFunctions(item, functions)
		}
	}
}

// subRange narrows the single-line range of text to its byte offsets
// [from, to).
func subRange(rng hcl.Range, text string, from, to int) hcl.Range {
	out := rng
	out.Start = hcl.Pos{Line: rng.Start.Line, Column: rng.Start.Column + utf8.RuneCountInString(text[:from]), Byte: rng.Start.Byte + from}
	out.End = hcl.Pos{Line: rng.Start.Line, Column: rng.Start.Column + utf8.RuneCountInString(text[:to]), Byte: rng.Start.Byte + to}
	return out
}
