package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/netgraph"
	"github.com/zclconf/go-cty/cty"
)

// ProgramBlock is the block of the model section holding the wiring
// statements.
const ProgramBlock = "program"

type hclWriter struct {
	x *experiment.Experiment
	g *netgraph.Graph
}

// writeHCL renders each section as a block. Numbered sections become
// labelled blocks named after their data_name or arch_name, compound fea
// and lab values become nested blocks, and the model program becomes a
// block of attributes whose values are function calls.
func writeHCL(w io.Writer, x *experiment.Experiment, g *netgraph.Graph) error {
	hw := &hclWriter{x: x, g: g}
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, s := range x.File.Sections {
		if i > 0 {
			body.AppendNewline()
		}
		if err := hw.section(body, s); err != nil {
			return err
		}
	}
	_, err := w.Write(hclwrite.Format(f.Bytes()))
	return err
}

func (hw *hclWriter) section(body *hclwrite.Body, s *cfgfile.Section) error {
	vals := hw.x.Values[s.Name]
	var block *hclwrite.Block
	skip := map[string]bool{}
	switch {
	case isDataset(s.Name):
		block = body.AppendNewBlock(experiment.DatasetPrefix, []string{labelOf(s, "data_name")})
		skip["data_name"], skip["fea"], skip["lab"] = true, true, true
	case isFamily(s.Name, experiment.ArchitecturePrefix):
		block = body.AppendNewBlock(experiment.ArchitecturePrefix, []string{labelOf(s, "arch_name")})
		skip["arch_name"] = true
	default:
		block = body.AppendNewBlock(s.Name, nil)
	}
	b := block.Body()

	for _, e := range s.Entries {
		key := strings.ToLower(e.Key)
		if skip[key] {
			continue
		}
		if s.Name == "model" && key == "model" && hw.program(b) {
			continue
		}
		if !hclsyntax.ValidIdentifier(key) {
			return fmt.Errorf("[%s] key %q is not a valid HCL attribute name", s.Name, e.Key)
		}
		v, ok := vals[key]
		if !ok || !v.IsWhollyKnown() {
			v = cty.StringVal(e.Value)
		}
		b.SetAttributeValue(key, v)
	}

	if isDataset(s.Name) {
		for _, key := range []string{"fea", "lab"} {
			if e := s.Get(key); e != nil {
				if err := nestedBlocks(b, e, key, blockLeads[key]); err != nil {
					return fmt.Errorf("[%s] %s: %w", s.Name, key, err)
				}
			}
		}
	}
	return nil
}

// program writes the model statements into a nested block and reports
// whether it could.
func (hw *hclWriter) program(body *hclwrite.Body) bool {
	if hw.g == nil || len(hw.g.Statements) == 0 {
		return false
	}
	var exprs []hclwrite.Tokens
	for _, st := range hw.g.Statements {
		toks, ok := exprTokens(st.Expr)
		if !ok {
			return false
		}
		exprs = append(exprs, toks)
	}
	prog := body.AppendNewBlock(ProgramBlock, nil).Body()
	for i, st := range hw.g.Statements {
		prog.SetAttributeRaw(st.Out, exprs[i])
	}
	return true
}

// exprTokens rebuilds a wiring expression as HCL tokens.
func exprTokens(expr hclsyntax.Expression) (hclwrite.Tokens, bool) {
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		args := make([]hclwrite.Tokens, 0, len(e.Args))
		for _, a := range e.Args {
			toks, ok := exprTokens(a)
			if !ok {
				return nil, false
			}
			args = append(args, toks)
		}
		return hclwrite.TokensForFunctionCall(e.Name, args...), true
	case *hclsyntax.ScopeTraversalExpr:
		return hclwrite.TokensForTraversal(e.Traversal), true
	case *hclsyntax.LiteralValueExpr:
		return hclwrite.TokensForValue(e.Val), true
	case *hclsyntax.UnaryOpExpr:
		if v, diags := e.Value(nil); !diags.HasErrors() {
			return hclwrite.TokensForValue(v), true
		}
	}
	return nil, false
}

func nestedBlocks(body *hclwrite.Body, e *cfgfile.Entry, name, lead string) error {
	blocks, diags := cfgfile.ParseBlocks(e, lead)
	if diags.HasErrors() {
		return diagsError(diags)
	}
	for _, blk := range blocks {
		nb := body.AppendNewBlock(name, []string{blk.Name}).Body()
		for _, f := range blk.Fields {
			key := strings.ToLower(f.Key)
			if key == lead {
				continue
			}
			if !hclsyntax.ValidIdentifier(key) {
				return fmt.Errorf("field %q is not a valid HCL attribute name", f.Key)
			}
			nb.SetAttributeValue(key, cty.StringVal(f.Value))
		}
	}
	return nil
}

func labelOf(s *cfgfile.Section, key string) string {
	if v, ok := s.Value(key); ok && v != "" {
		return v
	}
	return s.Name
}

func isFamily(section, prefix string) bool {
	_, ok := cfgfile.FamilyIndex(section, prefix)
	return ok
}

func diagsError(diags hcl.Diagnostics) error {
	return fmt.Errorf("%s", diags.Error())
}
