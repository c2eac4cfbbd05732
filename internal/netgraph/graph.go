package netgraph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/dag"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/zclconf/go-cty/cty"
)

const (
	// FinalLoss and FinalError are the outputs the trainer optimizes and
	// reports.
	FinalLoss  = "loss_final"
	FinalError = "err_final"

	outLabelPrefix = "N_out_"
)

// Options supplies dimensions that cannot be read from the file itself.
type Options struct {
	// LabelDims maps a label name to its number of classes.
	LabelDims map[string]int
	// FeatureDims maps a feature name to its dimension.
	FeatureDims map[string]int
}

// Graph is the checked wiring program.
type Graph struct {
	Statements []*Statement
	// Symbols holds every input and every successfully evaluated output.
	Symbols map[string]Symbol
	// Order lists the outputs in evaluation order.
	Order []string
	// Computed maps an architecture to the inputs it is applied to.
	Computed map[string][]Symbol

	deps *dag.Graph
}

// Statement returns the statement defining out, or nil.
func (g *Graph) Statement(out string) *Statement {
	for _, s := range g.Statements {
		if s.Out == out {
			return s
		}
	}
	return nil
}

// Outputs lists the defined outputs in source order.
func (g *Graph) Outputs() []string {
	out := make([]string, 0, len(g.Statements))
	for _, s := range g.Statements {
		out = append(out, s.Out)
	}
	return out
}

// Dependencies returns the names out is computed from.
func (g *Graph) Dependencies(out string) []string {
	if g.deps == nil || !g.deps.Has(out) {
		return nil
	}
	deps, _ := g.deps.Dependencies(out)
	return deps
}

// Nodes lists every name in the graph, inputs included, in the order they
// were first seen.
func (g *Graph) Nodes() []string {
	if g.deps == nil {
		return nil
	}
	return g.deps.Nodes()
}

type builder struct {
	x      *experiment.Experiment
	opts   Options
	g      *Graph
	inputs map[string]Symbol
	diags  hcl.Diagnostics
}

// Build parses the [model] program of x, resolves every name against the
// architectures, features and labels of the file, and evaluates the
// statements in order. The returned graph is never nil.
func Build(x *experiment.Experiment, opts Options) (*Graph, hcl.Diagnostics) {
	b := &builder{
		x:    x,
		opts: opts,
		g: &Graph{
			Symbols:  make(map[string]Symbol),
			Computed: make(computed),
			deps:     dag.New(),
		},
		inputs: inputSymbols(x, opts),
	}
	b.run()
	return b.g, b.diags
}

func (b *builder) run() {
	entry := b.x.Model.Entry
	if entry == nil {
		return
	}
	stmts, diags := ParseProgram(entry)
	b.diags = append(b.diags, diags...)
	b.g.Statements = stmts

	defined := b.checkOutputs(stmts)
	valid := b.checkReferences(stmts, defined)
	b.evaluate(stmts, valid)

	order, err := b.g.deps.TopologicalSort()
	if err != nil {
		b.diags = append(b.diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Cyclic model",
			Detail:   err.Error(),
			Subject:  entry.ValueRange().Ptr(),
		})
	}
	for _, id := range order {
		if _, ok := defined[id]; ok {
			b.g.Order = append(b.g.Order, id)
		}
	}

	if !diags.HasErrors() {
		b.checkFinal(entry.ValueRange(), FinalLoss, KindLoss, defined)
		b.checkFinal(entry.ValueRange(), FinalError, KindMetric, defined)
	}
	b.warnUnused(stmts)
}

// checkOutputs returns the statement index defining each output.
func (b *builder) checkOutputs(stmts []*Statement) map[string]int {
	defined := make(map[string]int)
	for i, s := range stmts {
		if in, ok := b.inputs[s.Out]; ok {
			b.diags = append(b.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Output shadows input",
				Detail:   fmt.Sprintf("%q is already the name of a%s %s.", s.Out, article(in.Kind), in.Kind),
				Subject:  s.OutRange.Ptr(),
			})
			continue
		}
		if j, dup := defined[s.Out]; dup {
			b.diags = append(b.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate output",
				Detail:   fmt.Sprintf("%q is already defined on line %d.", s.Out, stmts[j].Range.Start.Line),
				Subject:  s.OutRange.Ptr(),
			})
			continue
		}
		defined[s.Out] = i
		b.g.deps.AddNode(s.Out)
	}
	return defined
}

// checkReferences reports names that do not resolve and wires the
// dependency graph. It returns the statements whose references are all
// usable.
func (b *builder) checkReferences(stmts []*Statement, defined map[string]int) map[int]bool {
	valid := make(map[int]bool)
	for i, s := range stmts {
		if j, ok := defined[s.Out]; !ok || j != i {
			continue
		}
		ok := true
		for _, ref := range s.References() {
			if ref.Name == s.Out {
				b.errorf(ref.Range, "Self reference", "%q cannot be computed from itself.", s.Out)
				ok = false
				continue
			}
			if j, isOut := defined[ref.Name]; isOut {
				if j > i {
					b.errorf(ref.Range, "Output used before definition",
						"%q is defined on line %d, after its use here; statements are evaluated top to bottom.",
						ref.Name, stmts[j].Range.Start.Line)
					ok = false
					continue
				}
			} else if _, isIn := b.inputs[ref.Name]; isIn {
				b.g.deps.AddNode(ref.Name)
			} else {
				b.errorf(ref.Range, "Unknown reference", "%q is not an architecture, feature, label or earlier output.%s",
					ref.Name, b.suggest(ref.Name, defined))
				ok = false
				continue
			}
			if err := b.g.deps.AddEdge(ref.Name, s.Out); err != nil {
				b.errorf(ref.Range, "Invalid reference", "%s", err)
				ok = false
			}
		}
		valid[i] = ok
	}
	return valid
}

func (b *builder) evaluate(stmts []*Statement, valid map[int]bool) {
	vars := make(map[string]cty.Value, len(b.inputs))
	for name, sym := range b.inputs {
		vars[name] = sym.Value()
		b.g.Symbols[name] = sym
	}
	ctx := &hcl.EvalContext{
		Variables: vars,
		Functions: functions(b.g.Computed),
	}
	for i, s := range stmts {
		if !valid[i] || !b.resolved(s) {
			continue
		}
		v, diags := s.Expr.Value(ctx)
		b.diags = append(b.diags, diags...)
		if diags.HasErrors() || !v.IsWhollyKnown() || v.IsNull() {
			continue
		}
		sym, err := symbolOf(v)
		if err != nil {
			b.errorf(s.Expr.Range(), "Invalid model statement", "%q does not produce a network value: %s.", s.Out, err)
			continue
		}
		sym.Name = s.Out
		b.g.Symbols[s.Out] = sym
		vars[s.Out] = sym.Value()
	}
}

// resolved reports whether every name used by s has a value, so failures
// do not cascade into the statements that depend on them.
func (b *builder) resolved(s *Statement) bool {
	for _, ref := range s.References() {
		if _, ok := b.g.Symbols[ref.Name]; !ok {
			return false
		}
	}
	return true
}

func (b *builder) checkFinal(program hcl.Range, name string, kind Kind, defined map[string]int) {
	if _, ok := defined[name]; !ok {
		b.errorf(program, "Missing final output",
			"The model must define %s, the %s the trainer reports.", name, kind)
		return
	}
	sym, ok := b.g.Symbols[name]
	if ok && sym.Kind != kind {
		s := b.g.Statement(name)
		b.errorf(s.Expr.Range(), "Invalid final output",
			"%s must be a %s, but %s is a %s; use %s.", name, kind, name, sym.Kind, finalOp(kind))
	}
}

// warnUnused reports outputs that feed neither the final loss and error
// nor a forwarded output, directly or through other statements.
func (b *builder) warnUnused(stmts []*Statement) {
	live := make(map[string]bool)
	for _, sink := range append([]string{FinalLoss, FinalError}, b.x.Forward.Out...) {
		anc, err := b.g.deps.Ancestors(sink)
		if err != nil {
			continue
		}
		live[sink] = true
		for _, id := range anc {
			live[id] = true
		}
	}
	for _, s := range stmts {
		if live[s.Out] {
			continue
		}
		if _, ok := b.g.Symbols[s.Out]; !ok {
			continue
		}
		b.diags = append(b.diags, &hcl.Diagnostic{
			Severity: hcl.DiagWarning,
			Summary:  "Unused output",
			Detail:   fmt.Sprintf("%q does not contribute to %s, %s or any [forward] forward_out output.", s.Out, FinalLoss, FinalError),
			Subject:  s.OutRange.Ptr(),
		})
	}
	if b.diags.HasErrors() {
		return
	}
	for _, a := range b.x.Architectures {
		if _, ok := b.g.Computed[a.Name]; !ok && a.Name != "" {
			b.diags = append(b.diags, &hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Unused architecture",
				Detail:   fmt.Sprintf("The architecture %q of [%s] is never computed by the model.", a.Name, a.Section),
				Subject:  a.Range.Ptr(),
			})
		}
	}
}

func (b *builder) suggest(name string, defined map[string]int) string {
	var best string
	for _, cand := range b.candidates(defined) {
		if strings.EqualFold(cand, name) {
			best = cand
			break
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" Did you mean %q?", best)
}

func (b *builder) candidates(defined map[string]int) []string {
	out := make([]string, 0, len(b.inputs)+len(defined))
	for name := range b.inputs {
		out = append(out, name)
	}
	for name := range defined {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (b *builder) errorf(rng hcl.Range, summary, detail string, args ...any) {
	b.diags = append(b.diags, &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   fmt.Sprintf(detail, args...),
		Subject:  rng.Ptr(),
	})
}

// inputSymbols returns the names a program may use without defining them.
// Architectures win over features and labels of the same name.
func inputSymbols(x *experiment.Experiment, opts Options) map[string]Symbol {
	in := make(map[string]Symbol)
	for _, name := range x.LabelNames() {
		in[name] = Symbol{Kind: KindLabel, Name: name, Dim: dimOf(opts.LabelDims, name)}
	}
	for _, name := range x.FeatureNames() {
		in[name] = Symbol{Kind: KindFeature, Name: name, Dim: dimOf(opts.FeatureDims, name)}
	}
	for _, a := range x.Architectures {
		if a.Name == "" {
			continue
		}
		in[a.Name] = Symbol{Kind: KindArch, Name: a.Name, Dim: ArchDim(a, opts.LabelDims)}
	}
	return in
}

func dimOf(dims map[string]int, name string) int {
	if d, ok := dims[name]; ok && d > 0 {
		return d
	}
	return UnknownDim
}

// OutLabel returns the label named by an N_out_<label> output layer.
func OutLabel(a *experiment.Architecture) (string, bool) {
	last, ok := lastLayer(a)
	if !ok || !strings.HasPrefix(last, outLabelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(last, outLabelPrefix), true
}

// ArchDim infers the output dimension of an architecture: the size of its
// last layer, doubled for bidirectional recurrent layers, or its <prefix>_dim
// value when it has no layer list.
func ArchDim(a *experiment.Architecture, labelDims map[string]int) int {
	key, ok := a.LayerKey()
	if !ok {
		for _, k := range sortedParams(a.Params) {
			if strings.HasSuffix(k, "_dim") {
				if n, ok := intOf(a.Params[k]); ok {
					return n
				}
			}
		}
		return UnknownDim
	}

	last, ok := lastLayer(a)
	if !ok {
		return UnknownDim
	}
	dim := UnknownDim
	if lab, isLab := strings.CutPrefix(last, outLabelPrefix); isLab {
		dim = dimOf(labelDims, lab)
	} else if n, err := strconv.Atoi(last); err == nil && n > 0 {
		dim = n
	}
	if dim == UnknownDim {
		return dim
	}
	prefix := strings.TrimSuffix(key, "_lay")
	if v, ok := a.Params[prefix+"_bidir"]; ok && v.Type() == cty.Bool && v.IsKnown() && !v.IsNull() && v.True() {
		dim *= 2
	}
	return dim
}

func lastLayer(a *experiment.Architecture) (string, bool) {
	key, ok := a.LayerKey()
	if !ok {
		return "", false
	}
	v := a.Params[key]
	if v.IsNull() || !v.IsKnown() || !v.CanIterateElements() || v.LengthInt() == 0 {
		return "", false
	}
	vals := v.AsValueSlice()
	last := vals[len(vals)-1]
	switch last.Type() {
	case cty.String:
		return last.AsString(), true
	case cty.Number:
		return last.AsBigFloat().Text('f', -1), true
	}
	return "", false
}

func intOf(v cty.Value) (int, bool) {
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return 0, false
	}
	n, acc := v.AsBigFloat().Int64()
	if acc != 0 {
		return 0, false
	}
	return int(n), true
}

func sortedParams(m map[string]cty.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func finalOp(k Kind) string {
	if k == KindLoss {
		return "cost_nll or mse"
	}
	return "cost_err"
}

func article(k Kind) string {
	if k == KindArch {
		return "n"
	}
	return ""
}
