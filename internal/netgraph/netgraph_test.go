package netgraph

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/proto"
)

const timitPath = "../../testdata/timit_transformer_ligru.cfg"

const timitModel = `out_dnn0=compute(TRANSFORMER_AM,mfcc)
out_dnn1=compute(liGRU_layers,out_dnn0)
out_dnn2=compute(MLP_layers,out_dnn1)
loss_final=cost_nll(out_dnn2,lab_cd)
err_final=cost_err(out_dnn2,lab_cd)`

func loadTIMIT(t *testing.T) *cfgfile.File {
	t.Helper()
	f, diags := cfgfile.ParseFile(timitPath)
	require.False(t, diags.HasErrors(), diags.Error())
	return f
}

func decode(t *testing.T, f *cfgfile.File) *experiment.Experiment {
	t.Helper()
	x, diags := experiment.Decode(f, proto.NewSet())
	require.False(t, diags.HasErrors(), diags.Error())
	return x
}

func findDiag(diags hcl.Diagnostics, summary string) *hcl.Diagnostic {
	for _, d := range diags {
		if d.Summary == summary {
			return d
		}
	}
	return nil
}

func TestBuild_TIMIT(t *testing.T) {
	x := decode(t, loadTIMIT(t))
	g, diags := Build(x, Options{LabelDims: map[string]int{"lab_cd": 1944}})
	require.Empty(t, diags, diags.Error())

	assert.Equal(t, []string{"out_dnn0", "out_dnn1", "out_dnn2", "loss_final", "err_final"}, g.Order)
	assert.Equal(t, g.Order, g.Outputs())

	assert.Equal(t, Symbol{Kind: KindTensor, Name: "out_dnn0", Dim: 768}, g.Symbols["out_dnn0"])
	assert.Equal(t, 1100, g.Symbols["out_dnn1"].Dim)
	assert.Equal(t, 1944, g.Symbols["out_dnn2"].Dim)
	assert.Equal(t, KindLoss, g.Symbols["loss_final"].Kind)
	assert.Equal(t, KindMetric, g.Symbols["err_final"].Kind)
	assert.Equal(t, KindFeature, g.Symbols["mfcc"].Kind)
	assert.False(t, g.Symbols["mfcc"].DimKnown())

	assert.Equal(t, []string{"TRANSFORMER_AM", "mfcc"}, g.Dependencies("out_dnn0"))
	assert.Equal(t, []string{"out_dnn2", "lab_cd"}, g.Dependencies("loss_final"))
	require.Len(t, g.Computed["liGRU_layers"], 1)
	assert.Equal(t, "out_dnn0", g.Computed["liGRU_layers"][0].Name)

	stmt := g.Statement("out_dnn1")
	require.NotNil(t, stmt)
	assert.Equal(t, []string{"compute"}, stmt.Operations())
	assert.Equal(t, 151, stmt.Range.Start.Line)
}

func TestBuild_UnknownLabelDim(t *testing.T) {
	g, diags := Build(decode(t, loadTIMIT(t)), Options{})
	require.Empty(t, diags, diags.Error())
	assert.False(t, g.Symbols["out_dnn2"].DimKnown())
	assert.True(t, g.Symbols["out_dnn1"].DimKnown())
}

func TestArchDim(t *testing.T) {
	x := decode(t, loadTIMIT(t))
	labels := map[string]int{"lab_cd": 1944}

	assert.Equal(t, 768, ArchDim(x.Architecture("TRANSFORMER_AM"), labels))
	assert.Equal(t, 1100, ArchDim(x.Architecture("liGRU_layers"), labels))
	assert.Equal(t, 1944, ArchDim(x.Architecture("MLP_layers"), labels))
	assert.Equal(t, UnknownDim, ArchDim(x.Architecture("MLP_layers"), nil))

	lab, ok := OutLabel(x.Architecture("MLP_layers"))
	require.True(t, ok)
	assert.Equal(t, "lab_cd", lab)
	_, ok = OutLabel(x.Architecture("liGRU_layers"))
	assert.False(t, ok)
}

func TestBuild_Errors(t *testing.T) {
	cases := []struct {
		name    string
		model   string
		summary string
		detail  string
	}{
		{
			name:    "unknown reference",
			model:   strings.Replace(timitModel, "out_dnn1=compute(liGRU_layers,out_dnn0)", "out_dnn1=compute(liGRU_layers,out_dnn9)", 1),
			summary: "Unknown reference",
			detail:  `"out_dnn9"`,
		},
		{
			name:    "case mismatch suggests",
			model:   strings.Replace(timitModel, "compute(MLP_layers,", "compute(mlp_layers,", 1),
			summary: "Unknown reference",
			detail:  `Did you mean "MLP_layers"?`,
		},
		{
			name: "used before definition",
			model: `out_dnn1=compute(liGRU_layers,out_dnn0)
out_dnn0=compute(TRANSFORMER_AM,mfcc)
out_dnn2=compute(MLP_layers,out_dnn1)
loss_final=cost_nll(out_dnn2,lab_cd)
err_final=cost_err(out_dnn2,lab_cd)`,
			summary: "Output used before definition",
			detail:  `"out_dnn0" is defined on line`,
		},
		{
			name:    "self reference",
			model:   strings.Replace(timitModel, "out_dnn1=compute(liGRU_layers,out_dnn0)", "out_dnn1=compute(liGRU_layers,out_dnn1)", 1),
			summary: "Self reference",
			detail:  `"out_dnn1"`,
		},
		{
			name:    "duplicate output",
			model:   timitModel + "\nout_dnn1=compute(MLP_layers,out_dnn0)",
			summary: "Duplicate output",
			detail:  `"out_dnn1" is already defined`,
		},
		{
			name:    "output shadows input",
			model:   strings.Replace(timitModel, "out_dnn0=", "mfcc=", 1),
			summary: "Output shadows input",
			detail:  `"mfcc" is already the name of a feature`,
		},
		{
			name:    "kind mismatch",
			model:   strings.Replace(timitModel, "compute(liGRU_layers,out_dnn0)", "compute(out_dnn0,mfcc)", 1),
			summary: "Invalid function argument",
			detail:  `"out_dnn0" is a tensor, expected arch`,
		},
		{
			name:    "cost over a feature",
			model:   strings.Replace(timitModel, "cost_err(out_dnn2,lab_cd)", "cost_err(out_dnn2,mfcc)", 1),
			summary: "Invalid function argument",
			detail:  `"mfcc" is a feature, expected label`,
		},
		{
			name:    "unknown operation",
			model:   strings.Replace(timitModel, "compute(MLP_layers,out_dnn1)", "linear(MLP_layers,out_dnn1)", 1),
			summary: "Call to unknown function",
		},
		{
			name:    "wrong arity",
			model:   strings.Replace(timitModel, "compute(MLP_layers,out_dnn1)", "compute(MLP_layers)", 1),
			summary: "Not enough function arguments",
		},
		{
			name:    "missing err_final",
			model:   strings.TrimSuffix(timitModel, "\nerr_final=cost_err(out_dnn2,lab_cd)"),
			summary: "Missing final output",
			detail:  "err_final",
		},
		{
			name:    "final of wrong kind",
			model:   strings.Replace(timitModel, "err_final=cost_err", "err_final=cost_nll", 1),
			summary: "Invalid final output",
			detail:  "use cost_err",
		},
		{
			name:    "not a statement",
			model:   timitModel + "\ncompute(MLP_layers,out_dnn1)",
			summary: "Invalid model statement",
		},
		{
			name:    "bare reference",
			model:   timitModel + "\nout_copy=out_dnn2",
			summary: "Invalid model statement",
			detail:  "must be an operation",
		},
		{
			name:    "bad output name",
			model:   timitModel + "\n2out=compute(MLP_layers,out_dnn1)",
			summary: "Invalid output name",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := loadTIMIT(t)
			f.Section("model").Set("model", tc.model)
			_, diags := Build(decode(t, f), Options{})
			require.True(t, diags.HasErrors())
			d := findDiag(diags, tc.summary)
			require.NotNil(t, d, diags.Error())
			assert.Contains(t, d.Detail, tc.detail)
		})
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("architecture3").Set("dnn_lay", "1000")
	_, diags := Build(decode(t, f), Options{LabelDims: map[string]int{"lab_cd": 1944}})
	d := findDiag(diags, "Invalid function argument")
	require.NotNil(t, d, diags.Error())
	assert.Contains(t, d.Detail, `"out_dnn2" has dimension 1000 but "lab_cd" has 1944`)
}

func TestBuild_ErrorsDoNotCascade(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("model").Set("model", strings.Replace(timitModel, "compute(TRANSFORMER_AM,mfcc)", "compute(TRANSFORMER_AM,fbank)", 1))
	_, diags := Build(decode(t, f), Options{})
	require.Len(t, diags.Errs(), 1)
	assert.Equal(t, "Unknown reference", diags[0].Summary)
}

func TestBuild_ReferencePosition(t *testing.T) {
	src, err := os.ReadFile(timitPath)
	require.NoError(t, err)
	bad := strings.Replace(string(src), "out_dnn1=compute(liGRU_layers,out_dnn0)", "out_dnn1=compute(liGRU_layers,out_dnn9)", 1)
	f, pd := cfgfile.Parse([]byte(bad), "bad.cfg")
	require.False(t, pd.HasErrors())

	_, diags := Build(decode(t, f), Options{})
	d := findDiag(diags, "Unknown reference")
	require.NotNil(t, d)
	assert.Equal(t, "bad.cfg", d.Subject.Filename)
	assert.Equal(t, 151, d.Subject.Start.Line)
	assert.Equal(t, 32, d.Subject.Start.Column)
	assert.Equal(t, 40, d.Subject.End.Column)
}

func TestBuild_Warnings(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("model").Set("model", timitModel+"\nout_extra=compute(MLP_layers,out_dnn1)")
	spare := f.AddSection("architecture4")
	for _, e := range f.Section("architecture3").Entries {
		spare.Set(e.Key, e.Value)
	}
	spare.Set("arch_name", "MLP_spare")

	_, diags := Build(decode(t, f), Options{})
	require.False(t, diags.HasErrors(), diags.Error())
	require.Len(t, diags, 2)
	assert.Equal(t, "Unused output", diags[0].Summary)
	assert.Contains(t, diags[0].Detail, `"out_extra"`)
	assert.Equal(t, "Unused architecture", diags[1].Summary)
	assert.Contains(t, diags[1].Detail, `"MLP_spare"`)
}

func TestBuild_UnusedChain(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("model").Set("model", timitModel+"\nout_x=compute(MLP_layers,out_dnn1)\nout_y=sum(out_x,out_x)")

	_, diags := Build(decode(t, f), Options{})
	require.False(t, diags.HasErrors(), diags.Error())
	var unused []string
	for _, d := range diags {
		if d.Summary == "Unused output" {
			unused = append(unused, d.Detail)
		}
	}
	require.Len(t, unused, 2, "an output used only by an unused output is unused too")
	assert.Contains(t, unused[0], `"out_x"`)
	assert.Contains(t, unused[1], `"out_y"`)
}

func TestBuild_CombineOperators(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("model").Set("model", `out_a=compute(TRANSFORMER_AM,mfcc)
out_b=concatenate(out_a,mfcc)
out_c=mult_constant(out_b,0.5)
out_d=compute(MLP_layers,out_c)
loss_a=cost_nll(out_d,lab_cd)
loss_b=mse(out_a,out_a)
loss_final=sum(loss_a,loss_b)
err_final=cost_err(out_d,lab_cd)`)
	f.Section("forward").Set("forward_out", "out_d")
	f.Section("forward").Set("normalize_posteriors", "True")

	g, diags := Build(decode(t, f), Options{FeatureDims: map[string]int{"mfcc": 39}})
	assert.Nil(t, findDiag(diags, "Invalid function argument"), diags.Error())
	assert.Equal(t, 807, g.Symbols["out_b"].Dim)
	assert.Equal(t, KindTensor, g.Symbols["out_c"].Kind)
	assert.Equal(t, KindLoss, g.Symbols["loss_final"].Kind)
	assert.NotNil(t, findDiag(diags, "Unused architecture"))
}

func TestBuild_CannotMixLossAndTensor(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("model").Set("model", timitModel+"\nbad=sum(loss_final,out_dnn2)")
	_, diags := Build(decode(t, f), Options{})
	d := findDiag(diags, "Invalid function argument")
	require.NotNil(t, d, diags.Error())
	assert.Contains(t, d.Detail, `cannot combine loss "loss_final" with tensor "out_dnn2"`)
}

func TestWriteDOT(t *testing.T) {
	g, diags := Build(decode(t, loadTIMIT(t)), Options{})
	require.Empty(t, diags)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph model {\n"))
	assert.Contains(t, out, `"mfcc" -> "out_dnn0";`)
	assert.Contains(t, out, `"out_dnn2" -> "err_final";`)
	assert.Contains(t, out, `"liGRU_layers" [label="liGRU_layers (arch, dim 1100)" shape=box3d];`)
	assert.Contains(t, out, `"loss_final" [label="loss_final (loss)\ncost_nll" shape=doubleoctagon];`)
}
