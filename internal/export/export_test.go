package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/netgraph"
	"github.com/vk/pkcfg/internal/proto"
	"gopkg.in/yaml.v3"
)

const timitPath = "../../testdata/timit_transformer_ligru.cfg"

func load(t *testing.T) (*experiment.Experiment, *netgraph.Graph) {
	t.Helper()
	f, diags := cfgfile.ParseFile(timitPath)
	require.False(t, diags.HasErrors(), diags.Error())
	x, diags := experiment.Decode(f, proto.NewSet())
	require.False(t, diags.HasErrors(), diags.Error())
	g, diags := netgraph.Build(x, netgraph.Options{})
	require.False(t, diags.HasErrors(), diags.Error())
	return x, g
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" YAML ")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	assert.Equal(t, ".yaml", f.Extension())
	assert.Equal(t, "application/json", FormatJSON.ContentType())

	_, err = ParseFormat("toml")
	assert.ErrorContains(t, err, "cfg, hcl, json, yaml")
}

func TestFormatForPath(t *testing.T) {
	cases := map[string]Format{
		"out/exp.json": FormatJSON,
		"exp.YML":      FormatYAML,
		"exp.yaml":     FormatYAML,
		"exp.hcl":      FormatHCL,
		"exp.cfg":      FormatCfg,
	}
	for name, want := range cases {
		got, ok := FormatForPath(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := FormatForPath("exp.txt")
	assert.False(t, ok)
}

func TestWrite_Cfg(t *testing.T) {
	x, g := load(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCfg, x, g))

	f, diags := cfgfile.Parse(buf.Bytes(), "round.cfg")
	require.False(t, diags.HasErrors(), diags.Error())
	v, ok := f.Section("exp").Value("n_epochs_tr")
	require.True(t, ok)
	assert.Equal(t, "24", v)
}

func TestWrite_JSON(t *testing.T) {
	x, g := load(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, x, g))

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, float64(24), doc["exp"]["n_epochs_tr"])
	assert.Equal(t, true, doc["exp"]["use_cuda"])

	fea, ok := doc["dataset1"]["fea"].([]any)
	require.True(t, ok)
	require.Len(t, fea, 1)
	assert.Equal(t, "mfcc", fea[0].(map[string]any)["fea_name"])
}

func TestWrite_YAML(t *testing.T) {
	x, g := load(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatYAML, x, g))

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 24, doc["exp"]["n_epochs_tr"])
	assert.Equal(t, "TIMIT_tr", doc["dataset1"]["data_name"])
	assert.Contains(t, doc["model"]["model"], "out_dnn0=compute(TRANSFORMER_AM,mfcc)")

	lab, ok := doc["dataset1"]["lab"].([]any)
	require.True(t, ok)
	assert.Equal(t, "lab_cd", lab[0].(map[string]any)["lab_name"])

	var root yaml.Node
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &root))
	top := root.Content[0]
	assert.Equal(t, "cfg_proto", top.Content[0].Value)
	assert.Equal(t, "exp", top.Content[2].Value)
}

func TestWrite_HCL(t *testing.T) {
	x, g := load(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatHCL, x, g))
	assert.Contains(t, buf.String(), "compute(TRANSFORMER_AM, mfcc)")

	file, diags := hclsyntax.ParseConfig(buf.Bytes(), "exp.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	body := file.Body.(*hclsyntax.Body)

	var datasets []string
	var program *hclsyntax.Body
	for _, b := range body.Blocks {
		switch b.Type {
		case experiment.DatasetPrefix:
			datasets = append(datasets, b.Labels[0])
			if b.Labels[0] == "TIMIT_tr" {
				require.Len(t, b.Body.Blocks, 2)
				assert.Equal(t, "fea", b.Body.Blocks[0].Type)
				assert.Equal(t, []string{"mfcc"}, b.Body.Blocks[0].Labels)
				assert.Contains(t, b.Body.Blocks[0].Body.Attributes, "fea_lst")
			}
		case "model":
			require.Len(t, b.Body.Blocks, 1)
			program = b.Body.Blocks[0].Body
			assert.NotContains(t, b.Body.Attributes, "model")
		}
	}
	assert.Equal(t, []string{"TIMIT_tr", "TIMIT_dev", "TIMIT_test"}, datasets)

	require.NotNil(t, program)
	attr := program.Attributes["out_dnn1"]
	require.NotNil(t, attr)
	call, ok := attr.Expr.(*hclsyntax.FunctionCallExpr)
	require.True(t, ok)
	assert.Equal(t, "compute", call.Name)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "liGRU_layers", hcl.ExprAsKeyword(call.Args[0]))
}

func TestWrite_HCLWithoutGraph(t *testing.T) {
	x, _ := load(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatHCL, x, nil))
	assert.Contains(t, buf.String(), `"out_dnn0=compute(TRANSFORMER_AM,mfcc)\n`)
}

func TestWrite_UnknownFormat(t *testing.T) {
	x, _ := load(t)
	assert.Error(t, Write(&bytes.Buffer{}, Format("toml"), x, nil))
}
