package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
)

// listKeys treats every key except the scalar *_inp and *_bidir options as
// a list.
func listKeys(_ *cfgfile.Section, key string) bool {
	return !strings.HasSuffix(key, "_inp") && !strings.HasSuffix(key, "_bidir")
}

func parseCfg(t *testing.T, src string) *cfgfile.File {
	t.Helper()
	f, diags := cfgfile.Parse([]byte(src), "rules.cfg")
	require.False(t, diags.HasErrors(), diags.Error())
	return f
}

func TestDefault_ArchitectureLayers(t *testing.T) {
	f := parseCfg(t, `[architecture2]
arch_name = liGRU_layers
ligru_lay = 550,550,550,550,550
ligru_drop = 0.2,0.2,0.2,0.2,0.2
ligru_use_laynorm_inp = False
ligru_use_laynorm = False,False,False,False
ligru_bidir = True
ligru_act = relu,relu,relu,relu,relu

[architecture3]
dnn_lay = N_out_lab_cd
dnn_drop = 0.0
dnn_act = softmax
`)
	diags := Default().Check(f, listKeys)
	require.Len(t, diags, 1)
	assert.Equal(t, "List length mismatch", diags[0].Summary)
	assert.Contains(t, diags[0].Detail, `"ligru_use_laynorm" has 4 elements but "ligru_lay" has 5`)
	assert.Equal(t, 6, diags[0].Subject.Start.Line)
	assert.Equal(t, 3, diags[0].Context.Start.Line)
}

func TestDefault_Forward(t *testing.T) {
	f := parseCfg(t, `[forward]
forward_out = out_dnn2,out_dnn1
normalize_posteriors = True,False
normalize_with_counts_from = lab_cd
save_out_file = False,False
require_decoding = True,False
`)
	diags := Default().Check(f, listKeys)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Detail, `"normalize_with_counts_from" has 1 elements`)
}

func TestCheck_NonListMembersIgnored(t *testing.T) {
	f := parseCfg(t, "[architecture1]\nlstm_lay = 100,100\nlstm_bidir = True\nlstm_use_batchnorm_inp = False\n")
	assert.Empty(t, Default().Check(f, listKeys))
}

func TestCheck_KeysIgnoreCase(t *testing.T) {
	f := parseCfg(t, `[architecture1]
LiGRU_lay = 550,550
ligru_DROP = 0.2
[forward]
Forward_Out = out_dnn2,out_dnn1
Normalize_Posteriors = True
`)
	diags := Default().Check(f, listKeys)
	require.Len(t, diags, 2)
	assert.Contains(t, diags[0].Detail, `"ligru_DROP" has 1 elements but "LiGRU_lay" has 2`)
	assert.Contains(t, diags[1].Detail, `"Normalize_Posteriors" has 1 elements but "Forward_Out" has 2`)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "extra.toml")
	require.NoError(t, os.WriteFile(good, []byte(`
[[arity]]
section = "dataset*"
lead = "n_chunks"
members = ["chunk_*"]
`), 0o644))

	p, err := LoadFile(good)
	require.NoError(t, err)
	merged := Default().Merge(p)
	require.Len(t, merged.Arity, 3)
	assert.Equal(t, "dataset*", merged.Arity[2].Section)

	f := parseCfg(t, "[dataset1]\nn_chunks = 1,2\nchunk_sizes = 4\n")
	diags := merged.Check(f, listKeys)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Detail, `"chunk_sizes" has 1 elements`)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[[arity]]\nsection = \"x\"\nlead = \"y\"\nmembrs = [\"z\"]\n"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "unknown keys")

	incomplete := filepath.Join(dir, "incomplete.toml")
	require.NoError(t, os.WriteFile(incomplete, []byte("[[arity]]\nsection = \"x\"\n"), 0o644))
	_, err = LoadFile(incomplete)
	assert.ErrorContains(t, err, "needs section and lead")

	_, err = LoadFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
