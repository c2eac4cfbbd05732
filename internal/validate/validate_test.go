package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/envexpand"
)

const timitPath = "../../testdata/timit_transformer_ligru.cfg"

func loadTIMIT(t *testing.T) *cfgfile.File {
	t.Helper()
	f, diags := cfgfile.ParseFile(timitPath)
	require.False(t, diags.HasErrors(), diags.Error())
	return f
}

func findDiag(diags hcl.Diagnostics, summary string) *hcl.Diagnostic {
	for _, d := range diags {
		if d.Summary == summary {
			return d
		}
	}
	return nil
}

func TestValidate_TIMIT(t *testing.T) {
	r := New().Validate(context.Background(), loadTIMIT(t))
	require.Empty(t, r.Diagnostics, r.Diagnostics.Error())
	require.NotNil(t, r.Experiment)
	require.NotNil(t, r.Graph)
	assert.Len(t, r.Graph.Order, 5)
	errs, warnings := r.Counts()
	assert.Zero(t, errs)
	assert.Zero(t, warnings)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(f *cfgfile.File)
		summary string
		detail  string
	}{
		{
			name:    "unknown dataset",
			mutate:  func(f *cfgfile.File) { f.Section("data_use").Set("valid_with", "TIMIT_val") },
			summary: "Unknown dataset",
			detail:  `valid_with refers to "TIMIT_val"`,
		},
		{
			name:    "duplicate dataset name",
			mutate:  func(f *cfgfile.File) { f.Section("dataset2").Set("data_name", "TIMIT_tr") },
			summary: "Duplicate dataset name",
			detail:  "already used by [dataset1]",
		},
		{
			name:    "duplicate architecture name",
			mutate:  func(f *cfgfile.File) { f.Section("architecture3").Set("arch_name", "liGRU_layers") },
			summary: "Duplicate architecture name",
			detail:  "already used by [architecture2]",
		},
		{
			name:    "output layer label",
			mutate:  func(f *cfgfile.File) { f.Section("architecture3").Set("dnn_lay", "N_out_lab_mono") },
			summary: "Unknown label",
			detail:  "N_out_lab_mono",
		},
		{
			name:    "unknown forward output",
			mutate:  func(f *cfgfile.File) { f.Section("forward").Set("forward_out", "out_dnn9") },
			summary: "Unknown forward output",
			detail:  `"out_dnn9"`,
		},
		{
			name:    "forwarding a loss",
			mutate:  func(f *cfgfile.File) { f.Section("forward").Set("forward_out", "loss_final") },
			summary: "Invalid forward output",
			detail:  `"loss_final" is a loss`,
		},
		{
			name:    "normalization label",
			mutate:  func(f *cfgfile.File) { f.Section("forward").Set("normalize_with_counts_from", "lab_mono") },
			summary: "Unknown label",
			detail:  `"lab_mono"`,
		},
		{
			name:    "sequence length",
			mutate:  func(f *cfgfile.File) { f.Section("batches").Set("start_seq_len_train", "2000") },
			summary: "Invalid sequence length",
			detail:  "start_seq_len_train is 2000 but max_seq_length_train is 1000 in epoch 1",
		},
		{
			name:    "short schedule",
			mutate:  func(f *cfgfile.File) { f.Section("batches").Set("batch_size_train", "8*10|16*10") },
			summary: "Invalid schedule",
			detail:  "covers 20 epochs, expected 24",
		},
		{
			name:    "learning rate schedule",
			mutate:  func(f *cfgfile.File) { f.Section("architecture2").Set("arch_lr", "0.0004*4|0.0002*4") },
			summary: "Invalid schedule",
			detail:  "arch_lr of [architecture2]",
		},
		{
			name: "missing feature",
			mutate: func(f *cfgfile.File) {
				f.Section("dataset2").Set("fea", "fea_name=fbank\nfea_lst=a.scp\nfea_opts=add-deltas ark:- ark:-\ncw_left=0\ncw_right=0")
			},
			summary: "Missing feature",
			detail:  `[dataset1] does not define the feature "fbank"`,
		},
		{
			name:    "list arity",
			mutate:  func(f *cfgfile.File) { f.Section("architecture2").Set("ligru_drop", "0.2,0.2,0.2,0.2") },
			summary: "List length mismatch",
			detail:  `"ligru_drop" has 4 elements but "ligru_lay" has 5`,
		},
		{
			name:    "invalid pipe",
			mutate:  func(f *cfgfile.File) { f.Section("dataset1").Set("lab", strings.Replace(f.Section("dataset1").Get("lab").Value, "lab_opts=ali-to-pdf", "lab_opts=ali-to-pdf > x", 1)) },
			summary: "Invalid pipe",
			detail:  "unsupported shell operator",
		},
		{
			name:    "model reference",
			mutate:  func(f *cfgfile.File) { f.Section("model").Set("model", strings.ReplaceAll(f.Section("model").Get("model").Value, "lab_cd", "lab_mono")) },
			summary: "Unknown reference",
			detail:  `"lab_mono"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := loadTIMIT(t)
			tc.mutate(f)
			r := New().Validate(context.Background(), f)
			require.True(t, r.HasErrors())
			d := findDiag(r.Diagnostics, tc.summary)
			require.NotNil(t, d, r.Diagnostics.Error())
			assert.Contains(t, d.Detail, tc.detail)
		})
	}
}

func TestValidate_FrozenWithoutPretraining(t *testing.T) {
	f := loadTIMIT(t)
	f.Section("architecture1").Set("arch_pretrain_file", "none")
	r := New().Validate(context.Background(), f)
	require.False(t, r.HasErrors(), r.Diagnostics.Error())
	d := findDiag(r.Diagnostics, "Frozen architecture is not pretrained")
	require.NotNil(t, d)
	assert.Equal(t, hcl.DiagWarning, d.Severity)
}

func TestValidate_DoesNotModifyFile(t *testing.T) {
	f := loadTIMIT(t)
	before := string(f.Bytes())
	v := New()
	v.Env = envexpand.Env{}
	v.Validate(context.Background(), f)
	assert.Equal(t, before, string(f.Bytes()))
}

// timitTree rewrites the TIMIT paths to $TIMIT and $MODELS and creates
// the files they refer to under a temporary root.
func timitTree(t *testing.T) (*cfgfile.File, string) {
	t.Helper()
	root := t.TempDir()
	src, err := os.ReadFile(timitPath)
	require.NoError(t, err)
	text := strings.ReplaceAll(string(src), "/data/kaldi/egs/timit/s5", "$TIMIT")
	text = strings.ReplaceAll(text, "/data/models", "${MODELS}")
	text = strings.Replace(text, "decoding_script_folder = kaldi_decoding_scripts/", "decoding_script_folder = $TIMIT/scripts", 1)
	f, diags := cfgfile.Parse([]byte(text), "timit.cfg")
	require.False(t, diags.HasErrors(), diags.Error())

	for _, dir := range []string{
		"data/train", "data/dev", "data/test",
		"exp/tri3_ali", "exp/tri3_ali_dev", "exp/tri3_ali_test", "exp/tri3/graph",
		"scripts", "models/transformer_am",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	for _, file := range []string{
		"data/train/feats.scp", "data/dev/feats.scp", "data/test/feats.scp",
		"scripts/decode_dnn.sh", "models/transformer_am/states-1000000.ckpt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, file), nil, 0o644))
	}
	return f, root
}

func TestValidate_FilesWithEnv(t *testing.T) {
	f, root := timitTree(t)
	v := New()
	v.CheckFiles = true
	v.Env = envexpand.Env{"TIMIT": root, "MODELS": filepath.Join(root, "models")}

	r := v.Validate(context.Background(), f)
	require.Empty(t, r.Diagnostics, r.Diagnostics.Error())
	assert.Equal(t, filepath.Join(root, "data/train/feats.scp"), r.Experiment.Dataset("TIMIT_tr").Feature("mfcc").List)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "exp", "tri3", "graph")))
	require.NoError(t, os.Remove(filepath.Join(root, "data", "dev", "feats.scp")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "data", "dev", "feats.scp"), 0o755))
	r = v.Validate(context.Background(), f)
	errs, _ := r.Counts()
	assert.Equal(t, 4, errs, r.Diagnostics.Error())
	d := findDiag(r.Diagnostics, "File not found")
	require.NotNil(t, d)
	assert.Contains(t, d.Detail, "lab_graph")
	assert.NotNil(t, findDiag(r.Diagnostics, "Not a file"))
}

func TestValidate_UndefinedVariable(t *testing.T) {
	f, root := timitTree(t)
	v := New()
	v.Env = envexpand.Env{"TIMIT": root}

	r := v.Validate(context.Background(), f)
	require.False(t, r.HasErrors(), r.Diagnostics.Error())
	d := findDiag(r.Diagnostics, "Undefined environment variable")
	require.NotNil(t, d)
	assert.Contains(t, d.Detail, "$MODELS is not set")
	assert.Equal(t, 79, d.Subject.Start.Line)
}

func TestValidate_Binaries(t *testing.T) {
	v := New()
	v.CheckBinaries = true
	v.KaldiRoot = t.TempDir()
	v.LookPath = func(name string) (string, error) {
		if name == "add-deltas" {
			return "", errors.New("not found")
		}
		return "/usr/local/bin/" + name, nil
	}

	r := v.Validate(context.Background(), loadTIMIT(t))
	require.Len(t, r.Diagnostics, 1, r.Diagnostics.Error())
	d := r.Diagnostics[0]
	assert.Equal(t, "Binary not found", d.Summary)
	assert.Contains(t, d.Detail, `"add-deltas" is not on PATH or under`)
	assert.Equal(t, 17, d.Subject.Start.Line)
}

func TestValidateAll(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(timitPath)
	require.NoError(t, err)
	good := filepath.Join(dir, "good.cfg")
	bad := filepath.Join(dir, "bad.cfg")
	broken := filepath.Join(dir, "broken.cfg")
	require.NoError(t, os.WriteFile(good, src, 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(strings.Replace(string(src), "n_epochs_tr = 24", "n_epochs_tr = 0", 1)), 0o644))
	require.NoError(t, os.WriteFile(broken, []byte("[exp\n"), 0o644))

	v := New()
	v.Workers = 2
	reports, err := v.ValidateAll(context.Background(), []string{good, bad, broken, filepath.Join(dir, "missing.cfg")})
	require.NoError(t, err)
	require.Len(t, reports, 4)
	assert.False(t, reports[0].HasErrors(), reports[0].Diagnostics.Error())
	assert.True(t, reports[1].HasErrors())
	assert.Equal(t, bad, reports[1].Filename)
	assert.NotNil(t, findDiag(reports[2].Diagnostics, "Invalid section header"))
	assert.NotNil(t, findDiag(reports[3].Diagnostics, "Failed to read file"))
}

func TestValidateAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().ValidateAll(ctx, []string{timitPath})
	assert.ErrorIs(t, err, context.Canceled)
}
