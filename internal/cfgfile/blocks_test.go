package cfgfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlocks(t *testing.T) {
	f := mustParse(t, `[dataset1]
fea = fea_name=mfcc
	fea_lst=/data/mfcc.scp
	fea_opts=apply-cmvn ark:- ark:- | add-deltas ark:- ark:- |
	cw_left=0
	fea_name=fbank
	fea_lst=/data/fbank.scp
`)
	blocks, diags := ParseBlocks(f.Section("dataset1").Get("fea"), "fea_name")
	require.False(t, diags.HasErrors(), diags.Error())
	require.Len(t, blocks, 2)

	assert.Equal(t, "mfcc", blocks[0].Name)
	v, ok := blocks[0].Get("fea_opts")
	assert.True(t, ok)
	assert.Equal(t, "apply-cmvn ark:- ark:- | add-deltas ark:- ark:- |", v)
	assert.Equal(t, 2, blocks[0].Range.Start.Line)
	assert.Equal(t, 5, blocks[0].Range.End.Line)
	assert.Equal(t, 4, blocks[0].FieldRange("fea_opts").Start.Line)

	assert.Equal(t, "fbank", blocks[1].Name)
	_, ok = blocks[1].Get("cw_left")
	assert.False(t, ok)
	assert.Equal(t, blocks[1].Range, blocks[1].FieldRange("cw_left"))

	assert.Equal(t, f.Section("dataset1").Get("fea").Value, FormatBlocks(blocks))
}

func TestParseBlocks_Errors(t *testing.T) {
	f := mustParse(t, `[dataset1]
lab = lab_folder=/ali
	lab_name=lab_cd
	lab_opts
	lab_opts=ali-to-pdf
	lab_opts=ali-to-phones
`)
	blocks, diags := ParseBlocks(f.Section("dataset1").Get("lab"), "lab_name")
	require.Len(t, diags, 3)
	assert.Equal(t, "Field outside block", diags[0].Summary)
	assert.Equal(t, 2, diags[0].Subject.Start.Line)
	assert.Equal(t, "Invalid field", diags[1].Summary)
	assert.Equal(t, "Duplicate field", diags[2].Summary)
	assert.Equal(t, 6, diags[2].Subject.Start.Line)

	require.Len(t, blocks, 1)
	v, _ := blocks[0].Get("lab_opts")
	assert.Equal(t, "ali-to-pdf", v)
}

func TestParseBlocks_SetValue(t *testing.T) {
	s := &Section{Name: "dataset1"}
	e := s.Set("fea", "fea_name=mfcc\ncw_left=3")
	blocks, diags := ParseBlocks(e, "fea_name")
	require.False(t, diags.HasErrors())
	require.Len(t, blocks, 1)
	v, _ := blocks[0].Get("cw_left")
	assert.Equal(t, "3", v)
}
