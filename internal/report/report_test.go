package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/validate"
)

const timitPath = "../../testdata/timit_transformer_ligru.cfg"

func reports(t *testing.T) (good, bad *validate.Report) {
	t.Helper()
	ctx := context.Background()
	v := validate.New()
	good = v.ValidateFile(ctx, timitPath)
	require.False(t, good.HasErrors(), good.Diagnostics.Error())

	src, err := os.ReadFile(timitPath)
	require.NoError(t, err)
	text := strings.Replace(string(src), "ligru_drop = 0.2,0.2,0.2,0.2,0.2", "ligru_drop = 0.2,abc,0.2,0.2,0.2", 1)
	text = strings.Replace(text, "[exp]\n", "[exp]\nuse_tensorboard = True\n", 1)
	f, diags := cfgfile.Parse([]byte(text), "bad.cfg")
	require.False(t, diags.HasErrors(), diags.Error())
	bad = v.Validate(ctx, f)
	require.True(t, bad.HasErrors())
	return good, bad
}

func TestSummarize(t *testing.T) {
	good, bad := reports(t)

	s := Summarize(good)
	assert.True(t, s.Valid)
	assert.Equal(t, 0, s.Errors)
	assert.NotNil(t, s.Diagnostics)

	s = Summarize(bad)
	assert.False(t, s.Valid)
	assert.Positive(t, s.Errors)
	assert.Positive(t, s.Warnings)
	var sevs []string
	for _, d := range s.Diagnostics {
		sevs = append(sevs, d.Severity)
		if d.Severity == "warning" {
			assert.Equal(t, "Unknown key", d.Summary)
			require.NotNil(t, d.Range)
			assert.Equal(t, "bad.cfg", d.Range.Filename)
		}
	}
	assert.Contains(t, sevs, "error")
}

func TestWriteJSON(t *testing.T) {
	good, bad := reports(t)
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []*validate.Report{good, bad}))

	var out []Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].Valid)
	assert.Empty(t, out[0].Diagnostics)
	assert.False(t, out[1].Valid)
	assert.Equal(t, Summarize(bad), out[1])
}

func TestWriteText(t *testing.T) {
	good, bad := reports(t)
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, []*validate.Report{good, bad}, TextOptions{}))
	out := buf.String()

	assert.Contains(t, out, "Error: Invalid value")
	assert.Contains(t, out, "ligru_drop = 0.2,abc,0.2,0.2,0.2")
	assert.Contains(t, out, "Warning: Unknown key")
	assert.Contains(t, out, timitPath+": ok (0 errors, 0 warnings)\n")
	assert.Contains(t, out, "bad.cfg: invalid (")
}

func TestWriteText_Quiet(t *testing.T) {
	_, bad := reports(t)
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, []*validate.Report{bad}, TextOptions{Quiet: true}))
	assert.NotContains(t, buf.String(), "Warning: Unknown key")
	assert.Contains(t, buf.String(), "Error: Invalid value")
}
