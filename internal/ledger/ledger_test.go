package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/schedule"
	"github.com/vk/pkcfg/internal/validate"
)

const timitPath = "../../testdata/timit_transformer_ligru.cfg"

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)
	v := validate.New()

	good := v.ValidateFile(ctx, timitPath)
	require.False(t, good.HasErrors(), good.Diagnostics.Error())
	r1, err := s.RecordValidation(ctx, good)
	require.NoError(t, err)
	assert.Len(t, r1.Fingerprint, 64)
	assert.Equal(t, 0, r1.Errors)

	f := good.File.Clone()
	f.Section("exp").Delete("seed")
	bad := v.Validate(ctx, f)
	require.True(t, bad.HasErrors())
	r2, err := s.RecordValidation(ctx, bad)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Fingerprint, r2.Fingerprint)
	assert.NotEqual(t, r1.ID, r2.ID)

	runs, err := s.Runs(ctx, Filter{Filename: timitPath})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, r2.ID, runs[0].ID)
	assert.Equal(t, r1.ID, runs[1].ID)
	assert.Equal(t, KindValidate, runs[0].Kind)
	assert.Equal(t, r2.CreatedAt, runs[0].CreatedAt)
	assert.Positive(t, runs[0].Errors)

	diags, err := s.Diagnostics(ctx, r2.ID)
	require.NoError(t, err)
	require.Len(t, diags, len(bad.Diagnostics))
	found := false
	for _, d := range diags {
		if d.Summary == "Missing required key" {
			found = true
			assert.Equal(t, "error", d.Severity)
			assert.Contains(t, d.Detail, `"seed"`)
			assert.Positive(t, d.Line)
		}
	}
	assert.True(t, found)
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	a, diags := cfgfile.Parse([]byte("[exp]\nseed = 1\n"), "a.cfg")
	require.False(t, diags.HasErrors())
	b, diags := cfgfile.Parse([]byte("[exp]\n\nseed=1\n"), "b.cfg")
	require.False(t, diags.HasErrors())
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestRecordPlan(t *testing.T) {
	ctx := context.Background()
	s := tempStore(t)

	r := validate.New().ValidateFile(ctx, timitPath)
	require.False(t, r.HasErrors(), r.Diagnostics.Error())
	p, err := schedule.Build(r.Experiment, schedule.Options{Epochs: 2})
	require.NoError(t, err)

	run, err := s.RecordPlan(ctx, timitPath, r.File, p)
	require.NoError(t, err)
	assert.Equal(t, 13, run.Chunks)

	_, err = s.RecordValidation(ctx, r)
	require.NoError(t, err)

	plans, err := s.Runs(ctx, Filter{Kind: KindPlan})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, run.ID, plans[0].ID)
	assert.Equal(t, 13, plans[0].Chunks)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE run_id = ? AND kind = 'train'`, run.ID).Scan(&n))
	assert.Equal(t, 10, n)

	latest, err := s.Runs(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, KindValidate, latest[0].Kind)
}

func TestRunsEmpty(t *testing.T) {
	s := tempStore(t)
	runs, err := s.Runs(context.Background(), Filter{Filename: "nope.cfg"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

