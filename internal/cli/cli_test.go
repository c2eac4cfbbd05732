package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/app"
	"github.com/vk/pkcfg/internal/export"
	"github.com/vk/pkcfg/internal/notify"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	prev := LookupEnv
	LookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	t.Cleanup(func() { LookupEnv = prev })
}

func TestParse_Validate(t *testing.T) {
	withEnv(t, nil)
	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{
		"--log-level", "DEBUG", "--proto-dir", "a", "--proto-dir", "b",
		"validate", "-o", "json", "-check-files", "x.cfg", "dir",
	}, out)
	require.NoError(t, err)
	require.False(t, exit)

	want := &app.Config{
		Command:       "validate",
		Paths:         []string{"x.cfg", "dir"},
		LogFormat:     "text",
		LogLevel:      "debug",
		Workers:       4,
		ProtoDirs:     []string{"a", "b"},
		NotifyEvent:     notify.DefaultEvent,
		NotifyTimeout:   notify.DefaultTimeout,
		NotifyNamespace: "/",
		Output:          "json",
		CheckFiles:      true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EnvDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"PKCFG_WORKERS":         "9",
		"PKCFG_LEDGER":          "/tmp/l.db",
		"PKCFG_EXPAND_ENV":      "true",
		"PKCFG_NOTIFY_TIMEOUT":  "3s",
		"PKCFG_LOG_FORMAT":      "json",
		"PKCFG_NOTIFY_INSECURE": "true",
	})
	cfg, _, err := Parse([]string{"--log-format", "text", "history"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, "/tmp/l.db", cfg.LedgerPath)
	assert.True(t, cfg.ExpandEnv)
	assert.Equal(t, 3*time.Second, cfg.NotifyTimeout)
	assert.True(t, cfg.NotifyInsecure)
	assert.Equal(t, "text", cfg.LogFormat, "flags win over the environment")
	assert.Equal(t, 20, cfg.Limit)
}

func TestParse_NotifyFlags(t *testing.T) {
	withEnv(t, nil)
	cfg, _, err := Parse([]string{
		"--notify-url", "http://localhost:3000", "--notify-namespace", "/reports", "--notify-insecure",
		"validate", "x.cfg",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/reports", cfg.NotifyNamespace)
	assert.True(t, cfg.NotifyInsecure)
}

func TestParse_BadEnv(t *testing.T) {
	withEnv(t, map[string]string{"PKCFG_WORKERS": "many"})
	_, _, err := Parse([]string{"validate", "x.cfg"}, &bytes.Buffer{})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, exitErr.Message, "PKCFG_WORKERS")
}

func TestParse_ExportFormat(t *testing.T) {
	withEnv(t, nil)
	cfg, _, err := Parse([]string{"export", "-out", "x.yml", "a.cfg"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, export.FormatYAML, cfg.Format)

	cfg, _, err = Parse([]string{"export", "-f", "HCL", "a.cfg"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, export.FormatHCL, cfg.Format)

	_, _, err = Parse([]string{"export", "a.cfg"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "export needs -f")
	_, _, err = Parse([]string{"export", "-out", "x.txt", "a.cfg"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "cannot tell the format")
}

func TestParse_Usage(t *testing.T) {
	withEnv(t, nil)
	for _, args := range [][]string{nil, {"-h"}, {"plan", "-h"}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage")
	}
}

func TestParse_Errors(t *testing.T) {
	withEnv(t, nil)
	cases := map[string][]string{
		"flag provided but not defined": {"--nope", "validate"},
		`unknown command "train"`:       {"train", "x.cfg"},
		"invalid log-level":             {"--log-level", "loud", "validate", "x.cfg"},
		"needs at least one":            {"plan"},
		"exactly one":                   {"graph", "a.cfg", "b.cfg"},
	}
	for want, args := range cases {
		_, _, err := Parse(args, &bytes.Buffer{})
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr, want)
		assert.Equal(t, 2, exitErr.Code)
		assert.Contains(t, exitErr.Message, want)
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "PKCFG_NOTIFY_URL", EnvName("notify-url"))
}
