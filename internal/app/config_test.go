package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pkcfg/internal/export"
)

func TestNewConfig(t *testing.T) {
	base := func() Config {
		return Config{Command: "validate", Paths: []string{"a.cfg"}, LogLevel: "info", LogFormat: "text", Workers: 1}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		err    string
	}{
		{"ok", func(c *Config) {}, ""},
		{"unknown command", func(c *Config) { c.Command = "train" }, `unknown command "train"`},
		{"no paths", func(c *Config) { c.Paths = nil }, "validate needs at least one configuration path"},
		{"serve without paths", func(c *Config) { c.Command = "serve"; c.Paths = nil }, ""},
		{"graph of two files", func(c *Config) { c.Command = "graph"; c.Paths = []string{"a", "b"} }, "exactly one"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "invalid log-level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "invalid log-format"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"bad output", func(c *Config) { c.Output = "html" }, "invalid output"},
		{"negative epochs", func(c *Config) { c.Epochs = -1 }, "epochs must not be negative"},
		{"export without format", func(c *Config) { c.Command = "export" }, "export needs a format"},
		{"publish two files", func(c *Config) {
			c.Command, c.Format, c.PublishURL, c.Paths = "export", export.FormatJSON, "http://x", []string{"a", "b"}
		}, "publish takes exactly one"},
		{"history without ledger", func(c *Config) { c.Command = "history" }, "history needs a ledger"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			cfg, err := NewConfig(c)
			if tc.err == "" {
				require.NoError(t, err)
				assert.Equal(t, "text", cfg.Output)
				return
			}
			assert.ErrorContains(t, err, tc.err)
		})
	}
}
