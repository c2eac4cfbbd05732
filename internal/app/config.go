package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vk/pkcfg/internal/export"
)

// Commands lists the commands the application understands.
var Commands = []string{"validate", "show", "graph", "plan", "export", "decode", "serve", "history"}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command string
	// Paths are .cfg files or directories searched for them.
	Paths []string

	LogFormat string
	LogLevel  string
	Workers   int

	ProtoDirs  []string
	RulesFile  string
	LedgerPath string
	ExpandEnv  bool

	NotifyURL     string
	NotifyEvent   string
	NotifyAck     string
	NotifyTimeout time.Duration

	// NotifyNamespace defaults to the root namespace when empty.
	NotifyNamespace string
	NotifyInsecure  bool

	// validate
	Output        string // text or json
	Quiet         bool
	CheckFiles    bool
	CheckBinaries bool
	KaldiRoot     string

	// plan
	Epochs   int
	OutDir   string
	ReadList bool

	// export
	Format     export.Format
	OutFile    string
	PublishURL string

	// serve
	Addr string

	// history
	Limit int
}

func NewConfig(cfg Config) (*Config, error) {
	if !isCommand(cfg.Command) {
		return nil, fmt.Errorf("unknown command %q, expected one of %s", cfg.Command, strings.Join(Commands, ", "))
	}
	switch cfg.Command {
	case "serve", "history":
	case "graph":
		if len(cfg.Paths) != 1 {
			return nil, errors.New("graph takes exactly one configuration file")
		}
	default:
		if len(cfg.Paths) == 0 {
			return nil, fmt.Errorf("%s needs at least one configuration path", cfg.Command)
		}
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("workers must be at least 1")
	}
	if cfg.Output == "" {
		cfg.Output = "text"
	}
	if cfg.Output != "text" && cfg.Output != "json" {
		return nil, errors.New("invalid output: must be 'text' or 'json'")
	}
	if cfg.Epochs < 0 {
		return nil, errors.New("epochs must not be negative")
	}
	if cfg.Command == "export" && cfg.Format == "" {
		return nil, errors.New("export needs a format")
	}
	if cfg.Command == "export" && cfg.PublishURL != "" && len(cfg.Paths) != 1 {
		return nil, errors.New("publish takes exactly one configuration file")
	}
	if cfg.Command == "history" && cfg.LedgerPath == "" {
		return nil, errors.New("history needs a ledger")
	}
	return &cfg, nil
}

func isCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}
