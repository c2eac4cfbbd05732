package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/envexpand"
	"github.com/vk/pkcfg/internal/ledger"
	"github.com/vk/pkcfg/internal/notify"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/vk/pkcfg/internal/rules"
	"github.com/vk/pkcfg/internal/validate"
)

// ErrInvalid is returned when a configuration has errors. The diagnostics
// have already been written.
var ErrInvalid = errors.New("configuration has errors")

// UsageError reports a command line that names valid paths the command
// still cannot carry out, such as a directory holding several files for a
// command that takes one.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	config    *Config
	outW      io.Writer
	logger    *slog.Logger
	validator *validate.Validator
	ledger    *ledger.Store
	notifier  *notify.Notifier
}

// NewApp wires the validator, ledger and notifier for cfg. Command output
// goes to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg, logW)
	logger.Debug("Logger configured successfully.")

	v := validate.New()
	v.Protos = proto.NewSet(cfg.ProtoDirs...)
	v.Workers = cfg.Workers
	v.CheckFiles = cfg.CheckFiles
	v.CheckBinaries = cfg.CheckBinaries
	v.KaldiRoot = cfg.KaldiRoot
	if cfg.ExpandEnv {
		v.Env = envexpand.FromOS()
	}
	if cfg.RulesFile != "" {
		pack, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		v.Rules = v.Rules.Merge(pack)
		logger.Debug("User rules loaded.", "file", cfg.RulesFile, "rules", len(pack.Arity))
	}

	a := &App{config: cfg, outW: outW, logger: logger, validator: v}

	if cfg.LedgerPath != "" {
		store, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		a.ledger = store
		logger.Debug("Ledger opened.", "path", cfg.LedgerPath)
	}
	if cfg.NotifyURL != "" {
		n, err := notify.New(notify.Options{
			URL:                cfg.NotifyURL,
			Namespace:          cfg.NotifyNamespace,
			Event:              cfg.NotifyEvent,
			AckEvent:           cfg.NotifyAck,
			Timeout:            cfg.NotifyTimeout,
			InsecureSkipVerify: cfg.NotifyInsecure,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.notifier = n
	}
	return a, nil
}

// Close releases the ledger.
func (a *App) Close() error {
	if a.ledger != nil {
		return a.ledger.Close()
	}
	return nil
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "paths", a.config.Paths)
	defer a.logger.Debug("App.Run method finished.")

	switch a.config.Command {
	case "validate":
		return a.runValidate(ctx)
	case "show":
		return a.runShow(ctx)
	case "graph":
		return a.runGraph(ctx)
	case "plan":
		return a.runPlan(ctx)
	case "export":
		return a.runExport(ctx)
	case "decode":
		return a.runDecode(ctx)
	case "serve":
		return a.runServe(ctx)
	case "history":
		return a.runHistory(ctx)
	}
	return fmt.Errorf("unknown command %q", a.config.Command)
}
