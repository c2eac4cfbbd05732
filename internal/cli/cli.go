package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/pkcfg/internal/app"
	"github.com/vk/pkcfg/internal/export"
	"github.com/vk/pkcfg/internal/notify"
)

// EnvPrefix is prepended to a global flag's name, upper-cased with dashes
// turned into underscores, to find its environment default.
const EnvPrefix = "PKCFG_"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, string(os.PathListSeparator)) }

func (s *stringList) Set(v string) error {
	for _, p := range filepath.SplitList(v) {
		if p != "" {
			*s = append(*s, p)
		}
	}
	return nil
}

// LookupEnv is used for environment defaults; tests replace it.
var LookupEnv = os.LookupEnv

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	var cfg app.Config
	var protoDirs stringList

	global := flag.NewFlagSet("pkcfg", flag.ContinueOnError)
	global.SetOutput(output)
	global.Usage = func() {
		fmt.Fprint(output, `
pkcfg - validate, plan and export pytorch-kaldi experiment configurations.

Usage:
  pkcfg [global options] <command> [options] PATH...

Commands:
  validate   check configurations and report diagnostics
  show       summarize a configuration
  graph      write the model graph in DOT
  plan       expand the chunk and epoch schedule
  export     convert to cfg, json, yaml or hcl
  decode     print the decoding jobs
  serve      run the HTTP API
  history    list recorded runs

Arguments:
  PATH
    A .cfg file or a directory searched recursively for .cfg files.

Global options (environment PKCFG_<NAME>):
`)
		global.PrintDefaults()
	}

	global.StringVar(&cfg.LogFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	global.StringVar(&cfg.LogLevel, "log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	global.IntVar(&cfg.Workers, "workers", 4, "Number of files and probes processed concurrently.")
	global.Var(&protoDirs, "proto-dir", "Directory searched for .proto files before the built-in ones. Repeatable.")
	global.StringVar(&cfg.RulesFile, "rules", "", "TOML file with additional arity rules.")
	global.StringVar(&cfg.LedgerPath, "ledger", "", "SQLite database recording every run.")
	global.StringVar(&cfg.NotifyURL, "notify-url", "", "Socket.IO server to send validation reports to.")
	global.StringVar(&cfg.NotifyEvent, "notify-event", notify.DefaultEvent, "Event name of sent reports.")
	global.StringVar(&cfg.NotifyAck, "notify-ack", "", "Event awaited after sending reports.")
	global.DurationVar(&cfg.NotifyTimeout, "notify-timeout", notify.DefaultTimeout, "Bound on the whole notification.")
	global.StringVar(&cfg.NotifyNamespace, "notify-namespace", "/", "Socket.IO namespace reports are sent on.")
	global.BoolVar(&cfg.NotifyInsecure, "notify-insecure", false, "Skip TLS certificate verification of the notify server.")
	global.BoolVar(&cfg.ExpandEnv, "expand-env", false, "Expand $VAR references in path values.")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	if err := applyEnv(global); err != nil {
		return nil, false, err
	}
	cfg.ProtoDirs = protoDirs
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if global.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		global.Usage()
		return nil, true, nil
	}
	cfg.Command = global.Arg(0)

	cmd := flag.NewFlagSet("pkcfg "+cfg.Command, flag.ContinueOnError)
	cmd.SetOutput(output)
	var format string
	switch cfg.Command {
	case "validate":
		cmd.StringVar(&cfg.Output, "o", "text", "Report format. Options: 'text' or 'json'.")
		cmd.BoolVar(&cfg.Quiet, "q", false, "Only report errors.")
		cmd.BoolVar(&cfg.CheckFiles, "check-files", false, "Check that referenced files and folders exist.")
		cmd.BoolVar(&cfg.CheckBinaries, "check-binaries", false, "Check that the programs of every reader pipe can be found.")
		cmd.StringVar(&cfg.KaldiRoot, "kaldi-root", "", "Kaldi checkout searched for binaries (default $KALDI_ROOT).")
	case "plan":
		cmd.StringVar(&cfg.Output, "o", "text", "Output format. Options: 'text' or 'json'.")
		cmd.IntVar(&cfg.Epochs, "epochs", 0, "Plan this many epochs instead of n_epochs_tr.")
		cmd.StringVar(&cfg.OutDir, "out-dir", "", "Write chunk configurations and lists under this directory.")
		cmd.BoolVar(&cfg.ReadList, "read-lists", false, "Read feature lists to split them into chunks.")
	case "export":
		cmd.StringVar(&format, "f", "", "Output format: "+strings.Join(export.Formats(), ", ")+". Defaults to the extension of -out.")
		cmd.StringVar(&cfg.OutFile, "out", "", "Output file (default stdout).")
		cmd.StringVar(&cfg.OutDir, "out-dir", "", "Output directory, one file per configuration.")
		cmd.StringVar(&cfg.PublishURL, "publish", "", "Pre-signed URL to PUT the export to.")
	case "decode":
		cmd.StringVar(&cfg.OutDir, "out-dir", "", "Write the decoding configurations under this directory.")
	case "serve":
		cmd.StringVar(&cfg.Addr, "addr", ":8080", "Listen address.")
	case "history":
		cmd.StringVar(&cfg.Output, "o", "text", "Output format. Options: 'text' or 'json'.")
		cmd.IntVar(&cfg.Limit, "n", 20, "Number of runs to list; 0 lists all.")
	case "show", "graph":
	default:
		return nil, false, usageError("unknown command %q, expected one of %s", cfg.Command, strings.Join(app.Commands, ", "))
	}
	if err := cmd.Parse(global.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err.Error())
	}
	cfg.Paths = cmd.Args()
	slog.Debug("Arguments parsed successfully.", "command", cfg.Command, "paths", cfg.Paths)

	if cfg.Command == "export" {
		f, err := exportFormat(format, cfg.OutFile)
		if err != nil {
			return nil, false, usageError("%s", err.Error())
		}
		cfg.Format = f
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err.Error())
	}
	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func exportFormat(name, out string) (export.Format, error) {
	if name != "" {
		return export.ParseFormat(name)
	}
	if out != "" {
		if f, ok := export.FormatForPath(out); ok {
			return f, nil
		}
		return "", fmt.Errorf("cannot tell the format of %q, use -f", out)
	}
	return "", errors.New("export needs -f or an -out file with a known extension")
}

// applyEnv sets every flag not given on the command line from its
// environment variable, if present.
func applyEnv(fs *flag.FlagSet) error {
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || given[f.Name] {
			return
		}
		name := EnvName(f.Name)
		v, ok := LookupEnv(name)
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, v); setErr != nil {
			err = usageError("invalid value %q for %s: %v", v, name, setErr)
		}
	})
	return err
}

// EnvName returns the environment variable of a global flag.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
