package kaldi

import (
	"fmt"
	"path"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/vk/pkcfg/internal/experiment"
)

// Command is one stage of a shell pipe.
type Command struct {
	Argv []string
}

// Name is the program the stage runs.
func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return ""
	}
	return c.Argv[0]
}

func (c Command) String() string {
	return joinArgs(c.Argv)
}

// SplitPipe splits a `cmd args | cmd args |` pipe into its stages. Quoted
// pipe characters stay inside their argument and empty stages are dropped.
func SplitPipe(opts string) ([]Command, error) {
	var cmds []Command
	rest := []rune(opts)
	for len(rest) > 0 {
		p := shellwords.NewParser()
		line := string(rest)
		args, err := p.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("splitting %q: %w", line, err)
		}
		if len(args) > 0 {
			cmds = append(cmds, Command{Argv: args})
		}
		if p.Position < 0 {
			break
		}
		if op := rest[p.Position]; op != '|' {
			return nil, fmt.Errorf("splitting %q: unsupported shell operator %q", opts, op)
		}
		rest = rest[p.Position+1:]
	}
	return cmds, nil
}

// Binaries returns the distinct program names of cmds in first-use order.
func Binaries(cmds []Command) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cmds {
		if n := c.Name(); n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// FeaturePipe is the reader pipe for a feature: the scp list is copied to
// an archive and passed through fea_opts.
func FeaturePipe(f *experiment.Feature) ([]Command, error) {
	cmds := []Command{{Argv: []string{"copy-feats", "scp:" + f.List, "ark:-"}}}
	opts, err := SplitPipe(f.Opts)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", f.Name, err)
	}
	return append(cmds, opts...), nil
}

// LabelPipe is the reader pipe for a label: the alignments of lab_folder
// are uncompressed and converted by lab_opts against the folder's model.
func LabelPipe(l *experiment.Label) ([]Command, error) {
	cmds := []Command{{Argv: []string{"gunzip", "-c", path.Join(l.Folder, "ali*.gz")}}}
	opts, err := SplitPipe(l.Opts)
	if err != nil {
		return nil, fmt.Errorf("label %q: %w", l.Name, err)
	}
	if len(opts) == 0 {
		return nil, fmt.Errorf("label %q: lab_opts is empty", l.Name)
	}
	last := &opts[len(opts)-1]
	last.Argv = append(last.Argv, path.Join(l.Folder, "final.mdl"), "ark:-", "ark:-")
	return append(cmds, opts...), nil
}

// Pipes returns every reader command used by the datasets of x.
func Pipes(x *experiment.Experiment) ([]Command, error) {
	var all []Command
	for _, ds := range x.Datasets {
		for _, f := range ds.Features {
			cmds, err := FeaturePipe(f)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", ds.Name, err)
			}
			all = append(all, cmds...)
		}
		for _, l := range ds.Labels {
			cmds, err := LabelPipe(l)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", ds.Name, err)
			}
			all = append(all, cmds...)
		}
	}
	return all, nil
}

// FormatPipe renders cmds as a shell pipe.
func FormatPipe(cmds []Command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

func joinArgs(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

// quote single-quotes a word the shell would otherwise split or expand.
// Glob characters are left alone so patterns still match.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>(){}!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
