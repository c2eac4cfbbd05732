package kaldi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

// LookupFunc resolves a program name to a path, like exec.LookPath.
type LookupFunc func(name string) (string, error)

// ErrNotFound is returned by lookups that find no program.
var ErrNotFound = errors.New("binary not found")

// Lookup searches PATH and then the Kaldi build tree under root
// ($KALDI_ROOT/src/*bin). An empty root only searches PATH. A nil lookPath
// uses exec.LookPath.
func Lookup(root string, lookPath LookupFunc) LookupFunc {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return func(name string) (string, error) {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
		if root != "" {
			matches, err := filepath.Glob(filepath.Join(root, "src", "*bin", name))
			if err != nil {
				return "", err
			}
			if len(matches) > 0 {
				return matches[0], nil
			}
		}
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
}

// Resolution is the outcome of looking up one binary.
type Resolution struct {
	Name string
	Path string
	Err  error
}

// CheckBinaries resolves every program used by cmds. It stops early when
// ctx is cancelled.
func CheckBinaries(ctx context.Context, cmds []Command, lookup LookupFunc) ([]Resolution, error) {
	names := Binaries(cmds)
	out := make([]Resolution, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p, err := lookup(name)
		out = append(out, Resolution{Name: name, Path: p, Err: err})
	}
	return out, nil
}
