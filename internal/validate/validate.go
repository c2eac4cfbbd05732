package validate

import (
	"context"
	"io/fs"
	"os"
	"runtime"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/envexpand"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/kaldi"
	"github.com/vk/pkcfg/internal/netgraph"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/vk/pkcfg/internal/rules"
	"golang.org/x/sync/errgroup"
)

// Validator holds the settings shared by every validation run. The zero
// value is not usable; use New.
type Validator struct {
	Protos *proto.Set
	Rules  *rules.Pack

	// CheckFiles probes the files and folders the configuration refers to.
	CheckFiles bool
	// CheckBinaries resolves the programs of every reader pipe.
	CheckBinaries bool
	// Workers bounds concurrent probes and concurrent files.
	Workers int

	// LookPath resolves binaries on PATH; nil uses exec.LookPath.
	LookPath kaldi.LookupFunc
	// KaldiRoot is searched for binaries not on PATH.
	KaldiRoot string
	// Env, when non-nil, is used to expand $VAR references in path values.
	Env envexpand.Env
	// Stat is used by file probes; nil uses os.Stat.
	Stat func(name string) (fs.FileInfo, error)

	// Graph supplies dimensions for the model checks.
	Graph netgraph.Options
}

// New returns a validator using the built-in protos and rules.
func New() *Validator {
	return &Validator{
		Protos:  proto.NewSet(),
		Rules:   rules.Default(),
		Workers: runtime.NumCPU(),
	}
}

// Report is the outcome of validating one file.
type Report struct {
	Filename    string
	File        *cfgfile.File
	Experiment  *experiment.Experiment
	Graph       *netgraph.Graph
	Diagnostics hcl.Diagnostics
}

// HasErrors reports whether any diagnostic is an error.
func (r *Report) HasErrors() bool {
	return r.Diagnostics.HasErrors()
}

// Counts returns the number of errors and warnings.
func (r *Report) Counts() (errs, warnings int) {
	for _, d := range r.Diagnostics {
		switch d.Severity {
		case hcl.DiagError:
			errs++
		case hcl.DiagWarning:
			warnings++
		}
	}
	return errs, warnings
}

// ValidateFile parses and validates the file at path.
func (v *Validator) ValidateFile(ctx context.Context, path string) *Report {
	f, diags := cfgfile.ParseFile(path)
	if diags.HasErrors() {
		return &Report{Filename: path, File: f, Diagnostics: diags}
	}
	r := v.Validate(ctx, f)
	r.Diagnostics = append(diags, r.Diagnostics...)
	return r
}

// Validate checks a parsed file. f is not modified.
func (v *Validator) Validate(ctx context.Context, f *cfgfile.File) *Report {
	logger := ctxlog.FromContext(ctx).With("file", f.Filename)
	r := &Report{Filename: f.Filename, File: f}

	decoded := f
	if v.Env != nil {
		var diags hcl.Diagnostics
		decoded, diags = v.expandEnv(f)
		r.Diagnostics = append(r.Diagnostics, diags...)
	}

	x, diags := experiment.Decode(decoded, v.Protos)
	r.Experiment = x
	r.Diagnostics = append(r.Diagnostics, diags...)
	logger.Debug("Decoded configuration.", "datasets", len(x.Datasets), "architectures", len(x.Architectures), "diagnostics", len(diags))

	if v.Rules != nil {
		r.Diagnostics = append(r.Diagnostics, v.Rules.Check(decoded, x.IsList)...)
	}

	g, diags := netgraph.Build(x, v.Graph)
	r.Graph = g
	r.Diagnostics = append(r.Diagnostics, diags...)

	r.Diagnostics = append(r.Diagnostics, crossReferences(x, g)...)

	if r.HasErrors() {
		logger.Debug("Skipping probes after errors.")
		return r
	}
	if v.CheckFiles {
		r.Diagnostics = append(r.Diagnostics, v.probeFiles(ctx, x)...)
	}
	if v.CheckBinaries {
		r.Diagnostics = append(r.Diagnostics, v.probeBinaries(ctx, x)...)
	}
	errs, warnings := r.Counts()
	logger.Debug("Validated configuration.", "errors", errs, "warnings", warnings)
	return r
}

// ValidateAll validates the files concurrently. Reports are returned in
// the order of paths. The error is non-nil only when ctx ends first.
func (v *Validator) ValidateAll(ctx context.Context, paths []string) ([]*Report, error) {
	reports := make([]*Report, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers())
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = v.ValidateFile(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (v *Validator) workers() int {
	if v.Workers < 1 {
		return 1
	}
	return v.Workers
}

func (v *Validator) stat(name string) (fs.FileInfo, error) {
	if v.Stat != nil {
		return v.Stat(name)
	}
	return os.Stat(name)
}
