package validate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/kaldi"
	"golang.org/x/sync/errgroup"
)

// probe is a path the configuration expects to exist.
type probe struct {
	path string
	dir  bool
	what string
	rng  hcl.Range
}

func filesOf(x *experiment.Experiment) []probe {
	var out []probe
	add := func(p string, dir bool, what string, rng hcl.Range) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, probe{path: p, dir: dir, what: what, rng: rng})
		}
	}
	for _, ds := range x.Datasets {
		for _, f := range ds.Features {
			add(f.List, false, fmt.Sprintf("fea_lst of %q in [%s]", f.Name, ds.Section), f.Range)
		}
		for _, l := range ds.Labels {
			where := fmt.Sprintf("of %q in [%s]", l.Name, ds.Section)
			add(l.Folder, true, "lab_folder "+where, l.Range)
			add(l.DataFolder, true, "lab_data_folder "+where, l.Range)
			add(l.Graph, true, "lab_graph "+where, l.Range)
			if l.CountFile != "auto" && !cfgfile.IsNone(l.CountFile) {
				add(l.CountFile, false, "lab_count_file "+where, l.Range)
			}
		}
	}
	for _, a := range x.Architectures {
		if a.Pretrained() {
			add(a.PretrainFile, false, fmt.Sprintf("arch_pretrain_file of [%s]", a.Section), a.Range)
		}
	}
	if d := x.Decoding; d.Script != "" {
		rng := hcl.Range{Filename: x.File.Filename}
		if s := x.File.Section("decoding"); s != nil {
			if e := s.Get("decoding_script"); e != nil {
				rng = e.ValueRange()
			}
		}
		add(path.Join(d.ScriptFolder, d.Script), false, "decoding script", rng)
	}
	return out
}

// probeFiles checks concurrently that every referenced file or folder
// exists and has the right type.
func (v *Validator) probeFiles(ctx context.Context, x *experiment.Experiment) hcl.Diagnostics {
	probes := filesOf(x)
	results := make([]*hcl.Diagnostic, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers())
	for i, p := range probes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = v.probeFile(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ctxlog.FromContext(ctx).Warn("File probes interrupted.", "error", err)
	}

	var diags hcl.Diagnostics
	for _, d := range results {
		if d != nil {
			diags = append(diags, d)
		}
	}
	return diags
}

func (v *Validator) probeFile(p probe) *hcl.Diagnostic {
	info, err := v.stat(p.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "File not found",
			Detail:   fmt.Sprintf("The %s, %s, does not exist.", p.what, p.path),
			Subject:  p.rng.Ptr(),
		}
	case err != nil:
		return &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "File not readable",
			Detail:   fmt.Sprintf("The %s, %s, cannot be read: %s.", p.what, p.path, err),
			Subject:  p.rng.Ptr(),
		}
	case p.dir && !info.IsDir():
		return &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Not a directory",
			Detail:   fmt.Sprintf("The %s, %s, must be a directory.", p.what, p.path),
			Subject:  p.rng.Ptr(),
		}
	case !p.dir && info.IsDir():
		return &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Not a file",
			Detail:   fmt.Sprintf("The %s, %s, is a directory.", p.what, p.path),
			Subject:  p.rng.Ptr(),
		}
	}
	return nil
}

// probeBinaries resolves the first word of every reader pipe stage.
func (v *Validator) probeBinaries(ctx context.Context, x *experiment.Experiment) hcl.Diagnostics {
	type use struct {
		name string
		rng  hcl.Range
	}
	var uses []use
	seen := make(map[string]bool)
	addAll := func(cmds []kaldi.Command, rng hcl.Range) {
		for _, name := range kaldi.Binaries(cmds) {
			if !seen[name] {
				seen[name] = true
				uses = append(uses, use{name: name, rng: rng})
			}
		}
	}
	for _, ds := range x.Datasets {
		for _, f := range ds.Features {
			cmds, _ := kaldi.FeaturePipe(f)
			addAll(cmds, f.Range)
		}
		for _, l := range ds.Labels {
			cmds, _ := kaldi.LabelPipe(l)
			addAll(cmds, l.Range)
		}
	}

	lookup := kaldi.Lookup(v.kaldiRoot(), v.LookPath)
	results := make([]*hcl.Diagnostic, len(uses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers())
	for i, u := range uses {
		g.Go(func() error {
			res, err := kaldi.CheckBinaries(gctx, []kaldi.Command{{Argv: []string{u.name}}}, lookup)
			if err != nil {
				return err
			}
			if res[0].Err != nil {
				results[i] = &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Binary not found",
					Detail:   fmt.Sprintf("%q is not on PATH%s.", u.name, v.kaldiHint()),
					Subject:  u.rng.Ptr(),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		ctxlog.FromContext(ctx).Warn("Binary probes interrupted.", "error", err)
	}

	var diags hcl.Diagnostics
	for _, d := range results {
		if d != nil {
			diags = append(diags, d)
		}
	}
	return diags
}

func (v *Validator) kaldiRoot() string {
	if v.KaldiRoot != "" {
		return v.KaldiRoot
	}
	if v.Env != nil {
		return v.Env["KALDI_ROOT"]
	}
	return os.Getenv("KALDI_ROOT")
}

func (v *Validator) kaldiHint() string {
	if root := v.kaldiRoot(); root != "" {
		return " or under " + path.Join(root, "src", "*bin")
	}
	return " and KALDI_ROOT is not set"
}
