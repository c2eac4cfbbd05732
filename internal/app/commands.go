package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/vk/pkcfg/internal/export"
	"github.com/vk/pkcfg/internal/fsutil"
	"github.com/vk/pkcfg/internal/kaldi"
	"github.com/vk/pkcfg/internal/ledger"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/vk/pkcfg/internal/publish"
	"github.com/vk/pkcfg/internal/report"
	"github.com/vk/pkcfg/internal/schedule"
	"github.com/vk/pkcfg/internal/server"
	"github.com/vk/pkcfg/internal/validate"
)

const cfgExt = ".cfg"

func (a *App) validateAll(ctx context.Context) ([]*validate.Report, error) {
	paths, err := fsutil.ExpandPaths(a.config.Paths, cfgExt)
	if err != nil {
		return nil, err
	}
	if a.singleFile() && len(paths) != 1 {
		return nil, &UsageError{Message: fmt.Sprintf("%s takes exactly one configuration file, %s expands to %d",
			a.config.Command, strings.Join(a.config.Paths, " "), len(paths))}
	}
	a.logger.Debug("Validating configurations.", "count", len(paths), "workers", a.config.Workers)
	reports, err := a.validator.ValidateAll(ctx, paths)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		a.record(ctx, r)
	}
	return reports, nil
}

// singleFile reports whether the command writes one artifact and so
// accepts a single configuration after path expansion.
func (a *App) singleFile() bool {
	switch a.config.Command {
	case "graph":
		return true
	case "export":
		return a.config.PublishURL != "" || a.config.OutFile != "" || a.config.OutDir == ""
	}
	return false
}

func (a *App) runValidate(ctx context.Context) error {
	reports, err := a.validateAll(ctx)
	if err != nil {
		return err
	}
	if a.config.Output == "json" {
		err = report.WriteJSON(a.outW, reports)
	} else {
		err = report.WriteText(a.outW, reports, report.TextOptions{Width: 78, Quiet: a.config.Quiet})
	}
	if err != nil {
		return err
	}

	if a.notifier != nil {
		ack, err := a.notifier.NotifyReports(ctx, reports)
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		if ack != nil {
			a.logger.Info("Notification acknowledged.", "ack", ack)
		}
	}

	for _, r := range reports {
		if r.HasErrors() {
			return ErrInvalid
		}
	}
	return nil
}

// valid validates every path and stops with the diagnostics of the first
// invalid file. Warnings of valid files are logged.
func (a *App) valid(ctx context.Context) ([]*validate.Report, error) {
	reports, err := a.validateAll(ctx)
	if err != nil {
		return nil, err
	}
	var bad []*validate.Report
	for _, r := range reports {
		if r.HasErrors() {
			bad = append(bad, r)
			continue
		}
		for _, d := range r.Diagnostics {
			a.logger.Warn(d.Summary, "file", r.Filename, "detail", d.Detail)
		}
	}
	if len(bad) > 0 {
		if err := report.WriteText(a.outW, bad, report.TextOptions{Width: 78, Quiet: true}); err != nil {
			return nil, err
		}
		return nil, ErrInvalid
	}
	return reports, nil
}

func (a *App) record(ctx context.Context, r *validate.Report) {
	if a.ledger == nil {
		return
	}
	run, err := a.ledger.RecordValidation(ctx, r)
	if err != nil {
		a.logger.Error("Failed to record validation.", "file", r.Filename, "error", err)
		return
	}
	a.logger.Debug("Validation recorded.", "file", r.Filename, "run", run.ID)
}

func (a *App) runShow(ctx context.Context) error {
	reports, err := a.valid(ctx)
	if err != nil {
		return err
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(a.outW)
		}
		if err := show(a.outW, r, a.validator.Protos); err != nil {
			return err
		}
	}
	return nil
}

func show(w io.Writer, r *validate.Report, protos *proto.Set) error {
	x, g := r.Experiment, r.Graph
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\n", r.Filename)
	fmt.Fprintf(tw, "  out_folder\t%s\n", x.Exp.OutFolder)
	fmt.Fprintf(tw, "  epochs\t%d\n", x.Exp.NEpochs)
	fmt.Fprintf(tw, "  train / valid / forward\t%s / %s / %s\n",
		strings.Join(x.DataUse.TrainWith, ","), strings.Join(x.DataUse.ValidWith, ","), strings.Join(x.DataUse.ForwardWith, ","))

	fmt.Fprintln(tw, "datasets")
	for _, ds := range x.Datasets {
		var feats, labs []string
		for _, f := range ds.Features {
			feats = append(feats, f.Name)
		}
		for _, l := range ds.Labels {
			labs = append(labs, l.Name)
		}
		fmt.Fprintf(tw, "  %s\t%d chunks\tfea %s\tlab %s\n", ds.Name, ds.NChunks, strings.Join(feats, ","), strings.Join(labs, ","))
	}

	fmt.Fprintln(tw, "architectures")
	for _, arch := range x.Architectures {
		var flags []string
		if arch.Pretrained() {
			flags = append(flags, "pretrained")
		}
		if arch.Freeze {
			flags = append(flags, "frozen")
		}
		dim := "?"
		if s, ok := g.Symbols[arch.Name]; ok && s.DimKnown() {
			dim = fmt.Sprint(s.Dim)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\tdim %s\t%s\n", arch.Name, arch.Proto, arch.Opt, dim, strings.Join(flags, ","))
	}

	fmt.Fprintln(tw, "model")
	for _, out := range g.Order {
		st, sym := g.Statement(out), g.Symbols[out]
		dim := ""
		if sym.DimKnown() {
			dim = fmt.Sprintf("dim %d", sym.Dim)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", strings.TrimSpace(st.Text), sym.Kind, dim)
	}

	fmt.Fprintln(tw, "protos")
	refs := []string{x.CfgProto.Proto}
	for _, arch := range x.Architectures {
		refs = append(refs, arch.Proto)
		if arch.Opt != "" {
			refs = append(refs, arch.Opt+".proto")
		}
	}
	seen := make(map[string]bool)
	for _, ref := range refs {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		origin := protos.Origin(ref)
		if origin == "" {
			origin = "unresolved"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", ref, origin)
	}
	fmt.Fprintf(tw, "  available built-ins\t%s\n", strings.Join(proto.Builtins(), " "))

	pipes, err := kaldi.Pipes(x)
	if err == nil && len(pipes) > 0 {
		fmt.Fprintln(tw, "programs")
		fmt.Fprintf(tw, "  %s\n", strings.Join(kaldi.Binaries(pipes), " "))
	}
	return tw.Flush()
}

func (a *App) runGraph(ctx context.Context) error {
	reports, err := a.valid(ctx)
	if err != nil {
		return err
	}
	return reports[0].Graph.WriteDOT(a.outW)
}

func (a *App) runPlan(ctx context.Context) error {
	reports, err := a.valid(ctx)
	if err != nil {
		return err
	}
	opts := schedule.Options{Epochs: a.config.Epochs}
	if a.config.ReadList || a.config.OutDir != "" {
		opts.ReadList = schedule.ReadLines
	}

	var summaries []schedule.Summary
	for _, r := range reports {
		p, err := schedule.Build(r.Experiment, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Filename, err)
		}
		if a.ledger != nil {
			if _, err := a.ledger.RecordPlan(ctx, r.Filename, r.File, p); err != nil {
				a.logger.Error("Failed to record plan.", "file", r.Filename, "error", err)
			}
		}
		if a.config.OutDir != "" {
			if err := schedule.Write(r.Experiment, p, a.config.OutDir); err != nil {
				return fmt.Errorf("%s: %w", r.Filename, err)
			}
			a.logger.Info("Chunk configurations written.", "file", r.Filename, "dir", a.config.OutDir, "chunks", len(p.Chunks()))
		}
		s := schedule.Summarize(p)
		if a.config.Output == "json" {
			summaries = append(summaries, s)
			continue
		}
		if err := writePlan(a.outW, r.Filename, s); err != nil {
			return err
		}
	}
	if a.config.Output == "json" {
		return writeJSON(a.outW, summaries)
	}
	return nil
}

func writePlan(w io.Writer, filename string, s schedule.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%d chunks\t%s\n", filename, s.Chunks, s.OutFolder)
	for _, ep := range s.Epochs {
		var lrs, stalled []string
		for _, name := range sortedKeys(ep.LR) {
			lrs = append(lrs, fmt.Sprintf("%s=%g", name, ep.LR[name]))
			stalled = append(stalled, fmt.Sprintf("%g", ep.Stalled[name]))
		}
		fmt.Fprintf(tw, "  ep%03d\tbatch %d\tseq %d\ttrain %d\tvalid %d\t%s\tstalled %s\n",
			ep.Index, ep.BatchSize, ep.MaxSeqLen, len(ep.Train), len(ep.Valid), strings.Join(lrs, " "), strings.Join(stalled, " "))
	}
	for _, name := range s.Forward {
		fmt.Fprintf(tw, "  forward\t%s\n", name)
	}
	return tw.Flush()
}

func (a *App) runExport(ctx context.Context) error {
	reports, err := a.valid(ctx)
	if err != nil {
		return err
	}
	format := a.config.Format

	switch {
	case a.config.OutFile != "":
		r := reports[0]
		err := writeFile(a.config.OutFile, func(w io.Writer) error {
			return export.Write(w, format, r.Experiment, r.Graph)
		})
		if err != nil {
			return err
		}
		a.logger.Info("Exported.", "file", r.Filename, "to", a.config.OutFile)
		if a.config.PublishURL != "" {
			return a.published(publish.New(0).PutFile(ctx, a.config.PublishURL, a.config.OutFile))
		}
		return nil
	case a.config.PublishURL != "":
		r := reports[0]
		return a.published(publish.New(0).PutExport(ctx, a.config.PublishURL, format, r.Experiment, r.Graph))
	case a.config.OutDir != "":
		for _, r := range reports {
			base := strings.TrimSuffix(filepath.Base(r.Filename), filepath.Ext(r.Filename))
			name := filepath.Join(a.config.OutDir, base+format.Extension())
			err := writeFile(name, func(w io.Writer) error {
				return export.Write(w, format, r.Experiment, r.Graph)
			})
			if err != nil {
				return err
			}
			a.logger.Info("Exported.", "file", r.Filename, "to", name)
		}
		return nil
	}
	return export.Write(a.outW, format, reports[0].Experiment, reports[0].Graph)
}

func (a *App) published(res publish.Result, err error) error {
	if err != nil {
		return err
	}
	a.logger.Info("Export published.", "url", res.URL, "status", res.Status, "size", res.Size)
	return nil
}

func (a *App) runDecode(ctx context.Context) error {
	reports, err := a.valid(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		jobs, err := kaldi.DecodeJobs(r.Experiment)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Filename, err)
		}
		if len(jobs) == 0 {
			a.logger.Info("No output requires decoding.", "file", r.Filename)
		}
		for _, job := range jobs {
			if a.config.OutDir != "" {
				name := filepath.Join(a.config.OutDir, filepath.FromSlash(job.ConfigPath))
				err := writeFile(name, func(w io.Writer) error {
					_, err := w.Write(job.Config.Bytes())
					return err
				})
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(a.outW, job.String())
		}
	}
	return nil
}

func (a *App) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(ctx, server.Options{Validator: a.validator, Ledger: a.ledger})
	return srv.ListenAndServe(ctx, a.config.Addr)
}

func (a *App) runHistory(ctx context.Context) error {
	filter := ledger.Filter{Limit: a.config.Limit}
	if len(a.config.Paths) == 1 {
		filter.Filename = a.config.Paths[0]
	}
	runs, err := a.ledger.Runs(ctx, filter)
	if err != nil {
		return err
	}
	if a.config.Output == "json" {
		return writeJSON(a.outW, runs)
	}

	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tKIND\tFILE\tERRORS\tWARNINGS\tCHUNKS\tFINGERPRINT\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.12s\t%s\n",
			r.ID[:8], r.Kind, r.Filename, r.Errors, r.Warnings, r.Chunks, r.Fingerprint, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(name string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
