package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/kaldi"
	"github.com/vk/pkcfg/internal/netgraph"
)

type checker struct {
	x     *experiment.Experiment
	g     *netgraph.Graph
	diags hcl.Diagnostics
}

// crossReferences checks the names one section uses against the sections
// that define them.
func crossReferences(x *experiment.Experiment, g *netgraph.Graph) hcl.Diagnostics {
	c := &checker{x: x, g: g}
	c.uniqueNames()
	c.dataUse()
	c.consistentBlocks()
	c.pipes()
	c.architectures()
	c.batches()
	c.forward()
	return c.diags
}

// valueRange is the range of key's value in section, or the section header
// when the key is absent.
func (c *checker) valueRange(section, key string) hcl.Range {
	s := c.x.File.Section(section)
	if s == nil {
		return hcl.Range{Filename: c.x.File.Filename, Start: hcl.InitialPos, End: hcl.InitialPos}
	}
	if e := s.Get(key); e != nil {
		return e.ValueRange()
	}
	return s.Range
}

func (c *checker) add(sev hcl.DiagnosticSeverity, rng hcl.Range, summary, detail string, args ...any) {
	c.diags = append(c.diags, &hcl.Diagnostic{
		Severity: sev,
		Summary:  summary,
		Detail:   fmt.Sprintf(detail, args...),
		Subject:  rng.Ptr(),
	})
}

func (c *checker) uniqueNames() {
	datasets := make(map[string]string)
	for _, ds := range c.x.Datasets {
		if ds.Name == "" {
			continue
		}
		if prev, dup := datasets[ds.Name]; dup {
			c.add(hcl.DiagError, c.valueRange(ds.Section, "data_name"), "Duplicate dataset name",
				"The data_name %q is already used by [%s].", ds.Name, prev)
			continue
		}
		datasets[ds.Name] = ds.Section
	}
	archs := make(map[string]string)
	for _, a := range c.x.Architectures {
		if a.Name == "" {
			continue
		}
		if prev, dup := archs[a.Name]; dup {
			c.add(hcl.DiagError, c.valueRange(a.Section, "arch_name"), "Duplicate architecture name",
				"The arch_name %q is already used by [%s].", a.Name, prev)
			continue
		}
		archs[a.Name] = a.Section
	}
}

func (c *checker) dataUse() {
	for _, use := range []struct {
		key   string
		names []string
	}{
		{"train_with", c.x.DataUse.TrainWith},
		{"valid_with", c.x.DataUse.ValidWith},
		{"forward_with", c.x.DataUse.ForwardWith},
	} {
		for _, name := range use.names {
			if c.x.Dataset(name) == nil {
				c.add(hcl.DiagError, c.valueRange("data_use", use.key), "Unknown dataset",
					"%s refers to %q, which is not the data_name of any dataset section.", use.key, name)
			}
		}
	}
}

// consistentBlocks requires every dataset to provide the same features and
// labels, since the model refers to them by name.
func (c *checker) consistentBlocks() {
	features, labels := c.x.FeatureNames(), c.x.LabelNames()
	for _, ds := range c.x.Datasets {
		for _, name := range features {
			if ds.Feature(name) == nil {
				c.add(hcl.DiagError, c.valueRange(ds.Section, "fea"), "Missing feature",
					"[%s] does not define the feature %q used by other datasets.", ds.Section, name)
			}
		}
		for _, name := range labels {
			if ds.Label(name) == nil {
				c.add(hcl.DiagError, c.valueRange(ds.Section, "lab"), "Missing label",
					"[%s] does not define the label %q used by other datasets.", ds.Section, name)
			}
		}
	}
}

func (c *checker) pipes() {
	for _, ds := range c.x.Datasets {
		for _, f := range ds.Features {
			if _, err := kaldi.FeaturePipe(f); err != nil {
				c.add(hcl.DiagError, f.Range, "Invalid pipe", "The fea_opts of [%s]: %s.", ds.Section, err)
			}
		}
		for _, l := range ds.Labels {
			if _, err := kaldi.LabelPipe(l); err != nil {
				c.add(hcl.DiagError, l.Range, "Invalid pipe", "The lab_opts of [%s]: %s.", ds.Section, err)
			}
		}
	}
}

func (c *checker) architectures() {
	labels := c.x.LabelNames()
	for _, a := range c.x.Architectures {
		if lab, ok := netgraph.OutLabel(a); ok && !slices.Contains(labels, lab) {
			key, _ := a.LayerKey()
			c.add(hcl.DiagError, c.valueRange(a.Section, key), "Unknown label",
				"N_out_%s sizes the output layer by the label %q, which no dataset defines.", lab, lab)
		}
		if strings.TrimSpace(a.PretrainFile) == "" {
			c.add(hcl.DiagError, c.valueRange(a.Section, "arch_pretrain_file"), "Invalid value",
				"arch_pretrain_file must be none or the path of a saved model.")
		} else if a.Freeze && !a.Pretrained() {
			c.add(hcl.DiagWarning, c.valueRange(a.Section, "arch_freeze"), "Frozen architecture is not pretrained",
				"%q is frozen but has no arch_pretrain_file, so it keeps its random initialization.", a.Name)
		}
		if c.x.Exp.NEpochs > 0 && a.LR != nil {
			if _, err := a.LR.ExpandFloat(c.x.Exp.NEpochs); err != nil {
				c.add(hcl.DiagError, c.valueRange(a.Section, "arch_lr"), "Invalid schedule",
					"arch_lr of [%s]: %s.", a.Section, err)
			}
		}
	}
}

func (c *checker) batches() {
	b := c.x.Batches
	epochs := c.x.Exp.NEpochs
	if epochs <= 0 {
		return
	}
	if b.BatchSizeTrain != nil {
		if _, err := b.BatchSizeTrain.ExpandInt(epochs); err != nil {
			c.add(hcl.DiagError, c.valueRange("batches", "batch_size_train"), "Invalid schedule", "batch_size_train: %s.", err)
		}
	}
	if b.MaxSeqLengthTrain == nil {
		return
	}
	maxLens, err := b.MaxSeqLengthTrain.ExpandInt(epochs)
	if err != nil {
		c.add(hcl.DiagError, c.valueRange("batches", "max_seq_length_train"), "Invalid schedule", "max_seq_length_train: %s.", err)
		return
	}
	if !b.IncreaseSeqLengthTrain {
		return
	}
	for ep, m := range maxLens {
		if b.StartSeqLenTrain > m {
			c.add(hcl.DiagError, c.valueRange("batches", "start_seq_len_train"), "Invalid sequence length",
				"start_seq_len_train is %d but max_seq_length_train is %d in epoch %d.", b.StartSeqLenTrain, m, ep+1)
			return
		}
	}
}

func (c *checker) forward() {
	fw := c.x.Forward
	if len(c.g.Statements) > 0 {
		for _, out := range fw.Out {
			if c.g.Statement(out) == nil {
				c.add(hcl.DiagError, c.valueRange("forward", "forward_out"), "Unknown forward output",
					"%q is not an output of the [model] program.", out)
				continue
			}
			if sym, ok := c.g.Symbols[out]; ok && sym.Kind != netgraph.KindTensor {
				c.add(hcl.DiagError, c.valueRange("forward", "forward_out"), "Invalid forward output",
					"%q is a %s; only network outputs can be forwarded.", out, sym.Kind)
			}
		}
	}

	labels := c.x.LabelNames()
	for i, lab := range fw.NormalizeWithCountsFrom {
		if i >= len(fw.NormalizePosteriors) || !fw.NormalizePosteriors[i] {
			continue
		}
		if !slices.Contains(labels, lab) {
			c.add(hcl.DiagError, c.valueRange("forward", "normalize_with_counts_from"), "Unknown label",
				"normalize_with_counts_from refers to %q, which no dataset defines.", lab)
		}
	}

	if _, err := kaldi.DecodeJobs(c.x); err != nil && c.datasetsResolved() {
		c.add(hcl.DiagError, c.valueRange("forward", "require_decoding"), "Invalid decoding setup", "%s.", err)
	}
}

// datasetsResolved reports whether every forward_with name is defined, so
// decoding problems are not reported twice.
func (c *checker) datasetsResolved() bool {
	for _, name := range c.x.DataUse.ForwardWith {
		if c.x.Dataset(name) == nil {
			return false
		}
	}
	return true
}
