package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
)

// DataChunkSection holds the feature and label blocks of the chunk a
// rendered configuration processes.
const DataChunkSection = "data_chunk"

// Render produces the configuration of one chunk: the experiment with its
// datasets replaced by [data_chunk], the epoch's batch and learning rate
// values, and the [exp] to_do and out_info keys set for the chunk.
func Render(x *experiment.Experiment, p *Plan, c *Chunk) (*cfgfile.File, error) {
	ds := x.Dataset(c.Dataset)
	if ds == nil {
		return nil, fmt.Errorf("dataset %q is not defined", c.Dataset)
	}
	if c.Epoch < 0 || c.Epoch >= len(p.Epochs) {
		return nil, fmt.Errorf("chunk %s: epoch %d is outside the plan", c.Name, c.Epoch)
	}
	ep := p.Epochs[c.Epoch]

	f := x.File.Clone()
	f.Filename = c.Config
	if s := f.Section("cfg_proto"); s != nil {
		if chunkProto, ok := s.Value("cfg_proto_chunk"); ok && chunkProto != "" {
			s.Set("cfg_proto", chunkProto)
			s.Delete("cfg_proto_chunk")
		}
	}

	exp := f.AddSection("exp")
	exp.Set("to_do", string(c.Kind))
	exp.Set("out_info", c.Info)

	for _, s := range f.Family(experiment.DatasetPrefix) {
		f.RemoveSection(s.Name)
	}
	f.RemoveSection("data_use")

	data := f.AddSection(DataChunkSection)
	data.Set("data_name", ds.Name)
	if src := x.File.Section(ds.Section); src != nil {
		if e := src.Get("fea"); e != nil {
			blocks, diags := cfgfile.ParseBlocks(e, "fea_name")
			if diags.HasErrors() {
				return nil, fmt.Errorf("dataset %q: %s", ds.Name, diags.Error())
			}
			for _, b := range blocks {
				for i := range b.Fields {
					if strings.EqualFold(b.Fields[i].Key, "fea_lst") {
						b.Fields[i].Value = c.Lists[b.Name]
					}
				}
			}
			data.Set("fea", cfgfile.FormatBlocks(blocks))
		}
		if lab, ok := src.Value("lab"); ok {
			data.Set("lab", lab)
		}
	}

	batches := f.AddSection("batches")
	batches.Set("batch_size_train", strconv.Itoa(ep.BatchSize))
	batches.Set("max_seq_length_train", strconv.Itoa(ep.MaxSeqLen))

	for _, a := range x.Architectures {
		if s := f.Section(a.Section); s != nil {
			s.Set("arch_lr", strconv.FormatFloat(ep.LR[a.Name], 'g', -1, 64))
		}
	}
	return f, nil
}

// Write renders every chunk configuration of p under root and, for chunks
// with entries, writes their list files. Paths inside the plan are taken
// relative to root.
func Write(x *experiment.Experiment, p *Plan, root string) error {
	for _, c := range p.Chunks() {
		f, err := Render(x, p, c)
		if err != nil {
			return err
		}
		if err := writeFile(filepath.Join(root, filepath.FromSlash(c.Config)), f.Bytes()); err != nil {
			return err
		}
		for name, lines := range c.Entries {
			data := []byte(strings.Join(lines, "\n") + "\n")
			if err := writeFile(filepath.Join(root, filepath.FromSlash(c.Lists[name])), data); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(name), err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
