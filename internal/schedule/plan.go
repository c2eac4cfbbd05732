package schedule

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/proto"
)

// Kind is what a chunk is used for.
type Kind string

const (
	KindTrain   Kind = "train"
	KindValid   Kind = "valid"
	KindForward Kind = "forward"
)

// ListFunc reads the lines of a feature list (scp) file.
type ListFunc func(path string) ([]string, error)

// Options controls Build.
type Options struct {
	// Epochs overrides n_epochs_tr when positive.
	Epochs int
	// ReadList, when set, is used to read every feature list so chunks
	// carry their entries. Without it chunks only name their list files.
	ReadList ListFunc
}

// Chunk is one part of one dataset processed in one step of the run.
type Chunk struct {
	Kind    Kind
	Dataset string
	Epoch   int
	Index   int
	Name    string

	// Config is the path the chunk configuration is rendered to.
	Config string
	// Info is the path the trainer writes the chunk results to.
	Info string
	// Lists maps each feature to the path of its chunk list.
	Lists map[string]string
	// Entries maps each feature to its chunk list lines, when lists were read.
	Entries map[string][]string
}

// Epoch holds the values used during one training epoch.
type Epoch struct {
	Index     int
	BatchSize int
	MaxSeqLen int
	// LR maps each architecture name to its learning rate.
	LR map[string]float64
	// Stalled maps each architecture name to the rate newbob halving
	// switches to when the epoch does not improve the validation error.
	Stalled map[string]float64
	Train   []*Chunk
	Valid []*Chunk
}

// Plan is the full chunked schedule of an experiment.
type Plan struct {
	OutFolder string
	Epochs    []*Epoch
	Forward   []*Chunk
}

// Chunks returns every chunk in execution order.
func (p *Plan) Chunks() []*Chunk {
	var out []*Chunk
	for _, ep := range p.Epochs {
		out = append(out, ep.Train...)
		out = append(out, ep.Valid...)
	}
	return append(out, p.Forward...)
}

// ExpandSchedule expands a compact schedule such as `0.08*12|0.004*12` to
// one value per epoch.
func ExpandSchedule(raw string, epochs int) ([]string, error) {
	s, err := proto.ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	return s.Expand(epochs)
}

// ChunkName names a chunk the way the trainer expects, for example
// train_TIMIT_tr_ep003_ck01.
func ChunkName(kind Kind, dataset string, epoch, chunk int) string {
	return fmt.Sprintf("%s_%s_ep%03d_ck%02d", kind, dataset, epoch, chunk)
}

// Build plans the run of x.
func Build(x *experiment.Experiment, opts Options) (*Plan, error) {
	epochs := x.Exp.NEpochs
	if opts.Epochs > 0 {
		epochs = opts.Epochs
	}
	if epochs < 1 {
		return nil, fmt.Errorf("n_epochs_tr must be at least 1, got %d", epochs)
	}

	b := x.Batches
	if b.BatchSizeTrain == nil || b.MaxSeqLengthTrain == nil {
		return nil, fmt.Errorf("batch_size_train and max_seq_length_train must be set")
	}
	batch, err := b.BatchSizeTrain.ExpandInt(epochs)
	if err != nil {
		return nil, fmt.Errorf("batch_size_train: %w", err)
	}
	maxLens, err := b.MaxSeqLengthTrain.ExpandInt(epochs)
	if err != nil {
		return nil, fmt.Errorf("max_seq_length_train: %w", err)
	}
	seqLens := SeqLengths(maxLens, b.IncreaseSeqLengthTrain, b.StartSeqLenTrain, b.MultiplyFactorSeqLenTrain)

	lrs := make(map[string][]float64, len(x.Architectures))
	for _, a := range x.Architectures {
		if a.LR == nil {
			return nil, fmt.Errorf("architecture %q has no arch_lr", a.Name)
		}
		lr, err := a.LR.ExpandFloat(epochs)
		if err != nil {
			return nil, fmt.Errorf("arch_lr of %q: %w", a.Name, err)
		}
		lrs[a.Name] = lr
	}

	pb := &planner{x: x, opts: opts, lists: make(map[string][]string)}
	p := &Plan{OutFolder: x.Exp.OutFolder}
	for ep := 0; ep < epochs; ep++ {
		e := &Epoch{
			Index:     ep,
			BatchSize: batch[ep],
			MaxSeqLen: seqLens[ep],
			LR:        make(map[string]float64),
			Stalled:   make(map[string]float64),
		}
		for _, a := range x.Architectures {
			lr := lrs[a.Name][ep]
			e.LR[a.Name] = lr
			e.Stalled[a.Name] = NextLR(lr, 1, 1, a.ImprovementThreshold, a.HalvingFactor)
		}
		if e.Train, err = pb.chunks(KindTrain, x.DataUse.TrainWith, ep); err != nil {
			return nil, err
		}
		if e.Valid, err = pb.chunks(KindValid, x.DataUse.ValidWith, ep); err != nil {
			return nil, err
		}
		p.Epochs = append(p.Epochs, e)
	}
	if p.Forward, err = pb.chunks(KindForward, x.DataUse.ForwardWith, epochs-1); err != nil {
		return nil, err
	}
	return p, nil
}

type planner struct {
	x     *experiment.Experiment
	opts  Options
	lists map[string][]string
}

func (pb *planner) chunks(kind Kind, datasets []string, ep int) ([]*Chunk, error) {
	var out []*Chunk
	for _, name := range datasets {
		ds := pb.x.Dataset(name)
		if ds == nil {
			return nil, fmt.Errorf("dataset %q is not defined", name)
		}
		n := max(ds.NChunks, 1)

		var parts map[string][][]string
		if pb.opts.ReadList != nil {
			names := make([]string, 0, len(ds.Features))
			lists := make(map[string][]string, len(ds.Features))
			for _, f := range ds.Features {
				lines, err := pb.read(f.List)
				if err != nil {
					return nil, fmt.Errorf("dataset %q feature %q: %w", name, f.Name, err)
				}
				names = append(names, f.Name)
				lists[f.Name] = lines
			}
			var err error
			parts, err = SplitAligned(names, lists, n, kind == KindTrain, int64(pb.x.Exp.Seed)+int64(ep))
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
		}

		for ck := 0; ck < n; ck++ {
			c := &Chunk{
				Kind:    kind,
				Dataset: name,
				Epoch:   ep,
				Index:   ck,
				Name:    ChunkName(kind, name, ep, ck),
				Lists:   make(map[string]string),
			}
			dir := path.Join(pb.x.Exp.OutFolder, "exp_files")
			c.Config = path.Join(dir, c.Name+".cfg")
			c.Info = path.Join(dir, c.Name+".info")
			for _, f := range ds.Features {
				c.Lists[f.Name] = path.Join(dir, c.Name+"_"+f.Name+".lst")
				if p, ok := parts[f.Name]; ok {
					if c.Entries == nil {
						c.Entries = make(map[string][]string)
					}
					c.Entries[f.Name] = p[ck]
				}
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (pb *planner) read(name string) ([]string, error) {
	if lines, ok := pb.lists[name]; ok {
		return lines, nil
	}
	lines, err := pb.opts.ReadList(name)
	if err != nil {
		return nil, err
	}
	pb.lists[name] = lines
	return lines, nil
}

// ReadLines reads the non-empty lines of a list file.
func ReadLines(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return lines, nil
}
