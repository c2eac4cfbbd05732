package schedule

// Summary is the JSON view of a plan.
type Summary struct {
	OutFolder string         `json:"out_folder"`
	Epochs    []EpochSummary `json:"epochs"`
	Forward   []string       `json:"forward"`
	Chunks    int            `json:"chunks"`
}

// EpochSummary is the JSON view of one epoch.
type EpochSummary struct {
	Index     int                `json:"index"`
	BatchSize int                `json:"batch_size"`
	MaxSeqLen int                `json:"max_seq_len"`
	LR        map[string]float64 `json:"lr"`
	Stalled   map[string]float64 `json:"stalled_lr"`
	Train     []string           `json:"train"`
	Valid     []string           `json:"valid"`
}

// Summarize returns the chunk names and per-epoch values of p.
func Summarize(p *Plan) Summary {
	s := Summary{
		OutFolder: p.OutFolder,
		Epochs:    make([]EpochSummary, 0, len(p.Epochs)),
		Forward:   names(p.Forward),
		Chunks:    len(p.Chunks()),
	}
	for _, ep := range p.Epochs {
		s.Epochs = append(s.Epochs, EpochSummary{
			Index:     ep.Index,
			BatchSize: ep.BatchSize,
			MaxSeqLen: ep.MaxSeqLen,
			LR:        ep.LR,
			Stalled:   ep.Stalled,
			Train:     names(ep.Train),
			Valid:     names(ep.Valid),
		})
	}
	return s
}

func names(chunks []*Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Name
	}
	return out
}
