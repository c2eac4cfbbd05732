package experiment

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/proto"
	"github.com/zclconf/go-cty/cty"
)

// Experiment is the typed view of a configuration file. It is built once
// by Decode and is not modified afterwards.
type Experiment struct {
	File *cfgfile.File

	CfgProto      CfgProto
	Exp           Exp
	Datasets      []*Dataset
	DataUse       DataUse
	Batches       Batches
	Architectures []*Architecture
	Model         Model
	Forward       Forward
	Decoding      Decoding

	// Values holds every decoded value by section and lower-cased key.
	// Compound dataset values are tuples of objects, one per block, and
	// keys unknown to the protos are kept as strings.
	Values map[string]map[string]cty.Value

	types map[string]map[string]proto.FieldType
}

// CfgProto names the protos describing the file.
type CfgProto struct {
	Proto string `cty:"cfg_proto"`
	Chunk string `cty:"cfg_proto_chunk"`
}

// Exp holds the run-wide settings of the [exp] section.
type Exp struct {
	Cmd         string `cty:"cmd"`
	RunNNScript string `cty:"run_nn_script"`
	OutFolder   string `cty:"out_folder"`
	Seed        int    `cty:"seed"`
	UseCUDA     bool   `cty:"use_cuda"`
	MultiGPU    bool   `cty:"multi_gpu"`
	SaveGPUMem  bool   `cty:"save_gpumem"`
	NEpochs     int    `cty:"n_epochs_tr"`
	Production  bool   `cty:"production"`
}

// Dataset is one [datasetN] section.
type Dataset struct {
	Section string
	Range   hcl.Range

	Name    string `cty:"data_name"`
	Fea     string `cty:"fea"`
	Lab     string `cty:"lab"`
	NChunks int    `cty:"n_chunks"`

	Features []*Feature
	Labels   []*Label
}

// Feature is one block of a dataset's fea value.
type Feature struct {
	Range hcl.Range

	Name    string `cty:"fea_name"`
	List    string `cty:"fea_lst"`
	Opts    string `cty:"fea_opts"`
	CwLeft  int    `cty:"cw_left"`
	CwRight int    `cty:"cw_right"`
}

// Label is one block of a dataset's lab value.
type Label struct {
	Range hcl.Range

	Name       string `cty:"lab_name"`
	Folder     string `cty:"lab_folder"`
	Opts       string `cty:"lab_opts"`
	CountFile  string `cty:"lab_count_file"`
	DataFolder string `cty:"lab_data_folder"`
	Graph      string `cty:"lab_graph"`
}

// DataUse selects the datasets for training, validation and forwarding.
type DataUse struct {
	TrainWith   []string `cty:"train_with"`
	ValidWith   []string `cty:"valid_with"`
	ForwardWith []string `cty:"forward_with"`
}

// Batches holds batching and sequence length settings. Values that may
// vary per epoch are kept both as written and as parsed schedules.
type Batches struct {
	BatchSizeTrainRaw         string `cty:"batch_size_train"`
	MaxSeqLengthTrainRaw      string `cty:"max_seq_length_train"`
	IncreaseSeqLengthTrain    bool   `cty:"increase_seq_length_train"`
	StartSeqLenTrain          int    `cty:"start_seq_len_train"`
	MultiplyFactorSeqLenTrain int    `cty:"multply_factor_seq_len_train"`
	BatchSizeValid            int    `cty:"batch_size_valid"`
	MaxSeqLengthValid         int    `cty:"max_seq_length_valid"`

	BatchSizeTrain    proto.Schedule
	MaxSeqLengthTrain proto.Schedule
}

// Architecture is one [architectureN] section: a named sub-network with its
// own optimizer.
type Architecture struct {
	Section string
	Range   hcl.Range

	Name                 string  `cty:"arch_name"`
	Proto                string  `cty:"arch_proto"`
	Library              string  `cty:"arch_library"`
	Class                string  `cty:"arch_class"`
	PretrainFile         string  `cty:"arch_pretrain_file"`
	Freeze               bool    `cty:"arch_freeze"`
	SeqModel             bool    `cty:"arch_seq_model"`
	LRRaw                string  `cty:"arch_lr"`
	HalvingFactor        float64 `cty:"arch_halving_factor"`
	ImprovementThreshold float64 `cty:"arch_improvement_threshold"`
	Opt                  string  `cty:"arch_opt"`

	LR proto.Schedule
	// Params are the keys defined by the architecture's own proto.
	Params map[string]cty.Value
	// OptParams are the keys defined by the optimizer proto.
	OptParams map[string]cty.Value
}

// Model holds the wiring program of the [model] section.
type Model struct {
	Proto string `cty:"model_proto"`
	Text  string `cty:"model"`

	// Entry is the source of the model program, for line positions.
	Entry *cfgfile.Entry
}

// Forward lists the outputs written when forwarding. The lists are
// parallel to Out.
type Forward struct {
	Out                     []string `cty:"forward_out"`
	NormalizePosteriors     []bool   `cty:"normalize_posteriors"`
	NormalizeWithCountsFrom []string `cty:"normalize_with_counts_from"`
	SaveOutFile             []bool   `cty:"save_out_file"`
	RequireDecoding         []bool   `cty:"require_decoding"`
}

// Decoding holds the Kaldi decoding parameters.
type Decoding struct {
	ScriptFolder  string  `cty:"decoding_script_folder"`
	Script        string  `cty:"decoding_script"`
	Proto         string  `cty:"decoding_proto"`
	MinActive     int     `cty:"min_active"`
	MaxActive     int     `cty:"max_active"`
	MaxMem        int     `cty:"max_mem"`
	Beam          float64 `cty:"beam"`
	LatBeam       float64 `cty:"latbeam"`
	Acwt          float64 `cty:"acwt"`
	MaxArcs       int     `cty:"max_arcs"`
	SkipScoring   bool    `cty:"skip_scoring"`
	ScoringScript string  `cty:"scoring_script"`
	ScoringOpts   string  `cty:"scoring_opts"`
	NormVars      bool    `cty:"norm_vars"`
}
