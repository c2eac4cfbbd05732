package kaldi

import (
	"fmt"
	"path"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
)

// DecodeJob is the decoding run for one forwarded output of one dataset.
type DecodeJob struct {
	Dataset string
	Output  string

	// ConfigPath is where Config is written before the script runs.
	ConfigPath string
	Config     *cfgfile.File
	// OutDir receives the lattices and scores.
	OutDir string
	// ArkGlob matches the forwarded posterior archives of every chunk.
	ArkGlob string
	Argv    []string
}

// NewDecodeJob builds the decoding job for forwardOut on ds. The decoding
// configuration is the [decoding] section of x plus the alignment, data and
// graph folders of the dataset's first label.
func NewDecodeJob(x *experiment.Experiment, ds *experiment.Dataset, forwardOut string) (*DecodeJob, error) {
	if len(ds.Labels) == 0 {
		return nil, fmt.Errorf("dataset %q has no label to decode against", ds.Name)
	}
	lab := ds.Labels[0]
	out := x.Exp.OutFolder

	job := &DecodeJob{
		Dataset:    ds.Name,
		Output:     forwardOut,
		ConfigPath: path.Join(out, "decoding_"+forwardOut+".conf"),
		OutDir:     path.Join(out, "decode_"+ds.Name+"_"+forwardOut),
		ArkGlob:    path.Join(out, "exp_files", "forward_"+ds.Name+"_ep*_ck*_"+forwardOut+"_to_decode.ark"),
	}

	conf := &cfgfile.File{Filename: job.ConfigPath}
	sec := conf.AddSection("decoding")
	if src := x.File.Section("decoding"); src != nil {
		for _, e := range src.Entries {
			sec.Set(e.Key, e.Value)
		}
	}
	// The decoding scripts compare booleans against True and False.
	for key, val := range map[string]bool{"skip_scoring": x.Decoding.SkipScoring, "norm_vars": x.Decoding.NormVars} {
		if sec.Get(key) != nil {
			sec.Set(key, cfgfile.FormatBool(val))
		}
	}
	sec.Set("alidir", lab.Folder)
	sec.Set("data", lab.DataFolder)
	sec.Set("graphdir", lab.Graph)
	job.Config = conf

	if strings.TrimSpace(x.Exp.Cmd) != "" {
		prefix, err := shellwords.Parse(x.Exp.Cmd)
		if err != nil {
			return nil, fmt.Errorf("parsing [exp] cmd: %w", err)
		}
		job.Argv = append(job.Argv, prefix...)
	}
	job.Argv = append(job.Argv,
		path.Join(x.Decoding.ScriptFolder, x.Decoding.Script),
		job.ConfigPath,
		job.OutDir,
		job.ArkGlob,
	)
	return job, nil
}

// DecodeJobs returns a job for every forward_with dataset and every
// forward_out that requires decoding.
func DecodeJobs(x *experiment.Experiment) ([]*DecodeJob, error) {
	var jobs []*DecodeJob
	for _, name := range x.DataUse.ForwardWith {
		ds := x.Dataset(name)
		if ds == nil {
			return nil, fmt.Errorf("forward dataset %q is not defined", name)
		}
		for i, out := range x.Forward.Out {
			if i >= len(x.Forward.RequireDecoding) || !x.Forward.RequireDecoding[i] {
				continue
			}
			job, err := NewDecodeJob(x, ds, out)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// String renders the job as a shell command line. The archive pattern is
// double-quoted so the decoding script expands it.
func (j *DecodeJob) String() string {
	n := len(j.Argv)
	return joinArgs(j.Argv[:n-1]) + ` "` + j.Argv[n-1] + `"`
}
