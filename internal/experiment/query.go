package experiment

import (
	"strings"

	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/proto"
)

// Dataset returns the dataset with the given data_name, or nil.
func (x *Experiment) Dataset(name string) *Dataset {
	for _, ds := range x.Datasets {
		if ds.Name == name {
			return ds
		}
	}
	return nil
}

// Architecture returns the architecture with the given arch_name, or nil.
func (x *Experiment) Architecture(name string) *Architecture {
	for _, a := range x.Architectures {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// FeatureNames lists every feature name used by any dataset, sorted.
func (x *Experiment) FeatureNames() []string {
	var names []string
	for _, ds := range x.Datasets {
		for _, f := range ds.Features {
			names = append(names, f.Name)
		}
	}
	return sortedUnique(names)
}

// LabelNames lists every label name used by any dataset, sorted.
func (x *Experiment) LabelNames() []string {
	var names []string
	for _, ds := range x.Datasets {
		for _, l := range ds.Labels {
			names = append(names, l.Name)
		}
	}
	return sortedUnique(names)
}

// FieldType returns the proto type a key was decoded with.
func (x *Experiment) FieldType(section, key string) (proto.FieldType, bool) {
	t, ok := x.types[section][strings.ToLower(key)]
	return t, ok
}

// IsList reports whether key was decoded as a list. It has the signature
// rules.ListFunc expects.
func (x *Experiment) IsList(s *cfgfile.Section, key string) bool {
	t, ok := x.FieldType(s.Name, key)
	return ok && t.List
}

// Sections lists the sections that have decoded values, sorted by name.
func (x *Experiment) Sections() []string {
	return sortedKeys(x.Values)
}

// Feature returns the named feature block of the dataset.
func (ds *Dataset) Feature(name string) *Feature {
	for _, f := range ds.Features {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Label returns the named label block of the dataset.
func (ds *Dataset) Label(name string) *Label {
	for _, l := range ds.Labels {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Pretrained reports whether the architecture loads pretrained weights.
func (a *Architecture) Pretrained() bool {
	return a.PretrainFile != "" && !cfgfile.IsNone(a.PretrainFile)
}

// LayerKey returns the *_lay key of the architecture's own proto, if any.
func (a *Architecture) LayerKey() (string, bool) {
	for _, k := range sortedKeys(a.Params) {
		if strings.HasSuffix(k, "_lay") {
			return k, true
		}
	}
	return "", false
}
