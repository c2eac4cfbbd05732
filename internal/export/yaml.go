package export

import (
	"io"
	"strings"

	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/netgraph"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

var blockLeads = map[string]string{"fea": "fea_name", "lab": "lab_name"}

// writeYAML keeps the section and key order of the file. Decoded values
// keep their types; keys no proto knows are written as strings.
func writeYAML(w io.Writer, x *experiment.Experiment, _ *netgraph.Graph) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range x.File.Sections {
		sec := &yaml.Node{Kind: yaml.MappingNode}
		vals := x.Values[s.Name]
		for _, e := range s.Entries {
			key := strings.ToLower(e.Key)
			var node *yaml.Node
			if lead, ok := blockLeads[key]; ok && isDataset(s.Name) {
				typed, hasTyped := vals[key]
				node = blocksNode(e, lead, typed, hasTyped)
			} else if v, ok := vals[key]; ok {
				node = valueNode(v)
			} else {
				node = stringNode(e.Value)
			}
			sec.Content = append(sec.Content, stringNode(e.Key), node)
		}
		root.Content = append(root.Content, stringNode(s.Name), sec)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return err
	}
	return enc.Close()
}

func isDataset(section string) bool {
	_, ok := cfgfile.FamilyIndex(section, experiment.DatasetPrefix)
	return ok
}

// blocksNode renders a compound value as a list of mappings in field
// order. typed holds the decoded block objects when hasTyped is set.
func blocksNode(e *cfgfile.Entry, lead string, typed cty.Value, hasTyped bool) *yaml.Node {
	blocks, _ := cfgfile.ParseBlocks(e, lead)
	var objs []cty.Value
	if hasTyped && typed.IsWhollyKnown() && !typed.IsNull() && typed.CanIterateElements() {
		objs = typed.AsValueSlice()
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for i, b := range blocks {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range b.Fields {
			node := stringNode(f.Value)
			if i < len(objs) && objs[i].Type().IsObjectType() && objs[i].Type().HasAttribute(strings.ToLower(f.Key)) {
				node = valueNode(objs[i].GetAttr(strings.ToLower(f.Key)))
			}
			m.Content = append(m.Content, stringNode(f.Key), node)
		}
		seq.Content = append(seq.Content, m)
	}
	return seq
}

func valueNode(v cty.Value) *yaml.Node {
	if v.IsNull() || !v.IsKnown() {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return stringNode(v.AsString())
	case ty == cty.Bool:
		if v.True() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"}
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: bf.Text('f', -1)}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: bf.Text('g', -1)}
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, el := range v.AsValueSlice() {
			n := valueNode(el)
			if n.Kind != yaml.ScalarNode {
				seq.Style = 0
			}
			seq.Content = append(seq.Content, n)
		}
		return seq
	case ty.IsObjectType():
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range sortedAttrs(v) {
			m.Content = append(m.Content, stringNode(k), valueNode(v.GetAttr(k)))
		}
		return m
	}
	return stringNode(v.GoString())
}

func sortedAttrs(v cty.Value) []string {
	var keys []string
	for it := v.ElementIterator(); it.Next(); {
		k, _ := it.Element()
		keys = append(keys, k.AsString())
	}
	return keys
}

func stringNode(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if strings.Contains(s, "\n") {
		n.Style = yaml.LiteralStyle
	}
	return n
}
