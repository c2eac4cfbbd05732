package export

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/netgraph"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Document returns the decoded values of x as one object per section.
func Document(x *experiment.Experiment) cty.Value {
	sections := make(map[string]cty.Value, len(x.Values))
	for name, vals := range x.Values {
		if len(vals) == 0 {
			sections[name] = cty.EmptyObjectVal
			continue
		}
		sections[name] = cty.ObjectVal(vals)
	}
	if len(sections) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(sections)
}

func writeJSON(w io.Writer, x *experiment.Experiment, _ *netgraph.Graph) error {
	doc := Document(x)
	raw, err := ctyjson.Marshal(doc, doc.Type())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}
