package netgraph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Kind classifies a symbol of the wiring program.
type Kind string

const (
	KindArch    Kind = "arch"
	KindFeature Kind = "feature"
	KindLabel   Kind = "label"
	KindTensor  Kind = "tensor"
	KindLoss    Kind = "loss"
	KindMetric  Kind = "metric"
)

// UnknownDim marks a dimension that cannot be inferred from the file.
const UnknownDim = -1

// Symbol is the value a name evaluates to.
type Symbol struct {
	Kind Kind   `cty:"kind"`
	Name string `cty:"name"`
	Dim  int    `cty:"dim"`
}

var symbolType = cty.Object(map[string]cty.Type{
	"kind": cty.String,
	"name": cty.String,
	"dim":  cty.Number,
})

// Value converts s to its cty form.
func (s Symbol) Value() cty.Value {
	v, err := gocty.ToCtyValue(s, symbolType)
	if err != nil {
		panic(fmt.Sprintf("netgraph: symbol %q: %s", s.Name, err))
	}
	return v
}

// DimKnown reports whether the dimension was inferred.
func (s Symbol) DimKnown() bool {
	return s.Dim != UnknownDim
}

func (s Symbol) String() string {
	if !s.DimKnown() {
		return fmt.Sprintf("%s %s", s.Kind, s.Name)
	}
	return fmt.Sprintf("%s %s [%d]", s.Kind, s.Name, s.Dim)
}

func symbolOf(v cty.Value) (Symbol, error) {
	var s Symbol
	err := gocty.FromCtyValue(v, &s)
	return s, err
}
