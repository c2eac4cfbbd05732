package netgraph

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

var dotShapes = map[Kind]string{
	KindArch:    "box3d",
	KindFeature: "invhouse",
	KindLabel:   "invhouse",
	KindTensor:  "ellipse",
	KindLoss:    "doubleoctagon",
	KindMetric:  "octagon",
}

// WriteDOT renders the graph in Graphviz dot syntax.
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph model {")
	fmt.Fprintln(bw, "\trankdir=LR;")
	for _, id := range g.Nodes() {
		label := id
		shape := "ellipse"
		if sym, ok := g.Symbols[id]; ok {
			label = describe(sym)
			shape = dotShapes[sym.Kind]
		}
		if st := g.Statement(id); st != nil {
			label += "\n" + strings.Join(st.Operations(), ",")
		}
		fmt.Fprintf(bw, "\t%q [label=%q shape=%s];\n", id, label, shape)
	}
	for _, id := range g.Nodes() {
		for _, dep := range g.Dependencies(id) {
			fmt.Fprintf(bw, "\t%q -> %q;\n", dep, id)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
