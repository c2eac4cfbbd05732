// Package export renders a decoded experiment in other formats: the
// canonical cfg form, JSON, YAML and HCL.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vk/pkcfg/internal/cfgfile"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/netgraph"
)

// Format names an output format.
type Format string

const (
	FormatCfg  Format = "cfg"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

var formats = map[Format]struct {
	ext         string
	contentType string
	write       func(io.Writer, *experiment.Experiment, *netgraph.Graph) error
}{
	FormatCfg:  {".cfg", "text/plain; charset=utf-8", writeCfg},
	FormatJSON: {".json", "application/json", writeJSON},
	FormatYAML: {".yaml", "application/yaml", writeYAML},
	FormatHCL:  {".hcl", "text/plain; charset=utf-8", writeHCL},
}

// Formats lists the supported format names, sorted.
func Formats() []string {
	out := make([]string, 0, len(formats))
	for f := range formats {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("unknown format %q, expected one of %s", s, strings.Join(Formats(), ", "))
	}
	return f, nil
}

// FormatForPath picks the format from a file extension.
func FormatForPath(name string) (Format, bool) {
	for f, def := range formats {
		if strings.HasSuffix(strings.ToLower(name), def.ext) {
			return f, true
		}
	}
	if strings.HasSuffix(strings.ToLower(name), ".yml") {
		return FormatYAML, true
	}
	return "", false
}

// Extension returns the file extension of f, including the dot.
func (f Format) Extension() string {
	return formats[f].ext
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	return formats[f].contentType
}

// Write renders x in format f. g supplies the parsed model program for
// formats that render it structurally and may be nil.
func Write(w io.Writer, f Format, x *experiment.Experiment, g *netgraph.Graph) error {
	def, ok := formats[f]
	if !ok {
		return fmt.Errorf("unknown format %q", f)
	}
	return def.write(w, x, g)
}

func writeCfg(w io.Writer, x *experiment.Experiment, _ *netgraph.Graph) error {
	return cfgfile.Write(w, x.File)
}
