package cfgfile

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
)

// Block is one record of a compound value such as the `fea` or `lab` key of
// a dataset section:
//
//	fea = fea_name=mfcc
//		fea_lst=/data/train/feats.scp
//		cw_left=0
//	    fea_name=fbank
//	    ...
//
// A new block begins at every line whose key equals the lead key.
type Block struct {
	Name   string
	Fields []Field
	Range  hcl.Range
}

// Field is a `key=value` line inside a Block.
type Field struct {
	Key   string
	Value string
	Range hcl.Range
}

// Get returns the value of key within the block.
func (b *Block) Get(key string) (string, bool) {
	for _, f := range b.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return "", false
}

// FieldRange returns the range of key within the block, or the block range.
func (b *Block) FieldRange(key string) hcl.Range {
	for _, f := range b.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Range
		}
	}
	return b.Range
}

// ParseBlocks splits a compound entry into blocks led by the key lead.
func ParseBlocks(e *Entry, lead string) ([]*Block, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	var blocks []*Block
	var cur *Block

	for _, l := range e.Lines {
		rng := l.Range
		if rng.Filename == "" && rng.Start.Line == 0 {
			rng = e.KeyRange
		}
		idx := strings.IndexByte(l.Text, '=')
		if idx < 0 {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid field",
				Detail:   fmt.Sprintf("Each line of %q must have the form name=value, got %q.", e.Key, l.Text),
				Subject:  rng.Ptr(),
			})
			continue
		}
		key := strings.TrimSpace(l.Text[:idx])
		val := strings.TrimSpace(l.Text[idx+1:])

		if strings.EqualFold(key, lead) {
			cur = &Block{Name: val, Range: rng}
			blocks = append(blocks, cur)
		} else if cur == nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Field outside block",
				Detail:   fmt.Sprintf("The field %q appears before the first %s= line of %q.", key, lead, e.Key),
				Subject:  rng.Ptr(),
			})
			continue
		} else {
			cur.Range = hcl.RangeBetween(cur.Range, rng)
		}

		if _, dup := cur.Get(key); dup && !strings.EqualFold(key, lead) {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate field",
				Detail:   fmt.Sprintf("The field %q is repeated in block %q.", key, cur.Name),
				Subject:  rng.Ptr(),
			})
			continue
		}
		cur.Fields = append(cur.Fields, Field{Key: key, Value: val, Range: rng})
	}
	return blocks, diags
}

// FormatBlocks renders blocks back into the multi-line value form accepted
// by ParseBlocks.
func FormatBlocks(blocks []*Block) string {
	var lines []string
	for _, b := range blocks {
		for _, f := range b.Fields {
			lines = append(lines, f.Key+"="+f.Value)
		}
	}
	return strings.Join(lines, "\n")
}
