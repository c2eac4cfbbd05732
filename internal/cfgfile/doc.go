// Package cfgfile reads and writes the INI-style experiment configuration
// files consumed by pytorch-kaldi style training pipelines.
//
// The format follows Python's configparser defaults, which is what the
// training framework itself uses:
//
//	[section]
//	key = value
//	key:value
//	fea = fea_name=mfcc
//		fea_lst=/data/train/feats.scp
//		cw_left=0
//
// A key is split from its value at the first '=' or ':' on the line. Lines
// indented with whitespace continue the value of the previous key. Full-line
// comments start with '#' or ';'. Keys are matched case-insensitively.
//
// Every section and entry keeps its source range so that later stages
// (typing, cross-reference checks, model graph evaluation) can report
// hcl.Diagnostics that point at the exact line in the original file.
package cfgfile
