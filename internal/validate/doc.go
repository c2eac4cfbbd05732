// Package validate runs every check on a configuration file: parsing, proto
// typing, list arity rules, cross references between sections, the model
// wiring program, and optionally the existence of referenced files and
// Kaldi binaries. All problems are returned as diagnostics.
package validate
