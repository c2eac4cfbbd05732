// Package kaldi describes the external Kaldi processes a configuration
// drives: the feature and label reading pipes built from fea_opts and
// lab_opts, and the decoding job run for each forwarded output. Nothing here
// runs Kaldi; commands are only split, resolved and rendered.
package kaldi
