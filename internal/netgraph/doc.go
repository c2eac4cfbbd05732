// Package netgraph parses and checks the model wiring program of the
// [model] section:
//
//	out_dnn0=compute(TRANSFORMER_AM,mfcc)
//	out_dnn1=compute(liGRU_layers,out_dnn0)
//	loss_final=cost_nll(out_dnn1,lab_cd)
//	err_final=cost_err(out_dnn1,lab_cd)
//
// Each right-hand side is parsed as an HCL expression and evaluated over
// symbolic values: architectures, features, labels and the outputs of
// earlier statements are cty objects carrying a kind and an inferred
// dimension, and the operators are cty functions that check their operand
// kinds and dimensions. Problems are reported as diagnostics at the exact
// position inside the configuration file.
package netgraph
