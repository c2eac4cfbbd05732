// Package proto loads the type schemas ("protos") that describe which keys a
// configuration section may contain and what each value must look like.
//
// Protos use the same INI syntax as configuration files. Every value is a
// field spec:
//
//	str | path | bool | int(min,max) | float(min,max) | {a,b,c}
//
// optionally suffixed with _list (comma separated values) or, for int and
// float, _schedule (per-epoch values written as value*epochs|value*epochs),
// and optionally followed by ? to mark the key as optional. Bounds accept
// inf and -inf.
//
// Field specs map onto cty types so decoded values can be handled uniformly
// by the experiment decoder, the exporters and the model graph evaluator.
package proto
