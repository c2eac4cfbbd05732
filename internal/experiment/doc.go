// Package experiment decodes a parsed configuration file into typed Go
// structures using the protos that describe it.
//
// The global proto (named by [cfg_proto] cfg_proto, or the built-in
// global.proto) types every fixed section. Its [dataset] and
// [architecture] schemas apply to every numbered section of those families,
// [dataset.fea] and [dataset.lab] to each block of the compound fea and lab
// values. An architecture is additionally typed by the proto named in its
// arch_proto key and by the optimizer proto <arch_opt>.proto.
//
// Values are converted to cty values first and then copied into the
// cty-tagged structs with gocty, so a user proto that changes a field's
// type is reported instead of silently misread.
package experiment
