package netgraph

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Ops lists the operators of the wiring language.
var Ops = []string{
	"compute", "concatenate", "sum", "mult", "avg",
	"mult_constant", "sum_constant", "cost_nll", "cost_err", "mse",
}

// computed records which architectures were applied, and to what.
type computed map[string][]Symbol

func functions(seen computed) map[string]function.Function {
	return map[string]function.Function{
		"compute":       computeFunc(seen),
		"concatenate":   concatFunc(),
		"sum":           elementwiseFunc("sum"),
		"mult":          elementwiseFunc("mult"),
		"avg":           elementwiseFunc("avg"),
		"mult_constant": constantFunc(),
		"sum_constant":  constantFunc(),
		"cost_nll":      costFunc(KindLoss, KindLabel),
		"cost_err":      costFunc(KindMetric, KindLabel),
		"mse":           costFunc(KindLoss, KindTensor, KindFeature),
	}
}

func symbolParam(name string) function.Parameter {
	return function.Parameter{Name: name, Type: symbolType}
}

func args2(args []cty.Value) (Symbol, Symbol, error) {
	a, err := symbolOf(args[0])
	if err != nil {
		return a, Symbol{}, function.NewArgError(0, err)
	}
	b, err := symbolOf(args[1])
	if err != nil {
		return a, b, function.NewArgError(1, err)
	}
	return a, b, nil
}

func expectKind(i int, s Symbol, kinds ...Kind) error {
	for _, k := range kinds {
		if s.Kind == k {
			return nil
		}
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return function.NewArgErrorf(i, "%q is a %s, expected %s", s.Name, s.Kind, strings.Join(names, " or "))
}

func computeFunc(seen computed) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{symbolParam("architecture"), symbolParam("input")},
		Type:   function.StaticReturnType(symbolType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			arch, in, err := args2(args)
			if err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(0, arch, KindArch); err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(1, in, KindFeature, KindTensor); err != nil {
				return cty.NilVal, err
			}
			seen[arch.Name] = append(seen[arch.Name], in)
			return Symbol{Kind: KindTensor, Dim: arch.Dim}.Value(), nil
		},
	})
}

func concatFunc() function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{symbolParam("a"), symbolParam("b")},
		Type:   function.StaticReturnType(symbolType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			a, b, err := args2(args)
			if err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(0, a, KindFeature, KindTensor); err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(1, b, KindFeature, KindTensor); err != nil {
				return cty.NilVal, err
			}
			dim := UnknownDim
			if a.DimKnown() && b.DimKnown() {
				dim = a.Dim + b.Dim
			}
			return Symbol{Kind: KindTensor, Dim: dim}.Value(), nil
		},
	})
}

// elementwiseFunc combines two tensors of the same dimension, or two losses
// or two metrics.
func elementwiseFunc(op string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{symbolParam("a"), symbolParam("b")},
		Type:   function.StaticReturnType(symbolType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			a, b, err := args2(args)
			if err != nil {
				return cty.NilVal, err
			}
			kind, err := combinedKind(a, b)
			if err != nil {
				return cty.NilVal, err
			}
			if kind == KindTensor && a.DimKnown() && b.DimKnown() && a.Dim != b.Dim {
				return cty.NilVal, function.NewArgErrorf(1, "%s needs equal dimensions, %q has %d and %q has %d", op, a.Name, a.Dim, b.Name, b.Dim)
			}
			dim := a.Dim
			if !a.DimKnown() {
				dim = b.Dim
			}
			return Symbol{Kind: kind, Dim: dim}.Value(), nil
		},
	})
}

func combinedKind(a, b Symbol) (Kind, error) {
	if err := expectKind(0, a, KindFeature, KindTensor, KindLoss, KindMetric); err != nil {
		return "", err
	}
	if err := expectKind(1, b, KindFeature, KindTensor, KindLoss, KindMetric); err != nil {
		return "", err
	}
	scalar := func(k Kind) bool { return k == KindLoss || k == KindMetric }
	switch {
	case scalar(a.Kind) && a.Kind == b.Kind:
		return a.Kind, nil
	case scalar(a.Kind) || scalar(b.Kind):
		return "", function.NewArgErrorf(1, "cannot combine %s %q with %s %q", a.Kind, a.Name, b.Kind, b.Name)
	}
	return KindTensor, nil
}

func constantFunc() function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{symbolParam("a"), {Name: "constant", Type: cty.Number}},
		Type:   function.StaticReturnType(symbolType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			a, err := symbolOf(args[0])
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			if err := expectKind(0, a, KindFeature, KindTensor, KindLoss, KindMetric); err != nil {
				return cty.NilVal, err
			}
			kind := a.Kind
			if kind == KindFeature {
				kind = KindTensor
			}
			return Symbol{Kind: kind, Dim: a.Dim}.Value(), nil
		},
	})
}

// costFunc compares network output with a target of one of the given kinds.
func costFunc(result Kind, targets ...Kind) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{symbolParam("output"), symbolParam("target")},
		Type:   function.StaticReturnType(symbolType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			out, target, err := args2(args)
			if err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(0, out, KindTensor); err != nil {
				return cty.NilVal, err
			}
			if err := expectKind(1, target, targets...); err != nil {
				return cty.NilVal, err
			}
			if out.DimKnown() && target.DimKnown() && out.Dim != target.Dim {
				return cty.NilVal, function.NewArgErrorf(1, "%q has dimension %d but %q has %d", out.Name, out.Dim, target.Name, target.Dim)
			}
			return Symbol{Kind: result, Dim: 1}.Value(), nil
		},
	})
}

// describe renders a symbol for diagnostics.
func describe(s Symbol) string {
	if s.DimKnown() {
		return fmt.Sprintf("%s (%s, dim %d)", s.Name, s.Kind, s.Dim)
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Kind)
}
