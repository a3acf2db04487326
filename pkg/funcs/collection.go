package funcs

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Vector builds a list of numbers from its arguments, so element-wise
// model structure can be expressed with reference nodes.
var Vector = register("vector", function.New(&function.Spec{
	Description: "Collects numbers into a list.",
	VarParam:    &function.Parameter{Name: "xs", Type: cty.Number},
	Type:        function.StaticReturnType(cty.List(cty.Number)),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if len(args) == 0 {
			return cty.ListValEmpty(cty.Number), nil
		}
		return cty.ListVal(args), nil
	},
}))

// Sum adds up a list of numbers.
var Sum = register("sum", function.New(&function.Spec{
	Description: "Returns the sum of a list of numbers.",
	Params:      []function.Parameter{{Name: "xs", Type: cty.List(cty.Number)}},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return sum(args[0]), nil
	},
}))

// Mean averages a non-empty list of numbers.
var Mean = register("mean", function.New(&function.Spec{
	Description: "Returns the arithmetic mean of a list of numbers.",
	Params:      []function.Parameter{{Name: "xs", Type: cty.List(cty.Number)}},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		n := args[0].LengthInt()
		if n == 0 {
			return cty.NilVal, function.NewArgErrorf(0, "mean of an empty list")
		}
		return sum(args[0]).Divide(cty.NumberIntVal(int64(n))), nil
	},
}))

func sum(xs cty.Value) cty.Value {
	total := cty.Zero
	for it := xs.ElementIterator(); it.Next(); {
		_, v := it.Element()
		total = total.Add(v)
	}
	return total
}
