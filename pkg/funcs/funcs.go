// Package funcs provides the pure functions evaluated by transform nodes.
//
// Functions are cty functions wrapped as [dag.Function]. Arithmetic comes
// from the cty standard library; the numeric functions defined here
// report arguments outside their domain (log of a negative number) as
// argument errors, which the graph surfaces as DOMAIN_ERROR.
package funcs

import (
	"math"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/matzehuels/modeldag/pkg/dag"
)

var registry = map[string]dag.Function{}

func register(name string, impl function.Function) dag.Function {
	f := dag.Function{Name: name, Impl: impl}
	registry[name] = f
	return f
}

// Lookup returns the function registered under name.
func Lookup(name string) (dag.Function, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the registered function names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Arithmetic from the cty standard library.
var (
	Add      = register("add", stdlib.AddFunc)
	Subtract = register("subtract", stdlib.SubtractFunc)
	Multiply = register("multiply", stdlib.MultiplyFunc)
	Divide   = register("divide", stdlib.DivideFunc)
	Negate   = register("negate", stdlib.NegateFunc)
	Abs      = register("abs", stdlib.AbsoluteFunc)
	Pow      = register("pow", stdlib.PowFunc)
	Min      = register("min", stdlib.MinFunc)
	Max      = register("max", stdlib.MaxFunc)
	Floor    = register("floor", stdlib.FloorFunc)
	Ceil     = register("ceil", stdlib.CeilFunc)
)

// Square returns x*x using exact big-float arithmetic.
var Square = register("square", function.New(&function.Spec{
	Description: "Returns x multiplied by itself.",
	Params:      []function.Parameter{{Name: "x", Type: cty.Number}},
	Type:        function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return args[0].Multiply(args[0]), nil
	},
}))

var (
	// Exp returns e**x.
	Exp = register("exp", unary("exp", func(x float64) (float64, bool) {
		return math.Exp(x), true
	}))

	// Log returns the natural logarithm of x; x must be positive.
	Log = register("log", unary("log", func(x float64) (float64, bool) {
		return math.Log(x), x > 0
	}))

	// Sqrt returns the square root of x; x must not be negative.
	Sqrt = register("sqrt", unary("sqrt", func(x float64) (float64, bool) {
		return math.Sqrt(x), x >= 0
	}))

	// Logistic returns 1/(1+e**-x).
	Logistic = register("logistic", unary("logistic", func(x float64) (float64, bool) {
		return 1 / (1 + math.Exp(-x)), true
	}))
)

// unary wraps a float64 function. ok=false marks x outside the domain.
func unary(name string, f func(x float64) (float64, bool)) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "x", Type: cty.Number}},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			x, err := dag.AsFloat(args[0])
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			y, ok := f(x)
			if !ok || math.IsNaN(y) {
				return cty.NilVal, function.NewArgErrorf(0, "%s is undefined at %g", name, x)
			}
			return cty.NumberFloatVal(y), nil
		},
	})
}
