package funcs

import (
	"math"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
)

func call(t *testing.T, f dag.Function, args ...cty.Value) (float64, error) {
	t.Helper()
	v, err := f.Impl.Call(args)
	if err != nil {
		return 0, err
	}
	x, err := dag.AsFloat(v)
	if err != nil {
		t.Fatalf("%s returned a non-number: %v", f.Name, v.GoString())
	}
	return x, nil
}

func TestNumericFunctions(t *testing.T) {
	n := cty.NumberFloatVal
	tests := []struct {
		name string
		f    dag.Function
		args []cty.Value
		want float64
	}{
		{"square", Square, []cty.Value{n(3)}, 9},
		{"square negative", Square, []cty.Value{n(-1.5)}, 2.25},
		{"exp", Exp, []cty.Value{n(0)}, 1},
		{"log", Log, []cty.Value{n(math.E)}, 1},
		{"sqrt", Sqrt, []cty.Value{n(16)}, 4},
		{"logistic", Logistic, []cty.Value{n(0)}, 0.5},
		{"add", Add, []cty.Value{n(2), n(3)}, 5},
		{"subtract", Subtract, []cty.Value{n(2), n(3)}, -1},
		{"multiply", Multiply, []cty.Value{n(2), n(3)}, 6},
		{"divide", Divide, []cty.Value{n(3), n(2)}, 1.5},
		{"negate", Negate, []cty.Value{n(3)}, -3},
		{"abs", Abs, []cty.Value{n(-3)}, 3},
		{"pow", Pow, []cty.Value{n(2), n(10)}, 1024},
		{"min", Min, []cty.Value{n(4), n(1), n(3)}, 1},
		{"max", Max, []cty.Value{n(4), n(1), n(3)}, 4},
		{"sum", Sum, []cty.Value{cty.ListVal([]cty.Value{n(1), n(2), n(3.5)})}, 6.5},
		{"mean", Mean, []cty.Value{cty.ListVal([]cty.Value{n(1), n(2), n(6)})}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := call(t, tt.f, tt.args...)
			if err != nil {
				t.Fatalf("%s() error: %v", tt.f.Name, err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("%s() = %v, want %v", tt.f.Name, got, tt.want)
			}
		})
	}
}

func TestDomainErrors(t *testing.T) {
	n := cty.NumberFloatVal
	tests := []struct {
		name string
		f    dag.Function
		args []cty.Value
	}{
		{"log zero", Log, []cty.Value{n(0)}},
		{"log negative", Log, []cty.Value{n(-2)}},
		{"sqrt negative", Sqrt, []cty.Value{n(-1)}},
		{"mean empty", Mean, []cty.Value{cty.ListValEmpty(cty.Number)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.f.Impl.Call(tt.args); err == nil {
				t.Errorf("%s() error = nil, want error", tt.f.Name)
			}
		})
	}
}

func TestVector(t *testing.T) {
	v, err := Vector.Impl.Call([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2)})
	if err != nil {
		t.Fatalf("vector() error: %v", err)
	}
	if !v.Type().Equals(cty.List(cty.Number)) {
		t.Errorf("vector() type = %s, want list of number", v.Type().FriendlyName())
	}
	if v.LengthInt() != 2 {
		t.Errorf("vector() length = %d, want 2", v.LengthInt())
	}

	empty, err := Vector.Impl.Call(nil)
	if err != nil {
		t.Fatalf("vector() error: %v", err)
	}
	if empty.LengthInt() != 0 {
		t.Errorf("vector() length = %d, want 0", empty.LengthInt())
	}
}

func TestReturnTypeChecksArity(t *testing.T) {
	if _, err := Square.Impl.ReturnType([]cty.Type{cty.Number, cty.Number}); err == nil {
		t.Error("square with two arguments should fail the type check")
	}
	if _, err := Square.Impl.ReturnType([]cty.Type{cty.List(cty.Number)}); err == nil {
		t.Error("square of a list should fail the type check")
	}
	if _, err := Sum.Impl.ReturnType([]cty.Type{cty.List(cty.Number)}); err != nil {
		t.Errorf("sum of a list: %v", err)
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		f, ok := Lookup(name)
		if !ok || f.Name != name {
			t.Errorf("Lookup(%q) = %v, %v", name, f.Name, ok)
		}
	}
	if _, ok := Lookup("gamma_function"); ok {
		t.Error("Lookup(gamma_function) should fail")
	}
}
