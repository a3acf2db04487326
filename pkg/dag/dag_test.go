package dag_test

import (
	stderrors "errors"
	"math"
	"strings"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dist"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/funcs"
)

func TestHandlesAreStable(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	a := h(g.AddConstant("a", num(1)))
	b := h(g.AddConstant("b", num(2)))
	if a != 1 || b != 2 {
		t.Fatalf("handles = %v, %v, want #1, #2", a, b)
	}
	if err := g.Destroy(b); err != nil {
		t.Fatal(err)
	}
	c := h(g.AddConstant("c", num(3)))
	if c != 3 {
		t.Errorf("handle after destroy = %v, want #3", c)
	}
	if _, err := g.Value(b); !stderrors.Is(err, dag.ErrUnknownNode) {
		t.Errorf("Value(destroyed) error = %v, want ErrUnknownNode", err)
	}
	if got := b.String(); got != "#2" {
		t.Errorf("String() = %q, want #2", got)
	}
}

func TestEdges(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	x := h(g.AddConstant("x", num(3)))
	sq := h(g.AddTransform("sq", funcs.Multiply, x, x))

	if got := g.Parents(sq); len(got) != 2 || got[0] != x || got[1] != x {
		t.Errorf("Parents() = %v, want [x x]", got)
	}
	if got := g.Children(x); len(got) != 1 || got[0] != sq {
		t.Errorf("Children() = %v, want [sq]", got)
	}
	if got := g.EdgeCount(); got != 1 {
		t.Errorf("EdgeCount() = %d, want 1", got)
	}
	if got := floatOf(t, g, sq); got != 9 {
		t.Errorf("sq = %v, want 9", got)
	}
	if got := g.Sources(); len(got) != 1 || got[0] != x {
		t.Errorf("Sources() = %v", got)
	}
	if got := g.Sinks(); len(got) != 1 || got[0] != sq {
		t.Errorf("Sinks() = %v", got)
	}
}

func TestConstructionErrors(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	list := h(g.AddConstant("list", cty.ListVal([]cty.Value{num(1)})))
	one := h(g.AddConstant("one", num(1)))

	_, err := g.AddTransform("bad", funcs.Square, list)
	if !errors.Is(err, errors.ErrCodeTypeMismatch) {
		t.Errorf("AddTransform(list) error = %v, want %s", err, errors.ErrCodeTypeMismatch)
	}
	_, err = g.AddTransform("arity", funcs.Square, one, one)
	if !errors.Is(err, errors.ErrCodeTypeMismatch) {
		t.Errorf("AddTransform(2 args) error = %v, want %s", err, errors.ErrCodeTypeMismatch)
	}
	_, err = g.AddStochastic("n", dist.Normal, num(0), one)
	if !errors.Is(err, errors.ErrCodeTypeMismatch) {
		t.Errorf("AddStochastic(1 param) error = %v, want %s", err, errors.ErrCodeTypeMismatch)
	}
	_, err = g.AddStochastic("n", dist.Normal, cty.StringVal("x"), one, one)
	if !errors.Is(err, errors.ErrCodeTypeMismatch) {
		t.Errorf("AddStochastic(string initial) error = %v, want %s", err, errors.ErrCodeTypeMismatch)
	}
	_, err = g.AddTransform("dangling", funcs.Exp, dag.Handle(42))
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("AddTransform(unknown parent) error = %v, want %s", err, errors.ErrCodeNotFound)
	}
	_, err = g.AddConstant("null", cty.NullVal(cty.Number))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("AddConstant(null) error = %v, want %s", err, errors.ErrCodeInvalidInput)
	}
	if got := g.NodeCount(); got != 2 {
		t.Errorf("NodeCount() = %d after failed constructions, want 2", got)
	}
}

func TestDestroy(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	a := h(g.AddConstant("a", num(1)))
	b := h(g.AddTransform("b", funcs.Exp, a))

	err := g.Destroy(a)
	if !errors.Is(err, errors.ErrCodeDanglingEdge) || !stderrors.Is(err, dag.ErrHasChildren) {
		t.Errorf("Destroy(with children) error = %v, want %s", err, errors.ErrCodeDanglingEdge)
	}

	if err := g.Touch(b); err != nil {
		t.Fatal(err)
	}
	err = g.Destroy(b)
	if !errors.Is(err, errors.ErrCodeInvalidOperation) {
		t.Errorf("Destroy(touched) error = %v, want %s", err, errors.ErrCodeInvalidOperation)
	}
	g.RestoreAll()

	if err := g.Destroy(b); err != nil {
		t.Fatalf("Destroy() error: %v", err)
	}
	if got := g.Children(a); len(got) != 0 {
		t.Errorf("Children() = %v after destroying the child", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestRelease(t *testing.T) {
	build := func(t *testing.T) (*dag.Graph, dag.Handle, dag.Handle, dag.Handle) {
		h := must[dag.Handle](t)
		g := dag.New()
		a := h(g.AddConstant("a", num(2)))
		sd := h(g.AddConstant("sd", num(1)))
		y := h(g.AddStochastic("y", dist.Normal, num(0), a, sd))
		return g, a, sd, y
	}

	t.Run("cascade", func(t *testing.T) {
		g, _, _, y := build(t)
		released, err := g.Release(y, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(released) != 3 || g.NodeCount() != 0 {
			t.Errorf("Release() = %v, %d nodes left, want all 3 released", released, g.NodeCount())
		}
	})

	t.Run("pinned", func(t *testing.T) {
		g, a, sd, y := build(t)
		released, err := g.Release(y, func(h dag.Handle) bool { return h == a })
		if err != nil {
			t.Fatal(err)
		}
		if len(released) != 2 || released[0] != y || released[1] != sd {
			t.Errorf("Release() = %v, want [y sd]", released)
		}
	})

	t.Run("still referenced", func(t *testing.T) {
		g, a, _, _ := build(t)
		released, err := g.Release(a, nil)
		if err != nil || len(released) != 0 {
			t.Errorf("Release() = %v, %v, want nothing released", released, err)
		}
	})
}

func TestNodeInfo(t *testing.T) {
	c := newChain(t)
	info, ok := c.g.Node(c.z)
	if !ok {
		t.Fatal("Node() not found")
	}
	if info.Kind != dag.KindStochastic || info.Distribution != "normal" || !info.Clamped {
		t.Errorf("Node() = %+v", info)
	}
	if len(info.Parents) != 2 || info.Parents[0] != c.y || info.Parents[1] != c.sd {
		t.Errorf("Node().Parents = %v", info.Parents)
	}
	if h, ok := c.g.Find("y"); !ok || h != c.y {
		t.Errorf("Find(y) = %v, %v", h, ok)
	}
	if _, ok := c.g.Find("nope"); ok {
		t.Error("Find(nope) should fail")
	}
	if k, _ := c.g.Kind(c.y); k.String() != "transform" {
		t.Errorf("Kind().String() = %q", k)
	}
}

func TestStructureInfo(t *testing.T) {
	c := newChain(t)
	info, err := c.g.StructureInfo(c.z)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"= z", "= stochastic", "= normal", "= true", "= [y, sd]", "= 2"} {
		if !strings.Contains(info, want) {
			t.Errorf("StructureInfo() missing %q:\n%s", want, info)
		}
	}
	if _, err := c.g.StructureInfo(99); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("StructureInfo(unknown) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := newChain(t)
	if err := c.g.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
	if err := c.g.Touch(c.x); err != nil {
		t.Fatal(err)
	}
	if err := c.g.Validate(); err != nil {
		t.Errorf("Validate() inside a wave error: %v", err)
	}
	c.g.RestoreAll()
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    cty.Value
		want string
	}{
		{num(1.5), "1.5"},
		{cty.StringVal("a"), `"a"`},
		{cty.True, "true"},
		{cty.ListVal([]cty.Value{num(1), num(2)}), "[1, 2]"},
		{cty.MapVal(map[string]cty.Value{"k": num(3)}), "{k = 3}"},
		{cty.NullVal(cty.Number), "null"},
	}
	for _, tt := range tests {
		if got := dag.FormatValue(tt.v); got != tt.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	if got, err := dag.AsInt(num(3)); err != nil || got != 3 {
		t.Errorf("AsInt(3) = %v, %v", got, err)
	}
	if _, err := dag.AsInt(num(2.5)); !errors.Is(err, errors.ErrCodeTypeMismatch) {
		t.Errorf("AsInt(2.5) error = %v, want %s", err, errors.ErrCodeTypeMismatch)
	}
	if got, err := dag.AsInt(cty.StringVal("7")); err != nil || got != 7 {
		t.Errorf(`AsInt("7") = %v, %v`, got, err)
	}
}

func TestDistributionAndParams(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	mu := h(g.AddConstant("mu", num(1)))
	e := h(g.AddTransform("e", funcs.Exp, mu))
	x := h(g.AddStochastic("x", dist.Normal, num(0), mu, e))

	d, err := g.Distribution(x)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "normal" {
		t.Errorf("Distribution() = %s, want normal", d.Name())
	}
	params, err := g.Params(x)
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 2 {
		t.Fatalf("Params() = %v, want 2 values", params)
	}
	p0, _ := dag.AsFloat(params[0])
	p1, _ := dag.AsFloat(params[1])
	if p0 != 1 || !near(p1, math.E) {
		t.Errorf("Params() = %v, want [1 e]", params)
	}
	if _, err := g.Params(e); !errors.Is(err, errors.ErrCodeInvalidOperation) {
		t.Errorf("Params(transform) error = %v, want %s", err, errors.ErrCodeInvalidOperation)
	}
}
