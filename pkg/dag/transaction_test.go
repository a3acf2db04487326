package dag_test

import (
	stderrors "errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dist"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/funcs"
)

// chain builds mu -> x ~ Normal(mu, sd) -> y = square(x) -> z ~ Normal(y, sd),
// with z clamped to 2 and every lnProb computed.
type chain struct {
	g               *dag.Graph
	mu, sd, x, y, z dag.Handle
}

func newChain(t *testing.T, opts ...dag.Option) chain {
	t.Helper()
	h := must[dag.Handle](t)
	g := dag.New(opts...)
	c := chain{g: g}
	c.mu = h(g.AddConstant("mu", num(0)))
	c.sd = h(g.AddConstant("sd", num(1)))
	c.x = h(g.AddStochastic("x", dist.Normal, num(0.5), c.mu, c.sd))
	c.y = h(g.AddTransform("y", funcs.Square, c.x))
	c.z = h(g.AddStochastic("z", dist.Normal, num(2), c.y, c.sd))
	if err := g.Clamp(c.z, num(2)); err != nil {
		t.Fatalf("Clamp() error: %v", err)
	}
	if err := g.KeepAll(); err != nil {
		t.Fatalf("KeepAll() error: %v", err)
	}
	if err := g.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	return c
}

func TestEndToEndScenario(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	c := h(g.AddConstant("c", num(2)))
	sq := h(g.AddTransform("square", funcs.Square, c))
	obs := h(g.AddStochastic("obs", dist.Poisson, cty.NumberIntVal(5), sq))
	if err := g.Clamp(obs, cty.NumberIntVal(5)); err != nil {
		t.Fatalf("Clamp() error: %v", err)
	}
	if err := g.KeepAll(); err != nil {
		t.Fatalf("KeepAll() error: %v", err)
	}

	if got := floatOf(t, g, sq); got != 4 {
		t.Fatalf("square = %v, want 4", got)
	}

	if err := g.Touch(c); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if err := g.SetValue(c, num(3)); err != nil {
		t.Fatalf("SetValue() error: %v", err)
	}
	if !g.IsDirty(sq) || !g.IsDirty(obs) {
		t.Fatalf("dirty = (%v, %v), want both dirty", g.IsDirty(sq), g.IsDirty(obs))
	}

	if got := floatOf(t, g, sq); got != 9 {
		t.Errorf("square = %v, want 9", got)
	}
	if g.IsDirty(sq) {
		t.Error("square still dirty after read")
	}

	lg, _ := math.Lgamma(6)
	want := 5*math.Log(9) - 9 - lg
	if got := lnProbOf(t, g, obs); !near(got, want) {
		t.Errorf("LnProbability() = %v, want %v", got, want)
	}

	if err := g.Keep(c); err != nil {
		t.Fatalf("Keep() error: %v", err)
	}
	for _, n := range []dag.Handle{c, sq, obs} {
		if g.HasStoredValue(n) || g.IsTouched(n) {
			t.Errorf("%s keeps transaction state after Keep()", g.Name(n))
		}
	}

	if err := g.Restore(c); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if got := floatOf(t, g, c); got != 3 {
		t.Errorf("c = %v after no-op restore, want 3", got)
	}
	if got := floatOf(t, g, sq); got != 9 {
		t.Errorf("square = %v after no-op restore, want 9", got)
	}
}

func TestTouchIsIdempotent(t *testing.T) {
	v := newVisits()
	c := newChain(t, dag.WithHooks(v))

	if err := c.g.Touch(c.x); err != nil {
		t.Fatal(err)
	}
	first := v.touch["y"]
	if err := c.g.Touch(c.x); err != nil {
		t.Fatal(err)
	}
	if v.touch["y"] != first {
		t.Errorf("second Touch() visited y again: %d visits, want %d", v.touch["y"], first)
	}
	if err := c.g.SetValue(c.x, num(1.5)); err != nil {
		t.Fatal(err)
	}
	if err := c.g.Restore(c.x); err != nil {
		t.Fatal(err)
	}
	if got := floatOf(t, c.g, c.x); got != 0.5 {
		t.Errorf("x = %v after restore, want the value before the first touch", got)
	}
}

func TestDiamondVisitedOnce(t *testing.T) {
	h := must[dag.Handle](t)
	v := newVisits()
	g := dag.New(dag.WithHooks(v))
	root := h(g.AddConstant("root", num(1)))
	a := h(g.AddTransform("a", funcs.Exp, root))
	b := h(g.AddTransform("b", funcs.Negate, root))
	d := h(g.AddTransform("d", funcs.Add, a, b))
	_ = h(g.AddTransform("e", funcs.Multiply, d, d))

	if err := g.Touch(root); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"root", "a", "b", "d", "e"} {
		if v.touch[name] != 1 {
			t.Errorf("touch visits of %s = %d, want 1", name, v.touch[name])
		}
	}

	if err := g.Keep(root); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"root", "a", "b", "d", "e"} {
		if v.keep[name] != 1 {
			t.Errorf("keep visits of %s = %d, want 1", name, v.keep[name])
		}
	}
	if v.recompute["d"] != 1 {
		t.Errorf("d recomputed %d times, want 1", v.recompute["d"])
	}
	if got := floatOf(t, g, d); !near(got, math.E-1) {
		t.Errorf("d = %v, want %v", got, math.E-1)
	}
}

func TestRestoreRollsBack(t *testing.T) {
	c := newChain(t)
	y0 := floatOf(t, c.g, c.y)
	z0 := lnProbOf(t, c.g, c.z)

	if err := c.g.SetValue(c.x, num(1.5)); err != nil {
		t.Fatal(err)
	}
	if got := floatOf(t, c.g, c.y); got != 2.25 {
		t.Fatalf("y = %v, want 2.25", got)
	}
	if z1 := lnProbOf(t, c.g, c.z); near(z1, z0) {
		t.Fatalf("lnProb(z) unchanged after proposal")
	}

	if err := c.g.Restore(c.x); err != nil {
		t.Fatal(err)
	}
	if c.g.InTransaction() {
		t.Error("InTransaction() = true after Restore()")
	}
	if got := floatOf(t, c.g, c.x); got != 0.5 {
		t.Errorf("x = %v, want 0.5", got)
	}
	if got := floatOf(t, c.g, c.y); got != y0 {
		t.Errorf("y = %v, want %v", got, y0)
	}
	if c.g.IsDirty(c.z) {
		t.Error("z dirty after restore, want its stored lnProb back")
	}
	if got := lnProbOf(t, c.g, c.z); got != z0 {
		t.Errorf("lnProb(z) = %v, want %v", got, z0)
	}
}

func TestKeepCommits(t *testing.T) {
	c := newChain(t)
	if err := c.g.SetValue(c.x, num(1.5)); err != nil {
		t.Fatal(err)
	}
	if err := c.g.Keep(c.x); err != nil {
		t.Fatal(err)
	}
	for _, n := range []dag.Handle{c.x, c.y, c.z} {
		if c.g.IsTouched(n) || c.g.HasStoredValue(n) {
			t.Errorf("%s still in transaction after Keep()", c.g.Name(n))
		}
		if c.g.IsDirty(n) {
			t.Errorf("%s dirty after Keep()", c.g.Name(n))
		}
	}
	if got := floatOf(t, c.g, c.y); got != 2.25 {
		t.Errorf("y = %v, want 2.25", got)
	}

	// A restore after keep changes nothing.
	if err := c.g.Restore(c.x); err != nil {
		t.Fatal(err)
	}
	if got := floatOf(t, c.g, c.x); got != 1.5 {
		t.Errorf("x = %v, want 1.5", got)
	}
}

func TestKeepReportsRecomputeErrors(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	mu := h(g.AddConstant("mu", num(1)))
	sd := h(g.AddConstant("sd", num(1)))
	x := h(g.AddStochastic("x", dist.Normal, num(1), mu, sd))
	lx := h(g.AddTransform("lx", funcs.Log, x))
	if err := g.KeepAll(); err != nil {
		t.Fatal(err)
	}

	if err := g.SetValue(x, num(-1)); err != nil {
		t.Fatal(err)
	}
	err := g.Keep(x)
	if !errors.Is(err, errors.ErrCodeDomain) {
		t.Fatalf("Keep() error = %v, want %s", err, errors.ErrCodeDomain)
	}
	if g.InTransaction() {
		t.Error("wave left open after failed recompute")
	}
	if !g.IsDirty(lx) {
		t.Error("lx clean after failed recompute")
	}
}

func TestLnProbabilityRatio(t *testing.T) {
	c := newChain(t)
	before := lnProbOf(t, c.g, c.z)

	if r, err := c.g.LnProbabilityRatio(c.z); err != nil || r != 0 {
		t.Fatalf("LnProbabilityRatio() outside a wave = %v, %v, want 0", r, err)
	}

	if err := c.g.SetValue(c.x, num(1.2)); err != nil {
		t.Fatal(err)
	}
	after := lnProbOf(t, c.g, c.z)
	r, err := c.g.LnProbabilityRatio(c.z)
	if err != nil {
		t.Fatal(err)
	}
	if !near(r, after-before) {
		t.Errorf("LnProbabilityRatio() = %v, want %v", r, after-before)
	}
	c.g.RestoreAll()
}

func TestLnProbabilityRatioNeedsStoredValue(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	r := h(g.AddConstant("r", num(2)))
	n := h(g.AddStochastic("n", dist.Poisson, cty.NumberIntVal(1), r))
	if err := g.Touch(r); err != nil {
		t.Fatal(err)
	}
	_, err := g.LnProbabilityRatio(n)
	if !stderrors.Is(err, dag.ErrNoStoredProbability) {
		t.Errorf("LnProbabilityRatio() error = %v, want ErrNoStoredProbability", err)
	}
}

func TestSetValueRejections(t *testing.T) {
	c := newChain(t)

	tests := []struct {
		name     string
		node     dag.Handle
		value    cty.Value
		code     errors.Code
		sentinel error
	}{
		{"clamped", c.z, num(3), errors.ErrCodeInvalidOperation, dag.ErrClamped},
		{"transform", c.y, num(3), errors.ErrCodeInvalidOperation, dag.ErrNotSettable},
		{"wrong type", c.x, cty.ListValEmpty(cty.Number), errors.ErrCodeTypeMismatch, nil},
		{"null", c.x, cty.NullVal(cty.Number), errors.ErrCodeInvalidInput, nil},
		{"unknown node", dag.Handle(999), num(1), errors.ErrCodeNotFound, dag.ErrUnknownNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.g.SetValue(tt.node, tt.value)
			if !errors.Is(err, tt.code) {
				t.Errorf("SetValue() error = %v, want %s", err, tt.code)
			}
			if tt.sentinel != nil && !stderrors.Is(err, tt.sentinel) {
				t.Errorf("SetValue() error = %v, want %v", err, tt.sentinel)
			}
		})
	}
	if c.g.InTransaction() {
		t.Error("rejected SetValue() opened a wave")
	}
}

func TestDomainErrorOnRead(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	neg := h(g.AddConstant("neg", num(-4)))
	root := h(g.AddTransform("root", funcs.Sqrt, neg))
	_, err := g.Value(root)
	if !errors.Is(err, errors.ErrCodeDomain) {
		t.Errorf("Value() error = %v, want %s", err, errors.ErrCodeDomain)
	}
	if !errors.Retryable(err) {
		t.Error("domain errors should be retryable")
	}
}

func TestRedraw(t *testing.T) {
	c := newChain(t)
	rng := rand.New(rand.NewPCG(3, 4))

	if err := c.g.Redraw(c.x, rng); err != nil {
		t.Fatal(err)
	}
	if !c.g.IsTouched(c.x) || !c.g.IsDirty(c.y) {
		t.Error("Redraw() should touch x and dirty its children")
	}
	if got := floatOf(t, c.g, c.x); got == 0.5 {
		t.Error("Redraw() kept the old value")
	}
	c.g.RestoreAll()

	err := c.g.Redraw(c.z, rng)
	if !stderrors.Is(err, dag.ErrClamped) {
		t.Errorf("Redraw(clamped) error = %v, want ErrClamped", err)
	}
	err = c.g.Redraw(c.y, rng)
	if !stderrors.Is(err, dag.ErrNotStochastic) {
		t.Errorf("Redraw(transform) error = %v, want ErrNotStochastic", err)
	}
}

func TestClampInsideWaveIsRolledBack(t *testing.T) {
	c := newChain(t)
	if err := c.g.Clamp(c.x, num(3)); err != nil {
		t.Fatal(err)
	}
	if !c.g.IsClamped(c.x) {
		t.Fatal("IsClamped() = false after Clamp()")
	}
	c.g.RestoreAll()
	if got := floatOf(t, c.g, c.x); got != 0.5 {
		t.Errorf("x = %v after restore, want 0.5", got)
	}
	if err := c.g.Unclamp(c.x); err != nil {
		t.Fatal(err)
	}
	if c.g.IsClamped(c.x) {
		t.Error("IsClamped() = true after Unclamp()")
	}
}

func TestAffected(t *testing.T) {
	c := newChain(t)
	h := must[dag.Handle](t)
	w := h(c.g.AddTransform("w", funcs.Exp, c.z))
	_ = h(c.g.AddStochastic("q", dist.Normal, num(0), w, c.sd))
	if err := c.g.KeepAll(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		sources []dag.Handle
		want    []dag.Handle
	}{
		{"stops at first stochastic", []dag.Handle{c.x}, []dag.Handle{c.z}},
		{"constant parent", []dag.Handle{c.mu}, []dag.Handle{c.x}},
		{"shared parameter", []dag.Handle{c.sd}, []dag.Handle{c.x, c.z, c.z + 2}},
		{"several sources", []dag.Handle{c.x, c.mu}, []dag.Handle{c.x, c.z}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.g.Affected(tt.sources...)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Affected() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Affected() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestLnPosterior(t *testing.T) {
	c := newChain(t)
	got, err := c.g.LnPosterior()
	if err != nil {
		t.Fatal(err)
	}
	want := lnProbOf(t, c.g, c.x) + lnProbOf(t, c.g, c.z)
	if !near(got, want) {
		t.Errorf("LnPosterior() = %v, want %v", got, want)
	}
}

func TestIsConstant(t *testing.T) {
	c := newChain(t)
	h := must[dag.Handle](t)
	folded := h(c.g.AddTransform("twice", funcs.Add, c.mu, c.sd))

	tests := []struct {
		node dag.Handle
		want bool
	}{
		{c.mu, true},
		{folded, true},
		{c.x, false},
		{c.y, false},
	}
	for _, tt := range tests {
		if got := c.g.IsConstant(tt.node); got != tt.want {
			t.Errorf("IsConstant(%s) = %v, want %v", c.g.Name(tt.node), got, tt.want)
		}
	}
}
