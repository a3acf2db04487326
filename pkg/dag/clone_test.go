package dag_test

import (
	"testing"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dist"
	"github.com/matzehuels/modeldag/pkg/funcs"
)

func TestCloneIsIndependent(t *testing.T) {
	c := newChain(t)
	clone, m, err := c.g.CloneAll()
	if err != nil {
		t.Fatal(err)
	}
	if clone.ID() == c.g.ID() {
		t.Error("clone shares the graph ID")
	}
	if clone.NodeCount() != c.g.NodeCount() || clone.EdgeCount() != c.g.EdgeCount() {
		t.Errorf("clone has %d nodes, %d edges, want %d, %d",
			clone.NodeCount(), clone.EdgeCount(), c.g.NodeCount(), c.g.EdgeCount())
	}

	if err := clone.SetValue(m[c.x], num(2)); err != nil {
		t.Fatal(err)
	}
	if err := clone.KeepAll(); err != nil {
		t.Fatal(err)
	}
	if got := floatOf(t, clone, m[c.y]); got != 4 {
		t.Errorf("clone y = %v, want 4", got)
	}
	if got := floatOf(t, c.g, c.y); got != 0.25 {
		t.Errorf("original y = %v, want 0.25", got)
	}
	if c.g.IsDirty(c.y) || c.g.IsTouched(c.x) {
		t.Error("changing the clone touched the original")
	}
	if !clone.IsClamped(m[c.z]) {
		t.Error("clone lost the clamped flag")
	}
}

func TestClonePreservesDiamonds(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	root := h(g.AddConstant("root", num(1)))
	a := h(g.AddTransform("a", funcs.Exp, root))
	b := h(g.AddTransform("b", funcs.Negate, root))
	d := h(g.AddTransform("d", funcs.Add, a, b))

	clone, m, err := g.Clone(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 4 {
		t.Fatalf("clone map has %d entries, want 4", len(m))
	}
	if got := clone.Children(m[root]); len(got) != 2 {
		t.Errorf("clone root has %d children, want 2", len(got))
	}
	parents := clone.Parents(m[d])
	if len(parents) != 2 || parents[0] != m[a] || parents[1] != m[b] {
		t.Errorf("clone d parents = %v, want [%v %v]", parents, m[a], m[b])
	}
	if err := clone.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestCloneCopiesOpenWave(t *testing.T) {
	c := newChain(t)
	if err := c.g.SetValue(c.x, num(1.5)); err != nil {
		t.Fatal(err)
	}
	clone, m, err := c.g.CloneAll()
	if err != nil {
		t.Fatal(err)
	}
	c.g.RestoreAll()

	if !clone.InTransaction() || !clone.HasStoredValue(m[c.x]) {
		t.Fatal("clone lost the open wave")
	}
	clone.RestoreAll()
	if got := floatOf(t, clone, m[c.x]); got != 0.5 {
		t.Errorf("clone x = %v after restore, want 0.5", got)
	}
}

func TestCloneOnlyConnectedComponent(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	a := h(g.AddConstant("a", num(1)))
	_ = h(g.AddTransform("ea", funcs.Exp, a))
	b := h(g.AddConstant("b", num(1)))
	_ = h(g.AddTransform("eb", funcs.Exp, b))

	clone, m, err := g.Clone(a)
	if err != nil {
		t.Fatal(err)
	}
	if clone.NodeCount() != 2 {
		t.Errorf("clone has %d nodes, want 2", clone.NodeCount())
	}
	if _, ok := m[b]; ok {
		t.Error("clone reached the other component")
	}
}

func TestCloneDownstream(t *testing.T) {
	h := must[dag.Handle](t)
	g := dag.New()
	a := h(g.AddConstant("a", num(2)))
	sd := h(g.AddConstant("sd", num(1)))
	y := h(g.AddTransform("y", funcs.Square, a))
	z := h(g.AddStochastic("z", dist.Normal, num(4), y, sd))

	m, err := g.CloneDownstream(y)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 2 || g.NodeCount() != 6 {
		t.Fatalf("CloneDownstream() = %v, %d nodes, want 2 clones and 6 nodes", m, g.NodeCount())
	}
	if got := g.Parents(m[y]); len(got) != 1 || got[0] != a {
		t.Errorf("clone y parents = %v, want [a]", got)
	}
	if got := g.Parents(m[z]); len(got) != 2 || got[0] != m[y] || got[1] != sd {
		t.Errorf("clone z parents = %v, want [y' sd]", got)
	}
	if got := g.Children(a); len(got) != 2 {
		t.Errorf("Children(a) = %v, want the original and the clone", got)
	}
	if got := floatOf(t, g, m[y]); got != 4 {
		t.Errorf("clone y = %v, want 4", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	if err := g.Touch(a); err != nil {
		t.Fatal(err)
	}
	defer g.RestoreAll()
	if _, err := g.CloneDownstream(y); err == nil {
		t.Error("CloneDownstream() inside a wave should fail")
	}
}
