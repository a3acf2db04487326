package dag_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
)

// visits counts hook events per node name.
type visits struct {
	mu        sync.Mutex
	touch     map[string]int
	keep      map[string]int
	restore   map[string]int
	recompute map[string]int
}

func newVisits() *visits {
	return &visits{
		touch:     map[string]int{},
		keep:      map[string]int{},
		restore:   map[string]int{},
		recompute: map[string]int{},
	}
}

func (v *visits) OnTouch(_, node string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.touch[node]++
}

func (v *visits) OnKeep(_, node string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keep[node]++
}

func (v *visits) OnRestore(_, node string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.restore[node]++
}

func (v *visits) OnRecompute(_, node string, _ time.Duration, _ error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recompute[node]++
}

func num(f float64) cty.Value { return cty.NumberFloatVal(f) }

func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return v
	}
}

func floatOf(t *testing.T, g *dag.Graph, h dag.Handle) float64 {
	t.Helper()
	v, err := g.Value(h)
	if err != nil {
		t.Fatalf("Value(%s) error: %v", g.Name(h), err)
	}
	f, err := dag.AsFloat(v)
	if err != nil {
		t.Fatalf("Value(%s) is not a number: %v", g.Name(h), err)
	}
	return f
}

func lnProbOf(t *testing.T, g *dag.Graph, h dag.Handle) float64 {
	t.Helper()
	lp, err := g.LnProbability(h)
	if err != nil {
		t.Fatalf("LnProbability(%s) error: %v", g.Name(h), err)
	}
	return lp
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
