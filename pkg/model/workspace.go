// Package model is the binding layer between names and graph nodes.
//
// A [Workspace] owns one [dag.Graph] and a table of named bindings, the
// way an interpreter frame owns its variables. Assigning to a name that
// is already bound does not rewrite the dependents of the old node one by
// one: the new node takes over all of them through [dag.Graph.Retarget],
// and the old node is released once nothing refers to it.
//
// Arguments of transforms, stochastic nodes and references are either
// names ([Ref]) or literal values ([Lit]); literals become anonymous
// constants owned by the node that uses them.
package model

import (
	"math/rand/v2"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dag/transform"
	"github.com/matzehuels/modeldag/pkg/errors"
)

// Arg is a node argument: a bound name or a literal value.
type Arg struct {
	Name  string
	Value cty.Value
}

// Ref returns an argument referring to a bound name.
func Ref(name string) Arg { return Arg{Name: name} }

// Lit returns a literal argument.
func Lit(v cty.Value) Arg { return Arg{Value: v} }

// Num returns a literal number argument.
func Num(f float64) Arg { return Lit(cty.NumberFloatVal(f)) }

// Option configures a [Workspace].
type Option func(*Workspace)

// WithRegistry sets the function and distribution registry. The default
// is [DefaultRegistry].
func WithRegistry(r *Registry) Option {
	return func(w *Workspace) {
		if r != nil {
			w.reg = r
		}
	}
}

// WithLogger sets the logger of the workspace and its graph.
func WithLogger(l *log.Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRand sets the random source used to draw initial values of
// stochastic nodes.
func WithRand(rng *rand.Rand) Option {
	return func(w *Workspace) {
		if rng != nil {
			w.rng = rng
		}
	}
}

// WithGraphOptions passes options through to [dag.New].
func WithGraphOptions(opts ...dag.Option) Option {
	return func(w *Workspace) {
		w.graphOpts = append(w.graphOpts, opts...)
	}
}

// Workspace binds names to the nodes of one graph. Like the graph it is
// not safe for concurrent use.
type Workspace struct {
	g         *dag.Graph
	reg       *Registry
	logger    *log.Logger
	rng       *rand.Rand
	graphOpts []dag.Option

	names map[string]dag.Handle
	order []string           // binding order
	owned map[dag.Handle]int // bindings per node
}

// New creates an empty workspace.
func New(opts ...Option) *Workspace {
	w := &Workspace{
		reg:    DefaultRegistry(),
		logger: log.Default(),
		rng:    rand.New(rand.NewPCG(1, 2)),
		names:  make(map[string]dag.Handle),
		owned:  make(map[dag.Handle]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.g = dag.New(append([]dag.Option{dag.WithLogger(w.logger)}, w.graphOpts...)...)
	return w
}

// Graph returns the underlying graph.
func (w *Workspace) Graph() *dag.Graph { return w.g }

// Registry returns the registry used to resolve names.
func (w *Workspace) Registry() *Registry { return w.reg }

// Lookup returns the node bound to name.
func (w *Workspace) Lookup(name string) (dag.Handle, bool) {
	h, ok := w.names[name]
	return h, ok
}

// Names returns the bound names in binding order.
func (w *Workspace) Names() []string { return slices.Clone(w.order) }

// Bound reports whether any name is bound to h.
func (w *Workspace) Bound(h dag.Handle) bool { return w.owned[h] > 0 }

// NameOf returns the first name bound to h in binding order.
func (w *Workspace) NameOf(h dag.Handle) (string, bool) {
	for _, name := range w.order {
		if w.names[name] == h {
			return name, true
		}
	}
	return "", false
}

// Value returns the current value of the node bound to name.
func (w *Workspace) Value(name string) (cty.Value, error) {
	h, err := w.resolve(name)
	if err != nil {
		return cty.NilVal, err
	}
	return w.g.Value(h)
}

func (w *Workspace) resolve(name string) (dag.Handle, error) {
	h, ok := w.names[name]
	if !ok {
		return 0, errors.New(errors.ErrCodeNotFound, "%q is not defined", name)
	}
	return h, nil
}

// args turns arguments into handles, creating constants for literals.
// The returned cleanup releases those constants if the caller fails to
// build the node that would own them.
func (w *Workspace) args(args []Arg) ([]dag.Handle, func(), error) {
	var created []dag.Handle
	cleanup := func() {
		for _, h := range created {
			_, _ = w.g.Release(h, w.Bound)
		}
	}
	hs := make([]dag.Handle, len(args))
	for i, a := range args {
		if a.Name != "" {
			h, err := w.resolve(a.Name)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			hs[i] = h
			continue
		}
		h, err := w.g.AddConstant("", a.Value)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		created = append(created, h)
		hs[i] = h
	}
	return hs, cleanup, nil
}

// Constant binds name to a new constant node holding v.
func (w *Workspace) Constant(name string, v cty.Value) (dag.Handle, error) {
	if err := errors.ValidateNodeName(name); err != nil {
		return 0, err
	}
	h, err := w.g.AddConstant(name, v)
	if err != nil {
		return 0, err
	}
	return h, w.assignNew(name, h)
}

// Transform binds name to a new transform node applying the registered
// function fn to args.
func (w *Workspace) Transform(name, fn string, args ...Arg) (dag.Handle, error) {
	if err := errors.ValidateNodeName(name); err != nil {
		return 0, err
	}
	f, err := w.reg.Function(fn)
	if err != nil {
		return 0, err
	}
	parents, cleanup, err := w.args(args)
	if err != nil {
		return 0, err
	}
	h, err := w.g.AddTransform(name, f, parents...)
	if err != nil {
		cleanup()
		return 0, err
	}
	return h, w.assignNew(name, h)
}

// Stochastic binds name to a new random variable with the registered
// distribution d. Its initial value is drawn from d at the current
// parameter values with the workspace's random source.
func (w *Workspace) Stochastic(name, d string, params ...Arg) (dag.Handle, error) {
	return w.stochastic(name, d, cty.NilVal, false, params)
}

// Observe binds name to a new random variable clamped to data.
func (w *Workspace) Observe(name, d string, data cty.Value, params ...Arg) (dag.Handle, error) {
	return w.stochastic(name, d, data, true, params)
}

// StochasticAt binds name to a new random variable starting at initial.
func (w *Workspace) StochasticAt(name, d string, initial cty.Value, params ...Arg) (dag.Handle, error) {
	return w.stochastic(name, d, initial, false, params)
}

func (w *Workspace) stochastic(name, d string, initial cty.Value, clamp bool, params []Arg) (dag.Handle, error) {
	if err := errors.ValidateNodeName(name); err != nil {
		return 0, err
	}
	distribution, err := w.reg.Distribution(d)
	if err != nil {
		return 0, err
	}
	parents, cleanup, err := w.args(params)
	if err != nil {
		return 0, err
	}
	if initial == cty.NilVal {
		if initial, err = w.draw(distribution, parents); err != nil {
			cleanup()
			return 0, err
		}
	}
	h, err := w.g.AddStochastic(name, distribution, initial, parents...)
	if err != nil {
		cleanup()
		return 0, err
	}
	if clamp {
		if err := w.g.Clamp(h, initial); err != nil {
			return 0, err
		}
		if err := w.g.KeepAll(); err != nil {
			return 0, err
		}
	}
	return h, w.assignNew(name, h)
}

// draw samples an initial value at the current parameter values.
func (w *Workspace) draw(d dag.Distribution, parents []dag.Handle) (cty.Value, error) {
	want := d.ParamTypes()
	if len(want) != len(parents) {
		return cty.NilVal, errors.New(errors.ErrCodeTypeMismatch,
			"%s takes %d parameters, got %d", d.Name(), len(want), len(parents))
	}
	params := make([]cty.Value, len(parents))
	for i, p := range parents {
		v, err := w.g.Value(p)
		if err != nil {
			return cty.NilVal, err
		}
		if params[i], err = convert.Convert(v, want[i]); err != nil {
			return cty.NilVal, errors.Wrap(errors.ErrCodeTypeMismatch, err, "parameter %d of %s", i+1, d.Name())
		}
	}
	return d.Sample(w.rng, params)
}

// Reference binds name to a new reference into the value bound to base.
func (w *Workspace) Reference(name, base string, index ...Arg) (dag.Handle, error) {
	if err := errors.ValidateNodeName(name); err != nil {
		return 0, err
	}
	b, err := w.resolve(base)
	if err != nil {
		return 0, err
	}
	idx, cleanup, err := w.args(index)
	if err != nil {
		return 0, err
	}
	h, err := w.g.AddReference(name, b, idx...)
	if err != nil {
		cleanup()
		return 0, err
	}
	return h, w.assignNew(name, h)
}

// assignNew assigns a node the workspace just created. If the assignment
// fails the node is released again.
func (w *Workspace) assignNew(name string, h dag.Handle) error {
	if err := w.Assign(name, h); err != nil {
		_, _ = w.g.Release(h, w.Bound)
		return err
	}
	return nil
}

// Bind binds name to an existing node. Unlike [Workspace.Assign] it
// fails if name is already bound.
func (w *Workspace) Bind(name string, h dag.Handle) error {
	if err := errors.ValidateNodeName(name); err != nil {
		return err
	}
	if _, ok := w.names[name]; ok {
		return errors.New(errors.ErrCodeInvalidOperation, "%q is already defined", name)
	}
	if _, ok := w.g.Kind(h); !ok {
		return errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "bind %q to %s", name, h)
	}
	w.bind(name, h)
	return nil
}

func (w *Workspace) bind(name string, h dag.Handle) {
	if _, ok := w.names[name]; !ok {
		w.order = append(w.order, name)
	}
	w.names[name] = h
	w.owned[h]++
}

func (w *Workspace) unbind(name string) dag.Handle {
	h := w.names[name]
	delete(w.names, name)
	w.order = slices.DeleteFunc(w.order, func(n string) bool { return n == name })
	if w.owned[h]--; w.owned[h] <= 0 {
		delete(w.owned, h)
	}
	return h
}

// Assign binds name to h. If name was bound to another node, that node's
// children are retargeted to h, so everything computed from the name
// follows the new definition; the old node is then released unless
// another name still holds it. A failed retarget leaves every binding
// and edge unchanged. Once the retarget succeeded the reassignment is
// always completed; a dependent that cannot be recomputed at the new
// value stays dirty and its error is returned afterwards.
func (w *Workspace) Assign(name string, h dag.Handle) error {
	if err := errors.ValidateNodeName(name); err != nil {
		return err
	}
	if _, ok := w.g.Kind(h); !ok {
		return errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "assign %q", name)
	}
	old, ok := w.names[name]
	if !ok {
		w.bind(name, h)
		return nil
	}
	if old == h {
		return nil
	}

	var keepErr error
	if len(w.g.Children(old)) > 0 {
		moved, err := w.g.Retarget(old, h)
		if err != nil {
			return errors.Wrap(errors.GetCodeOr(err, errors.ErrCodeInvalidOperation), err, "assign %q", name)
		}
		keepErr = w.g.Keep(moved...)
		w.logger.Debug("reassigned with dependents", "name", name, "children", len(moved))
	}

	w.unbind(name)
	w.bind(name, h)
	if _, err := w.g.Release(old, w.Bound); err != nil {
		return err
	}
	if keepErr != nil {
		return errors.Wrap(errors.GetCodeOr(keepErr, errors.ErrCodeDomain), keepErr, "assign %q: dependents", name)
	}
	return nil
}

// Remove unbinds name and releases its node if nothing else holds it.
// Nodes with dependents stay in the graph.
func (w *Workspace) Remove(name string) error {
	if _, err := w.resolve(name); err != nil {
		return err
	}
	h := w.unbind(name)
	_, err := w.g.Release(h, w.Bound)
	return err
}

// Set gives the constant or unclamped stochastic node bound to name a new
// value, in a transaction of its own that is committed immediately.
func (w *Workspace) Set(name string, v cty.Value) error {
	h, err := w.resolve(name)
	if err != nil {
		return err
	}
	if err := w.g.SetValue(h, v); err != nil {
		return err
	}
	return w.g.Keep(h)
}

// Clamp fixes the stochastic node bound to name to observed data.
func (w *Workspace) Clamp(name string, v cty.Value) error {
	h, err := w.resolve(name)
	if err != nil {
		return err
	}
	if err := w.g.Clamp(h, v); err != nil {
		w.g.RestoreAll()
		return err
	}
	return w.g.Keep(h)
}

// Freeze replaces the stochastic node bound to name with a constant
// holding its current value.
func (w *Workspace) Freeze(name string) (dag.Handle, error) {
	old, err := w.resolve(name)
	if err != nil {
		return 0, err
	}
	c, err := transform.Freeze(w.g, old, w.Bound)
	if err != nil {
		return 0, err
	}
	w.rebind(old, c)
	return c, nil
}

// Fold replaces every node whose value cannot change with a constant
// and moves bindings along. It returns the number of replaced nodes.
func (w *Workspace) Fold() (int, error) {
	repl, err := transform.FoldConstants(w.g, w.Bound)
	for old, c := range repl {
		w.rebind(old, c)
	}
	return len(repl), err
}

// rebind moves every name bound to old over to c and releases old.
func (w *Workspace) rebind(old, c dag.Handle) {
	for _, name := range slices.Clone(w.order) {
		if w.names[name] == old {
			w.names[name] = c
			w.owned[c]++
		}
	}
	delete(w.owned, old)
	_, _ = w.g.Release(old, w.Bound)
}

// Clone returns an independent copy of the workspace: the graph is
// cloned and every binding is moved to the corresponding clone. The copy
// shares the registry and logger but gets its own random source seeded
// from seed.
func (w *Workspace) Clone(seed uint64) (*Workspace, error) {
	g, m, err := w.g.CloneAll()
	if err != nil {
		return nil, err
	}
	c := &Workspace{
		g:         g,
		reg:       w.reg,
		logger:    w.logger,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		graphOpts: w.graphOpts,
		names:     make(map[string]dag.Handle, len(w.names)),
		order:     slices.Clone(w.order),
		owned:     make(map[dag.Handle]int, len(w.owned)),
	}
	for name, h := range w.names {
		c.names[name] = m[h]
	}
	for h, n := range w.owned {
		c.owned[m[h]] = n
	}
	return c, nil
}
