package dag

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// AddTransform creates a deterministic node computing fn over the values
// of args, in order. Arity and argument types are checked here, once;
// the node's type is the function's return type for the argument types.
// The value is computed lazily on first read.
func (g *Graph) AddTransform(name string, fn Function, args ...Handle) (Handle, error) {
	parents, err := g.lookupAll(args)
	if err != nil {
		return 0, err
	}
	ret, err := fn.Impl.ReturnType(typesOf(parents))
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeTypeMismatch, err, "transform %s: %s", name, fn.Name)
	}
	return g.insert(&node{
		name:    name,
		kind:    KindTransform,
		typ:     ret,
		value:   cty.NullVal(ret),
		dirty:   true,
		parents: append([]Handle(nil), args...),
		fn:      fn,
		out:     identity,
	}), nil
}

func (g *Graph) recomputeTransform(n *node) (cty.Value, error) {
	args := make([]cty.Value, len(n.parents))
	for i, p := range n.parents {
		v, err := g.value(g.nodes[p])
		if err != nil {
			return cty.NilVal, err
		}
		args[i] = v
	}
	res, err := n.fn.Impl.Call(args)
	if err != nil {
		return cty.NilVal, asDomain(err, "evaluate %s = %s(...)", n.label(), n.fn.Name)
	}
	return apply(n.out, res, "result of "+n.label())
}

// asDomain wraps a model-math failure as a domain error unless it already
// carries a code.
func asDomain(err error, format string, args ...any) error {
	if errors.GetCode(err) != "" {
		return err
	}
	return errors.Wrap(errors.ErrCodeDomain, err, format, args...)
}

func typesOf(ns []*node) []cty.Type {
	types := make([]cty.Type, len(ns))
	for i, n := range ns {
		types[i] = n.typ
	}
	return types
}
