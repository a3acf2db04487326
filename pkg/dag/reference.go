package dag

import (
	"slices"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// AddReference creates a node designating an element or member of base's
// value. Each index selects one level: a one-based position for lists and
// tuples, a key for maps, an attribute name for objects. Indices are
// nodes, so a reference whose index is stochastic follows it lazily.
//
// The shape is checked here as far as the declared types allow. Constant
// positions into tuples and constant attribute names are resolved
// statically; anything else is resolved when the value is read.
func (g *Graph) AddReference(name string, base Handle, index ...Handle) (Handle, error) {
	if len(index) == 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "reference %s: no index", name)
	}
	ns, err := g.lookupAll(append([]Handle{base}, index...))
	if err != nil {
		return 0, err
	}
	typ, conv, err := planReference(ns[0].typ, ns[1:])
	if err != nil {
		return 0, errors.Wrap(errors.GetCodeOr(err, errors.ErrCodeTypeMismatch), err, "reference %s", name)
	}
	return g.insert(&node{
		name:    name,
		kind:    KindReference,
		typ:     typ,
		value:   cty.NullVal(typ),
		dirty:   true,
		parents: append([]Handle{base}, index...),
		out:     converterTo(typ),
		idxConv: conv,
	}), nil
}

// planReference walks the declared base type level by level and resolves
// the index conversions that can be known statically.
func planReference(base cty.Type, index []*node) (cty.Type, []convert.Conversion, error) {
	cur := base
	conv := make([]convert.Conversion, len(index))
	for i, in := range index {
		if cur == cty.DynamicPseudoType {
			return cty.DynamicPseudoType, conv, nil
		}
		want := indexKeyType(cur)
		if want == cty.NilType {
			return cty.NilType, nil, errors.New(errors.ErrCodeTypeMismatch,
				"value of type %s cannot be indexed", cur.FriendlyName())
		}
		c, err := conversion(in.typ, want)
		if err != nil {
			return cty.NilType, nil, err
		}
		conv[i] = c

		switch {
		case cur.IsListType() || cur.IsMapType():
			cur = cur.ElementType()
		case in.kind == KindConstant:
			key, err := apply(c, in.value, "index")
			if err != nil {
				return cty.NilType, nil, err
			}
			elem, err := staticElementType(cur, key)
			if err != nil {
				return cty.NilType, nil, err
			}
			cur = elem
		default:
			cur = cty.DynamicPseudoType
		}
	}
	return cur, conv, nil
}

// converterTo converts resolved elements to the declared type. Constant
// indices can be replaced through SetValue, so the element type is
// checked on every read.
func converterTo(ty cty.Type) convert.Conversion {
	if ty == cty.DynamicPseudoType {
		return identity
	}
	return func(v cty.Value) (cty.Value, error) {
		return convert.Convert(v, ty)
	}
}

// indexKeyType returns the index type a collection is addressed with, or
// cty.NilType if it cannot be indexed.
func indexKeyType(ty cty.Type) cty.Type {
	switch {
	case ty.IsListType() || ty.IsTupleType():
		return cty.Number
	case ty.IsMapType() || ty.IsObjectType():
		return cty.String
	}
	return cty.NilType
}

func staticElementType(ty cty.Type, key cty.Value) (cty.Type, error) {
	if ty.IsTupleType() {
		elems := ty.TupleElementTypes()
		pos, err := AsInt(key)
		if err != nil {
			return cty.NilType, err
		}
		if pos < 1 || pos > int64(len(elems)) {
			return cty.NilType, errors.New(errors.ErrCodeIndexOutOfRange,
				"index %d out of range [1, %d]", pos, len(elems))
		}
		return elems[pos-1], nil
	}
	attr := key.AsString()
	if !ty.HasAttribute(attr) {
		return cty.NilType, errors.New(errors.ErrCodeIndexOutOfRange, "no attribute %q", attr)
	}
	return ty.AttributeType(attr), nil
}

func (g *Graph) recomputeReference(n *node) (cty.Value, []int, error) {
	cur, err := g.value(g.nodes[n.parents[0]])
	if err != nil {
		return cty.NilVal, nil, err
	}
	elems := make([]int, 0, len(n.parents)-1)
	for i, ih := range n.parents[1:] {
		idx, err := g.value(g.nodes[ih])
		if err != nil {
			return cty.NilVal, nil, err
		}
		var pos int
		cur, pos, err = resolveIndex(cur, idx, n.idxConv[i])
		if err != nil {
			return cty.NilVal, nil, errors.Wrap(errors.GetCodeOr(err, errors.ErrCodeTypeMismatch), err, "resolve %s", n.label())
		}
		if pos > 0 {
			elems = append(elems, pos)
		}
	}
	cur, err = apply(n.out, cur, "element of "+n.label())
	return cur, elems, err
}

// resolveIndex selects one level of v. It returns the one-based position
// for sequences and 0 for keyed lookups.
func resolveIndex(v, idx cty.Value, c convert.Conversion) (cty.Value, int, error) {
	if v.IsNull() {
		return cty.NilVal, 0, errors.New(errors.ErrCodeIndexOutOfRange, "cannot index a null value")
	}
	ty := v.Type()
	want := indexKeyType(ty)
	if want == cty.NilType {
		return cty.NilVal, 0, errors.New(errors.ErrCodeTypeMismatch, "value of type %s cannot be indexed", ty.FriendlyName())
	}
	if c == nil {
		var err error
		if c, err = conversion(idx.Type(), want); err != nil {
			return cty.NilVal, 0, err
		}
	}
	key, err := apply(c, idx, "index")
	if err != nil {
		return cty.NilVal, 0, err
	}

	if want == cty.Number {
		pos, err := AsInt(key)
		if err != nil {
			return cty.NilVal, 0, err
		}
		length := v.LengthInt()
		if pos < 1 || pos > int64(length) {
			return cty.NilVal, 0, errors.New(errors.ErrCodeIndexOutOfRange,
				"index %d out of range [1, %d]", pos, length)
		}
		return v.Index(cty.NumberIntVal(pos - 1)), int(pos), nil
	}

	name := key.AsString()
	if ty.IsObjectType() {
		if !ty.HasAttribute(name) {
			return cty.NilVal, 0, errors.New(errors.ErrCodeIndexOutOfRange, "no attribute %q", name)
		}
		return v.GetAttr(name), 0, nil
	}
	if !v.HasIndex(key).True() {
		return cty.NilVal, 0, errors.New(errors.ErrCodeIndexOutOfRange, "no key %q", name)
	}
	return v.Index(key), 0, nil
}

// TouchedElements returns the one-based positions the reference node
// resolved on its last read, outermost first. Keyed levels are omitted.
func (g *Graph) TouchedElements(h Handle) ([]int, error) {
	n, err := g.lookup(h)
	if err != nil {
		return nil, err
	}
	if n.kind != KindReference {
		return nil, errors.New(errors.ErrCodeInvalidOperation, "%s is a %s node", n.label(), n.kind)
	}
	return slices.Clone(n.elems), nil
}
