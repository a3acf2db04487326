package dag

import (
	"github.com/zclconf/go-cty/cty"
)

// AddConstant creates a leaf node holding v. The node's type is v's type;
// later values given to [Graph.SetValue] are converted to it.
func (g *Graph) AddConstant(name string, v cty.Value) (Handle, error) {
	v, err := conform(v, cty.DynamicPseudoType, "constant "+name)
	if err != nil {
		return 0, err
	}
	return g.insert(&node{
		name:  name,
		kind:  KindConstant,
		typ:   v.Type(),
		value: v,
	}), nil
}
