package io

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dag/transform"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/model"
)

// WriteHCL writes the workspace as an HCL model that [ReadHCL] reads back
// into an equivalent workspace. Blocks are written parents first.
//
// Each node is declared under the first name bound to it. Anonymous
// constants are inlined as literals where they are used; other anonymous
// nodes get a generated name. Extra names bound to an already declared
// node are not written.
func WriteHCL(ws *model.Workspace, w io.Writer) error {
	g := ws.Graph()
	if g.InTransaction() {
		return errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrInTransaction, "write model")
	}
	order := transform.TopologicalOrder(g)
	names := declNames(ws, order)

	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for _, h := range order {
		name, ok := names[h]
		if !ok {
			continue
		}
		info, _ := g.Node(h)
		if len(body.Blocks()) > 0 {
			body.AppendNewline()
		}
		block := body.AppendNewBlock(info.Kind.String(), []string{name})
		if err := writeBlock(g, names, info, block.Body()); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// ExportHCL writes the workspace to the file at path.
func ExportHCL(ws *model.Workspace, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteHCL(ws, f)
}

// declNames picks the name each written node is declared under.
func declNames(ws *model.Workspace, order []dag.Handle) map[dag.Handle]string {
	g := ws.Graph()
	names := make(map[dag.Handle]string)
	taken := make(map[string]bool)
	for _, name := range ws.Names() {
		h, _ := ws.Lookup(name)
		if _, ok := names[h]; !ok {
			names[h] = name
		}
		taken[name] = true
	}

	for _, h := range order {
		if _, ok := names[h]; ok {
			continue
		}
		info, _ := g.Node(h)
		if info.Kind == dag.KindConstant && info.Name == "" && inlinable(g, h) {
			continue
		}
		name := info.Name
		if taken[name] || errors.ValidateNodeName(name) != nil {
			name = fmt.Sprintf("node_%d", uint64(h))
		}
		names[h] = name
		taken[name] = true
	}
	return names
}

// inlinable reports whether an anonymous constant can be written as a
// literal at every use. Reference bases have to be names.
func inlinable(g *dag.Graph, h dag.Handle) bool {
	children := g.Children(h)
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if kind, _ := g.Kind(c); kind == dag.KindReference && g.Parents(c)[0] == h {
			return false
		}
	}
	return true
}

func writeBlock(g *dag.Graph, names map[dag.Handle]string, info dag.NodeInfo, body *hclwrite.Body) error {
	switch info.Kind {
	case dag.KindConstant:
		v, err := g.Value(info.Handle)
		if err != nil {
			return err
		}
		body.SetAttributeValue("value", v)
		if needsType(info.Type) {
			body.SetAttributeRaw("type", hclwrite.Tokens{{
				Type:  hclsyntax.TokenIdent,
				Bytes: []byte(typeexpr.TypeString(info.Type)),
			}})
		}

	case dag.KindTransform:
		body.SetAttributeValue("function", cty.StringVal(info.Function))
		args, err := tupleTokens(g, names, info.Parents)
		if err != nil {
			return err
		}
		body.SetAttributeRaw("args", args)

	case dag.KindStochastic:
		body.SetAttributeValue("distribution", cty.StringVal(info.Distribution))
		params, err := tupleTokens(g, names, info.Parents)
		if err != nil {
			return err
		}
		body.SetAttributeRaw("params", params)
		v, err := g.Value(info.Handle)
		if err != nil {
			return err
		}
		if info.Clamped {
			body.SetAttributeValue("observed", v)
		} else {
			body.SetAttributeValue("initial", v)
		}

	case dag.KindReference:
		body.SetAttributeRaw("base", nameTokens(names[info.Parents[0]]))
		index, err := tupleTokens(g, names, info.Parents[1:])
		if err != nil {
			return err
		}
		body.SetAttributeRaw("index", index)
	}
	return nil
}

// needsType reports whether a literal of type ty would read back as a
// different type. Literal lists and maps decode as tuples and objects.
func needsType(ty cty.Type) bool {
	switch {
	case ty.IsListType(), ty.IsMapType(), ty.IsSetType():
		return true
	case ty.IsTupleType():
		for _, et := range ty.TupleElementTypes() {
			if needsType(et) {
				return true
			}
		}
	case ty.IsObjectType():
		for _, at := range ty.AttributeTypes() {
			if needsType(at) {
				return true
			}
		}
	}
	return false
}

func tupleTokens(g *dag.Graph, names map[dag.Handle]string, hs []dag.Handle) (hclwrite.Tokens, error) {
	elems := make([]hclwrite.Tokens, len(hs))
	for i, h := range hs {
		if name, ok := names[h]; ok {
			elems[i] = nameTokens(name)
			continue
		}
		v, err := g.Value(h)
		if err != nil {
			return nil, err
		}
		elems[i] = hclwrite.TokensForValue(v)
	}
	return hclwrite.TokensForTuple(elems), nil
}

func nameTokens(name string) hclwrite.Tokens {
	return hclwrite.TokensForTraversal(hcl.Traversal{hcl.TraverseRoot{Name: name}})
}

// WriteStructure writes [dag.Graph.StructureInfo] for every node, parents
// first, separated by blank lines.
func WriteStructure(g *dag.Graph, w io.Writer) error {
	for i, h := range transform.TopologicalOrder(g) {
		info, err := g.StructureInfo(h)
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, info); err != nil {
			return err
		}
	}
	return nil
}
