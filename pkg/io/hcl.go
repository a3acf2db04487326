package io

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/model"
)

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "constant", LabelNames: []string{"name"}},
		{Type: "transform", LabelNames: []string{"name"}},
		{Type: "stochastic", LabelNames: []string{"name"}},
		{Type: "reference", LabelNames: []string{"name"}},
	},
}

type constantBlock struct {
	Value hcl.Expression `hcl:"value"`
	Type  hcl.Expression `hcl:"type,optional"`
}

type transformBlock struct {
	Function string         `hcl:"function"`
	Args     hcl.Expression `hcl:"args,optional"`
}

type stochasticBlock struct {
	Distribution string         `hcl:"distribution"`
	Params       hcl.Expression `hcl:"params,optional"`
	Initial      hcl.Expression `hcl:"initial,optional"`
	Observed     hcl.Expression `hcl:"observed,optional"`
}

type referenceBlock struct {
	Base  hcl.Expression `hcl:"base"`
	Index hcl.Expression `hcl:"index"`
}

// decl is one decoded block, ready to be added to a workspace once the
// names it refers to are bound.
type decl struct {
	name  string
	rng   hcl.Range
	deps  []string
	build func(*model.Workspace) error
}

// ReadHCL decodes a model file from r into a new workspace. filename is
// only used in diagnostics. Options are passed to [model.New].
func ReadHCL(r io.Reader, filename string, opts ...model.Option) (*model.Workspace, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	ws := model.New(opts...)
	if err := Load(ws, src, filename); err != nil {
		return nil, err
	}
	return ws, nil
}

// ImportHCL reads the model file at path into a new workspace.
func ImportHCL(path string, opts ...model.Option) (*model.Workspace, error) {
	if err := errors.ValidateModelPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "open %s", path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadHCL(f, path, opts...)
}

// Load adds the declarations of an HCL model source to ws. Declarations
// may appear in any order; they are added dependencies first, and blocks
// that do not depend on each other keep their source order. A name that
// is already bound in ws may be used without being declared, and
// declaring it again reassigns it.
//
// Load stops at the first declaration that fails. Declarations added
// before it stay in ws.
func Load(ws *model.Workspace, src []byte, filename string) error {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return errors.Wrap(errors.ErrCodeInvalidModel, diags, "parse %s", filename)
	}
	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return errors.Wrap(errors.ErrCodeInvalidModel, diags, "decode %s", filename)
	}

	decls := make([]*decl, 0, len(content.Blocks))
	byName := make(map[string]*decl, len(content.Blocks))
	for _, block := range content.Blocks {
		d, diags := decodeBlock(block)
		if diags.HasErrors() {
			return errors.Wrap(errors.ErrCodeInvalidModel, diags, "decode %s", filename)
		}
		if prev, ok := byName[d.name]; ok {
			return errors.New(errors.ErrCodeInvalidModel, "%s: %q is already declared at %s", d.rng, d.name, prev.rng)
		}
		byName[d.name] = d
		decls = append(decls, d)
	}

	order, err := sortDecls(decls, byName)
	if err != nil {
		return err
	}
	for _, d := range order {
		if err := d.build(ws); err != nil {
			return errors.Wrap(errors.GetCodeOr(err, errors.ErrCodeInvalidModel), err, "%s", d.rng)
		}
	}
	return nil
}

// sortDecls orders declarations so every declaration follows the ones it
// refers to.
func sortDecls(decls []*decl, byName map[string]*decl) ([]*decl, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*decl]int, len(decls))
	order := make([]*decl, 0, len(decls))
	var path []string

	var visit func(d *decl) error
	visit = func(d *decl) error {
		switch state[d] {
		case done:
			return nil
		case visiting:
			return errors.New(errors.ErrCodeCycle, "%s: %q depends on itself: %s -> %s",
				d.rng, d.name, strings.Join(path, " -> "), d.name)
		}
		state[d] = visiting
		path = append(path, d.name)
		for _, dep := range d.deps {
			if next, ok := byName[dep]; ok {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[d] = done
		order = append(order, d)
		return nil
	}

	for _, d := range decls {
		if err := visit(d); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func decodeBlock(block *hcl.Block) (*decl, hcl.Diagnostics) {
	d := &decl{name: block.Labels[0], rng: block.DefRange}
	if err := errors.ValidateNodeName(d.name); err != nil {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid name",
			Detail:   errors.UserMessage(err),
			Subject:  block.LabelRanges[0].Ptr(),
		}}
	}

	switch block.Type {
	case "constant":
		return decodeConstant(d, block)
	case "transform":
		return decodeTransform(d, block)
	case "stochastic":
		return decodeStochastic(d, block)
	default:
		return decodeReference(d, block)
	}
}

func decodeConstant(d *decl, block *hcl.Block) (*decl, hcl.Diagnostics) {
	var b constantBlock
	if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
		return nil, diags
	}
	v, diags := literal(b.Value)
	if diags.HasErrors() {
		return nil, diags
	}
	if present(b.Type) {
		ty, diags := typeexpr.TypeConstraint(b.Type)
		if diags.HasErrors() {
			return nil, diags
		}
		converted, err := convert.Convert(v, ty)
		if err != nil {
			return nil, hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Invalid constant value",
				Detail:   fmt.Sprintf("The value cannot be converted to %s: %s.", ty.FriendlyName(), err),
				Subject:  b.Value.Range().Ptr(),
			}}
		}
		v = converted
	}
	d.build = func(ws *model.Workspace) error {
		_, err := ws.Constant(d.name, v)
		return err
	}
	return d, nil
}

func decodeTransform(d *decl, block *hcl.Block) (*decl, hcl.Diagnostics) {
	var b transformBlock
	if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
		return nil, diags
	}
	args, diags := arguments(b.Args)
	if diags.HasErrors() {
		return nil, diags
	}
	d.deps = refs(args)
	d.build = func(ws *model.Workspace) error {
		_, err := ws.Transform(d.name, b.Function, args...)
		return err
	}
	return d, nil
}

func decodeStochastic(d *decl, block *hcl.Block) (*decl, hcl.Diagnostics) {
	var b stochasticBlock
	if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
		return nil, diags
	}
	params, diags := arguments(b.Params)
	if diags.HasErrors() {
		return nil, diags
	}
	d.deps = refs(params)

	hasInitial, hasObserved := present(b.Initial), present(b.Observed)
	if hasInitial && hasObserved {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Conflicting attributes",
			Detail:   `Only one of "initial" and "observed" can be set.`,
			Subject:  b.Observed.Range().Ptr(),
		}}
	}

	switch {
	case hasObserved:
		data, diags := literal(b.Observed)
		if diags.HasErrors() {
			return nil, diags
		}
		d.build = func(ws *model.Workspace) error {
			_, err := ws.Observe(d.name, b.Distribution, data, params...)
			return err
		}
	case hasInitial:
		initial, diags := literal(b.Initial)
		if diags.HasErrors() {
			return nil, diags
		}
		d.build = func(ws *model.Workspace) error {
			_, err := ws.StochasticAt(d.name, b.Distribution, initial, params...)
			return err
		}
	default:
		d.build = func(ws *model.Workspace) error {
			_, err := ws.Stochastic(d.name, b.Distribution, params...)
			return err
		}
	}
	return d, nil
}

func decodeReference(d *decl, block *hcl.Block) (*decl, hcl.Diagnostics) {
	var b referenceBlock
	if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
		return nil, diags
	}
	base, diags := argument(b.Base)
	if diags.HasErrors() {
		return nil, diags
	}
	if base.Name == "" {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid reference base",
			Detail:   "The base of a reference must be a name.",
			Subject:  b.Base.Range().Ptr(),
		}}
	}
	index, diags := arguments(b.Index)
	if diags.HasErrors() {
		return nil, diags
	}
	d.deps = append([]string{base.Name}, refs(index)...)
	d.build = func(ws *model.Workspace) error {
		_, err := ws.Reference(d.name, base.Name, index...)
		return err
	}
	return d, nil
}

// present reports whether an optional attribute was set. gohcl fills
// absent expression fields with a static null.
func present(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	v, diags := expr.Value(nil)
	return diags.HasErrors() || !v.IsNull()
}

// arguments decodes a list of names and literals. An absent attribute
// means no arguments.
func arguments(expr hcl.Expression) ([]model.Arg, hcl.Diagnostics) {
	if !present(expr) {
		return nil, nil
	}
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	args := make([]model.Arg, 0, len(items))
	for _, item := range items {
		a, diags := argument(item)
		if diags.HasErrors() {
			return nil, diags
		}
		args = append(args, a)
	}
	return args, nil
}

// argument decodes a bare name into a reference and anything else into a
// literal value.
func argument(expr hcl.Expression) (model.Arg, hcl.Diagnostics) {
	if trav, diags := hcl.AbsTraversalForExpr(expr); !diags.HasErrors() {
		if len(trav) != 1 {
			return model.Arg{}, hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Invalid argument",
				Detail:   "Arguments must be plain names or literal values. Declare a reference block to index into a value.",
				Subject:  expr.Range().Ptr(),
			}}
		}
		return model.Ref(trav.RootName()), nil
	}
	v, diags := literal(expr)
	if diags.HasErrors() {
		return model.Arg{}, diags
	}
	return model.Lit(v), nil
}

func literal(expr hcl.Expression) (cty.Value, hcl.Diagnostics) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if v.IsNull() || !v.IsWhollyKnown() {
		return cty.NilVal, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid value",
			Detail:   "A known, non-null value is required.",
			Subject:  expr.Range().Ptr(),
		}}
	}
	return v, nil
}

func refs(args []model.Arg) []string {
	var names []string
	for _, a := range args {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}
