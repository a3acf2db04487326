package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dag/transform"
	"github.com/matzehuels/modeldag/pkg/render"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Values adds each node's current value to its label, and the
	// log-probability for random variables. Reading values recomputes
	// dirty nodes.
	Values bool
	// Ranked pins nodes to the layers of [transform.AssignLayers] instead
	// of letting Graphviz choose ranks.
	Ranked bool
	// Names overrides node names, e.g. with workspace bindings. It returns
	// false to fall back to the graph's name.
	Names func(dag.Handle) (string, bool)
}

// ToDOT converts a model graph to Graphviz DOT format. The resulting DOT
// string can be rendered using [RenderSVG], [RenderPDF], or [RenderPNG].
//
// Constants are boxes, transforms ellipses, random variables double
// ellipses, and references dashed boxes; observed random variables are
// filled grey. Anonymous constants are drawn as bare values. Edges from
// index parents into references are dashed.
func ToDOT(g *dag.Graph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [style=\"rounded,filled\", fillcolor=white, fontsize=20, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	order := transform.TopologicalOrder(g)
	for _, h := range order {
		info, _ := g.Node(h)
		attrs := fmtAttrs(info, fmtLabel(g, info, opts))
		fmt.Fprintf(&buf, "  %q [%s];\n", nodeID(h), strings.Join(attrs, ", "))
	}

	if opts.Ranked {
		buf.WriteString("\n")
		for _, layer := range layers(g) {
			ids := make([]string, len(layer))
			for i, h := range layer {
				ids[i] = strconv.Quote(nodeID(h))
			}
			fmt.Fprintf(&buf, "  { rank=same; %s; }\n", strings.Join(ids, "; "))
		}
	}

	buf.WriteString("\n")
	for _, h := range order {
		info, _ := g.Node(h)
		for i, p := range info.Parents {
			if info.Kind == dag.KindReference && i > 0 {
				fmt.Fprintf(&buf, "  %q -> %q [style=dashed];\n", nodeID(p), nodeID(h))
				continue
			}
			fmt.Fprintf(&buf, "  %q -> %q;\n", nodeID(p), nodeID(h))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func nodeID(h dag.Handle) string {
	return "n" + strconv.FormatUint(uint64(h), 10)
}

func layers(g *dag.Graph) [][]dag.Handle {
	var out [][]dag.Handle
	assigned := transform.AssignLayers(g)
	for _, h := range transform.TopologicalOrder(g) {
		l := assigned[h]
		for len(out) <= l {
			out = append(out, nil)
		}
		out[l] = append(out[l], h)
	}
	return out
}

func fmtLabel(g *dag.Graph, info dag.NodeInfo, opts Options) string {
	name := info.Name
	if opts.Names != nil {
		if n, ok := opts.Names(info.Handle); ok {
			name = n
		}
	}

	if name == "" && info.Kind == dag.KindConstant {
		v, _ := g.Value(info.Handle)
		return dag.FormatValue(v)
	}
	if name == "" {
		name = info.Handle.String()
	}

	parts := []string{name}
	switch info.Kind {
	case dag.KindTransform:
		parts = append(parts, info.Function)
	case dag.KindStochastic:
		parts = append(parts, "~ "+info.Distribution)
	}
	if !opts.Values {
		return strings.Join(parts, "\n")
	}

	v, err := g.Value(info.Handle)
	if err != nil {
		parts = append(parts, "<error>")
		return strings.Join(parts, "\n")
	}
	parts = append(parts, "= "+dag.FormatValue(v))
	if info.Kind == dag.KindStochastic {
		if lp, err := g.LnProbability(info.Handle); err == nil {
			parts = append(parts, "ln p = "+strconv.FormatFloat(lp, 'g', 4, 64))
		}
	}
	return strings.Join(parts, "\n")
}

func fmtAttrs(info dag.NodeInfo, label string) []string {
	attrs := []string{fmt.Sprintf("label=%q", label)}
	switch info.Kind {
	case dag.KindConstant:
		if info.Name == "" {
			attrs = append(attrs, "shape=plaintext", "fontsize=16")
		} else {
			attrs = append(attrs, "shape=box")
		}
	case dag.KindTransform:
		attrs = append(attrs, "shape=ellipse")
	case dag.KindStochastic:
		attrs = append(attrs, "shape=ellipse", "peripheries=2")
		if info.Clamped {
			attrs = append(attrs, "fillcolor=lightgrey")
		}
	case dag.KindReference:
		attrs = append(attrs, "shape=box", "style=\"rounded,filled,dashed\"")
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
// Returns the SVG bytes ready for display or further conversion with [render.ToPDF] or [render.ToPNG].
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}

// RenderPDF renders a DOT graph as PDF via SVG conversion.
// Requires librsvg: brew install librsvg (macOS), apt install librsvg2-bin (Linux).
func RenderPDF(ctx context.Context, dot string) ([]byte, error) {
	svg, err := RenderSVG(ctx, dot)
	if err != nil {
		return nil, err
	}
	return render.ToPDF(ctx, svg)
}

// RenderPNG renders a DOT graph as PNG via SVG conversion at the given
// scale. Requires librsvg like [RenderPDF].
func RenderPNG(ctx context.Context, dot string, scale float64) ([]byte, error) {
	svg, err := RenderSVG(ctx, dot)
	if err != nil {
		return nil, err
	}
	return render.ToPNG(ctx, svg, scale)
}

// Render renders a DOT graph in format f. DOT is returned as is.
func Render(ctx context.Context, dot string, f render.Format, scale float64) ([]byte, error) {
	if f == render.FormatDOT {
		return []byte(dot), nil
	}
	svg, err := RenderSVG(ctx, dot)
	if err != nil {
		return nil, err
	}
	return render.Convert(ctx, svg, f, scale)
}
