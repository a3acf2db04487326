// Package render turns model graphs into pictures.
//
// # Format Conversion
//
// The [ToPDF] and [ToPNG] functions convert any SVG to other formats using
// the external rsvg-convert tool (from librsvg):
//
//	svg, err := nodelink.RenderSVG(ctx, dot)
//	pdf, err := render.ToPDF(svg)
//	png, err := render.ToPNG(svg, 2.0)  // 2x scale
//
// # Node-Link Diagrams
//
// The [nodelink] subpackage draws the graph as a Graphviz diagram, one
// shape per node kind, with observed random variables filled.
//
// [nodelink]: github.com/matzehuels/modeldag/pkg/render/nodelink
package render
