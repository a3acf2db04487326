package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
	modelio "github.com/matzehuels/modeldag/pkg/io"
	"github.com/matzehuels/modeldag/pkg/model"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

type inspectFlags struct {
	hcl       bool
	structure bool
	fold      bool
}

func (c *CLI) inspectCommand() *cobra.Command {
	var flags inspectFlags

	cmd := &cobra.Command{
		Use:   "inspect model.hcl [node]",
		Short: "Show the nodes of a model",
		Long: `Show a table of all named nodes of a model, or the structure of one node.

--fold folds constant subgraphs into constants first. --hcl prints the
(folded) model as HCL instead of a table.`,
		Example: `  modeldag inspect examples/regression.hcl
  modeldag inspect examples/regression.hcl mu
  modeldag inspect examples/regression.hcl --fold --hcl`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := loadWorkspace(ctx, args[0])
			if err != nil {
				return err
			}
			if flags.fold {
				n, err := ws.Fold()
				if err != nil {
					return err
				}
				loggerFromContext(ctx).Debug("folded constants", "nodes", n)
			}

			w := cmd.OutOrStdout()
			switch {
			case len(args) == 2:
				return inspectNode(w, ws, args[1])
			case flags.hcl:
				return modelio.WriteHCL(ws, w)
			case flags.structure:
				return modelio.WriteStructure(ws.Graph(), w)
			}
			return inspectModel(w, ws)
		},
	}

	cmd.Flags().BoolVar(&flags.hcl, "hcl", false, "print the model as HCL")
	cmd.Flags().BoolVar(&flags.structure, "structure", false, "print the structure of every node")
	cmd.Flags().BoolVar(&flags.fold, "fold", false, "fold constant subgraphs first")

	return cmd
}

// inspectModel writes a table of the named nodes of ws.
func inspectModel(w io.Writer, ws *model.Workspace) error {
	g := ws.Graph()
	t := newTable("Node", "Kind", "Type", "Value", "Detail", "Parents")
	for _, name := range ws.Names() {
		h, _ := ws.Lookup(name)
		info, ok := g.Node(h)
		if !ok {
			continue
		}
		v, err := g.Value(h)
		if err != nil {
			return err
		}
		t.Row(name, info.Kind.String(), info.Type.FriendlyName(),
			truncate(dag.FormatValue(v), 32), nodeDetail(g, info), parentNames(ws, info.Parents))
	}
	_, err := fmt.Fprintln(w, t.Render())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d named, %d nodes, %d edges\n", len(ws.Names()), g.NodeCount(), g.EdgeCount())
	return err
}

// inspectNode writes the structure of the node called name.
func inspectNode(w io.Writer, ws *model.Workspace, name string) error {
	h, ok := ws.Lookup(name)
	if !ok {
		return errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "%s", name)
	}
	info, err := ws.Graph().StructureInfo(h)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, info)
	return err
}

// nodeDetail describes the function or distribution of a node, with the
// log-probability of stochastic nodes.
func nodeDetail(g *dag.Graph, info dag.NodeInfo) string {
	switch info.Kind {
	case dag.KindTransform:
		return info.Function
	case dag.KindStochastic:
		d := info.Distribution
		if info.Clamped {
			d += " (observed)"
		}
		if lp, err := g.LnProbability(info.Handle); err == nil {
			d += " lnp=" + strconv.FormatFloat(lp, 'g', 4, 64)
		}
		return d
	}
	return ""
}

func parentNames(ws *model.Workspace, parents []dag.Handle) string {
	names := make([]string, len(parents))
	for i, p := range parents {
		if name, ok := ws.NameOf(p); ok {
			names[i] = name
		} else {
			names[i] = ws.Graph().Name(p)
		}
	}
	return strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// loadWorkspace loads a model without caching, for commands that only
// read it.
func loadWorkspace(ctx context.Context, path string) (*model.Workspace, error) {
	ws, _, err := pipeline.NewRunner(nil, nil, loggerFromContext(ctx)).Load(ctx, path)
	return ws, err
}
