package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/pipeline"
	"github.com/matzehuels/modeldag/pkg/render"
)

type graphFlags struct {
	output string
	format string
	values bool
	ranked bool
	scale  float64
	cache  cacheFlags
}

func (c *CLI) graphCommand() *cobra.Command {
	var flags graphFlags

	cmd := &cobra.Command{
		Use:   "graph model.hcl",
		Short: "Draw the graph of a model",
		Long: `Draw a model as a node-link diagram.

Without --output the graph is written to stdout in DOT format. With
--output the format follows the file extension unless --format is given.
PDF and PNG output require rsvg-convert.`,
		Example: `  modeldag graph examples/regression.hcl | dot -Tsvg > model.svg
  modeldag graph examples/regression.hcl -o model.svg --values
  modeldag graph examples/regression.hcl -o model.png --scale 2`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(args[0])
			if err != nil {
				return err
			}
			return c.runGraph(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.output, "output", "o", "", "output file (default: DOT on stdout)")
	f.StringVarP(&flags.format, "format", "f", "", "output format: dot, svg, pdf or png")
	f.BoolVar(&flags.values, "values", false, "show node values")
	f.BoolVar(&flags.ranked, "ranked", false, "rank nodes by depth")
	f.Float64Var(&flags.scale, "scale", pipeline.DefaultScale, "PNG scale factor")
	flags.cache.register(cmd)

	return cmd
}

func (f *graphFlags) options(model string) (pipeline.Options, error) {
	opts := pipeline.Options{
		Model:  model,
		Format: f.format,
		Output: f.output,
		Values: f.values,
		Ranked: f.ranked,
		Scale:  f.scale,
	}
	if opts.Format == "" && opts.Output == "" {
		opts.Format = string(render.FormatDOT)
	}
	f.cache.apply(&opts)
	opts = opts.WithDefaults()
	if err := errors.ValidateModelPath(opts.Model); err != nil {
		return opts, err
	}
	if _, err := render.ParseFormat(opts.Format); err != nil {
		return opts, err
	}
	if opts.Output == "" && opts.Format != string(render.FormatDOT) {
		return opts, errors.New(errors.ErrCodeInvalidInput, "%s output needs --output", opts.Format)
	}
	return opts, nil
}

func (c *CLI) runGraph(ctx context.Context, w io.Writer, opts pipeline.Options) error {
	runner, err := c.newRunner(ctx, opts.Cache, nil)
	if err != nil {
		return err
	}
	defer runner.Close()

	spinner := newSpinnerWithContext(ctx, "Loading "+opts.Model)
	if opts.Output != "" {
		spinner.Start()
	}
	defer spinner.Stop()

	ws, src, err := runner.Load(ctx, opts.Model)
	if err != nil {
		return err
	}
	f, _ := render.ParseFormat(opts.Format)
	spinner.SetMessage("Rendering " + string(f))
	data, hit, err := runner.RenderWithCacheInfo(ctx, ws, cache.Hash(src), f, opts)
	if err != nil {
		return err
	}
	spinner.Stop()

	if opts.Output == "" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0644); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	status := iconFresh
	if hit {
		status = iconCached
	}
	printSuccess("Rendered %s (%s)", opts.Model, status)
	printFile(opts.Output)
	return nil
}
