package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/mcmc"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

// runFlags holds the flags of the run command. Sampling flags override
// the run configuration only when given.
type runFlags struct {
	config     string
	iterations int
	burnIn     int
	thin       int
	chains     int
	parallel   int
	seed       uint64
	moves      []string
	monitor    []string
	trace      string
	output     string
	values     bool
	refresh    bool
	json       bool
	cache      cacheFlags
}

func (c *CLI) runCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [model.hcl]",
		Short: "Sample the posterior of a model",
		Long: `Run Metropolis-Hastings chains over a model and report posterior means
and acceptance rates.

Options come from a TOML run configuration (--config) and are overridden
by flags. Results are cached per model source and options; --refresh
recomputes them.`,
		Example: `  modeldag run examples/regression.hcl --chains 4 --iterations 5000
  modeldag run --config examples/run.toml --trace trace.tsv
  modeldag run model.hcl --move mu:slide:0.5 --move sigma:scale`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd, args)
			if err != nil {
				return err
			}
			return c.runRun(cmd.Context(), cmd.OutOrStdout(), opts, flags.json)
		},
	}

	flags.register(cmd)

	return cmd
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "TOML run configuration")
	fs.IntVarP(&f.iterations, "iterations", "n", pipeline.DefaultIterations, "recorded iterations per chain")
	fs.IntVar(&f.burnIn, "burn-in", pipeline.DefaultBurnIn, "iterations discarded before recording")
	fs.IntVar(&f.thin, "thin", pipeline.DefaultThin, "record every n-th iteration")
	fs.IntVar(&f.chains, "chains", pipeline.DefaultChains, "number of chains")
	fs.IntVar(&f.parallel, "parallel", 0, "max chains running at once (0 = all)")
	fs.Uint64Var(&f.seed, "seed", pipeline.DefaultSeed, "random seed of the first chain")
	fs.StringArrayVar(&f.moves, "move", nil, "proposal move as node:kind[:tuning] (repeatable)")
	fs.StringSliceVar(&f.monitor, "monitor", nil, "nodes to report (default: all random variables)")
	fs.StringVar(&f.trace, "trace", "", "write a tab-separated trace per chain")
	fs.StringVarP(&f.output, "output", "o", "", "also render the model graph to this file")
	fs.BoolVar(&f.values, "values", false, "show values in the rendered graph")
	fs.BoolVar(&f.refresh, "refresh", false, "ignore cached results")
	fs.BoolVar(&f.json, "json", false, "print the result as JSON")
	f.cache.register(cmd)
}

// options merges the run configuration, the model argument and the
// flags that were set.
func (f *runFlags) options(cmd *cobra.Command, args []string) (pipeline.Options, error) {
	var opts pipeline.Options
	if f.config != "" {
		var err error
		if opts, err = pipeline.LoadOptions(f.config); err != nil {
			return opts, err
		}
	}
	if len(args) == 1 {
		opts.Model = args[0]
	}
	if opts.Model == "" {
		return opts, errors.New(errors.ErrCodeInvalidInput, "no model: pass a model file or set model in --config")
	}

	changed := cmd.Flags().Changed
	if changed("iterations") || opts.Iterations == 0 {
		opts.Iterations = f.iterations
	}
	if changed("burn-in") || opts.BurnIn == nil {
		burnIn := f.burnIn
		opts.BurnIn = &burnIn
	}
	if changed("thin") {
		opts.Thin = f.thin
	}
	if changed("chains") {
		opts.Chains = f.chains
	}
	if changed("parallel") {
		opts.Parallel = f.parallel
	}
	if changed("seed") {
		opts.Seed = f.seed
	}
	if changed("move") {
		opts.Moves = opts.Moves[:0]
		for _, s := range f.moves {
			m, err := parseMove(s)
			if err != nil {
				return opts, err
			}
			opts.Moves = append(opts.Moves, m)
		}
	}
	if changed("monitor") {
		opts.Monitor = f.monitor
	}
	if changed("trace") {
		opts.Trace = f.trace
	}
	if changed("output") {
		opts.Output = f.output
		opts.Format = ""
	}
	if changed("values") {
		opts.Values = f.values
	}
	opts.Refresh = f.refresh
	f.cache.apply(&opts)
	return opts, nil
}

// parseMove parses "node:kind[:tuning]".
func parseMove(s string) (pipeline.MoveSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return pipeline.MoveSpec{}, errors.New(errors.ErrCodeInvalidInput, "invalid move %q (want node:kind[:tuning])", s)
	}
	m := pipeline.MoveSpec{Node: parts[0], Kind: parts[1]}
	if len(parts) == 3 {
		t, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return m, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid tuning in move %q", s)
		}
		m.Tuning = t
	}
	return m, nil
}

func (c *CLI) runRun(ctx context.Context, w io.Writer, opts pipeline.Options, asJSON bool) error {
	runner, err := c.newRunner(ctx, opts.Cache, nil)
	if err != nil {
		return err
	}
	defer runner.Close()

	prog := newProgress(loggerFromContext(ctx))
	spinner := newSpinnerWithContext(ctx, "Sampling "+opts.Model)
	if !asJSON {
		spinner.Start()
	}
	res, err := runner.Execute(ctx, opts)
	if err != nil {
		if !asJSON {
			spinner.StopWithError("Sampling failed")
		}
		return err
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Sampled %d chains", len(res.Chains)))

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, res.Artifact, 0644); err != nil {
			return fmt.Errorf("write graph: %w", err)
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	printSuccess("Sampled %s", opts.Model)
	printRunStats(res)
	printKeyValue("Run", res.RunID)
	printKeyValue("Model", res.ModelHash[:12])
	fmt.Fprintln(w, meansTable(res.Means()))
	fmt.Fprintln(w, movesTable(res.Chains))
	for _, name := range poorlyMixing(res.Chains) {
		printWarning("%s accepts few or almost all proposals, adjust its tuning", name)
	}
	if opts.Output != "" {
		printFile(opts.Output)
	}
	if opts.Trace != "" {
		for i := range res.Chains {
			printFile(opts.WithDefaults().TracePath(i))
		}
	}
	return nil
}

var tableHeaderStyle = lipgloss.NewStyle().Foreground(colorGray).Bold(true).Padding(0, 1)
var tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

// meansTable renders posterior means sorted by node name.
func meansTable(means map[string]float64) string {
	names := make([]string, 0, len(means))
	for name := range means {
		names = append(names, name)
	}
	slices.Sort(names)

	t := newTable("Node", "Posterior mean")
	for _, name := range names {
		t.Row(name, strconv.FormatFloat(means[name], 'g', 6, 64))
	}
	return t.Render()
}

// moveTotals sums the move statistics of all chains, in move order.
func moveTotals(chains []pipeline.ChainResult) []*mcmc.MoveStats {
	var order []*mcmc.MoveStats
	totals := make(map[string]*mcmc.MoveStats)
	for _, c := range chains {
		for _, m := range c.Moves {
			st, ok := totals[m.Name]
			if !ok {
				st = &mcmc.MoveStats{Name: m.Name}
				totals[m.Name] = st
				order = append(order, st)
			}
			st.Proposed += m.Proposed
			st.Accepted += m.Accepted
			st.Failed += m.Failed
		}
	}
	return order
}

// movesTable renders acceptance per move, summed over chains.
func movesTable(chains []pipeline.ChainResult) string {
	t := newTable("Move", "Proposed", "Accepted", "Failed", "Rate")
	for _, st := range moveTotals(chains) {
		t.Row(st.Name,
			strconv.Itoa(st.Proposed),
			strconv.Itoa(st.Accepted),
			strconv.Itoa(st.Failed),
			fmt.Sprintf("%.1f%%", 100*st.AcceptanceRate()))
	}
	return t.Render()
}

// poorlyMixing returns the moves whose acceptance rate is below 5% or
// above 95%.
func poorlyMixing(chains []pipeline.ChainResult) []string {
	var names []string
	for _, st := range moveTotals(chains) {
		if r := st.AcceptanceRate(); st.Proposed > 0 && (r < 0.05 || r > 0.95) {
			names = append(names, st.Name)
		}
	}
	return names
}
