package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/mcmc"
	"github.com/matzehuels/modeldag/pkg/model"
	"github.com/matzehuels/modeldag/pkg/pipeline"
)

// exploreSweeps is the number of sampler iterations run per key press.
const exploreSweeps = 100

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	detailStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim).Padding(0, 1)
)

func (c *CLI) exploreCommand() *cobra.Command {
	var seed uint64

	cmd := &cobra.Command{
		Use:   "explore model.hcl",
		Short: "Browse a model and step its sampler interactively",
		Long: `Browse the nodes of a model in the terminal. The right pane shows the
structure of the selected node; "s" runs the sampler for 100 iterations
and updates every value in place.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := loadWorkspace(ctx, args[0])
			if err != nil {
				return err
			}
			m, err := newExploreModel(ws, seed)
			if err != nil {
				return err
			}
			_, err = tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
			return err
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", pipeline.DefaultSeed, "random seed")
	return cmd
}

// =============================================================================
// exploreModel - Interactive node browser
// =============================================================================

type nodeRow struct {
	name  string
	kind  string
	value string
}

// sampledMsg reports a finished batch of sampler iterations.
type sampledMsg struct {
	res *mcmc.Result
	err error
}

// exploreModel is the bubbletea model of the explore command. The graph is
// only read between sampler batches; View renders the last snapshot.
type exploreModel struct {
	ws      *model.Workspace
	sampler *mcmc.Sampler

	rows   []nodeRow
	detail string
	cursor int
	offset int
	height int

	sampling bool
	sweeps   int
	lnPost   float64
	err      error
}

func newExploreModel(ws *model.Workspace, seed uint64) (exploreModel, error) {
	m := exploreModel{ws: ws, height: 15}
	moves, err := mcmc.DefaultMoves(ws.Graph())
	if err != nil {
		return m, err
	}
	if len(moves) > 0 {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		m.sampler, err = mcmc.NewSampler(ws.Graph(), moves, rng, mcmc.WithLogger(log.New(io.Discard)))
		if err != nil {
			return m, err
		}
	}
	m.snapshot()
	return m, nil
}

// snapshot reads the rows and the selected node's structure from the
// graph.
func (m *exploreModel) snapshot() {
	g := m.ws.Graph()
	m.rows = m.rows[:0]
	for _, name := range m.ws.Names() {
		h, _ := m.ws.Lookup(name)
		row := nodeRow{name: name}
		if kind, ok := g.Kind(h); ok {
			row.kind = kind.String()
		}
		if v, err := g.Value(h); err == nil {
			row.value = truncate(dag.FormatValue(v), 24)
		} else {
			row.value = "error"
		}
		m.rows = append(m.rows, row)
	}
	m.detail = ""
	if m.cursor < len(m.rows) {
		h, _ := m.ws.Lookup(m.rows[m.cursor].name)
		if info, err := g.StructureInfo(h); err == nil {
			m.detail = strings.TrimRight(info, "\n")
		}
	}
}

func (m exploreModel) Init() tea.Cmd {
	return nil
}

func (m exploreModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		if m.sampling {
			return m, nil
		}
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
			m.snapshot()
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
				if m.cursor >= m.offset+m.height {
					m.offset = m.cursor - m.height + 1
				}
			}
			m.snapshot()
		case "s":
			if m.sampler == nil {
				return m, nil
			}
			m.sampling = true
			m.err = nil
			return m, m.sample()
		}
	case sampledMsg:
		m.sampling = false
		m.err = msg.err
		if msg.err == nil {
			m.sweeps += msg.res.Iterations
			m.lnPost = msg.res.LnPosterior
		}
		m.snapshot()
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-8, 5)
	}
	return m, nil
}

func (m exploreModel) sample() tea.Cmd {
	s := m.sampler
	return func() tea.Msg {
		res, err := s.Run(context.Background(), mcmc.RunOptions{Iterations: exploreSweeps})
		return sampledMsg{res: res, err: err}
	}
}

func (m exploreModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Model Nodes"))
	b.WriteString("\n")
	help := "↑/↓ navigate  q quit"
	if m.sampler != nil {
		help = "↑/↓ navigate  s sample  q quit"
	}
	b.WriteString(listDimStyle.Render(help))
	b.WriteString("\n\n")

	end := min(m.offset+m.height, len(m.rows))
	var list strings.Builder
	for i := m.offset; i < end; i++ {
		r := m.rows[i]
		line := fmt.Sprintf("%-14s %-10s %s", r.name, listDimStyle.Render(r.kind), r.value)
		if i == m.cursor {
			list.WriteString(listSelectedStyle.Render("▸ " + line))
		} else {
			list.WriteString(listNormalStyle.Render("  " + line))
		}
		list.WriteString("\n")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list.String(), "  ", detailStyle.Render(m.detail)))
	b.WriteString("\n\n")
	b.WriteString(m.status())
	return b.String()
}

func (m exploreModel) status() string {
	switch {
	case m.err != nil:
		return styleIconError.Render(iconError) + " " + m.err.Error()
	case m.sampling:
		return listDimStyle.Render("sampling...")
	case m.sampler == nil:
		return listDimStyle.Render("no random variables to sample")
	case m.sweeps == 0:
		return listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.cursor+1, len(m.rows)))
	}
	var accepted, proposed int
	for _, st := range m.sampler.Stats() {
		accepted += st.Accepted
		proposed += st.Proposed
	}
	rate := 0.0
	if proposed > 0 {
		rate = 100 * float64(accepted) / float64(proposed)
	}
	return listDimStyle.Render(fmt.Sprintf("  [%d/%d]  %d iterations  ln posterior %.4g  accepted %.1f%%",
		m.cursor+1, len(m.rows), m.sweeps, m.lnPost, rate))
}
