package mcmc

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/matzehuels/modeldag/pkg/dag"
)

// Monitor receives the recorded samples of a chain.
type Monitor interface {
	Record(iteration int, lnPosterior float64) error
	Flush() error
}

// TraceMonitor writes a tab-separated trace: one row per recorded
// sample with the iteration, the log-posterior and the value of each
// monitored node. The header row is written with the first sample.
type TraceMonitor struct {
	g      *dag.Graph
	nodes  []dag.Handle
	w      *csv.Writer
	header bool
}

// NewTraceMonitor writes the trace of nodes to w. Without nodes every
// unclamped random variable of g is monitored.
func NewTraceMonitor(w io.Writer, g *dag.Graph, nodes ...dag.Handle) *TraceMonitor {
	if len(nodes) == 0 {
		for _, h := range g.Stochastic() {
			if !g.IsClamped(h) {
				nodes = append(nodes, h)
			}
		}
	}
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &TraceMonitor{g: g, nodes: nodes, w: cw}
}

func (m *TraceMonitor) Record(iteration int, lnPosterior float64) error {
	if !m.header {
		row := []string{"iteration", "posterior"}
		for _, h := range m.nodes {
			row = append(row, m.g.Name(h))
		}
		if err := m.w.Write(row); err != nil {
			return err
		}
		m.header = true
	}

	row := []string{strconv.Itoa(iteration), strconv.FormatFloat(lnPosterior, 'g', 10, 64)}
	for _, h := range m.nodes {
		v, err := m.g.Value(h)
		if err != nil {
			return err
		}
		row = append(row, dag.FormatValue(v))
	}
	return m.w.Write(row)
}

func (m *TraceMonitor) Flush() error {
	m.w.Flush()
	return m.w.Error()
}
