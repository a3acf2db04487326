package cli

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestExplore(t *testing.T) exploreModel {
	t.Helper()
	ws, err := loadWorkspace(context.Background(), writeModel(t))
	if err != nil {
		t.Fatal(err)
	}
	m, err := newExploreModel(ws, 1)
	if err != nil {
		t.Fatalf("newExploreModel() error: %v", err)
	}
	return m
}

func TestExploreNavigate(t *testing.T) {
	m := newTestExplore(t)
	if len(m.rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(m.rows))
	}

	next, _ := m.Update(key("down"))
	m = next.(exploreModel)
	if m.cursor != 1 {
		t.Errorf("cursor after down = %d, want 1", m.cursor)
	}
	if !strings.Contains(m.detail, m.rows[1].name) {
		t.Errorf("detail = %q, want the structure of %s", m.detail, m.rows[1].name)
	}

	next, _ = m.Update(key("up"))
	next, _ = next.Update(key("up"))
	m = next.(exploreModel)
	if m.cursor != 0 {
		t.Errorf("cursor after up, up = %d, want 0", m.cursor)
	}

	view := m.View()
	for _, want := range []string{"Model Nodes", "mu", "shift", "s sample"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestExploreSample(t *testing.T) {
	m := newTestExplore(t)

	next, cmd := m.Update(key("s"))
	m = next.(exploreModel)
	if !m.sampling || cmd == nil {
		t.Fatal("s should start sampling")
	}
	// Keys other than quit are ignored while sampling.
	next, _ = m.Update(key("down"))
	if next.(exploreModel).cursor != 0 {
		t.Error("cursor moved while sampling")
	}

	next, _ = m.Update(cmd())
	m = next.(exploreModel)
	if m.err != nil {
		t.Fatalf("sampling error: %v", m.err)
	}
	if m.sampling || m.sweeps != exploreSweeps {
		t.Errorf("after sampling: sampling = %v, sweeps = %d", m.sampling, m.sweeps)
	}
	if !strings.Contains(m.View(), "100 iterations") {
		t.Errorf("View() should report iterations:\n%s", m.View())
	}
}

func TestExploreQuit(t *testing.T) {
	m := newTestExplore(t)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}
