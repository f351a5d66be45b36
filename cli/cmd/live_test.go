package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"abbey/model"
)

func TestBakeModelTracksStages(t *testing.T) {
	rc := model.NewRunContext(time.Unix(1700000000, 0), "prod", "edx", "edxapp", "us-east-1", "42", "")
	cancelled := false
	var m tea.Model = newBakeModel(rc, func() { cancelled = true })

	m, _ = m.Update(stageStarted{stage: model.StageLaunching, subject: rc.RunID})
	m, _ = m.Update(stageFinished{stage: model.StageLaunching, elapsed: 2 * time.Second})
	m, _ = m.Update(stageStarted{stage: model.StageWaitRunning, subject: "i-1"})
	m, _ = m.Update(stageFinished{stage: model.StageWaitRunning, err: errors.New("timeout")})

	bm := m.(bakeModel)
	if bm.steps[0].status != "completed" || bm.steps[1].status != "failed" {
		t.Errorf("steps = %+v", bm.steps[:2])
	}
	view := bm.View()
	if !strings.Contains(view, "prod-edx-edxapp") || !strings.Contains(view, "✗ failed") {
		t.Errorf("view missing content:\n%s", view)
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled {
		t.Error("ctrl+c should cancel the bake")
	}

	m, cmd := m.Update(bakeDone{err: errors.New("timeout")})
	if cmd == nil {
		t.Fatal("bakeDone should quit")
	}
	if m.(bakeModel).status != "failed" {
		t.Errorf("status = %q", m.(bakeModel).status)
	}
}
