package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"abbey/cli/style"
	"abbey/event"
	"abbey/model"
	"abbey/pipeline"
)

// --- Messages ---

type stageStarted struct {
	stage   model.Stage
	subject string
}

type stageFinished struct {
	stage   model.Stage
	elapsed time.Duration
	err     error
}

type eventDelivered struct{}

type transcriptLine struct{ text string }

type bakeDone struct{ err error }

// --- Model ---

type bakeModel struct {
	app       string
	runID     string
	spinner   spinner.Model
	steps     []stageState
	subject   string
	events    int
	status    string // "baking" | "completed" | "failed"
	errMsg    string
	startTime time.Time
	cancel    context.CancelFunc
}

type stageState struct {
	stage   model.Stage
	status  string // "pending" | "running" | "completed" | "failed"
	elapsed time.Duration
}

func newBakeModel(rc model.RunContext, cancel context.CancelFunc) bakeModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)

	steps := make([]stageState, 0, len(model.Stages)+1)
	for _, st := range model.Stages {
		steps = append(steps, stageState{stage: st, status: "pending"})
	}
	steps = append(steps, stageState{stage: model.StageCleanup, status: "pending"})

	return bakeModel{
		app:       rc.App(),
		runID:     rc.RunID,
		spinner:   s,
		steps:     steps,
		status:    "baking",
		startTime: time.Now(),
		cancel:    cancel,
	}
}

func (m bakeModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m bakeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The bake keeps running until cleanup finishes; bakeDone quits.
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			if m.cancel != nil {
				m.cancel()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stageStarted:
		m.subject = msg.subject
		m.setStage(msg.stage, "running", 0)

	case stageFinished:
		status := "completed"
		if msg.err != nil {
			status = "failed"
			m.errMsg = msg.err.Error()
		}
		m.setStage(msg.stage, status, msg.elapsed)

	case eventDelivered:
		m.events++

	case transcriptLine:
		return m, tea.Println(msg.text)

	case bakeDone:
		m.status = "completed"
		if msg.err != nil {
			m.status = "failed"
			m.errMsg = msg.err.Error()
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *bakeModel) setStage(stage model.Stage, status string, elapsed time.Duration) {
	for i := range m.steps {
		if m.steps[i].stage == stage {
			m.steps[i].status = status
			m.steps[i].elapsed = elapsed
			return
		}
	}
}

func (m bakeModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("ABBEY BAKE"))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("App"))
	b.WriteString(style.Bold.Render(m.app))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("Run"))
	b.WriteString(lipgloss.NewStyle().Foreground(style.Cyan).Render(m.runID))
	b.WriteString("\n\n")

	for _, step := range m.steps {
		name := padRight(stageNames[step.stage], 14)
		switch step.status {
		case "pending":
			fmt.Fprintf(&b, "  %s %s\n", style.StepPending.Render(name), style.StepPending.Render("waiting"))
		case "running":
			detail := ""
			if step.stage == model.StageWaitRemoteCompletion {
				detail = style.DimText.Render(fmt.Sprintf(" (%d events)", m.events))
			}
			fmt.Fprintf(&b, "  %s %s %s%s\n", style.StepRunning.Render(name), m.spinner.View(), style.StepRunning.Render(m.subject), detail)
		case "completed":
			fmt.Fprintf(&b, "  %s %s\n", style.StepDone.Render(name), style.StepDone.Render("✓ "+step.elapsed.Round(time.Second).String()))
		case "failed":
			fmt.Fprintf(&b, "  %s %s\n", style.StepFailed.Render(name), style.StepFailed.Render("✗ failed"))
		}
	}

	b.WriteString("\n")
	elapsed := time.Since(m.startTime).Round(time.Second)
	switch m.status {
	case "baking":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Baking... (%s)", elapsed)))
	case "completed":
		b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ Bake completed in %s", elapsed)))
	case "failed":
		b.WriteString(style.ErrorBox.Render("✗ Bake failed: " + m.errMsg))
	}
	b.WriteString("\n")
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// liveObserver forwards pipeline progress into the program.
type liveObserver struct {
	p *tea.Program
}

func (o liveObserver) StageStarted(stage model.Stage, subject string) {
	o.p.Send(stageStarted{stage: stage, subject: subject})
}

func (o liveObserver) StageFinished(stage model.Stage, elapsed time.Duration, err error) {
	o.p.Send(stageFinished{stage: stage, elapsed: elapsed, err: err})
}

func (o liveObserver) EventDelivered(event.Event) {
	o.p.Send(eventDelivered{})
}

// lineWriter turns transcript output into lines printed above the view.
type lineWriter struct {
	mu  sync.Mutex
	p   *tea.Program
	buf bytes.Buffer
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(b)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(b), nil
		}
		w.p.Send(transcriptLine{text: strings.TrimSuffix(line, "\n")})
	}
}

// runLive runs the bake behind the stage view. The pipeline runs in its own
// goroutine; the program only ever sees copies of its progress.
func runLive(ctx context.Context, cancel context.CancelFunc, rc model.RunContext, pl *pipeline.Pipeline) (*pipeline.Result, error) {
	prog := tea.NewProgram(newBakeModel(rc, cancel))
	pl.Observer = liveObserver{p: prog}
	pl.Reporter.Out = io.MultiWriter(&lineWriter{p: prog}, pl.Reporter.Out)

	var (
		res    *pipeline.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = pl.Run(ctx)
		prog.Send(bakeDone{err: runErr})
	}()

	if _, err := prog.Run(); err != nil {
		cancel()
		<-done
		return res, fmt.Errorf("live view: %w", err)
	}
	<-done
	return res, runErr
}
