package report

import (
	"fmt"
	"io"
	"sort"

	"abbey/cli/style"
	"abbey/event"
	"abbey/model"
)

// DefaultTop is how many tasks the slowest-task report lists.
const DefaultTop = 5

// Reporter renders delivered progress events as a transcript and collects
// task timings.
type Reporter struct {
	Out     io.Writer
	Verbose bool

	lastTask string
	header   string // task line waiting for its result token
	tasks    []model.TaskReportEntry
}

func New(out io.Writer, verbose bool) *Reporter {
	return &Reporter{Out: out, Verbose: verbose}
}

// Handle renders one event. Events must arrive in delivery order.
func (r *Reporter) Handle(evt event.Event) {
	switch evt.Kind {
	case event.KindRunStart:
		r.flushHeader()
		r.printf("%s : Starting %q\n", r.prefix(evt), evt.Name)
	case event.KindTaskStart:
		r.flushHeader()
		r.header = fmt.Sprintf("%s : %s", r.prefix(evt), evt.Name)
		r.lastTask = evt.Name
	case event.KindTaskResult:
		r.handleResult(evt)
	case event.KindRunFailure:
		r.printf("%s %s\n", r.takeHeader(), style.StepFailed.Render("!!!! FAILURE !!!!"))
		for _, k := range evt.DetailKeys() {
			r.printf("    %-15s%v\n", k, evt.Details[k])
		}
	case event.KindRunComplete:
		r.flushHeader()
		r.printf("%s : %s\n", r.prefix(evt), style.StepDone.Render("COMPLETE"))
	}
}

func (r *Reporter) handleResult(evt event.Event) {
	r.tasks = append(r.tasks, model.TaskReportEntry{
		Task:       r.lastTask,
		Invocation: evt.Invocation.String(),
		Duration:   evt.Duration,
	})

	if r.Verbose {
		r.flushHeader()
		for _, k := range evt.DetailKeys() {
			r.printf("    %-15s%v\n", k, evt.Details[k])
		}
		return
	}
	r.printf("%s %s\n", r.takeHeader(), StatusToken(evt.Status))
}

// Malformed reports a queue message that could not be classified.
func (r *Reporter) Malformed(err error) {
	r.flushHeader()
	r.printf("%s %v\n", style.Warning.Render("!!! ERROR !!! unable to parse queue message:"), err)
}

// StatusToken is the inline marker printed after a task line.
func StatusToken(s event.Status) string {
	switch s {
	case event.StatusChanged:
		return style.Changed.Render("*OK*")
	case event.StatusFailed:
		return style.StepFailed.Render("FAILED")
	default:
		return style.Unchanged.Render("OK")
	}
}

// Close writes out a task line still waiting for its result.
func (r *Reporter) Close() {
	r.flushHeader()
}

// Tasks returns every task result seen so far in delivery order.
func (r *Reporter) Tasks() []model.TaskReportEntry {
	out := make([]model.TaskReportEntry, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func (r *Reporter) prefix(evt event.Event) string {
	return style.Clock.Render(evt.Clock()) + " " + style.Source.Render(evt.Source)
}

func (r *Reporter) takeHeader() string {
	h := r.header
	r.header = ""
	return h
}

func (r *Reporter) flushHeader() {
	if r.header == "" {
		return
	}
	r.printf("%s\n", r.takeHeader())
}

func (r *Reporter) printf(format string, args ...any) {
	if r.Out == nil {
		return
	}
	fmt.Fprintf(r.Out, format, args...)
}

// Slowest returns the n longest tasks, longest first.
func Slowest(tasks []model.TaskReportEntry, n int) []model.TaskReportEntry {
	sorted := make([]model.TaskReportEntry, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration > sorted[j].Duration
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
