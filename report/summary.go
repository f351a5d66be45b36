package report

import (
	"fmt"
	"io"
	"time"

	"abbey/cli/style"
	"abbey/model"
)

// FormatDuration renders d as MM:SS.ss.
func FormatDuration(d time.Duration) string {
	minutes := int(d / time.Minute)
	seconds := (d - time.Duration(minutes)*time.Minute).Seconds()
	return fmt.Sprintf("%02d:%05.2f", minutes, seconds)
}

// WriteSlowest renders the n longest tasks with their invocations.
func WriteSlowest(w io.Writer, tasks []model.TaskReportEntry, n int) {
	fmt.Fprintln(w, style.Title.Render(fmt.Sprintf("%d longest tasks (seconds):", n)))
	for _, t := range Slowest(tasks, n) {
		fmt.Fprintf(w, "%03.0f %s\n", t.Duration.Seconds(), t.Task)
		fmt.Fprintf(w, "  - %s\n", style.DimText.Render(t.Invocation))
	}
}

// WriteSummary renders per-stage timings followed by the image id.
func WriteSummary(w io.Writer, summary model.RunSummary, imageID string) {
	fmt.Fprintln(w, style.Title.Render("Summary:"))
	for _, st := range summary.Stages {
		label := fmt.Sprintf("%-30s", st.Label)
		if st.Label == model.LabelTotal {
			label = style.Bold.Render(label)
		}
		fmt.Fprintf(w, "%s %s\n", label, FormatDuration(st.Elapsed))
	}
	if imageID != "" {
		fmt.Fprintf(w, "AMI: %s\n", style.Healthy.Render(imageID))
	}
}
