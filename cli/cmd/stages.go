package cmd

import (
	"fmt"
	"io"
	"time"

	"abbey/cli/style"
	"abbey/event"
	"abbey/model"
	"abbey/report"
)

var stageNames = map[model.Stage]string{
	model.StageLaunching:            "launch",
	model.StageWaitRunning:          "running",
	model.StageWaitSystemStatus:     "status checks",
	model.StageWaitRemoteCompletion: "configure",
	model.StageSnapshotting:         "snapshot",
	model.StageTagging:              "tag",
	model.StageCleanup:              "cleanup",
}

func stageTitle(stage model.Stage, subject string) string {
	switch stage {
	case model.StageLaunching:
		return fmt.Sprintf("Creating queue and launching instance for %s", subject)
	case model.StageWaitRunning:
		return fmt.Sprintf("Waiting for instance %s to reach running status", subject)
	case model.StageWaitSystemStatus:
		return "Waiting for system status"
	case model.StageWaitRemoteCompletion:
		return "Waiting for user-data, polling queue for configuration events"
	case model.StageSnapshotting:
		return fmt.Sprintf("Creating image from %s", subject)
	case model.StageTagging:
		return fmt.Sprintf("Tagging image %s", subject)
	case model.StageCleanup:
		return fmt.Sprintf("Cleaning up instance %s and its queue", subject)
	}
	return string(stage)
}

// plainObserver prints one line when a stage starts and one when it ends.
type plainObserver struct {
	out io.Writer
}

func (o plainObserver) StageStarted(stage model.Stage, subject string) {
	fmt.Fprintf(o.out, "\n%s %s:\n", style.StepRunning.Render("▶"), stageTitle(stage, subject))
}

func (o plainObserver) StageFinished(stage model.Stage, elapsed time.Duration, err error) {
	if err != nil {
		fmt.Fprintf(o.out, "%s %s\n", style.StepFailed.Render("[ FAILED ]"), err)
		return
	}
	if stage == model.StageCleanup {
		return
	}
	fmt.Fprintf(o.out, "%s %s\n", style.StepDone.Render("[ OK ]"), report.FormatDuration(elapsed))
}

func (o plainObserver) EventDelivered(event.Event) {}
