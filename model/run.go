package model

import (
	"fmt"
	"time"
)

// Stage is one state of the bake state machine.
type Stage string

const (
	StageInit                 Stage = "init"
	StageLaunching            Stage = "launching"
	StageWaitRunning          Stage = "wait-running"
	StageWaitSystemStatus     Stage = "wait-system-status"
	StageWaitRemoteCompletion Stage = "wait-remote-completion"
	StageSnapshotting         Stage = "snapshotting"
	StageTagging              Stage = "tagging"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
	StageCleanup              Stage = "cleanup"
)

// Stages lists the forward path of a run in order.
var Stages = []Stage{
	StageLaunching,
	StageWaitRunning,
	StageWaitSystemStatus,
	StageWaitRemoteCompletion,
	StageSnapshotting,
	StageTagging,
}

type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusDryRun    RunStatus = "dry_run"
)

// RunContext identifies one bake. It is built once at startup and never
// mutated afterwards.
type RunContext struct {
	RunID       string `json:"runId"`
	Environment string `json:"environment"`
	Deployment  string `json:"deployment"`
	Play        string `json:"play"`
	Region      string `json:"region"`
	CacheID     string `json:"cacheId"`
	StackName   string `json:"stackName"`
}

// NewRunContext derives the run id from the start time. The run id doubles
// as the queue name and the image name.
func NewRunContext(start time.Time, env, deployment, play, region, cacheID, stack string) RunContext {
	if stack == "" {
		stack = env + "-" + deployment
	}
	return RunContext{
		RunID:       fmt.Sprintf("%d-abbey-%s-%s-%s", start.UnixNano()/int64(10*time.Millisecond), env, deployment, play),
		Environment: env,
		Deployment:  deployment,
		Play:        play,
		Region:      region,
		CacheID:     cacheID,
		StackName:   stack,
	}
}

// App is the env-deployment-play triple used to group runs in the saga log.
func (rc RunContext) App() string {
	return rc.Environment + "-" + rc.Deployment + "-" + rc.Play
}

// TaskReportEntry is one completed remote task, kept for the slowest-task
// report.
type TaskReportEntry struct {
	Task       string        `json:"task"`
	Invocation string        `json:"invocation"`
	Duration   time.Duration `json:"duration"`
}
