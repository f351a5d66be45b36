package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"abbey/event"
	"abbey/hub"
	"abbey/model"
	"abbey/report"
	"abbey/saga"
)

type Compute interface {
	Launch(ctx context.Context, spec model.LaunchSpec) (string, error)
	InstanceState(ctx context.Context, id string) (string, error)
	SystemStatus(ctx context.Context, id string) (string, error)
	Terminate(ctx context.Context, id string) error
}

type Images interface {
	CreateImage(ctx context.Context, instanceID, name, description string) (string, error)
	ImageState(ctx context.Context, imageID string) (string, error)
	Tag(ctx context.Context, imageID, key, value string) error
}

// Queue carries progress events from the build instance. Receive must not
// block waiting for messages.
type Queue interface {
	Create(ctx context.Context, name string) (string, error)
	Receive(ctx context.Context, handle string) ([]event.RawEvent, error)
	Delete(ctx context.Context, handle string, raw event.RawEvent) error
	Destroy(ctx context.Context, handle string) error
}

// Notifier announces the outcome of a bake. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type Options struct {
	PollInterval    time.Duration
	RunningAttempts int
	StatusAttempts  int
	ImageAttempts   int

	// DelayWindow is how long the newest message must sit before the
	// reorder buffer releases anything.
	DelayWindow  time.Duration
	QueueBackoff time.Duration
	TagDelay     time.Duration

	// CompletionSignals is how many run.complete events end the remote
	// run. The boot script runs two playbooks.
	CompletionSignals int

	NoCleanup      bool
	CleanupTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:      time.Second,
		RunningAttempts:   180,
		StatusAttempts:    300,
		ImageAttempts:     600,
		DelayWindow:       5 * time.Second,
		QueueBackoff:      time.Second,
		TagDelay:          time.Second,
		CompletionSignals: 2,
		CleanupTimeout:    time.Minute,
	}
}

// RunState is everything one run creates. Ids are written once, when the
// resource is created, and read by cleanup.
type RunState struct {
	InstanceID  string
	QueueHandle string
	ImageID     string
	Stage       model.Stage
	Status      model.RunStatus
	Completions int
	Events      int
}

// Result is returned by Run on success and failure alike; on failure it
// holds whatever was collected before the run stopped.
type Result struct {
	RunID      string
	InstanceID string
	ImageID    string
	Status     model.RunStatus
	Summary    model.RunSummary
	Tasks      []model.TaskReportEntry
	Events     int
}

// Pipeline bakes one image.
type Pipeline struct {
	Context model.RunContext
	Launch  model.LaunchSpec
	Tags    []Tag

	Compute Compute
	Images  Images
	Queue   Queue

	Reporter *report.Reporter
	Saga     *saga.Saga
	WS       *hub.Hub
	Tracker  *hub.Tracker
	Observer Observer

	Options Options
}

type step struct {
	stage model.Stage
	label string
	fn    func(ctx context.Context, st *RunState) (time.Duration, error)
}

// Run executes every stage in order. Resources created along the way are
// released before Run returns, including when ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.Reporter == nil {
		p.Reporter = report.New(nil, false)
	}
	if p.Options.CompletionSignals < 1 {
		p.Options.CompletionSignals = 1
	}

	start := time.Now()
	st := &RunState{Stage: model.StageInit, Status: model.StatusRunning}
	res := &Result{RunID: p.Context.RunID, Status: model.StatusRunning}
	defer func() {
		res.InstanceID = st.InstanceID
		res.ImageID = st.ImageID
		res.Events = st.Events
		res.Tasks = p.Reporter.Tasks()
		p.cleanup(ctx, st)
	}()

	p.Saga.Log(ctx, saga.ActionBakeStart, fmt.Sprintf("baking %s (run %s)", p.Context.App(), p.Context.RunID), map[string]string{"image": p.Launch.ImageID})

	steps := []step{
		{stage: model.StageLaunching, label: "Launch", fn: p.launch},
		{stage: model.StageWaitRunning, label: "EC2 Launch", fn: p.waitRunning},
		{stage: model.StageWaitSystemStatus, label: "EC2 Status Checks", fn: p.waitSystemStatus},
		{stage: model.StageWaitRemoteCompletion, label: "Ansible run", fn: p.waitRemoteCompletion},
		{stage: model.StageSnapshotting, label: "AMI Build", fn: p.snapshot},
		{stage: model.StageTagging, label: "AMI Tagging", fn: p.tag},
	}

	for _, s := range steps {
		st.Stage = s.stage
		p.stageStarted(ctx, st, s.stage)

		elapsed, err := s.fn(ctx, st)
		if err != nil {
			st.Status = model.StatusFailed
			p.stageFailed(ctx, st, s.stage, elapsed, err)
			st.Stage = model.StageFailed
			res.Status = model.StatusFailed
			res.Summary.Finish(time.Since(start))
			return res, fmt.Errorf("%s: %w", s.stage, err)
		}

		res.Summary.Add(s.label, elapsed)
		p.stageFinished(ctx, st, s.stage, elapsed)
	}

	st.Stage = model.StageDone
	st.Status = model.StatusSucceeded
	res.Status = model.StatusSucceeded
	res.Summary.Finish(time.Since(start))
	p.completed(ctx, st)
	log.Printf("pipeline: %s baked %s", p.Context.RunID, st.ImageID)
	return res, nil
}

func (p *Pipeline) launch(ctx context.Context, st *RunState) (time.Duration, error) {
	start := time.Now()
	handle, err := p.Queue.Create(ctx, p.Context.RunID)
	if err != nil {
		return time.Since(start), err
	}
	st.QueueHandle = handle

	id, err := p.Compute.Launch(ctx, p.Launch)
	if err != nil {
		return time.Since(start), err
	}
	st.InstanceID = id
	p.Tracker.Update(func(s *hub.Status) { s.InstanceID = id })
	return time.Since(start), nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
