package pipeline

import (
	"context"
	"fmt"
	"time"

	"abbey/event"
	"abbey/hub"
	"abbey/model"
	"abbey/saga"
)

// Observer follows a run from outside, e.g. a terminal view. Calls come
// from the pipeline goroutine and must not block.
type Observer interface {
	StageStarted(stage model.Stage, subject string)
	StageFinished(stage model.Stage, elapsed time.Duration, err error)
	EventDelivered(evt event.Event)
}

// subject names what a stage is working on, for display.
func (p *Pipeline) subject(st *RunState, stage model.Stage) string {
	switch stage {
	case model.StageLaunching:
		return p.Context.RunID
	case model.StageWaitRunning, model.StageWaitSystemStatus, model.StageSnapshotting:
		return st.InstanceID
	case model.StageWaitRemoteCompletion:
		return st.QueueHandle
	case model.StageTagging:
		return st.ImageID
	case model.StageCleanup:
		return st.InstanceID
	}
	return ""
}

func (p *Pipeline) broadcast(typ string, payload any) {
	p.WS.Broadcast(hub.Event{Type: typ, RunID: p.Context.RunID, Payload: payload})
}

func (p *Pipeline) stageStarted(ctx context.Context, st *RunState, stage model.Stage) {
	p.Saga.StepStart(ctx, stage)
	p.Tracker.Update(func(s *hub.Status) {
		s.Stage = string(stage)
		s.Stages[string(stage)] = "running"
	})
	p.broadcast("bake.stage", map[string]string{"stage": string(stage), "status": "running"})
	if p.Observer != nil {
		p.Observer.StageStarted(stage, p.subject(st, stage))
	}
}

func (p *Pipeline) stageFinished(ctx context.Context, st *RunState, stage model.Stage, elapsed time.Duration) {
	p.Saga.StepComplete(ctx, stage, elapsed)
	p.Tracker.Update(func(s *hub.Status) { s.Stages[string(stage)] = "complete" })
	p.broadcast("bake.stage", map[string]string{
		"stage":      string(stage),
		"status":     "complete",
		"durationMs": fmt.Sprint(elapsed.Milliseconds()),
	})
	if p.Observer != nil {
		p.Observer.StageFinished(stage, elapsed, nil)
	}
}

func (p *Pipeline) stageFailed(ctx context.Context, st *RunState, stage model.Stage, elapsed time.Duration, err error) {
	// The run ctx is already cancelled after an interrupt; the failure
	// must still be recorded.
	ctx = context.WithoutCancel(ctx)
	p.Saga.StepFailed(ctx, stage, err)
	p.Saga.Log(ctx, saga.ActionBakeFailed, fmt.Sprintf("bake failed at %s: %v", stage, err), map[string]string{saga.MetaStage: string(stage)})
	p.Tracker.Update(func(s *hub.Status) {
		s.Stage = string(model.StageFailed)
		s.Stages[string(stage)] = "failed"
		s.Status = string(model.StatusFailed)
		s.Error = err.Error()
	})
	p.broadcast("bake.stage", map[string]string{"stage": string(stage), "status": "failed"})
	p.broadcast("bake.failed", map[string]string{"stage": string(stage), "error": err.Error()})
	if p.Observer != nil {
		p.Observer.StageFinished(stage, elapsed, err)
	}
}

func (p *Pipeline) completed(ctx context.Context, st *RunState) {
	p.Saga.Log(ctx, saga.ActionBakeComplete, fmt.Sprintf("baked %s for %s", st.ImageID, p.Context.App()), map[string]string{"imageId": st.ImageID})
	p.Tracker.Update(func(s *hub.Status) {
		s.Stage = string(model.StageDone)
		s.Status = string(model.StatusSucceeded)
	})
	p.broadcast("bake.completed", map[string]string{"imageId": st.ImageID})
}

func (p *Pipeline) eventDelivered(_ context.Context, st *RunState, evt event.Event) {
	p.Tracker.Update(func(s *hub.Status) { s.Events = st.Events })
	p.broadcast("bake.event", evt)
	if p.Observer != nil {
		p.Observer.EventDelivered(evt)
	}
}
